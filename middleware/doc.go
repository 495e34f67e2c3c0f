// Package middleware adapts credcore.Engine to net/http.
//
// # Guards
//
//   - [Guard]: access token plus the second-factor gate.
//   - [RequireAccessToken]: access token only, for routes that must stay
//     reachable while a second factor is pending.
//   - [RequireOwnerOrAdmin], [RequireRole]: checks on the claims a guard
//     placed in the request context.
//
// Each guard reads the Authorization header, calls Engine.ValidateAccess, and
// injects the validated claims into the request context. Decisions are
// delegated to the engine; this package only translates HTTP.
//
// Session flags ([SessionFlags]) remember that a session passed a code. Two
// implementations exist: an in-process expiring LRU and a Redis one for
// deployments with more than one replica.
//
// [Throttle] refuses callers over a [Limiter]'s budget with 429.
package middleware
