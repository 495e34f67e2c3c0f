// Package credcore is a credential and session-security core: it issues,
// rotates and revokes signed tokens, gates requests behind an emailed
// one-time code with trusted-device exemptions, and runs email verification
// and single-use password reset.
//
// An [Engine] is assembled with a [Builder] over a [Repository] and a
// [Notifier]. Engine methods are safe for concurrent use once built.
//
// # Architecture boundaries
//
// credcore is the public surface: [Engine], [Builder], [Config], the value
// types and the error taxonomy. Storage lives behind [Repository]
// (implementations under store/), delivery behind [Notifier] (notify/), and
// HTTP concerns in middleware/.
//
// # Concurrency
//
// Per-user single slots (refresh hash, reset hash, pending one-time code)
// change only through compare-and-swap repository calls, so exactly one of
// several concurrent refreshes, resets or code verifications wins. There are
// no engine-wide locks.
//
// # What this package must NOT do
//
//   - Log or return raw secrets outside the value handed to the caller or
//     the notifier.
//   - Import store, notify or middleware (they import credcore).
package credcore
