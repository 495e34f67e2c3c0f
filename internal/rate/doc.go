// Package rate is a fixed-window request limiter with block periods.
//
// # Window semantics
//
// Each [Window] keeps a counter per tracker: INCR, with EXPIRE set on the
// first hit of the window. A tracker that exceeds a window's limit is
// blocked for that window's block duration; while blocked, every request is
// refused without touching the counters.
//
// Counters live in Redis ([NewRedisCounter]) when several replicas share the
// budget, or in process memory ([NewMemoryCounter]).
package rate
