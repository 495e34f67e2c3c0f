// Package audit dispatches security events off the request path.
//
// The engine decides which events to emit; this package only buffers them
// and hands them to a [Sink]. The activity log, structured logs and JSON
// lines are all sinks.
//
// # What this package must NOT do
//
//   - Filter events by business rules.
//   - Import credcore or a sibling internal package.
package audit
