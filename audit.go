package credcore

import (
	"io"
	"log/slog"

	internalaudit "github.com/credcore/credcore/internal/audit"
)

// AuditEvent is a structured record of a security-relevant outcome.
type AuditEvent = internalaudit.Event

// AuditSink receives events from the engine's dispatcher goroutine.
type AuditSink = internalaudit.Sink

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc = internalaudit.SinkFunc

// ChannelSink buffers events on a channel.
type ChannelSink = internalaudit.ChannelSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON event per line to w.
func NewJSONWriterSink(w io.Writer) AuditSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink logs every event through logger.
func NewSlogSink(logger *slog.Logger) AuditSink {
	return internalaudit.SlogSink{Logger: logger}
}
