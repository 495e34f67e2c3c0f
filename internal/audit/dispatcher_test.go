package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{Type: "login"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherFlushesOnClose(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	sink := SinkFunc(func(_ context.Context, ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})

	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)
	for _, typ := range []string{"login", "refresh", "logout"} {
		d.Emit(context.Background(), Event{Type: typ})
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, ",") != "login,refresh,logout" {
		t.Fatalf("unexpected delivery order: %v", got)
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	release := make(chan struct{})
	sink := SinkFunc(func(context.Context, Event) { <-release })

	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Type: "login"})
	}
	close(release)
	d.Close()

	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink and tiny buffer")
	}
}

func TestDispatcherEmitAfterCloseIsIgnored(t *testing.T) {
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	d.Close()
	d.Emit(context.Background(), Event{Type: "late"})

	select {
	case ev := <-sink.Events():
		t.Fatalf("unexpected event after close: %+v", ev)
	default:
	}
}

func TestDispatcherSinkTimeout(t *testing.T) {
	deadline := make(chan bool, 1)
	sink := SinkFunc(func(ctx context.Context, _ Event) {
		_, ok := ctx.Deadline()
		deadline <- ok
	})

	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, SinkTimeout: time.Second}, sink)
	d.Emit(context.Background(), Event{Type: "login"})
	d.Close()

	if !<-deadline {
		t.Fatal("expected sink context to carry a deadline")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{Type: "login", UserID: "u1", Success: true})

	var decoded Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != "login" || decoded.UserID != "u1" || !decoded.Success {
		t.Fatalf("unexpected event: %+v", decoded)
	}
}

func TestMultiSink(t *testing.T) {
	a, b := NewChannelSink(1), NewChannelSink(1)
	MultiSink{a, nil, b}.Emit(context.Background(), Event{Type: "logout"})

	if (<-a.Events()).Type != "logout" || (<-b.Events()).Type != "logout" {
		t.Fatal("expected both sinks to receive the event")
	}
}
