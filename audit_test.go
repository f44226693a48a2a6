package goAuthClient

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 8}, sink)
	defer d.Close()

	d.emit(AuditEvent{EventType: AuditLogin})
	d.emit(AuditEvent{EventType: AuditRefresh})

	first := <-sink.Events()
	second := <-sink.Events()
	if first.EventType != AuditLogin || second.EventType != AuditRefresh {
		t.Fatalf("events out of order: %s then %s", first.EventType, second.EventType)
	}
	if first.Timestamp.IsZero() {
		t.Fatal("dispatcher must stamp events without a timestamp")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Emit(context.Context, AuditEvent) {
	<-s.release
}

func TestDispatcherShedsUnderPressure(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event blocks inside the sink, one fills the buffer, the rest shed.
	for i := 0; i < 5; i++ {
		d.emit(AuditEvent{EventType: AuditRefresh})
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.Dropped() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := d.Dropped(); got < 3 {
		t.Fatalf("expected at least 3 shed events, got %d", got)
	}

	close(sink.release)
	d.Close()
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, nil)
	if d != nil {
		t.Fatal("disabled auditing must build a nil dispatcher")
	}
	d.emit(AuditEvent{EventType: AuditLogin})
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
	d.Close()
}

func TestJSONWriterSinkWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{EventType: AuditLogout, Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: AuditLogin, Subject: "alice", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev AuditEvent
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("undecodable audit line: %v", err)
	}
	if ev.EventType != AuditLogin || ev.Subject != "alice" {
		t.Fatalf("unexpected event %+v", ev)
	}
}
