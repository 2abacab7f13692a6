package goGuard

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{gate: make(chan struct{})}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := testConfig()
	cfg.Audit.Enabled = false
	sink := &countingSink{}

	g, err := New().WithConfig(cfg).WithRedis(rdb).WithAuditSink(sink).Build()
	if err != nil {
		t.Fatal(err)
	}
	_ = g.ValidateCSRF(context.Background(), "forged")
	g.Close()

	if n := sink.count.Load(); n != 0 {
		t.Fatalf("expected no sink calls when disabled, got %d", n)
	}
}

func TestAuditEventsCarryIDAndTimestamp(t *testing.T) {
	h := newTestGuard(t, nil)
	_ = h.guard.ValidateCSRF(context.Background(), "forged")

	events := h.drainAudit()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	ev := events[0]
	if ev.EventType != AuditCSRFRejected || ev.ID == "" || ev.Timestamp.IsZero() || ev.Success {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestAuditNoPIIInEvents(t *testing.T) {
	h := newTestGuard(t, nil)
	ctx := context.Background()
	phone, device := "+998935556677", "pixel-7-serial-XYZ"

	_, _ = h.guard.RecordLoginFailure(ctx, phone, "Bob Stone")
	for i := 0; i < 4; i++ {
		_ = h.guard.RegisterDevice(ctx, device, "10.1.1.1")
	}
	code, _ := h.guard.IssueVerificationCode(ctx, "signup", phone)
	_ = h.guard.ConfirmVerificationCode(ctx, "signup", phone, code)

	events := h.drainAudit()
	if len(events) < 4 {
		t.Fatalf("expected several events, got %d", len(events))
	}
	needles := []string{phone, "998935556677", device, "Bob Stone"}
	for _, ev := range events {
		raw, _ := json.Marshal(ev)
		for _, needle := range needles {
			if strings.Contains(string(raw), needle) {
				t.Fatalf("sensitive value %q leaked in %s", needle, raw)
			}
		}
	}
}

func TestAuditBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	start := time.Now()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if dispatcher.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestAuditBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: false,
	}, sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: AuditIPBlocked,
		IP:        "127.0.0.1",
		Metadata:  map[string]string{"count": "11"},
	})

	out := buf.String()
	if !strings.HasSuffix(out, "\n") || !strings.Contains(out, `"event_type":"ip_blocked"`) || !strings.Contains(out, `"count":"11"`) {
		t.Fatalf("unexpected json line %q", out)
	}
}

func TestAuditSlogSinkLevels(t *testing.T) {
	var buf syncBuffer
	sink := NewSlogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.Emit(context.Background(), AuditEvent{EventType: AuditLoginSuccess, Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: AuditLoginFailure, Subject: "ab12cd34"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two records, got %q", buf.String())
	}
	if !strings.Contains(lines[0], `"level":"INFO"`) || !strings.Contains(lines[1], `"level":"WARN"`) {
		t.Fatalf("unexpected levels %q", lines)
	}
	if !strings.Contains(lines[1], `"subject":"ab12cd34"`) {
		t.Fatalf("subject missing: %q", lines[1])
	}
}

func TestAuditDispatcherCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
		DropIfFull: true,
	}, &countingSink{})

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Close()
	dispatcher.Close()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})
}
