package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/yegors/arrival-watch/internal/config"
	"github.com/yegors/arrival-watch/pkg/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingDeliverer struct {
	calls     int
	committed []bool
}

func (c *countingDeliverer) Deliver(_ context.Context, _ string, _ []string, committed bool) error {
	c.calls++
	c.committed = append(c.committed, committed)
	return nil
}

func TestLogDelivererLogsLines(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.InfoLevel)
	d := NewLogDeliverer(&logger.Logger{Logger: zap.New(core)})

	if err := d.Deliver(context.Background(), "Test group", []string{"a", "b"}, false); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	entries := logs.FilterMessage("Notification").All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries", len(entries))
	}
	if entries[0].ContextMap()["target"] != "Test group" {
		t.Fatalf("unexpected fields: %v", entries[0].ContextMap())
	}
}

func TestRateLimitedDelegates(t *testing.T) {
	t.Parallel()
	next := &countingDeliverer{}
	r := NewRateLimited(next, 100)

	for i := 0; i < 3; i++ {
		if err := r.Deliver(context.Background(), "t", nil, i%2 == 0); err != nil {
			t.Fatalf("Deliver error: %v", err)
		}
	}
	if next.calls != 3 {
		t.Fatalf("calls = %d, want 3", next.calls)
	}
}

func TestRateLimitedHonoursContext(t *testing.T) {
	t.Parallel()
	next := &countingDeliverer{}
	r := NewRateLimited(next, 1)

	if err := r.Deliver(context.Background(), "t", nil, true); err != nil {
		t.Fatalf("first Deliver error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Deliver(ctx, "t", nil, true); err == nil {
		t.Fatal("expected the second committed send to hit the rate limit deadline")
	}
	if next.calls != 1 {
		t.Fatalf("calls = %d, want 1", next.calls)
	}
}

func TestNewLogDriver(t *testing.T) {
	t.Parallel()
	d, err := New(config.DeliveryConfig{Driver: config.DriverLog, RatePerSecond: 2}, logger.NewNop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, ok := d.(*RateLimited); !ok {
		t.Fatalf("expected rate-limited deliverer, got %T", d)
	}
	if _, err := New(config.DeliveryConfig{Driver: "viber"}, logger.NewNop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestParseChatTargets(t *testing.T) {
	t.Parallel()
	chats, err := parseChatTargets([]string{"-100123", " 42 "})
	if err != nil {
		t.Fatalf("parseChatTargets error: %v", err)
	}
	if chats["-100123"] != -100123 || chats[" 42 "] != 42 {
		t.Fatalf("unexpected chats: %v", chats)
	}
	if _, err := parseChatTargets([]string{"Test group"}); err == nil {
		t.Fatal("expected error for non-numeric target")
	}
}
