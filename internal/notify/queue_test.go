package notify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/raymondclowe/ttslo/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSender struct {
	mu       sync.Mutex
	fail     bool
	failWith error
	sent     []string
}

func (f *fakeSender) Send(ctx context.Context, destination, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		if f.failWith != nil {
			return f.failWith
		}
		return &reachabilityError{cause: errors.New("connection refused")}
	}
	f.sent = append(f.sent, destination+":"+body)
	return nil
}

func testRouting() *RoutingConfig {
	return &RoutingConfig{
		Recipients: map[string]string{"alice": "111", "bob": "222"},
		Routes: map[types.EventKind][]string{
			types.EventTSLFilled: {"alice", "bob"},
		},
	}
}

func TestEnqueueDeliversToAllRoutedRecipients(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	q, err := NewQueue("", testRouting(), sender, testLogger())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	q.Enqueue(context.Background(), types.EventTSLFilled, "order filled")

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 deliveries, got %d: %v", len(sender.sent), sender.sent)
	}
}

func TestEnqueueSkipsUnroutedEventKind(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	q, err := NewQueue("", testRouting(), sender, testLogger())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	q.Enqueue(context.Background(), types.EventAppExit, "shutting down")
	if len(sender.sent) != 0 {
		t.Errorf("expected no deliveries for unrouted event kind, got %v", sender.sent)
	}
}

func TestUnreachableDestinationIsBufferedAndPersisted(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "queue.json")
	sender := &fakeSender{fail: true}
	q, err := NewQueue(path, testRouting(), sender, testLogger())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	q.Enqueue(context.Background(), types.EventTSLFilled, "order filled")

	pending := q.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 buffered items, got %d", len(pending))
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected queue to be persisted to disk: %v", err)
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "queue.json")
	sender := &fakeSender{fail: true}
	q1, err := NewQueue(path, testRouting(), sender, testLogger())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	q1.Enqueue(context.Background(), types.EventTSLFilled, "order filled")

	q2, err := NewQueue(path, testRouting(), sender, testLogger())
	if err != nil {
		t.Fatalf("NewQueue (restart): %v", err)
	}
	if len(q2.Pending()) != 2 {
		t.Fatalf("expected restarted queue to reload buffered items, got %d", len(q2.Pending()))
	}
}

func TestQueueDrainsAndAnnouncesRestoredOnNextSuccess(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "queue.json")
	sender := &fakeSender{fail: true}
	q, err := NewQueue(path, testRouting(), sender, testLogger())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	q.Enqueue(context.Background(), types.EventTSLFilled, "order filled")
	if len(q.Pending()) != 2 {
		t.Fatalf("expected buffered items before recovery")
	}

	sender.mu.Lock()
	sender.fail = false
	sender.mu.Unlock()

	q.Enqueue(context.Background(), types.EventTSLFilled, "second event")

	if len(q.Pending()) != 0 {
		t.Errorf("expected queue to drain once delivery succeeds, got %d pending", len(q.Pending()))
	}

	found := false
	for _, s := range sender.sent {
		if strings.Contains(s, "[Queued from") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a drained message with the [Queued from ...] prefix, got %v", sender.sent)
	}
}
