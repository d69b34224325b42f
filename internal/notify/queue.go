package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/raymondclowe/ttslo/internal/persistence"
	"github.com/raymondclowe/ttslo/pkg/types"
)

// reachabilityError marks a Send failure as connectivity-related (timeout
// or connection refused/reset), as opposed to a permanent rejection by
// the remote API.
type reachabilityError struct{ cause error }

func (e *reachabilityError) Error() string { return e.cause.Error() }
func (e *reachabilityError) Unwrap() error { return e.cause }

func classifyReachability(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &reachabilityError{cause: err}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dial tcp") {
		return &reachabilityError{cause: err}
	}
	return err
}

func isReachabilityError(err error) bool {
	var re *reachabilityError
	return errors.As(err, &re)
}

// Queue is the notification dispatcher: synchronous best-effort delivery
// at enqueue time, with a disk-backed outage buffer that drains in FIFO
// order on the next successful send.
type Queue struct {
	mu sync.Mutex

	routing *RoutingConfig
	sender  Sender
	path    string

	pending          []types.NotificationQueueItem
	unreachableSince time.Time // zero if currently reachable

	logger *slog.Logger
}

// NewQueue builds a Queue, loading any notifications persisted from a
// prior run's outage.
func NewQueue(path string, routing *RoutingConfig, sender Sender, logger *slog.Logger) (*Queue, error) {
	q := &Queue{
		routing: routing,
		sender:  sender,
		path:    path,
		logger:  logger.With("component", "notify_queue"),
	}
	if err := persistence.ReadJSON(path, &q.pending); err != nil {
		return nil, fmt.Errorf("load notification queue: %w", err)
	}
	return q, nil
}

// Enqueue routes eventKind to its configured recipients and attempts
// synchronous delivery to each. A reachability failure buffers the
// message on disk instead of dropping it.
func (q *Queue) Enqueue(ctx context.Context, eventKind types.EventKind, body string) {
	destinations := q.routing.DestinationsFor(eventKind)
	for _, dest := range destinations {
		q.send(ctx, dest, eventKind, body, time.Now().UTC())
	}
}

func (q *Queue) send(ctx context.Context, destination string, eventKind types.EventKind, body string, enqueuedAt time.Time) {
	err := q.sender.Send(ctx, destination, body)
	if err == nil {
		q.onDeliverySuccess(ctx, destination)
		return
	}

	if !isReachabilityError(err) {
		q.logger.Error("notification delivery rejected", "destination", destination, "event_kind", eventKind, "error", err)
		return
	}

	q.logger.Warn("notification destination unreachable, buffering", "destination", destination, "error", err)
	q.buffer(types.NotificationQueueItem{
		Recipient:  destination,
		EventKind:  eventKind,
		Body:       body,
		EnqueuedAt: enqueuedAt,
	})
}

func (q *Queue) buffer(item types.NotificationQueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.unreachableSince.IsZero() {
		q.unreachableSince = time.Now().UTC()
	}
	q.pending = append(q.pending, item)
	q.persistLocked()
}

// onDeliverySuccess drains any buffered queue and, if the outage just
// ended, broadcasts a "notifications restored" message to every
// configured recipient with the downtime duration.
func (q *Queue) onDeliverySuccess(ctx context.Context, justDeliveredTo string) {
	q.mu.Lock()
	wasUnreachable := !q.unreachableSince.IsZero()
	since := q.unreachableSince
	toDrain := q.pending
	q.pending = nil
	q.unreachableSince = time.Time{}
	q.persistLocked()
	q.mu.Unlock()

	for _, item := range toDrain {
		prefixed := fmt.Sprintf("[Queued from %s] %s", item.EnqueuedAt.Format(time.RFC3339), item.Body)
		if err := q.sender.Send(ctx, item.Recipient, prefixed); err != nil {
			q.logger.Error("drain: re-buffering undelivered notification", "destination", item.Recipient, "error", err)
			q.buffer(item)
		}
	}

	if !wasUnreachable {
		return
	}

	downtime := time.Since(since)
	restored := fmt.Sprintf("notifications restored after %s of downtime", downtime.Round(time.Second))
	for _, dest := range q.routing.AllDestinations() {
		if err := q.sender.Send(ctx, dest, restored); err != nil {
			q.logger.Warn("failed to announce restored notifications", "destination", dest, "error", err)
		}
	}
}

// persistLocked writes the pending queue to disk. Must be called with mu held.
func (q *Queue) persistLocked() {
	if q.path == "" {
		return
	}
	if err := persistence.WriteJSONAtomic(q.path, q.pending); err != nil {
		q.logger.Error("failed to persist notification queue", "error", err)
	}
}

// Pending returns a snapshot of the buffered queue, for diagnostics.
func (q *Queue) Pending() []types.NotificationQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.NotificationQueueItem, len(q.pending))
	copy(out, q.pending)
	return out
}

// Drain makes one best-effort attempt to deliver every buffered message,
// for graceful shutdown: a process exiting cleanly should not leave
// deliverable notifications sitting on disk if the outage has since
// ended. Messages that still fail stay buffered for the next run.
func (q *Queue) Drain(ctx context.Context) {
	q.mu.Lock()
	toDrain := q.pending
	q.mu.Unlock()

	for _, item := range toDrain {
		if err := q.sender.Send(ctx, item.Recipient, item.Body); err == nil {
			q.mu.Lock()
			q.pending = removeItem(q.pending, item)
			q.persistLocked()
			q.mu.Unlock()
		}
	}
}

func removeItem(items []types.NotificationQueueItem, target types.NotificationQueueItem) []types.NotificationQueueItem {
	out := items[:0:0]
	removed := false
	for _, it := range items {
		if !removed && it == target {
			removed = true
			continue
		}
		out = append(out, it)
	}
	return out
}
