package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"handyhub/internal/telemetry"
)

// Notification is one pending delivery on the queue.
type Notification struct {
	ID       string         `json:"id"`
	UserID   string         `json:"user_id"`
	Kind     string         `json:"kind"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Payload  map[string]any `json:"payload,omitempty"`
	Attempts int            `json:"attempts"`
	QueuedAt time.Time      `json:"queued_at"`
}

// Queue is the Redis-backed delivery queue between the API process and the
// notification worker.
type Queue struct {
	client *redis.Client
	key    string
}

func NewQueue(client *redis.Client, key string) *Queue {
	return &Queue{client: client, key: key}
}

// Push appends a notification for delivery.
func (q *Queue) Push(ctx context.Context, n Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the next pending notification. A nil result
// with nil error means the wait timed out.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Notification, error) {
	res, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop notification: %w", err)
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("unexpected blpop reply length %d", len(res))
	}
	var n Notification
	if err := json.Unmarshal([]byte(res[1]), &n); err != nil {
		return nil, fmt.Errorf("unmarshal notification: %w", err)
	}
	return &n, nil
}

// Depth returns the number of queued notifications.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Dispatcher enqueues notifications off the critical path. Send detaches from
// the caller's request: a queue failure is logged and swallowed, it can never
// fail the operation that triggered the notification.
type Dispatcher struct {
	queue *Queue
	log   *slog.Logger
}

func NewDispatcher(queue *Queue, log *slog.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, log: log}
}

// Send queues a notification asynchronously.
func (d *Dispatcher) Send(_ context.Context, userID, kind, title, body string, payload map[string]any) {
	n := Notification{
		ID:       uuid.New().String(),
		UserID:   userID,
		Kind:     kind,
		Title:    title,
		Body:     body,
		Payload:  payload,
		QueuedAt: time.Now().UTC(),
	}
	go func() {
		// Deliberately not the request context: the caller may have returned.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.queue.Push(ctx, n); err != nil {
			d.log.Error("queue notification", "user_id", userID, "kind", kind, "err", err)
			return
		}
		telemetry.NotificationsQueued.Inc()
	}()
}
