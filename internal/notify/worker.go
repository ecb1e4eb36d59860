package notify

import (
	"context"
	"log/slog"
	"time"

	"handyhub/internal/telemetry"
)

// Provider performs the actual delivery (push, SMS, email). Delivery channels
// are external collaborators; the default provider just logs.
type Provider interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogProvider writes notifications to the log instead of delivering them.
type LogProvider struct {
	Log *slog.Logger
}

func (p LogProvider) Deliver(_ context.Context, n Notification) error {
	p.Log.Info("notification",
		"user_id", n.UserID, "kind", n.Kind, "title", n.Title, "body", n.Body)
	return nil
}

// Worker drains the delivery queue. Failed deliveries are requeued with a
// bumped attempt count until maxAttempts, then dropped and counted.
type Worker struct {
	queue       *Queue
	provider    Provider
	maxAttempts int
	poll        time.Duration
	log         *slog.Logger
}

func NewWorker(queue *Queue, provider Provider, maxAttempts int, poll time.Duration, log *slog.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &Worker{queue: queue, provider: provider, maxAttempts: maxAttempts, poll: poll, log: log}
}

// Run processes notifications until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := w.queue.Pop(ctx, w.poll)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("pop notification", "err", err)
			time.Sleep(w.poll)
			continue
		}
		if n == nil {
			continue
		}

		if err := w.provider.Deliver(ctx, *n); err != nil {
			n.Attempts++
			if n.Attempts >= w.maxAttempts {
				telemetry.NotificationsFailed.Inc()
				w.log.Error("drop notification", "id", n.ID, "user_id", n.UserID, "attempts", n.Attempts, "err", err)
				continue
			}
			if err := w.queue.Push(ctx, *n); err != nil {
				w.log.Error("requeue notification", "id", n.ID, "err", err)
			}
		}
	}
}
