package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"handyhub/internal/models"
	"handyhub/internal/store"
	"handyhub/internal/telemetry"
)

// Store is the slice of the persistence gateway the state machine needs.
type Store interface {
	FetchJob(ctx context.Context, id string) (*models.Job, error)
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, error)
	ConditionalUpdateJobStatus(ctx context.Context, p store.TransitionParams) (*models.Job, error)
	InsertStatusHistory(ctx context.Context, h models.StatusHistory) error
	UpdateWorkerAvailability(ctx context.Context, workerID, status string) error
	IncrementWorkerCompletedCount(ctx context.Context, workerID string) error
	InsertMessage(ctx context.Context, jobID, senderID, body string) (models.Message, error)
	ListMessages(ctx context.Context, jobID string) ([]models.Message, error)
}

// Publisher fans an event out to realtime subscribers. An empty jobID means
// broadcast to every authenticated connection.
type Publisher interface {
	Publish(event string, payload any, jobID string)
}

// Notifier delivers an in-app/push notification. Fire-and-forget: it never
// returns an error to the caller and must not block the critical path.
type Notifier interface {
	Send(ctx context.Context, userID, kind, title, body string, payload map[string]any)
}

// Machine is the sole authority over job status transitions.
type Machine struct {
	store    Store
	pub      Publisher
	notifier Notifier
	log      *slog.Logger
}

func New(st Store, pub Publisher, notifier Notifier, log *slog.Logger) *Machine {
	return &Machine{store: st, pub: pub, notifier: notifier, log: log}
}

// edge identifies one legal transition for one role.
type edge struct {
	role string
	from string
	to   string
}

// transitions enumerates every legal edge exhaustively. Anything not listed is
// rejected, so new statuses are deny-by-default. Customers cannot cancel once
// the worker is en route: the cancellation window closes when the worker
// commits to travel.
var transitions = map[edge]struct{}{
	{models.RoleWorker, models.StatusPending, models.StatusAccepted}:     {},
	{models.RoleWorker, models.StatusAccepted, models.StatusEnRoute}:     {},
	{models.RoleWorker, models.StatusEnRoute, models.StatusInProgress}:   {},
	{models.RoleWorker, models.StatusInProgress, models.StatusCompleted}: {},

	{models.RoleCustomer, models.StatusPending, models.StatusCancelled}:  {},
	{models.RoleCustomer, models.StatusAccepted, models.StatusCancelled}: {},

	{models.RoleAdmin, models.StatusPending, models.StatusCancelled}:    {},
	{models.RoleAdmin, models.StatusAccepted, models.StatusCancelled}:   {},
	{models.RoleAdmin, models.StatusEnRoute, models.StatusCancelled}:    {},
	{models.RoleAdmin, models.StatusInProgress, models.StatusCancelled}: {},
	{models.RoleAdmin, models.StatusDisputed, models.StatusCancelled}:   {},
}

// Transition validates and executes one status change.
//
// The status write is a single compare-and-swap at the persistence layer: the
// earlier read is advisory only. A CAS miss on acceptance means another worker
// won the race and maps to AlreadyTaken; on any other edge it means the job
// moved under the caller and maps to InvalidTransition.
func (m *Machine) Transition(ctx context.Context, jobID, actorID, role, requested string) (*models.Job, error) {
	job, err := m.store.FetchJob(ctx, jobID)
	if err != nil {
		m.log.Error("fetch job", "job_id", jobID, "err", err)
		return nil, models.Internal(err)
	}
	if job == nil {
		return nil, models.NotFound("job not found")
	}

	switch role {
	case models.RoleCustomer:
		if job.CustomerID != actorID {
			return nil, models.Forbidden("job belongs to another customer")
		}
	case models.RoleWorker:
		if requested == models.StatusAccepted {
			if job.WorkerID != nil && *job.WorkerID != actorID {
				return nil, models.AlreadyTaken()
			}
		} else if job.WorkerID == nil || *job.WorkerID != actorID {
			return nil, models.Forbidden("job is assigned to another worker")
		}
	case models.RoleAdmin:
		// admins may act on any job
	default:
		return nil, models.Forbidden("unknown role")
	}

	if _, ok := transitions[edge{role, job.Status, requested}]; !ok {
		return nil, models.InvalidTransition(job.Status, requested)
	}

	params := store.TransitionParams{
		JobID:            jobID,
		ExpectedStatus:   job.Status,
		ExpectedWorkerID: job.WorkerID,
		NewStatus:        requested,
	}
	if requested == models.StatusAccepted {
		// The compare half must insist the job is still unclaimed.
		params.ExpectedStatus = models.StatusPending
		params.ExpectedWorkerID = nil
		params.SetWorkerID = &actorID
	}

	updated, err := m.store.ConditionalUpdateJobStatus(ctx, params)
	if err != nil {
		m.log.Error("transition update", "job_id", jobID, "to", requested, "err", err)
		return nil, models.Internal(err)
	}
	if updated == nil {
		if requested == models.StatusAccepted {
			telemetry.AcceptConflicts.Inc()
			return nil, models.AlreadyTaken()
		}
		return nil, models.InvalidTransition(job.Status, requested)
	}

	from := job.Status
	if err := m.store.InsertStatusHistory(ctx, models.StatusHistory{
		JobID:      jobID,
		FromStatus: &from,
		ToStatus:   requested,
		ActorID:    actorID,
	}); err != nil {
		m.log.Error("append status history", "job_id", jobID, "err", err)
	}

	m.applySideEffects(ctx, updated, requested)

	m.pub.Publish("job.status_changed", statusChangedPayload(updated, from), updated.ID)
	m.notifyCounterparty(ctx, updated, role, requested)
	telemetry.TransitionsTotal.WithLabelValues(requested).Inc()

	return updated, nil
}

func (m *Machine) applySideEffects(ctx context.Context, job *models.Job, status string) {
	if job.WorkerID == nil {
		return
	}
	switch status {
	case models.StatusAccepted:
		if err := m.store.UpdateWorkerAvailability(ctx, *job.WorkerID, models.AvailabilityBusy); err != nil {
			m.log.Error("mark worker busy", "worker_id", *job.WorkerID, "err", err)
		}
	case models.StatusCompleted:
		if err := m.store.IncrementWorkerCompletedCount(ctx, *job.WorkerID); err != nil {
			m.log.Error("increment completed count", "worker_id", *job.WorkerID, "err", err)
		}
		if err := m.store.UpdateWorkerAvailability(ctx, *job.WorkerID, models.AvailabilityOnline); err != nil {
			m.log.Error("mark worker online", "worker_id", *job.WorkerID, "err", err)
		}
	}
}

func statusChangedPayload(job *models.Job, from string) map[string]any {
	p := map[string]any{
		"job_id":          job.ID,
		"status":          job.Status,
		"previous_status": from,
		"updated_at":      job.UpdatedAt,
	}
	if job.WorkerID != nil {
		p["worker_id"] = *job.WorkerID
	}
	return p
}

// notificationText maps a new status to the counterparty-facing message.
var notificationText = map[string]struct{ title, body string }{
	models.StatusAccepted:   {"Job accepted", "A worker accepted your job and will be in touch."},
	models.StatusEnRoute:    {"Worker on the way", "Your worker is en route to the job address."},
	models.StatusInProgress: {"Work started", "Work on your job has started."},
	models.StatusCompleted:  {"Job completed", "Your job was marked completed."},
	models.StatusCancelled:  {"Job cancelled", "The job was cancelled."},
}

func (m *Machine) notifyCounterparty(ctx context.Context, job *models.Job, actorRole, status string) {
	text, ok := notificationText[status]
	if !ok {
		return
	}
	var recipient string
	if actorRole == models.RoleWorker {
		recipient = job.CustomerID
	} else if job.WorkerID != nil {
		recipient = *job.WorkerID
	}
	if recipient == "" {
		return
	}
	m.notifier.Send(ctx, recipient, "job."+status, text.title, text.body, map[string]any{
		"job_id": job.ID,
		"status": status,
	})
}

// CreateParams carries customer input for a new job.
type CreateParams struct {
	Category    string
	Description string
	Address     string
	Latitude    float64
	Longitude   float64
	Urgency     string
	ScheduledAt *time.Time
}

// Create inserts a pending job and broadcasts its card to all connected
// clients. Only the card is broadcast: no worker is subscribed to the job yet
// and the full row would leak customer data prematurely.
func (m *Machine) Create(ctx context.Context, customerID string, p CreateParams) (models.Job, error) {
	if p.Urgency == "" {
		p.Urgency = models.UrgencyImmediate
	}

	job, err := m.store.CreateJob(ctx, store.CreateJobParams{
		CustomerID:  customerID,
		Category:    p.Category,
		Description: p.Description,
		Address:     p.Address,
		Latitude:    p.Latitude,
		Longitude:   p.Longitude,
		Urgency:     p.Urgency,
		ScheduledAt: p.ScheduledAt,
	})
	if err != nil {
		m.log.Error("create job", "customer_id", customerID, "err", err)
		return models.Job{}, models.Internal(err)
	}

	m.pub.Publish("job.created", job.Card(), "")
	telemetry.JobsCreated.Inc()
	return job, nil
}
