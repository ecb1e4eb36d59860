package models

import (
	"time"
)

// JobStatus enumerates lifecycle states persisted in Postgres.
const (
	StatusPending    = "pending"
	StatusAccepted   = "accepted"
	StatusEnRoute    = "en_route"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusDisputed   = "disputed"
)

// Actor roles carried in access tokens.
const (
	RoleCustomer = "customer"
	RoleWorker   = "worker"
	RoleAdmin    = "admin"
)

// Urgency values accepted at job creation.
const (
	UrgencyImmediate = "immediate"
	UrgencyScheduled = "scheduled"
)

// Worker availability snapshot states.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
	AvailabilityBusy    = "busy"
)

// IsTerminal reports whether no forward transition exists from the status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// Job represents one service request persisted in Postgres.
type Job struct {
	ID          string     `json:"id"`
	CustomerID  string     `json:"customer_id"`
	WorkerID    *string    `json:"worker_id,omitempty"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Address     string     `json:"address"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Urgency     string     `json:"urgency"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Status      string     `json:"status"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	EnRouteAt   *time.Time `json:"en_route_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	DistanceKm  *float64   `json:"distance_km,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobCard is the reduced job shape broadcast to workers when a job is created.
// It deliberately omits the customer id and anything else not needed for a
// worker-facing list card.
type JobCard struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Address     string    `json:"address"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Urgency     string    `json:"urgency"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Card projects a job onto its broadcast card.
func (j Job) Card() JobCard {
	return JobCard{
		ID:          j.ID,
		Category:    j.Category,
		Description: j.Description,
		Address:     j.Address,
		Latitude:    j.Latitude,
		Longitude:   j.Longitude,
		Urgency:     j.Urgency,
		Status:      j.Status,
		CreatedAt:   j.CreatedAt,
	}
}

// StatusHistory is one append-only audit row per successful transition.
type StatusHistory struct {
	JobID      string    `json:"job_id"`
	FromStatus *string   `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	ActorID    string    `json:"actor_id"`
	Recorded   time.Time `json:"recorded_at"`
}

// Worker is the marketplace-facing worker row.
type Worker struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Availability  string    `json:"availability_status"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	CompletedJobs int       `json:"completed_jobs"`
	DistanceKm    *float64  `json:"distance_km,omitempty"`
	LocatedAt     time.Time `json:"located_at"`
}

// Message is one chat message inside a job's conversation.
type Message struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Photo records an uploaded job photo and its thumbnail.
type Photo struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	UploaderID   string    `json:"uploader_id"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url"`
	CreatedAt    time.Time `json:"created_at"`
}
