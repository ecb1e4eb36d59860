package lifecycle

import (
	"context"

	"handyhub/internal/models"
)

// SendMessage persists a chat message inside a job and publishes it to the
// job's topic. Messaging is gated by job status rather than a state machine of
// its own: terminal jobs are closed for conversation.
func (m *Machine) SendMessage(ctx context.Context, jobID, senderID, role, body string) (models.Message, error) {
	job, err := m.store.FetchJob(ctx, jobID)
	if err != nil {
		m.log.Error("fetch job for message", "job_id", jobID, "err", err)
		return models.Message{}, models.Internal(err)
	}
	if job == nil {
		return models.Message{}, models.NotFound("job not found")
	}
	if models.IsTerminal(job.Status) {
		return models.Message{}, models.JobClosed("job conversation is closed")
	}
	if !isParty(job, senderID, role) {
		return models.Message{}, models.Forbidden("not a participant in this job")
	}

	msg, err := m.store.InsertMessage(ctx, jobID, senderID, body)
	if err != nil {
		m.log.Error("insert message", "job_id", jobID, "err", err)
		return models.Message{}, models.Internal(err)
	}

	m.pub.Publish("message.received", msg, jobID)
	return msg, nil
}

// Messages returns a job's chat history to a participant.
func (m *Machine) Messages(ctx context.Context, jobID, actorID, role string) ([]models.Message, error) {
	job, err := m.store.FetchJob(ctx, jobID)
	if err != nil {
		m.log.Error("fetch job for messages", "job_id", jobID, "err", err)
		return nil, models.Internal(err)
	}
	if job == nil {
		return nil, models.NotFound("job not found")
	}
	if !isParty(job, actorID, role) {
		return nil, models.Forbidden("not a participant in this job")
	}

	msgs, err := m.store.ListMessages(ctx, jobID)
	if err != nil {
		m.log.Error("list messages", "job_id", jobID, "err", err)
		return nil, models.Internal(err)
	}
	return msgs, nil
}

func isParty(job *models.Job, actorID, role string) bool {
	if role == models.RoleAdmin {
		return true
	}
	if job.CustomerID == actorID {
		return true
	}
	return job.WorkerID != nil && *job.WorkerID == actorID
}
