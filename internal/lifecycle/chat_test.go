package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handyhub/internal/models"
)

func TestSendMessagePublishesToJobTopic(t *testing.T) {
	m, _, pub, _ := newTestMachine()
	job := pendingJob(t, m)
	ctx := context.Background()

	_, err := m.Transition(ctx, job.ID, "w-1", models.RoleWorker, models.StatusAccepted)
	require.NoError(t, err)

	msg, err := m.SendMessage(ctx, job.ID, "w-1", models.RoleWorker, "on my way")
	require.NoError(t, err)
	assert.Equal(t, "on my way", msg.Body)

	events := pub.all()
	last := events[len(events)-1]
	assert.Equal(t, "message.received", last.event)
	assert.Equal(t, job.ID, last.topic)
}

func TestSendMessageRejectsNonParticipants(t *testing.T) {
	m, _, _, _ := newTestMachine()
	job := pendingJob(t, m)
	ctx := context.Background()

	_, err := m.SendMessage(ctx, job.ID, "stranger", models.RoleCustomer, "hello")
	de, ok := models.AsDomain(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeForbidden, de.Code)

	// Admins are exempt from the party check.
	_, err = m.SendMessage(ctx, job.ID, "admin-1", models.RoleAdmin, "dispute note")
	require.NoError(t, err)
}

func TestSendMessageOnTerminalJob(t *testing.T) {
	m, _, _, _ := newTestMachine()
	job := pendingJob(t, m)
	ctx := context.Background()

	_, err := m.Transition(ctx, job.ID, "cust-1", models.RoleCustomer, models.StatusCancelled)
	require.NoError(t, err)

	_, err = m.SendMessage(ctx, job.ID, "cust-1", models.RoleCustomer, "too late")
	de, ok := models.AsDomain(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeJobClosed, de.Code)
}

func TestMessagesVisibleToPartiesOnly(t *testing.T) {
	m, _, _, _ := newTestMachine()
	job := pendingJob(t, m)
	ctx := context.Background()

	_, err := m.SendMessage(ctx, job.ID, "cust-1", models.RoleCustomer, "anyone out there?")
	require.NoError(t, err)

	msgs, err := m.Messages(ctx, job.ID, "cust-1", models.RoleCustomer)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = m.Messages(ctx, job.ID, "w-9", models.RoleWorker)
	de, ok := models.AsDomain(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeForbidden, de.Code)
}
