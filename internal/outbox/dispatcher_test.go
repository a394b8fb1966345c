package outbox

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"docvault/internal/config"
	eventmocks "docvault/internal/event/mocks"
	"docvault/internal/model"
	repomocks "docvault/internal/repository/mocks"
)

func testCfg() config.OutboxConfig {
	return config.OutboxConfig{PollInterval: 10 * time.Millisecond, BatchSize: 50}
}

func testEvent(id string) model.OutboxEvent {
	return model.OutboxEvent{
		EventID:    id,
		EventType:  model.EventDocumentUploaded,
		DocumentID: "doc-1",
		TenantID:   "tenant-1",
		Version:    1,
		Payload:    []byte(`{"document_id":"doc-1"}`),
		CreatedAt:  time.Now().UTC(),
	}
}

func TestDrainPublishesAndDeletes(t *testing.T) {
	repo := new(repomocks.MockOutboxRepository)
	pub := new(eventmocks.MockPublisher)

	evt := testEvent("evt-1")
	repo.On("Due", mock.Anything, mock.Anything, 50).Return([]model.OutboxEvent{evt}, nil)
	pub.On("Publish", mock.Anything, evt).Return(nil)
	repo.On("Delete", mock.Anything, "evt-1").Return(nil)

	d := NewDispatcher(repo, pub, testCfg(), slog.New(slog.DiscardHandler))
	d.Drain(context.Background())

	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDrainReschedulesOnPublishFailure(t *testing.T) {
	repo := new(repomocks.MockOutboxRepository)
	pub := new(eventmocks.MockPublisher)

	evt := testEvent("evt-1")
	evt.Attempts = 2
	repo.On("Due", mock.Anything, mock.Anything, 50).Return([]model.OutboxEvent{evt}, nil)
	pub.On("Publish", mock.Anything, evt).Return(errors.New("broker down"))
	repo.On("Reschedule", mock.Anything, "evt-1", 3, mock.Anything).Return(nil)

	d := NewDispatcher(repo, pub, testCfg(), slog.New(slog.DiscardHandler))
	d.Drain(context.Background())

	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestDrainContinuesPastFailedEvent(t *testing.T) {
	repo := new(repomocks.MockOutboxRepository)
	pub := new(eventmocks.MockPublisher)

	first := testEvent("evt-1")
	second := testEvent("evt-2")
	repo.On("Due", mock.Anything, mock.Anything, 50).Return([]model.OutboxEvent{first, second}, nil)
	pub.On("Publish", mock.Anything, first).Return(errors.New("broker down"))
	repo.On("Reschedule", mock.Anything, "evt-1", 1, mock.Anything).Return(nil)
	pub.On("Publish", mock.Anything, second).Return(nil)
	repo.On("Delete", mock.Anything, "evt-2").Return(nil)

	d := NewDispatcher(repo, pub, testCfg(), slog.New(slog.DiscardHandler))
	d.Drain(context.Background())

	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestStartAndStop(t *testing.T) {
	repo := new(repomocks.MockOutboxRepository)
	pub := new(eventmocks.MockPublisher)
	repo.On("Due", mock.Anything, mock.Anything, 50).Return([]model.OutboxEvent{}, nil)

	d := NewDispatcher(repo, pub, testCfg(), slog.New(slog.DiscardHandler))
	d.Start(context.Background())
	time.Sleep(35 * time.Millisecond)
	d.Stop()

	repo.AssertCalled(t, "Due", mock.Anything, mock.Anything, 50)
}

func TestRescheduleDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, rescheduleDelay(1))
	assert.Equal(t, 4*time.Second, rescheduleDelay(2))
	assert.Equal(t, 256*time.Second, rescheduleDelay(8))
	assert.Equal(t, maxRescheduleDelay, rescheduleDelay(9))
	assert.Equal(t, maxRescheduleDelay, rescheduleDelay(100))
}
