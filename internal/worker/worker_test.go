package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"storefront/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReprocessor struct {
	mock.Mock
}

func (m *mockReprocessor) Reprocess(ctx context.Context, rawBody []byte) (models.EventOutcome, error) {
	args := m.Called(ctx, rawBody)
	return args.Get(0).(models.EventOutcome), args.Error(1)
}

func redeliveryMessage(t *testing.T, attempt int) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(models.RedeliveryEvent{
		GatewayEventID: "WH-1",
		RawPayload:     json.RawMessage(`{"id":"WH-1"}`),
		Attempt:        attempt,
	})
	require.NoError(t, err)
	return kafka.Message{Value: payload}
}

func TestHandleSkipsPoisonMessage(t *testing.T) {
	processor := new(mockReprocessor)
	w := NewRedeliveryWorker(nil, nil, processor, 0, 3)

	err := w.Handle(context.Background(), kafka.Message{Value: []byte("not json")})

	assert.NoError(t, err)
	processor.AssertNotCalled(t, "Reprocess", mock.Anything, mock.Anything)
}

func TestHandleStopsOnceResolved(t *testing.T) {
	processor := new(mockReprocessor)
	processor.On("Reprocess", mock.Anything, mock.Anything).
		Return(models.OutcomeProcessed, nil)
	w := NewRedeliveryWorker(nil, nil, processor, 0, 3)

	err := w.Handle(context.Background(), redeliveryMessage(t, 1))

	assert.NoError(t, err)
	processor.AssertExpectations(t)
}

func TestHandleGivesUpAfterAttemptBudget(t *testing.T) {
	processor := new(mockReprocessor)
	processor.On("Reprocess", mock.Anything, mock.Anything).
		Return(models.OutcomeConflict, nil)
	w := NewRedeliveryWorker(nil, nil, processor, 0, 3)

	// Still conflicted at the final attempt: the worker stops requeueing and
	// leaves the event to the gateway's own retry cadence.
	err := w.Handle(context.Background(), redeliveryMessage(t, 3))

	assert.NoError(t, err)
	processor.AssertExpectations(t)
}

func TestHandleSurfacesProcessorFailure(t *testing.T) {
	processor := new(mockReprocessor)
	processor.On("Reprocess", mock.Anything, mock.Anything).
		Return(models.OutcomeFailed, assert.AnError)
	w := NewRedeliveryWorker(nil, nil, processor, 0, 3)

	err := w.Handle(context.Background(), redeliveryMessage(t, 1))

	assert.Error(t, err)
	processor.AssertExpectations(t)
}

func TestHandleRespectsCancelledContext(t *testing.T) {
	processor := new(mockReprocessor)
	w := NewRedeliveryWorker(nil, nil, processor, time.Minute, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Handle(ctx, redeliveryMessage(t, 1))

	assert.ErrorIs(t, err, context.Canceled)
	processor.AssertNotCalled(t, "Reprocess", mock.Anything, mock.Anything)
}
