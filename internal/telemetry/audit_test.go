package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"dm-service/internal/mocks"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(pub, "audit.dm", "dm-service", "test")

	pub.On("Publish", mock.Anything, "audit.dm", mock.MatchedBy(func(e AuditEnvelope) bool {
		return e.EventType == "audit_log" &&
			e.Service == "dm-service" &&
			e.RequestID == "req-1" &&
			e.UserID != nil && *e.UserID == "7" &&
			e.Payload.Text == "message sent"
	}), map[string]string{"x-request-id": "req-1"}).Return(nil).Once()

	emitter.Emit(context.Background(), "INFO", "message sent", "req-1", 7)
	pub.AssertExpectations(t)
}

func TestEmitAnonymousAndPublishError(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(pub, "audit.dm", "dm-service", "test")

	pub.On("Publish", mock.Anything, "audit.dm", mock.MatchedBy(func(e AuditEnvelope) bool {
		return e.UserID == nil
	}), mock.Anything).Return(assert.AnError).Once()

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "WARN", "x", "req-2", 0)
	})
	pub.AssertExpectations(t)
}

func TestNilEmitterIsNoop(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "x", "", 1)
	})
}
