package repositories

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dm-service/internal/models"
)

func TestBuildWhereEmpty(t *testing.T) {
	where, args := buildWhere(models.MessageFilter{}, 1)
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestBuildWhereConversationPage(t *testing.T) {
	before := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	where, args := buildWhere(models.MessageFilter{
		Conversation: &models.Pair{A: 1, B: 2},
		Before:       &models.Cursor{CreatedAt: before},
	}, 1)

	assert.Equal(t, " WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)) AND created_at < $3", where)
	assert.Equal(t, []any{1, 2, before}, args)
}

func TestBuildWhereCompositeCursor(t *testing.T) {
	before := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	where, args := buildWhere(models.MessageFilter{
		Conversation: &models.Pair{A: 1, B: 2},
		Before:       &models.Cursor{CreatedAt: before, ID: 40},
	}, 1)

	assert.Equal(t, " WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)) AND (created_at < $3 OR (created_at = $3 AND id < $4))", where)
	assert.Equal(t, []any{1, 2, before, 40}, args)
}

func TestBuildWhereOffsetsPlaceholders(t *testing.T) {
	where, args := buildWhere(models.MessageFilter{
		SenderID:   3,
		ReceiverID: 4,
		StatusIn:   []models.Status{models.StatusSent},
		Unread:     models.Bool(true),
	}, 2)

	assert.Equal(t, " WHERE sender_id = $2 AND receiver_id = $3 AND status IN ($4) AND unread = $5", where)
	assert.Equal(t, []any{3, 4, models.StatusSent, true}, args)
}

func TestIntersectKeepsOnlyLowerStatuses(t *testing.T) {
	below := models.StatusDelivered.Below()
	assert.Equal(t, []models.Status{models.StatusSent}, intersect(nil, below))
	assert.Equal(t, []models.Status{models.StatusSent}, intersect([]models.Status{models.StatusSent, models.StatusSeen}, below))
	assert.Empty(t, intersect([]models.Status{models.StatusSeen}, below))
}
