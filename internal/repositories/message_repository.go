package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

const messageColumns = `id, sender_id, receiver_id, text, image, status, unread, created_at`

// MessageRepository is the durable message collection.
type MessageRepository interface {
	Insert(ctx context.Context, msg models.Message) (models.Message, error)
	Find(ctx context.Context, filter models.MessageFilter, limit int) ([]models.Message, error)
	FindLatest(ctx context.Context, filter models.MessageFilter) (*models.Message, error)
	Count(ctx context.Context, filter models.MessageFilter) (int, error)
	UpdateMany(ctx context.Context, filter models.MessageFilter, update models.MessageUpdate) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Insert stores a new message and returns it with its id and creation time.
func (r *MessageRepo) Insert(ctx context.Context, msg models.Message) (models.Message, error) {
	var out models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO direct_messages (sender_id, receiver_id, text, image, status, unread)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+messageColumns,
		msg.SenderID, msg.ReceiverID, msg.Text, msg.Image, msg.Status, msg.Unread).StructScan(&out)
	return out, err
}

// Find returns matching messages, newest first. A non-positive limit returns all matches.
func (r *MessageRepo) Find(ctx context.Context, filter models.MessageFilter, limit int) ([]models.Message, error) {
	where, args := buildWhere(filter, 1)
	query := `SELECT ` + messageColumns + ` FROM direct_messages` + where + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, query, args...)
	return msgs, err
}

// FindLatest returns the newest matching message, or nil when nothing matches.
func (r *MessageRepo) FindLatest(ctx context.Context, filter models.MessageFilter) (*models.Message, error) {
	where, args := buildWhere(filter, 1)
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM direct_messages`+where+` ORDER BY created_at DESC, id DESC LIMIT 1`, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Count returns the number of matching messages.
func (r *MessageRepo) Count(ctx context.Context, filter models.MessageFilter) (int, error) {
	where, args := buildWhere(filter, 1)
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM direct_messages`+where, args...)
	return n, err
}

// UpdateMany applies update to every matching message whose status ranks below
// the target status, in one statement, and returns the updated rows.
func (r *MessageRepo) UpdateMany(ctx context.Context, filter models.MessageFilter, update models.MessageUpdate) ([]models.Message, error) {
	below := update.Status.Below()
	if len(below) == 0 {
		return []models.Message{}, nil
	}
	set := []string{"status = $1"}
	args := []any{update.Status}
	if update.ClearUnread {
		set = append(set, "unread = FALSE")
	}

	// Monotonic guard: only statuses ranked below the target are touched.
	guarded := filter
	guarded.StatusIn = intersect(filter.StatusIn, below)
	if len(guarded.StatusIn) == 0 {
		return []models.Message{}, nil
	}
	where, whereArgs := buildWhere(guarded, len(args)+1)
	args = append(args, whereArgs...)

	msgs := []models.Message{}
	query := `UPDATE direct_messages SET ` + strings.Join(set, ", ") + where + ` RETURNING ` + messageColumns
	err := r.db.SelectContext(ctx, &msgs, query, args...)
	return msgs, err
}

func intersect(requested, allowed []models.Status) []models.Status {
	if len(requested) == 0 {
		return allowed
	}
	var out []models.Status
	for _, s := range requested {
		for _, a := range allowed {
			if s == a {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// buildWhere renders a filter as a WHERE clause with positional
// placeholders starting at $start.
func buildWhere(f models.MessageFilter, start int) (string, []any) {
	var conds []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", start+len(args)-1)
	}

	if f.Conversation != nil {
		a, b := next(f.Conversation.A), next(f.Conversation.B)
		conds = append(conds, fmt.Sprintf("((sender_id = %s AND receiver_id = %s) OR (sender_id = %s AND receiver_id = %s))", a, b, b, a))
	}
	if f.SenderID != 0 {
		conds = append(conds, "sender_id = "+next(f.SenderID))
	}
	if f.ReceiverID != 0 {
		conds = append(conds, "receiver_id = "+next(f.ReceiverID))
	}
	if len(f.StatusIn) > 0 {
		ph := make([]string, 0, len(f.StatusIn))
		for _, s := range f.StatusIn {
			ph = append(ph, next(s))
		}
		conds = append(conds, "status IN ("+strings.Join(ph, ", ")+")")
	}
	if f.StatusNot != "" {
		conds = append(conds, "status <> "+next(f.StatusNot))
	}
	if f.Unread != nil {
		conds = append(conds, "unread = "+next(*f.Unread))
	}
	if f.Before != nil {
		at := next(f.Before.CreatedAt)
		if f.Before.ID > 0 {
			conds = append(conds, fmt.Sprintf("(created_at < %s OR (created_at = %s AND id < %s))", at, at, next(f.Before.ID)))
		} else {
			conds = append(conds, "created_at < "+at)
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
