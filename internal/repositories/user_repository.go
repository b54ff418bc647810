package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads user records and writes presence fields.
type UserRepository interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	ListUsersExcept(ctx context.Context, userID int) ([]models.User, error)
	SetPresence(ctx context.Context, userID int, online bool, lastSeen *time.Time) (models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, full_name, profile_pic, is_online, last_seen FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// ListUsersExcept returns every user other than userID.
func (r *UserRepo) ListUsersExcept(ctx context.Context, userID int) ([]models.User, error) {
	users := []models.User{}
	err := r.db.SelectContext(ctx, &users, `SELECT id, full_name, profile_pic, is_online, last_seen FROM users WHERE id<>$1 ORDER BY full_name, id`, userID)
	return users, err
}

// SetPresence updates the online flag, and last_seen when given, returning the updated record.
func (r *UserRepo) SetPresence(ctx context.Context, userID int, online bool, lastSeen *time.Time) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `UPDATE users SET is_online=$2, last_seen=COALESCE($3, last_seen) WHERE id=$1
        RETURNING id, full_name, profile_pic, is_online, last_seen`, userID, online, lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}
