package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"dm-service/internal/models"
	"dm-service/internal/repositories"
)

// MemoryStore is an in-memory message and user store with the same filter
// and update semantics as the SQL repositories. Each inserted message is
// stamped one second after the previous one so ordering is deterministic.
type MemoryStore struct {
	mu       sync.Mutex
	messages []models.Message
	users    map[int]models.User
	nextID   int
	base     time.Time

	// FailInsert, when set, is returned by Insert.
	FailInsert error
	// FailUpdate, when set, is returned by UpdateMany.
	FailUpdate error
	// FrozenClock stamps every insert with the same created_at.
	FrozenClock bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[int]models.User),
		base:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// AddUser seeds a user record.
func (s *MemoryStore) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Message returns the stored message with id.
func (s *MemoryStore) Message(id int) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

func (s *MemoryStore) Insert(ctx context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsert != nil {
		return models.Message{}, s.FailInsert
	}
	s.nextID++
	msg.ID = s.nextID
	msg.CreatedAt = s.base.Add(time.Duration(s.nextID) * time.Second)
	if s.FrozenClock {
		msg.CreatedAt = s.base
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *MemoryStore) Find(ctx context.Context, filter models.MessageFilter, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Message{}
	for _, m := range s.sortedDesc() {
		if !filter.Matches(m) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) FindLatest(ctx context.Context, filter models.MessageFilter) (*models.Message, error) {
	msgs, err := s.Find(ctx, filter, 1)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

func (s *MemoryStore) Count(ctx context.Context, filter models.MessageFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if filter.Matches(m) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UpdateMany(ctx context.Context, filter models.MessageFilter, update models.MessageUpdate) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpdate != nil {
		return nil, s.FailUpdate
	}
	updated := []models.Message{}
	for i, m := range s.messages {
		if !filter.Matches(m) {
			continue
		}
		next, changed := update.Apply(m)
		if !changed {
			continue
		}
		s.messages[i] = next
		updated = append(updated, next)
	}
	return updated, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, userID int) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, repositories.ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) ListUsersExcept(ctx context.Context, userID int) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.User{}
	for id, u := range s.users {
		if id != userID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SetPresence(ctx context.Context, userID int, online bool, lastSeen *time.Time) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, repositories.ErrUserNotFound
	}
	u.IsOnline = online
	if lastSeen != nil {
		ts := *lastSeen
		u.LastSeen = &ts
	}
	s.users[userID] = u
	return u, nil
}

func (s *MemoryStore) sortedDesc() []models.Message {
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

var _ repositories.MessageRepository = (*MemoryStore)(nil)
var _ repositories.UserRepository = (*MemoryStore)(nil)
