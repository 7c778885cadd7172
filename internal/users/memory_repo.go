package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/technosupport/firewatch/internal/data"
)

// MemoryRepo supports account management when the database is disabled.
type MemoryRepo struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]data.User
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{users: map[int64]data.User{}}
}

func (r *MemoryRepo) GetByUsername(_ context.Context, username string) (*data.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Username == username {
			out := u
			return &out, nil
		}
	}
	return nil, data.ErrUserNotFound
}

func (r *MemoryRepo) GetByID(_ context.Context, id int64) (*data.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, data.ErrUserNotFound
	}
	return &u, nil
}

func (r *MemoryRepo) Create(_ context.Context, u *data.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Username == u.Username {
			return data.ErrUsernameTaken
		}
	}
	r.nextID++
	u.ID = r.nextID
	u.CreatedAt = time.Now().UTC()
	r.users[u.ID] = *u
	return nil
}

func (r *MemoryRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return data.ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *MemoryRepo) List(_ context.Context) ([]*data.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*data.User, 0, len(r.users))
	for _, u := range r.users {
		u := u
		u.PasswordHash = ""
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
