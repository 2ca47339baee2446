package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/accounthub/internal/domain/user"
)

// UsersRepo is an in-process credential store. It keeps secondary indexes
// for email and verification token so every lookup is O(1).
type UsersRepo struct {
	mu      sync.RWMutex
	items   map[string]user.User // id -> user
	byEmail map[string]string    // email -> id
	byToken map[string]string    // verification token -> id
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items:   make(map[string]user.User),
		byEmail: make(map[string]string),
		byToken: make(map[string]string),
	}
}

func (r *UsersRepo) Create(_ context.Context, u user.User) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[u.Email]; ok {
		return user.User{}, user.ErrEmailTaken
	}

	u = clone(u)
	r.items[u.ID] = u
	r.byEmail[u.Email] = u.ID
	if u.VerificationToken != nil {
		r.byToken[*u.VerificationToken] = u.ID
	}

	return clone(u), nil
}

func (r *UsersRepo) GetByID(_ context.Context, id string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return clone(u), nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email]
	r.mu.RUnlock()

	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *UsersRepo) ConsumeVerificationToken(_ context.Context, token string) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byToken[token]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	delete(r.byToken, token)

	u := r.items[id]
	u.Verify = true
	u.VerificationToken = nil
	u.UpdatedAt = time.Now().UTC()
	r.items[id] = u

	return clone(u), nil
}

func (r *UsersRepo) SetToken(_ context.Context, id, token string) error {
	return r.update(id, func(u *user.User) {
		u.Token = token
	})
}

func (r *UsersRepo) UpdateSubscription(ctx context.Context, id string, sub user.Subscription) (user.User, error) {
	err := r.update(id, func(u *user.User) {
		u.Subscription = sub
	})
	if err != nil {
		return user.User{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *UsersRepo) UpdateAvatar(_ context.Context, id, avatarURL string) error {
	return r.update(id, func(u *user.User) {
		u.AvatarURL = avatarURL
	})
}

// Count is used by tests to assert uniqueness.
func (r *UsersRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *UsersRepo) update(id string, fn func(u *user.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.ErrNotFound
	}

	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	r.items[id] = u

	return nil
}

func clone(u user.User) user.User {
	if u.VerificationToken != nil {
		tok := *u.VerificationToken
		u.VerificationToken = &tok
	}
	return u
}
