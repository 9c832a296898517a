package store

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jjudge-oj/accounts/types"
)

// MemoryUserRepository keeps users in process memory. It is used for local
// development and tests; uniqueness is enforced under the write lock.
type MemoryUserRepository struct {
	mu            sync.RWMutex
	users         map[int64]types.User
	usernameIndex map[string]int64
	emailIndex    map[string]int64
	seq           int64
	now           func() time.Time
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users:         make(map[int64]types.User),
		usernameIndex: make(map[string]int64),
		emailIndex:    make(map[string]int64),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func foldKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id int64) (types.User, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	return user, ok, nil
}

func (r *MemoryUserRepository) GetByUsername(_ context.Context, username string) (types.User, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.usernameIndex[foldKey(username)]; ok {
		return r.users[id], true, nil
	}
	return types.User{}, false, nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (types.User, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.emailIndex[foldKey(email)]; ok {
		return r.users[id], true, nil
	}
	return types.User{}, false, nil
}

func (r *MemoryUserRepository) ExistsByUsername(_ context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.usernameIndex[foldKey(username)]
	return ok, nil
}

func (r *MemoryUserRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.emailIndex[foldKey(email)]
	return ok, nil
}

func (r *MemoryUserRepository) List(_ context.Context, filter types.UserFilter) (types.Page[types.User], error) {
	filter = normalizeFilter(filter)
	keyword := strings.ToLower(filter.Keyword)

	r.mu.RLock()
	matched := make([]types.User, 0, len(r.users))
	for _, user := range r.users {
		if filter.Status != "" && user.Status != filter.Status {
			continue
		}
		if keyword != "" &&
			!strings.Contains(strings.ToLower(user.Username), keyword) &&
			!strings.Contains(strings.ToLower(user.Email), keyword) &&
			!strings.Contains(strings.ToLower(user.FullName), keyword) {
			continue
		}
		matched = append(matched, user)
	}
	r.mu.RUnlock()

	compare := compareBy(filter.Sort)
	slices.SortFunc(matched, func(a, b types.User) int {
		c := compare(a, b)
		if filter.Direction == DirectionDesc {
			c = -c
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		return c
	})

	page := types.Page[types.User]{
		Items:         []types.User{},
		Page:          filter.Page,
		Size:          filter.Size,
		TotalElements: len(matched),
	}
	start := filter.Offset()
	if start < len(matched) {
		end := min(start+filter.Size, len(matched))
		page.Items = matched[start:end]
	}
	return page, nil
}

func compareBy(field string) func(a, b types.User) int {
	switch field {
	case "username":
		return func(a, b types.User) int { return cmp.Compare(a.Username, b.Username) }
	case "email":
		return func(a, b types.User) int { return cmp.Compare(a.Email, b.Email) }
	case "fullName":
		return func(a, b types.User) int { return cmp.Compare(a.FullName, b.FullName) }
	case "role":
		return func(a, b types.User) int { return cmp.Compare(a.Role, b.Role) }
	case "status":
		return func(a, b types.User) int { return cmp.Compare(a.Status, b.Status) }
	case "createdAt":
		return func(a, b types.User) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case "updatedAt":
		return func(a, b types.User) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	case "lastLogin":
		return func(a, b types.User) int { return compareOptionalTime(a.LastLogin, b.LastLogin) }
	default:
		return func(a, b types.User) int { return cmp.Compare(a.ID, b.ID) }
	}
}

// compareOptionalTime orders nil after any set time, as Postgres does for
// NULLs in ascending order.
func compareOptionalTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return a.Compare(*b)
	}
}

func (r *MemoryUserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	uname, email := foldKey(user.Username), foldKey(user.Email)
	if _, exists := r.usernameIndex[uname]; exists {
		return types.User{}, ErrDuplicateUsername
	}
	if _, exists := r.emailIndex[email]; exists {
		return types.User{}, ErrDuplicateEmail
	}

	r.seq++
	now := r.now()
	user.ID = r.seq
	user.CreatedAt = now
	user.UpdatedAt = now
	user.LastLogin = nil

	r.users[user.ID] = user
	r.usernameIndex[uname] = user.ID
	r.emailIndex[email] = user.ID
	return user, nil
}

func (r *MemoryUserRepository) Update(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[user.ID]
	if !ok {
		return types.User{}, ErrNotFound
	}
	uname, email := foldKey(user.Username), foldKey(user.Email)
	if id, taken := r.usernameIndex[uname]; taken && id != user.ID {
		return types.User{}, ErrDuplicateUsername
	}
	if id, taken := r.emailIndex[email]; taken && id != user.ID {
		return types.User{}, ErrDuplicateEmail
	}

	delete(r.usernameIndex, foldKey(existing.Username))
	delete(r.emailIndex, foldKey(existing.Email))
	r.usernameIndex[uname] = user.ID
	r.emailIndex[email] = user.ID

	user.CreatedAt = existing.CreatedAt
	user.LastLogin = existing.LastLogin
	user.UpdatedAt = r.now()
	r.users[user.ID] = user
	return user, nil
}

func (r *MemoryUserRepository) UpdateLastLogin(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	user.LastLogin = &at
	r.users[id] = user
	return nil
}

func (r *MemoryUserRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.users, id)
	delete(r.usernameIndex, foldKey(user.Username))
	delete(r.emailIndex, foldKey(user.Email))
	return nil
}
