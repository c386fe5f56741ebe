package services

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/geocoder89/aegisapi/internal/domain/user"
	"github.com/geocoder89/aegisapi/internal/notifications"
	"github.com/geocoder89/aegisapi/internal/repo/postgres"
)

// memDB backs every fake store; WithinTx runs fn against the same maps.
type memDB struct {
	mu      sync.Mutex
	users   map[string]user.User
	roles   map[string][]string
	refresh map[string]postgres.RefreshTokenRow
	tokens  map[string]user.OneTimeToken // by hash
	now     func() time.Time
}

func newMemDB() *memDB {
	return &memDB{
		users:   map[string]user.User{},
		roles:   map[string][]string{},
		refresh: map[string]postgres.RefreshTokenRow{},
		tokens:  map[string]user.OneTimeToken{},
		now:     time.Now,
	}
}

type memUsers struct{ db *memDB }

func (m memUsers) find(match func(user.User) bool) (user.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, u := range m.db.users {
		if match(u) {
			return u, nil
		}
	}
	return user.User{}, postgres.ErrUserNotFound
}

func (m memUsers) update(id string, fn func(*user.User)) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	u, ok := m.db.users[id]
	if !ok {
		return postgres.ErrUserNotFound
	}
	fn(&u)
	m.db.users[id] = u
	return nil
}

func (m memUsers) GetByID(_ context.Context, id string) (user.User, error) {
	return m.find(func(u user.User) bool { return u.ID == id })
}

func (m memUsers) GetByEmail(_ context.Context, email string) (user.User, error) {
	return m.find(func(u user.User) bool { return strings.EqualFold(u.Email, email) })
}

func (m memUsers) GetByLogin(_ context.Context, login string) (user.User, error) {
	return m.find(func(u user.User) bool {
		return strings.EqualFold(u.Email, login) || strings.EqualFold(u.Username, login)
	})
}

func (m memUsers) EmailTaken(_ context.Context, email, excludeID string) (bool, error) {
	_, err := m.find(func(u user.User) bool { return strings.EqualFold(u.Email, email) && u.ID != excludeID })
	return err == nil, nil
}

func (m memUsers) UsernameTaken(_ context.Context, username, excludeID string) (bool, error) {
	_, err := m.find(func(u user.User) bool { return strings.EqualFold(u.Username, username) && u.ID != excludeID })
	return err == nil, nil
}

func (m memUsers) Create(_ context.Context, u user.User) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.users[u.ID] = u
	return nil
}

func (m memUsers) Roles(_ context.Context, userID string) ([]string, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return append([]string(nil), m.db.roles[userID]...), nil
}

func (m memUsers) Departments(context.Context, string) ([]string, error) { return nil, nil }

func (m memUsers) RecordLoginFailure(_ context.Context, id string, maxAttempts int, lockFor time.Duration) (int, *time.Time, error) {
	var (
		n      int
		locked *time.Time
	)
	err := m.update(id, func(u *user.User) {
		now := m.db.now()
		if u.LockedUntil != nil && !now.Before(*u.LockedUntil) {
			u.FailedLoginAttempts, u.LockedUntil = 0, nil
		}
		u.FailedLoginAttempts++
		if u.FailedLoginAttempts >= maxAttempts {
			t := now.Add(lockFor)
			u.LockedUntil = &t
		}
		n, locked = u.FailedLoginAttempts, u.LockedUntil
	})
	return n, locked, err
}

func (m memUsers) RecordLoginSuccess(_ context.Context, id string) error {
	return m.update(id, func(u *user.User) { u.FailedLoginAttempts = 0; u.LockedUntil = nil })
}

func (m memUsers) Unlock(_ context.Context, id string) error {
	return m.update(id, func(u *user.User) { u.FailedLoginAttempts = 0; u.LockedUntil = nil })
}

func (m memUsers) MarkEmailVerified(_ context.Context, id string) error {
	return m.update(id, func(u *user.User) { u.EmailVerified = true })
}

func (m memUsers) UpdatePassword(_ context.Context, id, hash string) error {
	return m.update(id, func(u *user.User) { u.PasswordHash = hash; u.LockedUntil = nil; u.FailedLoginAttempts = 0 })
}

func (m memUsers) UpdateProfile(_ context.Context, id, username, firstName, lastName string) error {
	return m.update(id, func(u *user.User) { u.Username, u.FirstName, u.LastName = username, firstName, lastName })
}

func (m memUsers) List(_ context.Context, f postgres.UserFilter) ([]user.User, int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var all []user.User
	for _, u := range m.db.users {
		if f.Search != "" && !strings.Contains(strings.ToLower(u.Email+" "+u.Username), strings.ToLower(f.Search)) {
			continue
		}
		if f.Role != "" && u.Role != f.Role && !slices.Contains(m.db.roles[u.ID], f.Role) {
			continue
		}
		if f.Active != nil && u.IsActive != *f.Active {
			continue
		}
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })

	total := len(all)
	lo, hi := min(f.Offset, total), min(f.Offset+f.Limit, total)
	return all[lo:hi], total, nil
}

func (m memUsers) SetActive(_ context.Context, id string, active bool) error {
	return m.update(id, func(u *user.User) { u.IsActive = active })
}

func (m memUsers) AddRole(_ context.Context, id, role string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if !slices.Contains(m.db.roles[id], role) {
		m.db.roles[id] = append(m.db.roles[id], role)
	}
	return nil
}

func (m memUsers) RemoveRole(_ context.Context, id, role string) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	i := slices.Index(m.db.roles[id], role)
	if i < 0 {
		return false, nil
	}
	m.db.roles[id] = slices.Delete(m.db.roles[id], i, i+1)
	return true, nil
}

type memRefresh struct{ db *memDB }

func (m memRefresh) Create(_ context.Context, row postgres.RefreshTokenRow) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.refresh[row.ID] = row
	return nil
}

func (m memRefresh) GetForUpdate(_ context.Context, id string) (postgres.RefreshTokenRow, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	row, ok := m.db.refresh[id]
	if !ok {
		return postgres.RefreshTokenRow{}, postgres.ErrRefreshTokenNotFound
	}
	return row, nil
}

func (m memRefresh) Revoke(_ context.Context, id string, replacedBy *string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	row, ok := m.db.refresh[id]
	if !ok || row.RevokedAt != nil {
		return nil
	}
	now := m.db.now()
	row.RevokedAt, row.ReplacedBy = &now, replacedBy
	m.db.refresh[id] = row
	return nil
}

func (m memRefresh) RevokeAllForUser(_ context.Context, userID string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	now := m.db.now()
	for id, row := range m.db.refresh {
		if row.UserID == userID && row.RevokedAt == nil {
			row.RevokedAt = &now
			m.db.refresh[id] = row
		}
	}
	return nil
}

func (m *memDB) activeRefresh(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, row := range m.refresh {
		if row.UserID == userID && row.RevokedAt == nil {
			n++
		}
	}
	return n
}

type memTokens struct{ db *memDB }

func (m memTokens) Create(_ context.Context, t user.OneTimeToken) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.tokens[t.TokenHash] = t
	return nil
}

func (m memTokens) valid(purpose, hash string) (user.OneTimeToken, bool) {
	t, ok := m.db.tokens[hash]
	if !ok || t.Purpose != purpose || t.ConsumedAt != nil || !t.ExpiresAt.After(m.db.now()) {
		return user.OneTimeToken{}, false
	}
	return t, true
}

func (m memTokens) Peek(_ context.Context, purpose, hash string) (user.OneTimeToken, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	t, ok := m.valid(purpose, hash)
	if !ok {
		return user.OneTimeToken{}, postgres.ErrTokenInvalid
	}
	return t, nil
}

func (m memTokens) Consume(_ context.Context, purpose, hash string) (string, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	t, ok := m.valid(purpose, hash)
	if !ok {
		return "", postgres.ErrTokenInvalid
	}
	now := m.db.now()
	t.ConsumedAt = &now
	m.db.tokens[hash] = t
	return t.UserID, nil
}

func (m memTokens) InvalidateForUser(_ context.Context, userID, purpose string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	now := m.db.now()
	for h, t := range m.db.tokens {
		if t.UserID == userID && t.Purpose == purpose && t.ConsumedAt == nil {
			t.ConsumedAt = &now
			m.db.tokens[h] = t
		}
	}
	return nil
}

func (m *memDB) WithinTx(ctx context.Context, fn func(ctx context.Context, s TxStores) error) error {
	return fn(ctx, m.stores())
}

func (m *memDB) stores() TxStores {
	return TxStores{Users: memUsers{m}, RefreshTokens: memRefresh{m}, AuthTokens: memTokens{m}}
}

// captureNotifier keeps the last raw token per purpose.
type captureNotifier struct {
	mu   sync.Mutex
	last map[string]notifications.AuthLinkInput
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{last: map[string]notifications.AuthLinkInput{}}
}

func (c *captureNotifier) SendAuthLink(_ context.Context, in notifications.AuthLinkInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[in.Purpose] = in
	return nil
}

func (c *captureNotifier) token(purpose string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[purpose].Token
}
