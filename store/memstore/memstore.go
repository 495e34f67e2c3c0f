// Package memstore is an in-memory credcore.Repository. Every method takes
// one store-wide lock, which makes the compare-and-swap methods trivially
// atomic. Records are copied in and out so callers never share memory with
// the store.
package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/credcore/credcore"
)

// Store implements credcore.Repository, credcore.ActivityLog and
// credcore.Sweeper.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	users    map[string]*credcore.User
	byEmail  map[string]string
	codes    map[string]credcore.SecondFactorCode
	devices  map[string][]credcore.TrustedDevice
	activity []credcore.ActivityRecord
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for CreatedAt/UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		users:   map[string]*credcore.User{},
		byEmail: map[string]string{},
		codes:   map[string]credcore.SecondFactorCode{},
		devices: map[string][]credcore.TrustedDevice{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneUser(u *credcore.User) *credcore.User {
	c := *u
	return &c
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*credcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[normalize(email)]
	if !ok {
		return nil, credcore.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (*credcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, credcore.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) CreateUser(_ context.Context, nu credcore.NewUser) (*credcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nu.Bootstrap && len(s.users) > 0 {
		return nil, credcore.ErrStoreNotEmpty
	}
	email := normalize(nu.Email)
	if _, taken := s.byEmail[email]; taken {
		return nil, credcore.ErrEmailTaken
	}
	now := s.now().UTC()
	u := &credcore.User{
		ID:           nu.ID,
		Email:        email,
		FirstName:    nu.FirstName,
		LastName:     nu.LastName,
		PasswordHash: nu.PasswordHash,
		Role:         nu.Role,
		Active:       true,
		Verified:     nu.Verified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	s.byEmail[email] = u.ID
	return cloneUser(u), nil
}

func (s *Store) UpdateUser(_ context.Context, id string, upd credcore.UserUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return credcore.ErrNotFound
	}
	upd.Apply(u)
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) CountUsers(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.users)), nil
}

func (s *Store) SwapRefreshTokenHash(_ context.Context, userID, expected, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.RefreshTokenHash != expected {
		return false, nil
	}
	u.RefreshTokenHash = next
	u.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *Store) ConsumePasswordReset(_ context.Context, userID, expectedResetHash, newPasswordHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || expectedResetHash == "" || u.ResetTokenHash != expectedResetHash {
		return false, nil
	}
	u.PasswordHash = newPasswordHash
	u.ResetTokenHash = ""
	u.ResetTokenExpiresAt = time.Time{}
	u.RefreshTokenHash = ""
	u.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *Store) UpsertSecondFactorCode(_ context.Context, code credcore.SecondFactorCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.UserID] = code
	return nil
}

func (s *Store) GetSecondFactorCode(_ context.Context, userID string) (*credcore.SecondFactorCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[userID]
	if !ok {
		return nil, credcore.ErrNotFound
	}
	return &code, nil
}

func (s *Store) DeleteSecondFactorCode(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, userID)
	return nil
}

func (s *Store) UpdateSecondFactorAttempts(_ context.Context, userID, codeHash string, from, to int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[userID]
	if !ok || code.CodeHash != codeHash || code.Attempts != from {
		return false, nil
	}
	code.Attempts = to
	s.codes[userID] = code
	return true, nil
}

func (s *Store) DeleteSecondFactorCodeIf(_ context.Context, userID, codeHash string, attempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[userID]
	if !ok || code.CodeHash != codeHash || code.Attempts != attempts {
		return false, nil
	}
	delete(s.codes, userID)
	return true, nil
}

func (s *Store) CreateTrustedDevice(_ context.Context, d credcore.TrustedDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.UserID] = append(s.devices[d.UserID], d)
	return nil
}

func (s *Store) ListTrustedDevices(_ context.Context, userID string) ([]credcore.TrustedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.devices[userID]), nil
}

func (s *Store) RecordActivity(_ context.Context, rec credcore.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, rec)
	return nil
}

// Activity returns the recorded activity of userID, oldest first. An empty
// userID returns everything.
func (s *Store) Activity(userID string) []credcore.ActivityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []credcore.ActivityRecord
	for _, rec := range s.activity {
		if userID == "" || rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Store) PurgeActivityBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.activity)
	s.activity = slices.DeleteFunc(s.activity, func(rec credcore.ActivityRecord) bool {
		return rec.CreatedAt.Before(cutoff)
	})
	return int64(before - len(s.activity)), nil
}

func (s *Store) PurgeExpiredTrustedDevices(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for userID, devices := range s.devices {
		kept := slices.DeleteFunc(devices, func(d credcore.TrustedDevice) bool {
			return now.After(d.ExpiresAt)
		})
		purged += int64(len(devices) - len(kept))
		if len(kept) == 0 {
			delete(s.devices, userID)
			continue
		}
		s.devices[userID] = kept
	}
	return purged, nil
}

var (
	_ credcore.Repository  = (*Store)(nil)
	_ credcore.ActivityLog = (*Store)(nil)
	_ credcore.Sweeper     = (*Store)(nil)
)
