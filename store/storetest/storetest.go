// Package storetest is the behavioural contract every credcore.Repository
// must satisfy. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credcore/credcore"
)

// Factory returns an empty repository. It is called once per subtest.
type Factory func(t *testing.T) credcore.Repository

// Run executes the conformance suite against repositories built by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, repo credcore.Repository)
	}{
		{"CreateAndFind", testCreateAndFind},
		{"DuplicateEmail", testDuplicateEmail},
		{"BootstrapRequiresEmptyStore", testBootstrap},
		{"UpdateUser", testUpdateUser},
		{"UpdateMissingUser", testUpdateMissingUser},
		{"SwapRefreshTokenHash", testSwapRefresh},
		{"SwapRefreshSingleWinner", testSwapRefreshSingleWinner},
		{"ConsumePasswordReset", testConsumeReset},
		{"SecondFactorCodeLifecycle", testCodeLifecycle},
		{"SecondFactorAttemptsCAS", testCodeAttempts},
		{"SecondFactorDeleteSingleWinner", testCodeDeleteSingleWinner},
		{"TrustedDevices", testTrustedDevices},
		{"Sweeper", testSweeper},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newRepo(t))
		})
	}
}

func createUser(t *testing.T, repo credcore.Repository, email string) *credcore.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), credcore.NewUser{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    "Ada",
		LastName:     "Lovelace",
		PasswordHash: "hash",
		Role:         credcore.RoleUser,
	})
	require.NoError(t, err)
	return u
}

func testCreateAndFind(t *testing.T, repo credcore.Repository) {
	ctx := context.Background()

	count, err := repo.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	created := createUser(t, repo, "  Ada@Example.com ")
	assert.Equal(t, "ada@example.com", created.Email)
	assert.True(t, created.Active)
	assert.False(t, created.Verified)
	assert.False(t, created.CreatedAt.IsZero())

	byEmail, err := repo.FindUserByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byID, err := repo.FindUserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", byID.FirstName)
	assert.Equal(t, "hash", byID.PasswordHash)
	assert.Equal(t, credcore.RoleUser, byID.Role)

	_, err = repo.FindUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, credcore.ErrNotFound)
	_, err = repo.FindUserByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, credcore.ErrNotFound)

	count, err = repo.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func testDuplicateEmail(t *testing.T, repo credcore.Repository) {
	createUser(t, repo, "dup@example.com")
	_, err := repo.CreateUser(context.Background(), credcore.NewUser{
		ID:           uuid.NewString(),
		Email:        "DUP@example.com",
		PasswordHash: "hash",
		Role:         credcore.RoleUser,
	})
	assert.ErrorIs(t, err, credcore.ErrEmailTaken)
}

func testBootstrap(t *testing.T, repo credcore.Repository) {
	ctx := context.Background()
	admin, err := repo.CreateUser(ctx, credcore.NewUser{
		ID:           uuid.NewString(),
		Email:        "root@example.com",
		PasswordHash: "hash",
		Role:         credcore.RoleAdmin,
		Verified:     true,
		Bootstrap:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, credcore.RoleAdmin, admin.Role)
	assert.True(t, admin.Verified)

	_, err = repo.CreateUser(ctx, credcore.NewUser{
		ID:           uuid.NewString(),
		Email:        "second@example.com",
		PasswordHash: "hash",
		Role:         credcore.RoleAdmin,
		Bootstrap:    true,
	})
	assert.ErrorIs(t, err, credcore.ErrStoreNotEmpty)
}

func testUpdateUser(t *testing.T, repo credcore.Repository) {
	ctx := context.Background()
	u := createUser(t, repo, "update@example.com")

	verified, enabled := true, true
	refresh := "refresh-hash"
	login := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.UpdateUser(ctx, u.ID, credcore.UserUpdate{
		Verified:            &verified,
		SecondFactorEnabled: &enabled,
		RefreshTokenHash:    &refresh,
		LastLoginAt:         &login,
	}))

	got, err := repo.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Verified)
	assert.True(t, got.SecondFactorEnabled)
	assert.Equal(t, "refresh-hash", got.RefreshTokenHash)
	assert.True(t, got.LastLoginAt.Equal(login), "last login %v, want %v", got.LastLoginAt, login)
	assert.Equal(t, "Ada", got.FirstName, "untouched fields must survive a partial update")

	cleared := ""
	require.NoError(t, repo.UpdateUser(ctx, u.ID, credcore.UserUpdate{RefreshTokenHash: &cleared}))
	got, err = repo.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, got.RefreshTokenHash)
	assert.True(t, got.Verified)
}

func testUpdateMissingUser(t *testing.T, repo credcore.Repository) {
	v := true
	err := repo.UpdateUser(context.Background(), uuid.NewString(), credcore.UserUpdate{Verified: &v})
	assert.ErrorIs(t, err, credcore.ErrNotFound)
}

func testSwapRefresh(t *testing.T, repo credcore.Repository) {
	ctx := context.Background()
	u := createUser(t, repo, "swap@example.com")

	ok, err := repo.SwapRefreshTokenHash(ctx, u.ID, "", "first")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SwapRefreshTokenHash(ctx, u.ID, "stale", "second")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.SwapRefreshTokenHash(ctx, u.ID, "first", "second")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.RefreshTokenHash)

	ok, err = repo.SwapRefreshTokenHash(ctx, uuid.NewString(), "", "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testSwapRefreshSingleWinner(t *testing.T, repo credcore.Repository) {
	ctx := context.Background()
	u := createUser(t, repo, "race@example.com")
	_, err := repo.SwapRefreshTokenHash(ctx, u.ID, "", "shared")
	require.NoError(t, err)

	const workers = 16
	var (
		wg    sync.WaitGroup
		wins  atomic.Int32
		start = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ok, err := repo.SwapRefreshTokenHash(ctx, u.ID, "shared", uuid.NewString())
			if err == nil && ok {
				wins.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func testConsumeReset(t *testing.T, repo credcore.Repository) {
	ctx := context.Background()
	u := createUser(t, repo, "reset@example.com")

	reset, refresh := "reset-hash", "refresh-hash"
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.UpdateUser(ctx, u.ID, credcore.UserUpdate{
		ResetTokenHash:      &reset,
		ResetTokenExpiresAt: &exp,
		RefreshTokenHash:    &refresh,
	}))

	ok, err := repo.ConsumePasswordReset(ctx, u.ID, "other", "new-password-hash")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.ConsumePasswordReset(ctx, u.ID, "reset-hash", "new-password-hash")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-password-hash", got.PasswordHash)
	assert.Empty(t, got.ResetTokenHash)
	assert.True(t, got.ResetTokenExpiresAt.IsZero())
	assert.Empty(t, got.RefreshTokenHash)

	ok, err = repo.ConsumePasswordReset(ctx, u.ID, "reset-hash", "again")
	require.NoError(t, err)
	assert.False(t, ok, "a reset hash must only be consumable once")

	ok, err = repo.ConsumePasswordReset(ctx, u.ID, "", "empty")
	require.NoError(t, err)
	assert.False(t, ok, "an empty expected hash never matches")
}

func testCodeLifecycle(t *testing.T, repo credcore.Repository) {
	ctx := context.Background()
	u := createUser(t, repo, "code@example.com")

	_, err := repo.GetSecondFactorCode(ctx, u.ID)
	assert.ErrorIs(t, err, credcore.ErrNotFound)

	exp := time.Now().Add(5 * time.Minute).UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.UpsertSecondFactorCode(ctx, credcore.SecondFactorCode{
		UserID: u.ID, CodeHash: "h1", ExpiresAt: exp, Attempts: 3, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, repo.UpsertSecondFactorCode(ctx, credcore.SecondFactorCode{
		UserID: u.ID, CodeHash: "h2", ExpiresAt: exp, Attempts: 0, CreatedAt: time.Now().UTC(),
	}))

	got, err := repo.GetSecondFactorCode(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "h2", got.CodeHash)
	assert.Zero(t, got.Attempts, "upsert must fully replace the previous code")
	assert.True(t, got.ExpiresAt.Equal(exp))

	require.NoError(t, repo.DeleteSecondFactorCode(ctx, u.ID))
	require.NoError(t, repo.DeleteSecondFactorCode(ctx, u.ID))
	_, err = repo.GetSecondFactorCode(ctx, u.ID)
	assert.ErrorIs(t, err, credcore.ErrNotFound)
}

func testCodeAttempts(t *testing.T, repo credcore.Repository) {
	ctx := context.Background()
	u := createUser(t, repo, "attempts@example.com")
	require.NoError(t, repo.UpsertSecondFactorCode(ctx, credcore.SecondFactorCode{
		UserID: u.ID, CodeHash: "h", ExpiresAt: time.Now().Add(time.Minute).UTC(),
	}))

	ok, err := repo.UpdateSecondFactorAttempts(ctx, u.ID, "h", 0, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateSecondFactorAttempts(ctx, u.ID, "h", 0, 1)
	require.NoError(t, err)
	assert.False(t, ok, "stale attempt count must lose")

	ok, err = repo.UpdateSecondFactorAttempts(ctx, u.ID, "other", 1, 2)
	require.NoError(t, err)
	assert.False(t, ok, "replaced code must not be counted")

	ok, err = repo.DeleteSecondFactorCodeIf(ctx, u.ID, "h", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetSecondFactorCode(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)

	ok, err = repo.DeleteSecondFactorCodeIf(ctx, u.ID, "h", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateSecondFactorAttempts(ctx, u.ID, "h", 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testCodeDeleteSingleWinner(t *testing.T, repo credcore.Repository) {
	ctx := context.Background()
	u := createUser(t, repo, "otp-race@example.com")
	require.NoError(t, repo.UpsertSecondFactorCode(ctx, credcore.SecondFactorCode{
		UserID: u.ID, CodeHash: "h", ExpiresAt: time.Now().Add(time.Minute).UTC(),
	}))

	const workers = 16
	var (
		wg    sync.WaitGroup
		wins  atomic.Int32
		start = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := repo.DeleteSecondFactorCodeIf(ctx, u.ID, "h", 0)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func testTrustedDevices(t *testing.T, repo credcore.Repository) {
	ctx := context.Background()
	u := createUser(t, repo, "devices@example.com")

	devices, err := repo.ListTrustedDevices(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, devices)

	now := time.Now().UTC().Truncate(time.Millisecond)
	for _, agent := range []string{"firefox", "curl"} {
		require.NoError(t, repo.CreateTrustedDevice(ctx, credcore.TrustedDevice{
			ID:        uuid.NewString(),
			UserID:    u.ID,
			UserAgent: agent,
			TokenHash: "hash-" + agent,
			ExpiresAt: now.Add(time.Hour),
			CreatedAt: now,
		}))
	}

	devices, err = repo.ListTrustedDevices(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	agents := []string{devices[0].UserAgent, devices[1].UserAgent}
	assert.ElementsMatch(t, []string{"firefox", "curl"}, agents)

	other, err := repo.ListTrustedDevices(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testSweeper(t *testing.T, repo credcore.Repository) {
	sweeper, ok := repo.(credcore.Sweeper)
	if !ok {
		t.Skip("repository does not implement credcore.Sweeper")
	}
	ctx := context.Background()
	u := createUser(t, repo, "sweep@example.com")
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, repo.CreateTrustedDevice(ctx, credcore.TrustedDevice{
		ID: uuid.NewString(), UserID: u.ID, UserAgent: "old", TokenHash: "a",
		ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, repo.CreateTrustedDevice(ctx, credcore.TrustedDevice{
		ID: uuid.NewString(), UserID: u.ID, UserAgent: "new", TokenHash: "b",
		ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))

	purged, err := sweeper.PurgeExpiredTrustedDevices(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	devices, err := repo.ListTrustedDevices(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "new", devices[0].UserAgent)

	activity, ok := repo.(credcore.ActivityLog)
	if !ok {
		return
	}
	for _, at := range []time.Time{now.Add(-48 * time.Hour), now} {
		require.NoError(t, activity.RecordActivity(ctx, credcore.ActivityRecord{
			ID: uuid.NewString(), UserID: u.ID, Action: credcore.ActivityLogin,
			IP: "127.0.0.1", UserAgent: "test", CreatedAt: at,
		}))
	}
	purged, err = sweeper.PurgeActivityBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
}
