package pgstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credcore/credcore"
)

var userColumnNames = []string{
	"id", "email", "first_name", "last_name", "password_hash", "role", "active", "verified",
	"second_factor_enabled", "refresh_token_hash", "reset_token_hash", "reset_token_expires_at",
	"last_login_at", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	s := New(mock)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestFindUserByEmail(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM users WHERE email = \$1`).
		WithArgs("ada@example.com").
		WillReturnRows(pgxmock.NewRows(userColumnNames).AddRow(
			"u1", "ada@example.com", "Ada", "Lovelace", "hash", "admin", true, true,
			false, "refresh", "", nil, nil, created, created,
		))

	u, err := s.FindUserByEmail(context.Background(), "  Ada@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, credcore.RoleAdmin, u.Role)
	assert.Equal(t, "refresh", u.RefreshTokenHash)
	assert.True(t, u.ResetTokenExpiresAt.IsZero())
	assert.True(t, u.LastLoginAt.IsZero())
	assert.Equal(t, created, u.CreatedAt)
}

func TestFindUserByIDErrors(t *testing.T) {
	tests := []struct {
		name         string
		dbErr        error
		wantNotFound bool
	}{
		{name: "missing row", dbErr: pgx.ErrNoRows, wantNotFound: true},
		{name: "connection failure", dbErr: errors.New("connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
				WithArgs("u1").
				WillReturnError(tt.dbErr)

			_, err := s.FindUserByID(context.Background(), "u1")
			require.Error(t, err)
			assert.Equal(t, tt.wantNotFound, errors.Is(err, credcore.ErrNotFound))
		})
	}
}

func TestCreateUserConflicts(t *testing.T) {
	tests := []struct {
		name    string
		dbErr   error
		wantErr error
	}{
		{
			name:    "duplicate email",
			dbErr:   &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: constraintEmail},
			wantErr: credcore.ErrEmailTaken,
		},
		{
			name:    "concurrent bootstrap",
			dbErr:   &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: constraintBootstrap},
			wantErr: credcore.ErrStoreNotEmpty,
		},
		{
			name:    "table not empty",
			dbErr:   pgx.ErrNoRows,
			wantErr: credcore.ErrStoreNotEmpty,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectQuery(`INSERT INTO users`).
				WithArgs("u1", "root@example.com", "", "", "hash", "admin", true, true, pgxmock.AnyArg()).
				WillReturnError(tt.dbErr)

			_, err := s.CreateUser(context.Background(), credcore.NewUser{
				ID: "u1", Email: "Root@example.com", PasswordHash: "hash",
				Role: credcore.RoleAdmin, Verified: true, Bootstrap: true,
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUpdateUserBuildsPartialStatement(t *testing.T) {
	s, mock := newMockStore(t)
	verified := true
	cleared := time.Time{}

	mock.ExpectExec(`UPDATE users SET verified = \$2, reset_token_expires_at = \$3, updated_at = \$4 WHERE id = \$1`).
		WithArgs("u1", true, (*time.Time)(nil), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateUser(context.Background(), "u1", credcore.UserUpdate{
		Verified:            &verified,
		ResetTokenExpiresAt: &cleared,
	})
	require.NoError(t, err)
}

func TestUpdateUserMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE users SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	active := false
	err := s.UpdateUser(context.Background(), "ghost", credcore.UserUpdate{Active: &active})
	assert.ErrorIs(t, err, credcore.ErrNotFound)
}

func TestSwapRefreshTokenHash(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE users SET refresh_token_hash = \$3`).
		WithArgs("u1", "old", "new", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE users SET refresh_token_hash = \$3`).
		WithArgs("u1", "old", "newer", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.SwapRefreshTokenHash(context.Background(), "u1", "old", "new")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SwapRefreshTokenHash(context.Background(), "u1", "old", "newer")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumePasswordResetEmptyHashSkipsQuery(t *testing.T) {
	s, _ := newMockStore(t)
	ok, err := s.ConsumePasswordReset(context.Background(), "u1", "", "hash")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSecondFactorCAS(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE second_factor_codes SET attempts = \$4`).
		WithArgs("u1", "h", 2, 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM second_factor_codes`).
		WithArgs("u1", "h", 3).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	ok, err := s.UpdateSecondFactorAttempts(context.Background(), "u1", "h", 2, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeleteSecondFactorCodeIf(context.Background(), "u1", "h", 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListTrustedDevices(t *testing.T) {
	s, mock := newMockStore(t)
	exp := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, user_id, user_agent, token_hash, expires_at, created_at`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "user_agent", "token_hash", "expires_at", "created_at"}).
			AddRow("d1", "u1", "firefox", "h1", exp, exp.Add(-time.Hour)).
			AddRow("d2", "u1", "curl", "h2", exp, exp.Add(-time.Minute)))

	devices, err := s.ListTrustedDevices(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "firefox", devices[0].UserAgent)
	assert.Equal(t, exp, devices[1].ExpiresAt)
}

func TestPurge(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM activity WHERE created_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))
	mock.ExpectExec(`DELETE FROM trusted_devices WHERE expires_at < \$1`).
		WithArgs(cutoff).
		WillReturnError(errors.New("disk full"))

	n, err := s.PurgeActivityBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)

	_, err = s.PurgeExpiredTrustedDevices(context.Background(), cutoff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
