// Package pgstore is a credcore.Repository on PostgreSQL. Compare-and-swap
// methods are single conditional UPDATE or DELETE statements, so the row
// lock taken by the statement is the only synchronisation needed.
package pgstore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/credcore/credcore"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	constraintEmail     = "users_email_key"
	constraintBootstrap = "users_bootstrap_key"
)

const userColumns = `id, email, first_name, last_name, password_hash, role, active, verified,
	second_factor_enabled, refresh_token_hash, reset_token_hash, reset_token_expires_at,
	last_login_at, created_at, updated_at`

// Store implements credcore.Repository, credcore.ActivityLog and
// credcore.Sweeper.
type Store struct {
	db  DB
	now func() time.Time
}

// New returns a Store over db. The schema must be migrated first, see
// Migrator.
func New(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func scanUser(row pgx.Row) (*credcore.User, error) {
	var (
		u                  credcore.User
		role               string
		resetExp, lastSeen *time.Time
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &role,
		&u.Active, &u.Verified, &u.SecondFactorEnabled, &u.RefreshTokenHash,
		&u.ResetTokenHash, &resetExp, &lastSeen, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = credcore.Role(role)
	if resetExp != nil {
		u.ResetTokenExpiresAt = *resetExp
	}
	if lastSeen != nil {
		u.LastLoginAt = *lastSeen
	}
	return &u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*credcore.User, error) {
	email = normalize(email)
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(credcore.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			With("email", email).
			Wrap(err)
	}
	return u, nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*credcore.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(credcore.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("user_id", id).
			Wrap(err)
	}
	return u, nil
}

// CreateUser inserts nu. A bootstrap insert only happens when the table is
// empty; the partial unique index on bootstrap settles concurrent ones.
func (s *Store) CreateUser(ctx context.Context, nu credcore.NewUser) (*credcore.User, error) {
	email := normalize(nu.Email)
	now := s.now().UTC()
	u, err := scanUser(s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, first_name, last_name, password_hash, role, verified, bootstrap, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $9
		WHERE NOT $8 OR NOT EXISTS (SELECT 1 FROM users)
		RETURNING `+userColumns,
		nu.ID, email, nu.FirstName, nu.LastName, nu.PasswordHash, string(nu.Role), nu.Verified, nu.Bootstrap, now,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_BOOTSTRAP_REJECTED").With("email", email).Wrap(credcore.ErrStoreNotEmpty)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case constraintBootstrap:
			return nil, oops.Code("USER_BOOTSTRAP_REJECTED").With("email", email).Wrap(credcore.ErrStoreNotEmpty)
		default:
			return nil, oops.Code("USER_EMAIL_TAKEN").With("email", email).Wrap(credcore.ErrEmailTaken)
		}
	}
	if err != nil {
		return nil, oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("email", email).
			Wrap(err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd credcore.UserUpdate) error {
	var (
		sets []string
		args = []any{id}
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}
	if upd.FirstName != nil {
		set("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		set("last_name", *upd.LastName)
	}
	if upd.PasswordHash != nil {
		set("password_hash", *upd.PasswordHash)
	}
	if upd.Active != nil {
		set("active", *upd.Active)
	}
	if upd.Verified != nil {
		set("verified", *upd.Verified)
	}
	if upd.SecondFactorEnabled != nil {
		set("second_factor_enabled", *upd.SecondFactorEnabled)
	}
	if upd.RefreshTokenHash != nil {
		set("refresh_token_hash", *upd.RefreshTokenHash)
	}
	if upd.ResetTokenHash != nil {
		set("reset_token_hash", *upd.ResetTokenHash)
	}
	if upd.ResetTokenExpiresAt != nil {
		set("reset_token_expires_at", nullTime(*upd.ResetTokenExpiresAt))
	}
	if upd.LastLoginAt != nil {
		set("last_login_at", nullTime(*upd.LastLoginAt))
	}
	set("updated_at", s.now().UTC())

	tag, err := s.db.Exec(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("user_id", id).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(credcore.ErrNotFound)
	}
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, oops.Code("USER_COUNT_FAILED").Wrap(err)
	}
	return n, nil
}

func (s *Store) SwapRefreshTokenHash(ctx context.Context, userID, expected, next string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET refresh_token_hash = $3, updated_at = $4
		WHERE id = $1 AND refresh_token_hash = $2
	`, userID, expected, next, s.now().UTC())
	if err != nil {
		return false, oops.Code("REFRESH_SWAP_FAILED").With("user_id", userID).Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ConsumePasswordReset(ctx context.Context, userID, expectedResetHash, newPasswordHash string) (bool, error) {
	if expectedResetHash == "" {
		return false, nil
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE users
		SET password_hash = $3, reset_token_hash = '', reset_token_expires_at = NULL,
		    refresh_token_hash = '', updated_at = $4
		WHERE id = $1 AND reset_token_hash = $2
	`, userID, expectedResetHash, newPasswordHash, s.now().UTC())
	if err != nil {
		return false, oops.Code("RESET_CONSUME_FAILED").With("user_id", userID).Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpsertSecondFactorCode(ctx context.Context, code credcore.SecondFactorCode) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO second_factor_codes (user_id, code_hash, expires_at, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET code_hash = EXCLUDED.code_hash, expires_at = EXCLUDED.expires_at,
		    attempts = EXCLUDED.attempts, created_at = EXCLUDED.created_at
	`, code.UserID, code.CodeHash, code.ExpiresAt.UTC(), code.Attempts, code.CreatedAt.UTC())
	if err != nil {
		return oops.Code("CODE_UPSERT_FAILED").With("user_id", code.UserID).Wrap(err)
	}
	return nil
}

func (s *Store) GetSecondFactorCode(ctx context.Context, userID string) (*credcore.SecondFactorCode, error) {
	var code credcore.SecondFactorCode
	err := s.db.QueryRow(ctx, `
		SELECT user_id, code_hash, expires_at, attempts, created_at
		FROM second_factor_codes WHERE user_id = $1
	`, userID).Scan(&code.UserID, &code.CodeHash, &code.ExpiresAt, &code.Attempts, &code.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CODE_NOT_FOUND").With("user_id", userID).Wrap(credcore.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CODE_GET_FAILED").With("user_id", userID).Wrap(err)
	}
	return &code, nil
}

func (s *Store) DeleteSecondFactorCode(ctx context.Context, userID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM second_factor_codes WHERE user_id = $1`, userID); err != nil {
		return oops.Code("CODE_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

func (s *Store) UpdateSecondFactorAttempts(ctx context.Context, userID, codeHash string, from, to int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE second_factor_codes SET attempts = $4
		WHERE user_id = $1 AND code_hash = $2 AND attempts = $3
	`, userID, codeHash, from, to)
	if err != nil {
		return false, oops.Code("CODE_ATTEMPT_FAILED").With("user_id", userID).Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DeleteSecondFactorCodeIf(ctx context.Context, userID, codeHash string, attempts int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM second_factor_codes
		WHERE user_id = $1 AND code_hash = $2 AND attempts = $3
	`, userID, codeHash, attempts)
	if err != nil {
		return false, oops.Code("CODE_CONSUME_FAILED").With("user_id", userID).Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CreateTrustedDevice(ctx context.Context, d credcore.TrustedDevice) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trusted_devices (id, user_id, user_agent, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.UserID, d.UserAgent, d.TokenHash, d.ExpiresAt.UTC(), d.CreatedAt.UTC())
	if err != nil {
		return oops.Code("DEVICE_CREATE_FAILED").With("user_id", d.UserID).Wrap(err)
	}
	return nil
}

func (s *Store) ListTrustedDevices(ctx context.Context, userID string) ([]credcore.TrustedDevice, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, user_agent, token_hash, expires_at, created_at
		FROM trusted_devices WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, oops.Code("DEVICE_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	var devices []credcore.TrustedDevice
	for rows.Next() {
		var d credcore.TrustedDevice
		if err := rows.Scan(&d.ID, &d.UserID, &d.UserAgent, &d.TokenHash, &d.ExpiresAt, &d.CreatedAt); err != nil {
			return nil, oops.Code("DEVICE_SCAN_FAILED").With("user_id", userID).Wrap(err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("DEVICE_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	return devices, nil
}

func (s *Store) RecordActivity(ctx context.Context, rec credcore.ActivityRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO activity (id, user_id, action, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.UserID, string(rec.Action), rec.IP, rec.UserAgent, rec.CreatedAt.UTC())
	if err != nil {
		return oops.Code("ACTIVITY_RECORD_FAILED").With("user_id", rec.UserID).Wrap(err)
	}
	return nil
}

func (s *Store) PurgeActivityBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM activity WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, oops.Code("ACTIVITY_PURGE_FAILED").With("cutoff", cutoff).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) PurgeExpiredTrustedDevices(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM trusted_devices WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, oops.Code("DEVICE_PURGE_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

var (
	_ credcore.Repository  = (*Store)(nil)
	_ credcore.ActivityLog = (*Store)(nil)
	_ credcore.Sweeper     = (*Store)(nil)
)
