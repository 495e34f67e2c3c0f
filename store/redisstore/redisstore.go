// Package redisstore is a credcore.Repository on Redis. Every
// compare-and-swap runs as WATCH + MULTI on the affected key, and a
// transaction aborted by a concurrent writer is retried from a fresh read.
//
// Layout under the configured prefix:
//
//	{p}:user:{id}       JSON user record
//	{p}:email:{email}   user id
//	{p}:users           set of user ids
//	{p}:otp:{userID}    JSON pending code
//	{p}:devices:{id}    hash of device id -> JSON trusted device
//	{p}:activity        sorted set of JSON activity records, scored by unix ms
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/credcore/credcore"
)

const (
	defaultPrefix = "credcore"
	maxRetries    = 4
	// codeGrace keeps an expired code around long enough to be reported as
	// expired instead of missing.
	codeGrace = time.Hour
)

// Store implements credcore.Repository, credcore.ActivityLog and
// credcore.Sweeper on Redis.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New returns a Store using prefix for every key. An empty prefix uses
// "credcore".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{redis: client, prefix: prefix, now: time.Now}
}

func (s *Store) userKey(id string) string { return s.prefix + ":user:" + id }
func (s *Store) emailKey(email string) string { return s.prefix + ":email:" + email }
func (s *Store) usersKey() string { return s.prefix + ":users" }
func (s *Store) codeKey(userID string) string { return s.prefix + ":otp:" + userID }
func (s *Store) deviceKey(userID string) string { return s.prefix + ":devices:" + userID }
func (s *Store) activityKey() string { return s.prefix + ":activity" }

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// optimistic runs fn until its WATCH transaction commits without conflict.
func (s *Store) optimistic(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	backoff := retry.WithMaxRetries(maxRetries-1, retry.NewExponential(2*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.redis.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// getter is the read side shared by the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) getUser(ctx context.Context, cmd getter, id string) (*userRecord, error) {
	data, err := cmd.Get(ctx, s.userKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(credcore.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("user_id", id).Wrap(err)
	}
	var rec userRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, oops.Code("USER_DECODE_FAILED").With("user_id", id).Wrap(err)
	}
	return &rec, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*credcore.User, error) {
	email = normalize(email)
	id, err := s.redis.Get(ctx, s.emailKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(credcore.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").With("email", email).Wrap(err)
	}
	return s.FindUserByID(ctx, id)
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*credcore.User, error) {
	rec, err := s.getUser(ctx, s.redis, id)
	if err != nil {
		return nil, err
	}
	return rec.user(), nil
}

func (s *Store) CreateUser(ctx context.Context, nu credcore.NewUser) (*credcore.User, error) {
	email := normalize(nu.Email)
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
	data, err := json.Marshal(recordFromUser(u))
	if err != nil {
		return nil, oops.Code("USER_CREATE_FAILED").With("operation", "encode user").Wrap(err)
	}

	err = s.optimistic(ctx, func(tx *redis.Tx) error {
		taken, err := tx.Exists(ctx, s.emailKey(email)).Result()
		if err != nil {
			return err
		}
		if taken > 0 {
			return credcore.ErrEmailTaken
		}
		if nu.Bootstrap {
			n, err := tx.SCard(ctx, s.usersKey()).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return credcore.ErrStoreNotEmpty
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.userKey(u.ID), data, 0)
			pipe.Set(ctx, s.emailKey(email), u.ID, 0)
			pipe.SAdd(ctx, s.usersKey(), u.ID)
			return nil
		})
		return err
	}, s.emailKey(email), s.usersKey())

	switch {
	case errors.Is(err, credcore.ErrEmailTaken), errors.Is(err, credcore.ErrStoreNotEmpty):
		return nil, oops.Code("USER_CREATE_REJECTED").With("email", email).Wrap(err)
	case err != nil:
		return nil, oops.Code("USER_CREATE_FAILED").With("email", email).Wrap(err)
	}
	return u, nil
}

// mutateUser applies fn to the stored user inside a WATCH transaction. fn
// returns false to leave the record untouched.
func (s *Store) mutateUser(ctx context.Context, id string, fn func(u *credcore.User) bool) (bool, error) {
	var changed bool
	key := s.userKey(id)
	err := s.optimistic(ctx, func(tx *redis.Tx) error {
		changed = false
		rec, err := s.getUser(ctx, tx, id)
		if err != nil {
			return err
		}
		u := rec.user()
		if !fn(u) {
			return nil
		}
		u.UpdatedAt = s.now().UTC()
		data, err := json.Marshal(recordFromUser(u))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			changed = true
		}
		return err
	}, key)
	return changed, err
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd credcore.UserUpdate) error {
	_, err := s.mutateUser(ctx, id, func(u *credcore.User) bool {
		upd.Apply(u)
		return true
	})
	if err != nil && !errors.Is(err, credcore.ErrNotFound) {
		return oops.Code("USER_UPDATE_FAILED").With("user_id", id).Wrap(err)
	}
	return err
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	n, err := s.redis.SCard(ctx, s.usersKey()).Result()
	if err != nil {
		return 0, oops.Code("USER_COUNT_FAILED").Wrap(err)
	}
	return n, nil
}

func (s *Store) SwapRefreshTokenHash(ctx context.Context, userID, expected, next string) (bool, error) {
	swapped, err := s.mutateUser(ctx, userID, func(u *credcore.User) bool {
		if u.RefreshTokenHash != expected {
			return false
		}
		u.RefreshTokenHash = next
		return true
	})
	if errors.Is(err, credcore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("REFRESH_SWAP_FAILED").With("user_id", userID).Wrap(err)
	}
	return swapped, nil
}

func (s *Store) ConsumePasswordReset(ctx context.Context, userID, expectedResetHash, newPasswordHash string) (bool, error) {
	if expectedResetHash == "" {
		return false, nil
	}
	consumed, err := s.mutateUser(ctx, userID, func(u *credcore.User) bool {
		if u.ResetTokenHash != expectedResetHash {
			return false
		}
		u.PasswordHash = newPasswordHash
		u.ResetTokenHash = ""
		u.ResetTokenExpiresAt = time.Time{}
		u.RefreshTokenHash = ""
		return true
	})
	if errors.Is(err, credcore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("RESET_CONSUME_FAILED").With("user_id", userID).Wrap(err)
	}
	return consumed, nil
}

func (s *Store) codeTTL(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(s.now()) + codeGrace
	if ttl < codeGrace {
		return codeGrace
	}
	return ttl
}

func (s *Store) UpsertSecondFactorCode(ctx context.Context, code credcore.SecondFactorCode) error {
	data, err := json.Marshal(code)
	if err != nil {
		return oops.Code("CODE_UPSERT_FAILED").With("operation", "encode code").Wrap(err)
	}
	if err := s.redis.Set(ctx, s.codeKey(code.UserID), data, s.codeTTL(code.ExpiresAt)).Err(); err != nil {
		return oops.Code("CODE_UPSERT_FAILED").With("user_id", code.UserID).Wrap(err)
	}
	return nil
}

func (s *Store) getCode(ctx context.Context, cmd getter, userID string) (*credcore.SecondFactorCode, error) {
	data, err := cmd.Get(ctx, s.codeKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, oops.Code("CODE_NOT_FOUND").With("user_id", userID).Wrap(credcore.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CODE_GET_FAILED").With("user_id", userID).Wrap(err)
	}
	var code credcore.SecondFactorCode
	if err := json.Unmarshal(data, &code); err != nil {
		return nil, oops.Code("CODE_DECODE_FAILED").With("user_id", userID).Wrap(err)
	}
	return &code, nil
}

func (s *Store) GetSecondFactorCode(ctx context.Context, userID string) (*credcore.SecondFactorCode, error) {
	return s.getCode(ctx, s.redis, userID)
}

func (s *Store) DeleteSecondFactorCode(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.codeKey(userID)).Err(); err != nil {
		return oops.Code("CODE_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

// mutateCode runs fn against the stored code under WATCH. fn queues its
// writes on pipe and returns false when the precondition fails.
func (s *Store) mutateCode(ctx context.Context, userID string, fn func(code *credcore.SecondFactorCode, pipe redis.Pipeliner) bool) (bool, error) {
	var applied bool
	key := s.codeKey(userID)
	err := s.optimistic(ctx, func(tx *redis.Tx) error {
		applied = false
		code, err := s.getCode(ctx, tx, userID)
		if errors.Is(err, credcore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var ok bool
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			ok = fn(code, pipe)
			return nil
		})
		if err == nil {
			applied = ok
		}
		return err
	}, key)
	return applied, err
}

func (s *Store) UpdateSecondFactorAttempts(ctx context.Context, userID, codeHash string, from, to int) (bool, error) {
	key := s.codeKey(userID)
	updated, err := s.mutateCode(ctx, userID, func(code *credcore.SecondFactorCode, pipe redis.Pipeliner) bool {
		if code.CodeHash != codeHash || code.Attempts != from {
			return false
		}
		code.Attempts = to
		data, err := json.Marshal(code)
		if err != nil {
			return false
		}
		pipe.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true})
		return true
	})
	if err != nil {
		return false, oops.Code("CODE_ATTEMPT_FAILED").With("user_id", userID).Wrap(err)
	}
	return updated, nil
}

func (s *Store) DeleteSecondFactorCodeIf(ctx context.Context, userID, codeHash string, attempts int) (bool, error) {
	key := s.codeKey(userID)
	deleted, err := s.mutateCode(ctx, userID, func(code *credcore.SecondFactorCode, pipe redis.Pipeliner) bool {
		if code.CodeHash != codeHash || code.Attempts != attempts {
			return false
		}
		pipe.Del(ctx, key)
		return true
	})
	if err != nil {
		return false, oops.Code("CODE_CONSUME_FAILED").With("user_id", userID).Wrap(err)
	}
	return deleted, nil
}

func (s *Store) CreateTrustedDevice(ctx context.Context, d credcore.TrustedDevice) error {
	data, err := json.Marshal(d)
	if err != nil {
		return oops.Code("DEVICE_CREATE_FAILED").With("operation", "encode device").Wrap(err)
	}
	if err := s.redis.HSet(ctx, s.deviceKey(d.UserID), d.ID, data).Err(); err != nil {
		return oops.Code("DEVICE_CREATE_FAILED").With("user_id", d.UserID).Wrap(err)
	}
	return nil
}

func (s *Store) ListTrustedDevices(ctx context.Context, userID string) ([]credcore.TrustedDevice, error) {
	values, err := s.redis.HVals(ctx, s.deviceKey(userID)).Result()
	if err != nil {
		return nil, oops.Code("DEVICE_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	devices := make([]credcore.TrustedDevice, 0, len(values))
	for _, v := range values {
		var d credcore.TrustedDevice
		if err := json.Unmarshal([]byte(v), &d); err != nil {
			return nil, oops.Code("DEVICE_DECODE_FAILED").With("user_id", userID).Wrap(err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func (s *Store) RecordActivity(ctx context.Context, rec credcore.ActivityRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return oops.Code("ACTIVITY_RECORD_FAILED").With("operation", "encode activity").Wrap(err)
	}
	err = s.redis.ZAdd(ctx, s.activityKey(), redis.Z{Score: float64(rec.CreatedAt.UnixMilli()), Member: data}).Err()
	if err != nil {
		return oops.Code("ACTIVITY_RECORD_FAILED").With("user_id", rec.UserID).Wrap(err)
	}
	return nil
}

func (s *Store) PurgeActivityBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.redis.ZRemRangeByScore(ctx, s.activityKey(), "-inf", "("+itoa(cutoff.UnixMilli())).Result()
	if err != nil {
		return 0, oops.Code("ACTIVITY_PURGE_FAILED").With("cutoff", cutoff).Wrap(err)
	}
	return n, nil
}

func (s *Store) PurgeExpiredTrustedDevices(ctx context.Context, now time.Time) (int64, error) {
	var purged int64
	iter := s.redis.Scan(ctx, 0, s.deviceKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		entries, err := s.redis.HGetAll(ctx, key).Result()
		if err != nil {
			return purged, oops.Code("DEVICE_PURGE_FAILED").With("key", key).Wrap(err)
		}
		var expired []string
		for id, v := range entries {
			var d credcore.TrustedDevice
			if err := json.Unmarshal([]byte(v), &d); err != nil || now.After(d.ExpiresAt) {
				expired = append(expired, id)
			}
		}
		if len(expired) == 0 {
			continue
		}
		n, err := s.redis.HDel(ctx, key, expired...).Result()
		if err != nil {
			return purged, oops.Code("DEVICE_PURGE_FAILED").With("key", key).Wrap(err)
		}
		purged += n
	}
	if err := iter.Err(); err != nil {
		return purged, oops.Code("DEVICE_PURGE_FAILED").With("operation", "scan").Wrap(err)
	}
	return purged, nil
}

var (
	_ credcore.Repository  = (*Store)(nil)
	_ credcore.ActivityLog = (*Store)(nil)
	_ credcore.Sweeper     = (*Store)(nil)
)
