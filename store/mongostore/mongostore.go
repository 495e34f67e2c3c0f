// Package mongostore is a credcore.Repository on MongoDB. Compare-and-swap
// methods are single filtered UpdateOne/DeleteOne calls, which MongoDB
// applies atomically per document.
package mongostore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/credcore/credcore"
)

const (
	usersCollection    = "users"
	codesCollection    = "second_factor_codes"
	devicesCollection  = "trusted_devices"
	activityCollection = "activity"

	bootstrapIndex = "bootstrap_unique"
)

// Store implements credcore.Repository, credcore.ActivityLog and
// credcore.Sweeper.
type Store struct {
	users    *mongo.Collection
	codes    *mongo.Collection
	devices  *mongo.Collection
	activity *mongo.Collection
	now      func() time.Time
}

// New returns a Store over db. Call EnsureIndexes once before serving.
func New(db *mongo.Database) *Store {
	return &Store{
		users:    db.Collection(usersCollection),
		codes:    db.Collection(codesCollection),
		devices:  db.Collection(devicesCollection),
		activity: db.Collection(activityCollection),
		now:      time.Now,
	}
}

// EnsureIndexes creates the unique email index, the single-bootstrap index
// and the lookup indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("email_unique")},
		{
			Keys: bson.D{{Key: "bootstrap", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName(bootstrapIndex).
				SetPartialFilterExpression(bson.M{"bootstrap": true}),
		},
	})
	if err != nil {
		return oops.Code("INDEX_CREATE_FAILED").With("collection", usersCollection).Wrap(err)
	}
	if _, err := s.devices.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
	}); err != nil {
		return oops.Code("INDEX_CREATE_FAILED").With("collection", devicesCollection).Wrap(err)
	}
	if _, err := s.activity.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}},
	}); err != nil {
		return oops.Code("INDEX_CREATE_FAILED").With("collection", activityCollection).Wrap(err)
	}
	return nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) findUser(ctx context.Context, filter bson.M, field, value string) (*credcore.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oops.Code("USER_NOT_FOUND").With(field, value).Wrap(credcore.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With(field, value).Wrap(err)
	}
	return doc.user(), nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*credcore.User, error) {
	email = normalize(email)
	return s.findUser(ctx, bson.M{"email": email}, "email", email)
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*credcore.User, error) {
	return s.findUser(ctx, bson.M{"_id": id}, "user_id", id)
}

// CreateUser inserts nu. A bootstrap insert checks for existing users first;
// the partial unique index on bootstrap settles concurrent ones.
func (s *Store) CreateUser(ctx context.Context, nu credcore.NewUser) (*credcore.User, error) {
	email := normalize(nu.Email)
	if nu.Bootstrap {
		n, err := s.users.CountDocuments(ctx, bson.M{}, options.Count().SetLimit(1))
		if err != nil {
			return nil, oops.Code("USER_COUNT_FAILED").Wrap(err)
		}
		if n > 0 {
			return nil, oops.Code("USER_BOOTSTRAP_REJECTED").With("email", email).Wrap(credcore.ErrStoreNotEmpty)
		}
	}

	now := s.now().UTC().Truncate(time.Millisecond)
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
	doc := docFromUser(u)
	doc.Bootstrap = nu.Bootstrap

	_, err := s.users.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		if strings.Contains(err.Error(), bootstrapIndex) {
			return nil, oops.Code("USER_BOOTSTRAP_REJECTED").With("email", email).Wrap(credcore.ErrStoreNotEmpty)
		}
		return nil, oops.Code("USER_EMAIL_TAKEN").With("email", email).Wrap(credcore.ErrEmailTaken)
	}
	if err != nil {
		return nil, oops.Code("USER_CREATE_FAILED").With("email", email).Wrap(err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd credcore.UserUpdate) error {
	set := bson.M{"updated_at": s.now().UTC()}
	if upd.FirstName != nil {
		set["first_name"] = *upd.FirstName
	}
	if upd.LastName != nil {
		set["last_name"] = *upd.LastName
	}
	if upd.PasswordHash != nil {
		set["password_hash"] = *upd.PasswordHash
	}
	if upd.Active != nil {
		set["active"] = *upd.Active
	}
	if upd.Verified != nil {
		set["verified"] = *upd.Verified
	}
	if upd.SecondFactorEnabled != nil {
		set["second_factor_enabled"] = *upd.SecondFactorEnabled
	}
	if upd.RefreshTokenHash != nil {
		set["refresh_token_hash"] = *upd.RefreshTokenHash
	}
	if upd.ResetTokenHash != nil {
		set["reset_token_hash"] = *upd.ResetTokenHash
	}
	if upd.ResetTokenExpiresAt != nil {
		set["reset_token_expires_at"] = upd.ResetTokenExpiresAt.UTC()
	}
	if upd.LastLoginAt != nil {
		set["last_login_at"] = upd.LastLoginAt.UTC()
	}

	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("user_id", id).Wrap(err)
	}
	if res.MatchedCount == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(credcore.ErrNotFound)
	}
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, oops.Code("USER_COUNT_FAILED").Wrap(err)
	}
	return n, nil
}

func (s *Store) SwapRefreshTokenHash(ctx context.Context, userID, expected, next string) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID, "refresh_token_hash": expected},
		bson.M{"$set": bson.M{"refresh_token_hash": next, "updated_at": s.now().UTC()}},
	)
	if err != nil {
		return false, oops.Code("REFRESH_SWAP_FAILED").With("user_id", userID).Wrap(err)
	}
	return res.MatchedCount == 1, nil
}

func (s *Store) ConsumePasswordReset(ctx context.Context, userID, expectedResetHash, newPasswordHash string) (bool, error) {
	if expectedResetHash == "" {
		return false, nil
	}
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID, "reset_token_hash": expectedResetHash},
		bson.M{"$set": bson.M{
			"password_hash":          newPasswordHash,
			"reset_token_hash":       "",
			"reset_token_expires_at": time.Time{},
			"refresh_token_hash":     "",
			"updated_at":             s.now().UTC(),
		}},
	)
	if err != nil {
		return false, oops.Code("RESET_CONSUME_FAILED").With("user_id", userID).Wrap(err)
	}
	return res.MatchedCount == 1, nil
}

func (s *Store) UpsertSecondFactorCode(ctx context.Context, code credcore.SecondFactorCode) error {
	_, err := s.codes.ReplaceOne(ctx, bson.M{"_id": code.UserID}, codeDoc{
		UserID:    code.UserID,
		CodeHash:  code.CodeHash,
		ExpiresAt: code.ExpiresAt.UTC(),
		Attempts:  code.Attempts,
		CreatedAt: code.CreatedAt.UTC(),
	}, options.Replace().SetUpsert(true))
	if err != nil {
		return oops.Code("CODE_UPSERT_FAILED").With("user_id", code.UserID).Wrap(err)
	}
	return nil
}

func (s *Store) GetSecondFactorCode(ctx context.Context, userID string) (*credcore.SecondFactorCode, error) {
	var doc codeDoc
	err := s.codes.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oops.Code("CODE_NOT_FOUND").With("user_id", userID).Wrap(credcore.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CODE_GET_FAILED").With("user_id", userID).Wrap(err)
	}
	return &credcore.SecondFactorCode{
		UserID:    doc.UserID,
		CodeHash:  doc.CodeHash,
		ExpiresAt: doc.ExpiresAt,
		Attempts:  doc.Attempts,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (s *Store) DeleteSecondFactorCode(ctx context.Context, userID string) error {
	if _, err := s.codes.DeleteOne(ctx, bson.M{"_id": userID}); err != nil {
		return oops.Code("CODE_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

func (s *Store) UpdateSecondFactorAttempts(ctx context.Context, userID, codeHash string, from, to int) (bool, error) {
	res, err := s.codes.UpdateOne(ctx,
		bson.M{"_id": userID, "code_hash": codeHash, "attempts": from},
		bson.M{"$set": bson.M{"attempts": to}},
	)
	if err != nil {
		return false, oops.Code("CODE_ATTEMPT_FAILED").With("user_id", userID).Wrap(err)
	}
	return res.MatchedCount == 1, nil
}

func (s *Store) DeleteSecondFactorCodeIf(ctx context.Context, userID, codeHash string, attempts int) (bool, error) {
	res, err := s.codes.DeleteOne(ctx, bson.M{"_id": userID, "code_hash": codeHash, "attempts": attempts})
	if err != nil {
		return false, oops.Code("CODE_CONSUME_FAILED").With("user_id", userID).Wrap(err)
	}
	return res.DeletedCount == 1, nil
}

func (s *Store) CreateTrustedDevice(ctx context.Context, d credcore.TrustedDevice) error {
	_, err := s.devices.InsertOne(ctx, deviceDoc{
		ID:        d.ID,
		UserID:    d.UserID,
		UserAgent: d.UserAgent,
		TokenHash: d.TokenHash,
		ExpiresAt: d.ExpiresAt.UTC(),
		CreatedAt: d.CreatedAt.UTC(),
	})
	if err != nil {
		return oops.Code("DEVICE_CREATE_FAILED").With("user_id", d.UserID).Wrap(err)
	}
	return nil
}

func (s *Store) ListTrustedDevices(ctx context.Context, userID string) ([]credcore.TrustedDevice, error) {
	cur, err := s.devices.Find(ctx, bson.M{"user_id": userID}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, oops.Code("DEVICE_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	var docs []deviceDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, oops.Code("DEVICE_DECODE_FAILED").With("user_id", userID).Wrap(err)
	}
	devices := make([]credcore.TrustedDevice, 0, len(docs))
	for _, d := range docs {
		devices = append(devices, credcore.TrustedDevice{
			ID:        d.ID,
			UserID:    d.UserID,
			UserAgent: d.UserAgent,
			TokenHash: d.TokenHash,
			ExpiresAt: d.ExpiresAt,
			CreatedAt: d.CreatedAt,
		})
	}
	return devices, nil
}

func (s *Store) RecordActivity(ctx context.Context, rec credcore.ActivityRecord) error {
	_, err := s.activity.InsertOne(ctx, activityDoc{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Action:    string(rec.Action),
		IP:        rec.IP,
		UserAgent: rec.UserAgent,
		CreatedAt: rec.CreatedAt.UTC(),
	})
	if err != nil {
		return oops.Code("ACTIVITY_RECORD_FAILED").With("user_id", rec.UserID).Wrap(err)
	}
	return nil
}

func (s *Store) PurgeActivityBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.activity.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": cutoff.UTC()}})
	if err != nil {
		return 0, oops.Code("ACTIVITY_PURGE_FAILED").With("cutoff", cutoff).Wrap(err)
	}
	return res.DeletedCount, nil
}

func (s *Store) PurgeExpiredTrustedDevices(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.devices.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": now.UTC()}})
	if err != nil {
		return 0, oops.Code("DEVICE_PURGE_FAILED").Wrap(err)
	}
	return res.DeletedCount, nil
}

var (
	_ credcore.Repository  = (*Store)(nil)
	_ credcore.ActivityLog = (*Store)(nil)
	_ credcore.Sweeper     = (*Store)(nil)
)
