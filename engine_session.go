package credcore

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/credcore/credcore/internal/random"
	"github.com/credcore/credcore/jwt"
)

// Register creates an account and signs its first session. The first account
// ever created becomes a verified admin; every later one is an unverified
// user.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if len(req.Password) < e.config.Hashing.MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	hash, err := e.passwords.Hash(req.Password)
	if err != nil {
		return nil, e.fail(ctx, "password hash", err)
	}

	nu := NewUser{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: hash,
		Role:         RoleUser,
	}

	count, err := e.repo.CountUsers(ctx)
	if err != nil {
		return nil, e.fail(ctx, "count users", err)
	}
	if count == 0 {
		nu.Role, nu.Verified, nu.Bootstrap = RoleAdmin, true, true
	}

	user, err := e.repo.CreateUser(ctx, nu)
	if errors.Is(err, ErrStoreNotEmpty) {
		// Another registration bootstrapped first.
		nu.Role, nu.Verified, nu.Bootstrap = RoleUser, false, false
		user, err = e.repo.CreateUser(ctx, nu)
	}
	if errors.Is(err, ErrEmailTaken) {
		e.metrics.Inc(MetricRegisterDuplicate)
		e.emitAudit(ctx, auditEventRegister, false, "", "", ErrEmailTaken, nil)
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, e.fail(ctx, "create user", err)
	}

	tokens, refreshHash, err := e.issueTokens(user, random.SessionID())
	if err != nil {
		return nil, e.fail(ctx, "issue tokens", err)
	}
	if err := e.repo.UpdateUser(ctx, user.ID, UserUpdate{RefreshTokenHash: &refreshHash}); err != nil {
		return nil, e.fail(ctx, "store refresh hash", err)
	}

	e.metrics.Inc(MetricRegisterSuccess)
	if user.Role == RoleAdmin {
		e.metrics.Inc(MetricBootstrapAdmin)
		e.logger.InfoContext(ctx, "bootstrap admin created", "user_id", user.ID)
	}
	e.emitAudit(ctx, auditEventRegister, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"role": string(user.Role)}
	})

	return &AuthResult{User: user.Profile(), Tokens: tokens}, nil
}

// Login exchanges an email and password for a new session. Unknown email,
// wrong password and inactive account all fail with ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, email, plain string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	user, err := e.repo.FindUserByEmail(ctx, normalized)
	if errors.Is(err, ErrNotFound) {
		_, _ = e.passwords.Verify(plain, e.dummyHash)
		return nil, e.loginFailed(ctx, "", "unknown email")
	}
	if err != nil {
		return nil, e.fail(ctx, "find user", err)
	}

	ok, err := e.passwords.Verify(plain, user.PasswordHash)
	if err != nil {
		return nil, e.fail(ctx, "password verify", err)
	}
	if !ok {
		return nil, e.loginFailed(ctx, user.ID, "wrong password")
	}
	if !user.Active {
		return nil, e.loginFailed(ctx, user.ID, "inactive account")
	}

	sid := random.SessionID()
	tokens, refreshHash, err := e.issueTokens(user, sid)
	if err != nil {
		return nil, e.fail(ctx, "issue tokens", err)
	}

	now := e.now().UTC()
	upd := UserUpdate{RefreshTokenHash: &refreshHash, LastLoginAt: &now}
	if e.config.Hashing.UpgradeOnLogin && e.passwords.NeedsRehash(user.PasswordHash) {
		if rehashed, err := e.passwords.Hash(plain); err == nil {
			upd.PasswordHash = &rehashed
			e.metrics.Inc(MetricPasswordRehashed)
		} else {
			e.logger.WarnContext(ctx, "password rehash skipped", "user_id", user.ID, "error", err)
		}
	}
	if err := e.repo.UpdateUser(ctx, user.ID, upd); err != nil {
		return nil, e.fail(ctx, "store login", err)
	}
	user.LastLoginAt = now

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, sid, nil, nil)
	return &AuthResult{User: user.Profile(), Tokens: tokens}, nil
}

func (e *Engine) loginFailed(ctx context.Context, userID, reason string) error {
	e.logger.InfoContext(ctx, "login rejected", "user_id", userID, "reason", reason)
	e.metrics.Inc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrInvalidCredentials
}

// Refresh rotates a refresh token. The presented token must verify, belong
// to userID (when given) and match the stored hash. A verified token that no
// longer matches is treated as reuse and ends the session. Of several
// concurrent refreshes with the same token, exactly one succeeds.
func (e *Engine) Refresh(ctx context.Context, userID, presented string) (TokenPair, error) {
	if err := e.ready(); err != nil {
		return TokenPair{}, err
	}

	claims, err := e.signer.Verify(jwt.PurposeRefresh, presented)
	if err != nil {
		e.logger.DebugContext(ctx, "refresh token rejected", "error", err)
		return TokenPair{}, e.refreshFailed(ctx, userID, "", false, false)
	}
	if userID == "" {
		userID = claims.Subject
	}
	if userID != claims.Subject {
		return TokenPair{}, e.refreshFailed(ctx, userID, claims.SessionID, false, false)
	}

	user, err := e.repo.FindUserByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return TokenPair{}, e.refreshFailed(ctx, userID, claims.SessionID, false, false)
	}
	if err != nil {
		return TokenPair{}, e.fail(ctx, "find user", err)
	}
	if user.RefreshTokenHash == "" || !user.Active {
		return TokenPair{}, e.refreshFailed(ctx, userID, claims.SessionID, false, false)
	}

	match, err := e.passwords.Verify(presented, user.RefreshTokenHash)
	if err != nil {
		return TokenPair{}, e.fail(ctx, "refresh verify", err)
	}
	if !match {
		// Only clear the hash we compared against; a concurrent rotation that
		// already replaced it is left alone.
		if _, err := e.repo.SwapRefreshTokenHash(ctx, user.ID, user.RefreshTokenHash, ""); err != nil {
			return TokenPair{}, e.fail(ctx, "clear refresh hash", err)
		}
		e.metrics.Inc(MetricRefreshReuseDetected)
		e.logger.WarnContext(ctx, "refresh token reuse detected", "user_id", user.ID, "session_id", claims.SessionID)
		return TokenPair{}, e.refreshFailed(ctx, userID, claims.SessionID, true, false)
	}

	sid := claims.SessionID
	if sid == "" {
		sid = random.SessionID()
	}
	tokens, nextHash, err := e.issueTokens(user, sid)
	if err != nil {
		return TokenPair{}, e.fail(ctx, "issue tokens", err)
	}
	swapped, err := e.repo.SwapRefreshTokenHash(ctx, user.ID, user.RefreshTokenHash, nextHash)
	if err != nil {
		return TokenPair{}, e.fail(ctx, "rotate refresh hash", err)
	}
	if !swapped {
		e.metrics.Inc(MetricRefreshRaceLost)
		return TokenPair{}, e.refreshFailed(ctx, userID, sid, false, true)
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.ID, sid, nil, nil)
	return tokens, nil
}

func (e *Engine) refreshFailed(ctx context.Context, userID, sid string, reuse, race bool) error {
	e.metrics.Inc(MetricRefreshFailure)
	event := auditEventRefreshInvalid
	if reuse {
		event = auditEventRefreshReuseDetected
	}
	e.emitAudit(ctx, event, false, userID, sid, ErrRefreshInvalid, auditRefreshReason(reuse, race))
	return ErrRefreshInvalid
}

// Logout clears the stored refresh hash. Calling it again is harmless.
func (e *Engine) Logout(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	cleared := ""
	err := e.repo.UpdateUser(ctx, userID, UserUpdate{RefreshTokenHash: &cleared})
	if errors.Is(err, ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return e.fail(ctx, "logout", err)
	}

	e.metrics.Inc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, userID, "", nil, nil)
	return nil
}

// Profile returns the client-safe view of a user.
func (e *Engine) Profile(ctx context.Context, userID string) (*UserProfile, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	user, err := e.repo.FindUserByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, e.fail(ctx, "find user", err)
	}
	p := user.Profile()
	return &p, nil
}

// issueTokens signs an access/refresh pair for user under sid and returns
// the refresh token's hash for storage.
func (e *Engine) issueTokens(user *User, sid string) (TokenPair, string, error) {
	id := jwt.Identity{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      string(user.Role),
		FirstName: user.FirstName,
		LastName:  user.LastName,
		SessionID: sid,
	}
	access, accessExp, err := e.signer.Sign(jwt.PurposeAccess, id)
	if err != nil {
		return TokenPair{}, "", err
	}
	refresh, refreshExp, err := e.signer.Sign(jwt.PurposeRefresh, id)
	if err != nil {
		return TokenPair{}, "", err
	}
	hash, err := e.passwords.Hash(refresh)
	if err != nil {
		return TokenPair{}, "", err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, hash, nil
}
