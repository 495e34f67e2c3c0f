package httpapi

import (
	"net/http"
	"time"

	"github.com/credcore/credcore"
	"github.com/credcore/credcore/middleware"
)

// ErrRefreshCookieMissing is returned by /auth/refresh without a cookie.
var ErrRefreshCookieMissing = &credcore.Error{Kind: credcore.KindUnauthorized, Message: "Refresh token not found in cookie"}

// authResponse carries the access token in the body; the refresh token
// only travels in its cookie.
type authResponse struct {
	User            credcore.UserProfile `json:"user"`
	AccessToken     string               `json:"accessToken"`
	AccessExpiresAt time.Time            `json:"accessExpiresAt"`
}

type tokenResponse struct {
	AccessToken     string    `json:"accessToken"`
	AccessExpiresAt time.Time `json:"accessExpiresAt"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}

	res, err := a.engine.Register(middleware.RequestContext(r), credcore.RegisterRequest{
		Email:     body.Email,
		Password:  body.Password,
		FirstName: body.FirstName,
		LastName:  body.LastName,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.cookies.SetRefresh(w, res.Tokens.RefreshToken)
	middleware.WriteJSON(w, http.StatusCreated, authResponse{
		User:            res.User,
		AccessToken:     res.Tokens.AccessToken,
		AccessExpiresAt: res.Tokens.AccessExpiresAt,
	})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}

	res, err := a.engine.Login(middleware.RequestContext(r), body.Email, body.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.cookies.SetRefresh(w, res.Tokens.RefreshToken)
	middleware.WriteJSON(w, http.StatusOK, authResponse{
		User:            res.User,
		AccessToken:     res.Tokens.AccessToken,
		AccessExpiresAt: res.Tokens.AccessExpiresAt,
	})
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	presented := a.cookies.Refresh(r)
	if presented == "" {
		a.fail(w, r, ErrRefreshCookieMissing)
		return
	}

	pair, err := a.engine.Refresh(middleware.RequestContext(r), body.UserID, presented)
	if err != nil {
		a.cookies.ClearRefresh(w)
		a.fail(w, r, err)
		return
	}
	a.cookies.SetRefresh(w, pair.RefreshToken)
	middleware.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken:     pair.AccessToken,
		AccessExpiresAt: pair.AccessExpiresAt,
	})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := a.engine.Logout(r.Context(), claims.UserID); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.flags.Forget(r.Context(), claims.SessionID); err != nil {
		a.logger.WarnContext(r.Context(), "forget session flag failed", "error", err)
	}
	a.cookies.ClearRefresh(w)
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Success: true})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	profile, err := a.engine.Profile(r.Context(), claims.UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, profile)
}

func (a *API) sendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := a.engine.SendVerificationEmail(r.Context(), claims.UserID); err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Verification email sent"})
}

func (a *API) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}

	res, err := a.engine.VerifyEmail(middleware.RequestContext(r), body.Token)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	msg := "Email verified successfully"
	if res.AlreadyVerified {
		msg = "Email already verified"
	}
	middleware.WriteJSON(w, http.StatusOK, struct {
		Message string `json:"message"`
		Email   string `json:"email"`
	}{msg, res.Email})
}

func (a *API) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}

	if err := a.engine.SendResetPasswordEmail(middleware.RequestContext(r), body.Email); err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "If the account exists, a reset link has been sent",
	})
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}

	if err := a.engine.ResetPassword(middleware.RequestContext(r), body.Token, body.NewPassword); err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Password has been reset"})
}
