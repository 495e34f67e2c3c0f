package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/credcore/credcore"
	"github.com/credcore/credcore/middleware"
)

func (a *API) sendCode(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := a.engine.SendCode(r.Context(), claims.UserID, claims.Email); err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, struct {
		Sent bool `json:"sent"`
	}{true})
}

// verifyCode marks the session verified on success. With trustDevice it
// also issues a trusted-device cookie bound to the caller's User-Agent.
func (a *API) verifyCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code        string `json:"code"`
		TrustDevice bool   `json:"trustDevice"`
	}
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}

	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := a.engine.VerifyCode(r.Context(), claims.UserID, body.Code); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.flags.MarkVerified(r.Context(), claims.SessionID); err != nil {
		a.fail(w, r, err)
		return
	}
	if body.TrustDevice {
		token, err := a.engine.CreateTrustedDevice(r.Context(), claims.UserID, r.UserAgent(), 0)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		a.cookies.SetDevice(w, token, 0)
	}
	middleware.WriteJSON(w, http.StatusOK, struct {
		Verified bool `json:"verified"`
	}{true})
}

func (a *API) secondFactorStatus(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	verified, err := a.flags.Verified(r.Context(), claims.SessionID)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	state, err := a.engine.SecondFactorStatus(r.Context(), credcore.GateRequest{
		UserID:          claims.UserID,
		DeviceToken:     a.cookies.Device(r),
		UserAgent:       r.UserAgent(),
		SessionVerified: verified,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, struct {
		State credcore.SecondFactorState `json:"state"`
	}{state})
}

func (a *API) setSecondFactor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}

	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := a.engine.SetSecondFactorEnabled(r.Context(), claims.UserID, body.Enabled); err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, struct {
		Enabled bool `json:"enabled"`
	}{body.Enabled})
}

func (a *API) user(w http.ResponseWriter, r *http.Request) {
	profile, err := a.engine.Profile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, profile)
}
