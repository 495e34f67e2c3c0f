// Package httpapi exposes the engine as a JSON HTTP API on a gorilla/mux
// router.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/credcore/credcore"
	"github.com/credcore/credcore/middleware"
)

const maxBodyBytes = 1 << 20

// ErrMalformedBody rejects a request body that is not the expected JSON.
var ErrMalformedBody = &credcore.Error{Kind: credcore.KindValidation, Message: "invalid request body"}

// Options configure the API. Zero values are usable.
type Options struct {
	// SessionFlags remembers sessions that passed a code. Defaults to an
	// in-memory store sized for one replica.
	SessionFlags middleware.SessionFlags
	// Limiter throttles every route per user or client IP. Nil disables
	// throttling.
	Limiter middleware.Limiter
	Logger  *slog.Logger
}

// API holds the handlers.
type API struct {
	engine  *credcore.Engine
	flags   middleware.SessionFlags
	limiter middleware.Limiter
	cookies middleware.Cookies
	logger  *slog.Logger
}

// New builds the API for engine.
func New(engine *credcore.Engine, opts Options) *API {
	cfg := engine.Config()
	flags := opts.SessionFlags
	if flags == nil {
		flags = middleware.NewMemorySessionFlags(0, cfg.Tokens.RefreshTTL)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		engine:  engine,
		flags:   flags,
		limiter: opts.Limiter,
		cookies: middleware.NewCookies(cfg.Cookies),
		logger:  logger,
	}
}

// Register mounts every route on r.
func (a *API) Register(r *mux.Router) {
	token := middleware.RequireAccessToken(a.engine)
	gated := middleware.Guard(a.engine, a.flags)
	if a.limiter != nil {
		r.Use(middleware.Throttle(a.engine, a.limiter, a.logger))
	}

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", a.register).Methods(http.MethodPost)
	auth.HandleFunc("/login", a.login).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", a.refresh).Methods(http.MethodPost)
	auth.HandleFunc("/verify-email", a.verifyEmail).Methods(http.MethodPost)
	auth.HandleFunc("/forgot-password", a.forgotPassword).Methods(http.MethodPost)
	auth.HandleFunc("/reset-password", a.resetPassword).Methods(http.MethodPost)
	auth.Handle("/logout", token(http.HandlerFunc(a.logout))).Methods(http.MethodPost)
	auth.Handle("/me", token(http.HandlerFunc(a.me))).Methods(http.MethodGet)
	auth.Handle("/send-verification-email", token(http.HandlerFunc(a.sendVerificationEmail))).Methods(http.MethodPost)

	twofa := r.PathPrefix("/2fa").Subrouter()
	twofa.Handle("/send-code", token(http.HandlerFunc(a.sendCode))).Methods(http.MethodPost)
	twofa.Handle("/verify-code", token(http.HandlerFunc(a.verifyCode))).Methods(http.MethodPost)
	twofa.Handle("/status", token(http.HandlerFunc(a.secondFactorStatus))).Methods(http.MethodGet)
	twofa.Handle("/enabled", gated(http.HandlerFunc(a.setSecondFactor))).Methods(http.MethodPut)

	owner := middleware.RequireOwnerOrAdmin(func(r *http.Request) string { return mux.Vars(r)["id"] })
	r.Handle("/users/{id}", gated(owner(http.HandlerFunc(a.user)))).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, &credcore.Error{Kind: credcore.KindNotFound, Message: "route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSON(w, http.StatusMethodNotAllowed, middleware.ErrorBody{
			StatusCode: http.StatusMethodNotAllowed,
			Error:      http.StatusText(http.StatusMethodNotAllowed),
			Message:    "method not allowed",
		})
	})
}

// Handler returns a fresh router carrying every route.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	a.Register(r)
	return r
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	if credcore.KindOf(err) == credcore.KindInternal {
		a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	middleware.WriteError(w, err)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &credcore.Error{Kind: credcore.KindValidation, Message: ErrMalformedBody.Message, Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ErrMalformedBody
	}
	return nil
}
