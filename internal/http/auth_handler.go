package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"timecapsule/internal/domain"
	"timecapsule/internal/service"

	"go.uber.org/zap"
)

const demoPrefix = "/auth/api/v1/demo"

// AuthHandler identity, session and demo profile API
type AuthHandler struct {
	resolver *service.IdentityResolver
	sessions *service.SessionService
	demo     *service.DemoAuthService
	logger   *zap.Logger
}

func NewAuthHandler(resolver *service.IdentityResolver, sessions *service.SessionService, demo *service.DemoAuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{resolver: resolver, sessions: sessions, demo: demo, logger: logger}
}

// WhoAmIResponse current writer and account view
type WhoAmIResponse struct {
	Writer        domain.WriterIdentity `json:"writer"`
	User          *domain.User          `json:"user"`
	Authenticated bool                  `json:"authenticated"`
	DemoMode      bool                  `json:"demo_mode"`
}

// DemoStateResponse demo availability and selection
type DemoStateResponse struct {
	Available bool             `json:"available"`
	Enabled   bool             `json:"enabled"`
	User      *domain.DemoUser `json:"user"`
}

// WhoAmI GET /auth/api/v1/whoami
func (h *AuthHandler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ctx := r.Context()
	user := h.resolver.CurrentUser(ctx)
	writeJSON(w, http.StatusOK, Ok(WhoAmIResponse{
		Writer:        h.resolver.CurrentWriterID(ctx),
		User:          user,
		Authenticated: user != nil,
		DemoMode:      h.demo.IsDemoMode(ctx),
	}))
}

// Session
// POST   /auth/api/v1/session {"access_token": "..."} - sign in, then migrate
// DELETE /auth/api/v1/session - sign out
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			AccessToken string `json:"access_token"`
		}
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil || req.AccessToken == "" {
			writeJSON(w, http.StatusBadRequest, Fail("access_token is required"))
			return
		}
		res, err := h.sessions.SignIn(r.Context(), req.AccessToken)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidToken):
				writeJSON(w, http.StatusUnauthorized, Fail(err.Error()))
			case errors.Is(err, service.ErrAuthNotConfigured):
				writeJSON(w, http.StatusServiceUnavailable, Fail(err.Error()))
			default:
				h.logger.Error("Sign-in failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, Fail("sign-in failed"))
			}
			return
		}
		writeJSON(w, http.StatusOK, Ok(res))
	case http.MethodDelete:
		if err := h.sessions.SignOut(r.Context()); err != nil {
			h.logger.Error("Sign-out failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, Fail("sign-out failed"))
			return
		}
		writeJSON(w, http.StatusOK, Ok[any](nil))
	default:
		methodNotAllowed(w)
	}
}

// Migrate POST /auth/api/v1/migrate - retry anonymous data migration
func (h *AuthHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.resolver.MigrateAnonymousData(r.Context())))
}

// Demo
// GET    /auth/api/v1/demo          - state
// PUT    /auth/api/v1/demo          {"enabled": bool}
// POST   /auth/api/v1/demo/toggle
// GET    /auth/api/v1/demo/users
// POST   /auth/api/v1/demo/session  {"user_id": "..."}
// DELETE /auth/api/v1/demo/session
func (h *AuthHandler) Demo(w http.ResponseWriter, r *http.Request) {
	sub := strings.Trim(strings.TrimPrefix(r.URL.Path, demoPrefix), "/")
	ctx := r.Context()

	if !h.demo.Available() {
		writeJSON(w, http.StatusForbidden, Fail(service.ErrDemoUnavailable.Error()))
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		h.writeDemoState(w, r)
	case sub == "" && r.Method == http.MethodPut:
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil || req.Enabled == nil {
			writeJSON(w, http.StatusBadRequest, Fail("enabled is required"))
			return
		}
		var err error
		if *req.Enabled {
			err = h.demo.EnableDemoMode(ctx)
		} else {
			err = h.demo.DisableDemoMode(ctx)
		}
		if err != nil {
			h.writeDemoError(w, err)
			return
		}
		h.writeDemoState(w, r)
	case sub == "toggle" && r.Method == http.MethodPost:
		if _, err := h.demo.ToggleDemoMode(ctx); err != nil {
			h.writeDemoError(w, err)
			return
		}
		h.writeDemoState(w, r)
	case sub == "users" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, Ok(h.demo.DemoUsers()))
	case sub == "session" && r.Method == http.MethodPost:
		var req struct {
			UserID string `json:"user_id"`
		}
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
			return
		}
		user, err := h.demo.SignInWithDemoUser(ctx, req.UserID)
		if err != nil {
			h.writeDemoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(user))
	case sub == "session" && r.Method == http.MethodDelete:
		if err := h.demo.SignOutDemoUser(ctx); err != nil {
			h.writeDemoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok[any](nil))
	case sub == "" || sub == "toggle" || sub == "users" || sub == "session":
		methodNotAllowed(w)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *AuthHandler) writeDemoState(w http.ResponseWriter, r *http.Request) {
	user, err := h.demo.CurrentDemoUser(r.Context())
	if err != nil {
		h.writeDemoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(DemoStateResponse{
		Available: true,
		Enabled:   h.demo.IsDemoMode(r.Context()),
		User:      user,
	}))
}

func (h *AuthHandler) writeDemoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrDemoUnavailable):
		writeJSON(w, http.StatusForbidden, Fail(err.Error()))
	case errors.Is(err, service.ErrDemoModeDisabled):
		writeJSON(w, http.StatusConflict, Fail(err.Error()))
	default:
		h.logger.Error("Demo request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
	}
}
