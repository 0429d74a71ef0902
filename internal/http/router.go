package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router plain http.ServeMux; handlers split sub-paths themselves
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterHealthRoute liveness check
func (r *Router) RegisterHealthRoute() {
	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}

// RegisterJournalRoutes page response routes
func (r *Router) RegisterJournalRoutes(h *JournalHandler) {
	r.Handle("/journal/api/v1/pages", h.Pages)
	r.Handle("/journal/api/v1/pages/", h.Page)
	r.Handle("/journal/api/v1/sync", h.Sync)
	r.Handle("/journal/api/v1/export", h.Export)
}

// RegisterAuthRoutes identity, session and demo routes
func (r *Router) RegisterAuthRoutes(h *AuthHandler) {
	r.Handle("/auth/api/v1/whoami", h.WhoAmI)
	r.Handle("/auth/api/v1/session", h.Session)
	r.Handle("/auth/api/v1/migrate", h.Migrate)
	r.Handle("/auth/api/v1/demo", h.Demo)
	r.Handle("/auth/api/v1/demo/", h.Demo)
}
