// Package server assembles the HTTP surface: middleware chain, route
// groups, and their guards.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"orthoplus/internal/modules/handler"
	"orthoplus/internal/platform/middleware"
	"orthoplus/pkg/platform/httputil"
)

// Deps carries everything the router mounts.
type Deps struct {
	Logger         *slog.Logger
	Session        middleware.SessionValidator
	AdminTokenHash string

	Modules *handler.Handler
	Admin   *handler.AdminHandler
}

// NewRouter builds the full route tree.
//
// Route groups:
//   - /healthz and /metrics are unguarded
//   - /api/* requires a session token and carries client metadata for audit
//   - /admin/* requires the back-office token
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.RequireSession(deps.Session, deps.Logger))
		deps.Modules.Routes(api)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(middleware.RequireAdminToken(deps.AdminTokenHash, deps.Logger))
		deps.Admin.Routes(admin)
	})

	return r
}
