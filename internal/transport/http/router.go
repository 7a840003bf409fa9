// Package httptransport assembles the public HTTP surface. Handlers live with
// their domains; this router only stacks the shared middleware and mounts
// them.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	auditHandler "custodia/internal/audit/handler"
	consentHandler "custodia/internal/consent/handler"
	dsrHandler "custodia/internal/dsr/handler"
	"custodia/internal/platform/middleware"
)

// Deps carries everything the router mounts.
type Deps struct {
	Logger       *slog.Logger
	JWTValidator middleware.JWTValidator
	DSR          *dsrHandler.Handler
	Consent      *consentHandler.Handler
	Audit        *auditHandler.Handler
	Health       http.HandlerFunc
}

// NewRouter wires all public endpoints.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", deps.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	deps.DSR.Register(r, deps.JWTValidator)
	deps.Consent.Register(r, deps.JWTValidator)
	deps.Audit.Register(r, deps.JWTValidator)
	return r
}
