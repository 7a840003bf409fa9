// Package handler exposes the security-event API: logging, querying, stats,
// and compliance export. All routes are admin-only except event submission,
// which any authenticated service principal may use.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/audit"
	"custodia/internal/platform/middleware"
	"custodia/internal/transport/http/shared"
	domainerrors "custodia/pkg/domain-errors"
)

// Service defines the audit operations the API exposes.
type Service interface {
	Log(ctx context.Context, event *audit.SecurityEvent)
	Query(ctx context.Context, filter audit.Filter) (*audit.QueryResult, error)
	Export(ctx context.Context, tenant, userID, format string) (string, error)
	Stats(ctx context.Context, tenant string, days int) (*audit.Stats, error)
}

// Handler handles security-event endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New creates an audit Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the security routes.
func (h *Handler) Register(r chi.Router, validator middleware.JWTValidator) {
	router := chi.NewRouter()
	router.Use(middleware.RequireAuth(validator, h.logger))
	router.Post("/events", h.handleLog)
	router.Group(func(admin chi.Router) {
		admin.Use(middleware.RequireAdmin(h.logger))
		admin.Get("/events", h.handleQuery)
		admin.Get("/stats", h.handleStats)
		admin.Get("/export", h.handleExport)
	})
	r.Mount("/v1/security", router)
}

type logRequest struct {
	Source      string         `json:"source"`
	Type        string         `json:"type"`
	Category    string         `json:"category"`
	Severity    string         `json:"severity"`
	Description string         `json:"description"`
	Actor       string         `json:"actor"`
	Target      string         `json:"target"`
	Outcome     string         `json:"outcome"`
	Metadata    map[string]any `json:"metadata"`
}

func (h *Handler) handleLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body logRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return
	}
	if body.Type == "" {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "type is required"))
		return
	}

	actor := body.Actor
	if actor == "" {
		actor = middleware.GetUserID(ctx)
	}
	h.service.Log(ctx, &audit.SecurityEvent{
		Source:      body.Source,
		Type:        body.Type,
		Category:    body.Category,
		Severity:    audit.Severity(body.Severity),
		Description: body.Description,
		Actor:       actor,
		Target:      body.Target,
		Outcome:     audit.Outcome(body.Outcome),
		IPAddress:   r.RemoteAddr,
		UserAgent:   r.UserAgent(),
		Tenant:      middleware.GetTenant(ctx),
		Metadata:    body.Metadata,
	})
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	filter := audit.Filter{
		Type:     query.Get("type"),
		Category: query.Get("category"),
		Severity: audit.Severity(query.Get("severity")),
		Actor:    query.Get("actor"),
		Tenant:   middleware.GetTenant(ctx),
	}
	if v := query.Get("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid from timestamp"))
			return
		}
		filter.DateFrom = from
	}
	if v := query.Get("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid to timestamp"))
			return
		}
		filter.DateTo = to
	}
	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid limit"))
			return
		}
		filter.Limit = limit
	}
	if v := query.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid offset"))
			return
		}
		filter.Offset = offset
	}

	result, err := h.service.Query(ctx, filter)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid days"))
			return
		}
		days = parsed
	}
	stats, err := h.service.Stats(ctx, middleware.GetTenant(ctx), days)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	format := r.URL.Query().Get("format")
	userID := r.URL.Query().Get("user_id")

	payload, err := h.service.Export(ctx, middleware.GetTenant(ctx), userID, format)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="security-events.csv"`)
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(payload))
}
