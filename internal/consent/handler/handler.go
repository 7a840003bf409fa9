// Package handler exposes the consent ledger API.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mssola/useragent"

	"custodia/internal/consent"
	"custodia/internal/platform/middleware"
	"custodia/internal/transport/http/shared"
	domainerrors "custodia/pkg/domain-errors"
)

// Service defines the consent operations the API exposes.
type Service interface {
	Record(ctx context.Context, record *consent.ConsentRecord) (*consent.ConsentRecord, error)
	Withdraw(ctx context.Context, userID, tenant, consentType, reason string) (int64, error)
	Status(ctx context.Context, userID, tenant, consentType string) ([]*consent.ConsentRecord, error)
}

// Handler handles consent endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New creates a consent Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the consent routes.
func (h *Handler) Register(r chi.Router, validator middleware.JWTValidator) {
	router := chi.NewRouter()
	router.Use(middleware.RequireAuth(validator, h.logger))
	router.Post("/", h.handleRecord)
	router.Delete("/", h.handleWithdraw)
	router.Get("/", h.handleStatus)
	r.Mount("/v1/consents", router)
}

type recordRequest struct {
	ConsentType string     `json:"consent_type"`
	Purpose     string     `json:"purpose"`
	LegalBasis  string     `json:"legal_basis"`
	ConsentText string     `json:"consent_text"`
	Version     string     `json:"version"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body recordRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return
	}

	stored, err := h.service.Record(ctx, &consent.ConsentRecord{
		UserID:      middleware.GetUserID(ctx),
		Tenant:      middleware.GetTenant(ctx),
		ConsentType: body.ConsentType,
		Purpose:     body.Purpose,
		LegalBasis:  consent.LegalBasis(body.LegalBasis),
		ConsentText: body.ConsentText,
		Version:     body.Version,
		ExpiresAt:   body.ExpiresAt,
		IPAddress:   clientIP(r),
		UserAgent:   normalizeUserAgent(r.UserAgent()),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "consent recording failed",
			"request_id", middleware.GetRequestID(ctx), "error", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, map[string]any{
		"consent_id": stored.ID.String(),
		"status":     string(stored.Status),
		"given_at":   stored.GivenAt,
	})
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	consentType := r.URL.Query().Get("type")
	reason := r.URL.Query().Get("reason")

	affected, err := h.service.Withdraw(ctx, middleware.GetUserID(ctx), middleware.GetTenant(ctx), consentType, reason)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"withdrawn": affected})
}

type statusEntry struct {
	ID          string     `json:"id"`
	ConsentType string     `json:"consent_type"`
	Purpose     string     `json:"purpose"`
	LegalBasis  string     `json:"legal_basis"`
	Version     string     `json:"version"`
	GivenAt     time.Time  `json:"given_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	consentType := r.URL.Query().Get("type")

	records, err := h.service.Status(ctx, middleware.GetUserID(ctx), middleware.GetTenant(ctx), consentType)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]statusEntry, 0, len(records))
	for _, record := range records {
		out = append(out, statusEntry{
			ID:          record.ID.String(),
			ConsentType: record.ConsentType,
			Purpose:     record.Purpose,
			LegalBasis:  string(record.LegalBasis),
			Version:     record.Version,
			GivenAt:     record.GivenAt,
			ExpiresAt:   record.ExpiresAt,
		})
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"consents": out})
}

// normalizeUserAgent reduces a raw User-Agent header to "browser/version (os)"
// so the ledger does not accumulate high-cardinality raw strings.
func normalizeUserAgent(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return raw
	}
	if os := ua.OS(); os != "" {
		return fmt.Sprintf("%s/%s (%s)", name, version, os)
	}
	return fmt.Sprintf("%s/%s", name, version)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}
