// Package handler exposes the data-subject request API.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"custodia/internal/dsr"
	"custodia/internal/platform/middleware"
	"custodia/internal/transport/http/shared"
	domainerrors "custodia/pkg/domain-errors"
)

// Service defines the DSR operations the API exposes.
type Service interface {
	Submit(ctx context.Context, request *dsr.Request) (*dsr.Request, error)
	Get(ctx context.Context, id uuid.UUID) (*dsr.Request, error)
	ProcessAccess(ctx context.Context, id uuid.UUID) (*dsr.Request, error)
	ProcessErasure(ctx context.Context, id uuid.UUID) (*dsr.Request, error)
	Stats(ctx context.Context, tenant string) (*dsr.Stats, error)
}

// Handler handles DSR endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New creates a DSR Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the DSR routes.
func (h *Handler) Register(r chi.Router, validator middleware.JWTValidator) {
	router := chi.NewRouter()
	router.Use(middleware.RequireAuth(validator, h.logger))
	router.Post("/", h.handleSubmit)
	router.Get("/{id}", h.handleGet)
	router.Group(func(admin chi.Router) {
		admin.Use(middleware.RequireAdmin(h.logger))
		admin.Post("/{id}/process-access", h.handleProcessAccess)
		admin.Post("/{id}/process-erasure", h.handleProcessErasure)
		admin.Get("/stats", h.handleStats)
	})
	r.Mount("/v1/dsr", router)
}

type submitRequest struct {
	Type          string   `json:"type"`
	SubjectKind   string   `json:"subject_kind"`
	SubjectID     string   `json:"subject_id"`
	SubjectEmail  string   `json:"subject_email"`
	LegalBasis    string   `json:"legal_basis"`
	Description   string   `json:"description"`
	RequestedData []string `json:"requested_data"`
}

type submitResponse struct {
	RequestID           string    `json:"request_id"`
	Status              string    `json:"status"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return
	}

	submitted, err := h.service.Submit(ctx, &dsr.Request{
		Type:           dsr.Type(body.Type),
		RequesterID:    middleware.GetUserID(ctx),
		RequesterEmail: middleware.GetEmail(ctx),
		SubjectKind:    dsr.SubjectKind(body.SubjectKind),
		SubjectID:      body.SubjectID,
		SubjectEmail:   body.SubjectEmail,
		LegalBasis:     body.LegalBasis,
		Description:    body.Description,
		RequestedData:  body.RequestedData,
		Tenant:         middleware.GetTenant(ctx),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "request submission failed",
			"request_id", middleware.GetRequestID(ctx), "error", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, submitResponse{
		RequestID:           submitted.ID.String(),
		Status:              string(submitted.Status),
		EstimatedCompletion: submitted.EstimatedCompletion,
	})
}

type requestResponse struct {
	ID                  string         `json:"id"`
	Type                string         `json:"type"`
	Status              string         `json:"status"`
	Description         string         `json:"description"`
	Tenant              string         `json:"tenant"`
	SubmittedAt         time.Time      `json:"submitted_at"`
	EstimatedCompletion time.Time      `json:"estimated_completion"`
	ProcessedAt         *time.Time     `json:"processed_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	ResponseData        map[string]any `json:"response_data,omitempty"`
	RejectionReason     string         `json:"rejection_reason,omitempty"`
}

func toResponse(request *dsr.Request) requestResponse {
	return requestResponse{
		ID:                  request.ID.String(),
		Type:                string(request.Type),
		Status:              string(request.Status),
		Description:         request.Description,
		Tenant:              request.Tenant,
		SubmittedAt:         request.SubmittedAt,
		EstimatedCompletion: request.EstimatedCompletion,
		ProcessedAt:         request.ProcessedAt,
		CompletedAt:         request.CompletedAt,
		ResponseData:        request.ResponseData,
		RejectionReason:     request.RejectionReason,
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request id"))
		return
	}

	request, err := h.service.Get(ctx, id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	// Requesters see only their own requests; admins see all.
	if request.RequesterID != middleware.GetUserID(ctx) && !middleware.IsAdmin(ctx) {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeNotFound, "request not found"))
		return
	}
	shared.WriteJSON(w, http.StatusOK, toResponse(request))
}

func (h *Handler) handleProcessAccess(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, h.service.ProcessAccess)
}

func (h *Handler) handleProcessErasure(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, h.service.ProcessErasure)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*dsr.Request, error)) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request id"))
		return
	}

	request, err := fn(ctx, id)
	if err != nil {
		if request == nil {
			h.logger.ErrorContext(ctx, "request processing failed",
				"dsr_id", id, "request_id", middleware.GetRequestID(ctx), "error", err)
			shared.WriteError(w, err)
			return
		}
		// Processing failed but the request was transitioned to rejected;
		// report the terminal state rather than an opaque 500.
		shared.WriteJSON(w, http.StatusOK, toResponse(request))
		return
	}
	shared.WriteJSON(w, http.StatusOK, toResponse(request))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		tenant = middleware.GetTenant(ctx)
	}
	stats, err := h.service.Stats(ctx, tenant)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, stats)
}
