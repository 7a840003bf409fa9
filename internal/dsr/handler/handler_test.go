package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"custodia/internal/audit"
	"custodia/internal/consent"
	"custodia/internal/dsr"
	"custodia/internal/erasure"
	"custodia/internal/export"
	"custodia/internal/fieldcrypt"
	"custodia/internal/platform/middleware"
	"custodia/internal/retention"
)

const (
	userToken  = "user-token"
	adminToken = "admin-token"
)

type staticValidator struct{}

func (staticValidator) ValidateToken(token string) (*middleware.JWTClaims, error) {
	switch token {
	case userToken:
		return &middleware.JWTClaims{UserID: "u1", Tenant: "acme", Email: "alice@example.com"}, nil
	case "other-token":
		return &middleware.JWTClaims{UserID: "u2", Tenant: "acme", Email: "bob@example.com"}, nil
	case adminToken:
		return &middleware.JWTClaims{UserID: "admin", Tenant: "acme", Email: "admin@example.com", Admin: true}, nil
	}
	return nil, errors.New("unknown token")
}

type profileSource struct{}

func (profileSource) Name() string { return "profile" }

func (profileSource) Collect(_ context.Context, subjectID, _ string) (any, error) {
	return map[string]any{"id": subjectID}, nil
}

func newDSRRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	codec, err := fieldcrypt.New("handler-test-key")
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	auditStore := audit.NewMemoryStore()
	auditor := audit.NewService(auditStore, codec, retention.Default(), logger)

	consentStore := consent.NewMemoryStore()
	consents := consent.NewService(consentStore, consent.NewMemoryTx(consentStore), auditor)

	collector, err := export.NewCollector(profileSource{})
	if err != nil {
		t.Fatalf("failed to create collector: %v", err)
	}

	subjects := erasure.NewMemorySubjectStore()
	subjects.Put(&erasure.Subject{ID: "u1", Tenant: "acme", Email: "alice@example.com", Active: true})
	eraser := erasure.NewEngine(subjects, erasure.NewMemoryHoldStore(), auditStore)

	store := dsr.NewMemoryStore()
	svc := dsr.NewService(store, dsr.NewMemoryTx(store), collector, eraser, consents, auditor, logger)

	h := New(svc, logger)
	r := chi.NewRouter()
	h.Register(r, staticValidator{})
	return r
}

func submit(t *testing.T, router http.Handler, token string, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/v1/dsr/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitRequiresAuth(t *testing.T) {
	router := newDSRRouter(t)
	rec := submit(t, router, "bogus", map[string]any{"type": "erasure", "description": "delete me"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestSubmitAndGetOwnRequest(t *testing.T) {
	router := newDSRRouter(t)

	rec := submit(t, router, userToken, map[string]any{
		"type":        "erasure",
		"description": "please delete my account",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 submitting, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		RequestID string `json:"request_id"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode submit response: %v", err)
	}
	if created.Status != "pending" || created.RequestID == "" {
		t.Fatalf("expected a pending request id, got %+v", created)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/v1/dsr/"+created.RequestID, nil)
	getReq.Header.Set("Authorization", "Bearer "+userToken)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching own request, got %d", getRec.Code)
	}

	// Another user must not see it.
	otherReq := httptest.NewRequest(http.MethodGet, "/v1/dsr/"+created.RequestID, nil)
	otherReq.Header.Set("Authorization", "Bearer other-token")
	otherRec := httptest.NewRecorder()
	router.ServeHTTP(otherRec, otherReq)
	if otherRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's request, got %d", otherRec.Code)
	}

	// Admins see everything.
	adminReq := httptest.NewRequest(http.MethodGet, "/v1/dsr/"+created.RequestID, nil)
	adminReq.Header.Set("Authorization", "Bearer "+adminToken)
	adminRec := httptest.NewRecorder()
	router.ServeHTTP(adminRec, adminReq)
	if adminRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin fetch, got %d", adminRec.Code)
	}
}

func TestSubmitValidationErrors(t *testing.T) {
	router := newDSRRouter(t)
	rec := submit(t, router, userToken, map[string]any{"type": "teleportation", "description": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", rec.Code)
	}
}

func TestProcessEndpointsAreAdminOnly(t *testing.T) {
	router := newDSRRouter(t)

	rec := submit(t, router, userToken, map[string]any{"type": "erasure", "description": "delete me"})
	var created struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode submit response: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/dsr/"+created.RequestID+"/process-erasure", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	forbidden := httptest.NewRecorder()
	router.ServeHTTP(forbidden, req)
	if forbidden.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin process, got %d", forbidden.Code)
	}

	adminReq := httptest.NewRequest(http.MethodPost, "/v1/dsr/"+created.RequestID+"/process-erasure", nil)
	adminReq.Header.Set("Authorization", "Bearer "+adminToken)
	adminRec := httptest.NewRecorder()
	router.ServeHTTP(adminRec, adminReq)
	if adminRec.Code != http.StatusOK {
		t.Fatalf("expected 200 processing erasure, got %d: %s", adminRec.Code, adminRec.Body.String())
	}

	var processed struct {
		Status       string         `json:"status"`
		ResponseData map[string]any `json:"response_data"`
	}
	if err := json.NewDecoder(adminRec.Body).Decode(&processed); err != nil {
		t.Fatalf("failed to decode process response: %v", err)
	}
	if processed.Status != "completed" {
		t.Fatalf("expected completed erasure, got %+v", processed)
	}
}

func TestStatsEndpoint(t *testing.T) {
	router := newDSRRouter(t)

	submit(t, router, userToken, map[string]any{"type": "erasure", "description": "delete me"})

	req := httptest.NewRequest(http.MethodGet, "/v1/dsr/stats", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching stats, got %d", rec.Code)
	}

	var stats struct {
		ByStatus map[string]int `json:"by_status"`
		ByType   map[string]int `json:"by_type"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats response: %v", err)
	}
	if stats.ByType["erasure"] != 1 {
		t.Fatalf("expected one erasure request in stats, got %+v", stats)
	}
}
