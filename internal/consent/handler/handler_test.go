package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"custodia/internal/audit"
	"custodia/internal/consent"
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
	case adminToken:
		return &middleware.JWTClaims{UserID: "admin", Tenant: "acme", Email: "admin@example.com", Admin: true}, nil
	}
	return nil, errors.New("unknown token")
}

func newConsentRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	codec, err := fieldcrypt.New("handler-test-key")
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	auditor := audit.NewService(audit.NewMemoryStore(), codec, retention.Default(), logger)
	store := consent.NewMemoryStore()
	svc := consent.NewService(store, consent.NewMemoryTx(store), auditor)

	h := New(svc, logger)
	r := chi.NewRouter()
	h.Register(r, staticValidator{})
	return r
}

func TestAuthRequired(t *testing.T) {
	router := newConsentRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/consents/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestRecordWithdrawStatusFlow(t *testing.T) {
	router := newConsentRouter(t)

	payload := map[string]string{
		"consent_type": "marketing",
		"purpose":      "newsletters",
		"version":      "2.1",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/v1/consents/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+userToken)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:131.0) Gecko/20100101 Firefox/131.0")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 recording consent, got %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		ConsentID string `json:"consent_id"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode record response: %v", err)
	}
	if created.ConsentID == "" || created.Status != "given" {
		t.Fatalf("expected a given consent id, got %+v", created)
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/v1/consents/", nil)
	statusReq.Header.Set("Authorization", "Bearer "+userToken)
	statusRec := httptest.NewRecorder()
	router.ServeHTTP(statusRec, statusReq)
	if statusRec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching status, got %d", statusRec.Code)
	}
	var status struct {
		Consents []struct {
			ConsentType string `json:"consent_type"`
			Version     string `json:"version"`
		} `json:"consents"`
	}
	if err := json.NewDecoder(statusRec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode status response: %v", err)
	}
	if len(status.Consents) != 1 || status.Consents[0].ConsentType != "marketing" {
		t.Fatalf("expected one marketing consent, got %+v", status.Consents)
	}

	withdrawReq := httptest.NewRequest(http.MethodDelete, "/v1/consents/?type=marketing&reason=privacy", nil)
	withdrawReq.Header.Set("Authorization", "Bearer "+userToken)
	withdrawRec := httptest.NewRecorder()
	router.ServeHTTP(withdrawRec, withdrawReq)
	if withdrawRec.Code != http.StatusOK {
		t.Fatalf("expected 200 withdrawing, got %d", withdrawRec.Code)
	}
	var withdrawn struct {
		Withdrawn int64 `json:"withdrawn"`
	}
	if err := json.NewDecoder(withdrawRec.Body).Decode(&withdrawn); err != nil {
		t.Fatalf("failed to decode withdraw response: %v", err)
	}
	if withdrawn.Withdrawn != 1 {
		t.Fatalf("expected 1 withdrawn consent, got %d", withdrawn.Withdrawn)
	}

	afterRec := httptest.NewRecorder()
	afterReq := httptest.NewRequest(http.MethodGet, "/v1/consents/", nil)
	afterReq.Header.Set("Authorization", "Bearer "+userToken)
	router.ServeHTTP(afterRec, afterReq)
	var after struct {
		Consents []any `json:"consents"`
	}
	if err := json.NewDecoder(afterRec.Body).Decode(&after); err != nil {
		t.Fatalf("failed to decode status response: %v", err)
	}
	if len(after.Consents) != 0 {
		t.Fatalf("expected no active consents after withdrawal, got %d", len(after.Consents))
	}
}

func TestRecordRejectsMissingType(t *testing.T) {
	router := newConsentRouter(t)

	body, _ := json.Marshal(map[string]string{"purpose": "newsletters"})
	req := httptest.NewRequest(http.MethodPost, "/v1/consents/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+userToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing consent type, got %d", rec.Code)
	}
}

func TestNormalizeUserAgent(t *testing.T) {
	raw := "Mozilla/5.0 (X11; Linux x86_64; rv:131.0) Gecko/20100101 Firefox/131.0"
	got := normalizeUserAgent(raw)
	if got != "Firefox/131.0 (GNU/Linux)" && got != "Firefox/131.0 (Linux)" {
		t.Fatalf("unexpected normalized user agent: %q", got)
	}
	if normalizeUserAgent("") != "" {
		t.Fatalf("empty user agent should stay empty")
	}
}
