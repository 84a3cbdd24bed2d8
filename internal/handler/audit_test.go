package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditledger/internal/handler"
	"github.com/jmerrifield20/auditledger/internal/identity"
	"github.com/jmerrifield20/auditledger/internal/ledger"
)

type testEnv struct {
	router   *gin.Engine
	store    *ledger.MemoryStore
	producer string
	auditor  string
}

func setupAuditRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	store := ledger.NewMemoryStore()
	query, err := ledger.NewQuery(store, 8, logger)
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := identity.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), "test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	h := handler.NewAuditHandler(
		ledger.NewService(store, logger),
		ledger.NewVerifier(store, 0, logger),
		query,
		tokens,
		logger,
	)

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(handler.RequestID())
	h.Register(r.Group("/api/v1"))

	producer, err := tokens.Issue("billing-service", []string{identity.RoleProducer})
	if err != nil {
		t.Fatal(err)
	}
	auditor, err := tokens.Issue("compliance", []string{identity.RoleAuditor})
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{router: r, store: store, producer: producer, auditor: auditor}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func validBody() map[string]any {
	return map[string]any{
		"action": "payment.refund",
		"actor":  map[string]any{"id": "u1", "email": "ops@example.com", "role": "support", "ip": "10.1.2.3"},
		"target": map[string]any{"type": "order", "id": "order-42"},
		"changes": map[string]any{
			"before": map[string]any{"status": "paid"},
			"after":  map[string]any{"status": "refunded"},
		},
		"request_id": "req-abc",
	}
}

func TestAppend_201(t *testing.T) {
	env := setupAuditRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/audit/entries", env.producer, validBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var entry ledger.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry.SequenceNumber != 1 {
		t.Errorf("sequence_number: got %d, want 1", entry.SequenceNumber)
	}
	if entry.PreviousHash != ledger.GenesisHash {
		t.Errorf("previous_hash: got %q, want genesis", entry.PreviousHash)
	}
	if entry.Severity != ledger.SeverityWarning {
		t.Errorf("severity: got %q, want default warning", entry.Severity)
	}
	if loc := w.Header().Get("Location"); loc != "/api/v1/audit/entries/1" {
		t.Errorf("Location: got %q", loc)
	}
}

func TestAppend_defaultsRequestIDFromHeader(t *testing.T) {
	env := setupAuditRouter(t)
	body := validBody()
	delete(body, "request_id")

	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(body) //nolint:errcheck
	req := httptest.NewRequest(http.MethodPost, "/api/v1/audit/entries", &buf)
	req.Header.Set("Authorization", "Bearer "+env.producer)
	req.Header.Set(handler.RequestIDHeader, "trace-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var entry ledger.Entry
	json.Unmarshal(w.Body.Bytes(), &entry) //nolint:errcheck
	if entry.RequestID != "trace-123" {
		t.Errorf("request_id: got %q, want trace-123", entry.RequestID)
	}
}

func TestAppend_400_missingRequestID(t *testing.T) {
	env := setupAuditRouter(t)
	body := validBody()
	delete(body, "request_id")

	w := env.do(t, http.MethodPost, "/api/v1/audit/entries", env.producer, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
	if resp["field"] != "request_id" {
		t.Errorf("field: got %v, want request_id", resp["field"])
	}
	// The generated correlation ID is still echoed for the failed request.
	if w.Header().Get(handler.RequestIDHeader) == "" {
		t.Error("expected a generated X-Request-ID on the response")
	}

	tail, _ := env.store.Tail(context.Background())
	if tail.Sequence != 0 {
		t.Errorf("rejected append consumed sequence %d", tail.Sequence)
	}
}

func TestAppend_400_validation(t *testing.T) {
	env := setupAuditRouter(t)
	body := validBody()
	body["action"] = "not.a.real.action"

	w := env.do(t, http.MethodPost, "/api/v1/audit/entries", env.producer, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
	if resp["field"] != "action" {
		t.Errorf("field: got %v, want action", resp["field"])
	}

	tail, _ := env.store.Tail(context.Background())
	if tail.Sequence != 0 {
		t.Errorf("rejected append consumed sequence %d", tail.Sequence)
	}
}

func TestAppend_400_malformedBody(t *testing.T) {
	env := setupAuditRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/audit/entries", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+env.producer)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAppend_roles(t *testing.T) {
	env := setupAuditRouter(t)

	if w := env.do(t, http.MethodPost, "/api/v1/audit/entries", "", validBody()); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/audit/entries", env.auditor, validBody()); w.Code != http.StatusForbidden {
		t.Errorf("auditor token: expected 403, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/audit", env.producer, nil); w.Code != http.StatusForbidden {
		t.Errorf("producer reading: expected 403, got %d", w.Code)
	}
}

func TestMutatingMethods_405(t *testing.T) {
	env := setupAuditRouter(t)
	env.do(t, http.MethodPost, "/api/v1/audit/entries", env.producer, validBody())

	for _, method := range []string{http.MethodPut, http.MethodPatch, http.MethodDelete} {
		w := env.do(t, method, "/api/v1/audit/entries/1", env.producer, validBody())
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", method, w.Code)
		}
	}
}

func TestHeadAndGetEntry(t *testing.T) {
	env := setupAuditRouter(t)
	created := env.do(t, http.MethodPost, "/api/v1/audit/entries", env.producer, validBody())
	var entry ledger.Entry
	json.Unmarshal(created.Body.Bytes(), &entry) //nolint:errcheck

	w := env.do(t, http.MethodGet, "/api/v1/audit", env.auditor, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("head: expected 200, got %d", w.Code)
	}
	var tail ledger.Tail
	json.Unmarshal(w.Body.Bytes(), &tail) //nolint:errcheck
	if tail.Sequence != 1 || tail.Hash != entry.CurrentHash {
		t.Errorf("head: got %+v, want {1 %s}", tail, entry.CurrentHash)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/audit/entries/1", env.auditor, nil); w.Code != http.StatusOK {
		t.Errorf("get 1: expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/audit/entries/999", env.auditor, nil); w.Code != http.StatusNotFound {
		t.Errorf("get 999: expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/audit/entries/zero", env.auditor, nil); w.Code != http.StatusBadRequest {
		t.Errorf("get zero: expected 400, got %d", w.Code)
	}
}

func TestVerify_200(t *testing.T) {
	env := setupAuditRouter(t)
	for i := 0; i < 3; i++ {
		env.do(t, http.MethodPost, "/api/v1/audit/entries", env.producer, validBody())
	}

	w := env.do(t, http.MethodGet, "/api/v1/audit/verify", env.auditor, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var report ledger.Report
	json.Unmarshal(w.Body.Bytes(), &report) //nolint:errcheck
	if !report.Valid || report.TotalChecked != 3 {
		t.Errorf("expected valid report over 3 entries, got %+v", report)
	}

	w = env.do(t, http.MethodGet, "/api/v1/audit/verify?from=2&to=3", env.auditor, nil)
	json.Unmarshal(w.Body.Bytes(), &report) //nolint:errcheck
	if report.TotalChecked != 2 {
		t.Errorf("sub-range: expected 2 checked, got %d", report.TotalChecked)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/audit/verify?from=3&to=1", env.auditor, nil); w.Code != http.StatusBadRequest {
		t.Errorf("inverted range: expected 400, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/audit/verify?from=x", env.auditor, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad from: expected 400, got %d", w.Code)
	}
}

func TestByActorAndTarget(t *testing.T) {
	env := setupAuditRouter(t)
	env.do(t, http.MethodPost, "/api/v1/audit/entries", env.producer, validBody())
	other := validBody()
	other["action"] = "user.suspend"
	other["target"] = map[string]any{"id": "u9"}
	env.do(t, http.MethodPost, "/api/v1/audit/entries", env.producer, other)

	var resp struct {
		Entries []ledger.Entry `json:"entries"`
		Count   int            `json:"count"`
	}

	w := env.do(t, http.MethodGet, "/api/v1/audit/actors/u1/entries", env.auditor, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("by actor: expected 200, got %d", w.Code)
	}
	json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
	if resp.Count != 2 || resp.Entries[0].SequenceNumber != 2 {
		t.Errorf("by actor: expected 2 entries newest first, got %+v", resp)
	}

	w = env.do(t, http.MethodGet, "/api/v1/audit/actors/u1/entries?action=user.suspend", env.auditor, nil)
	json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
	if resp.Count != 1 {
		t.Errorf("action filter: expected 1 entry, got %d", resp.Count)
	}

	w = env.do(t, http.MethodGet, "/api/v1/audit/targets/order-42/entries", env.auditor, nil)
	json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
	if resp.Count != 1 || resp.Entries[0].SequenceNumber != 1 {
		t.Errorf("by target: got %+v", resp)
	}

	bad := []string{
		"/api/v1/audit/actors/u1/entries?limit=-1",
		"/api/v1/audit/actors/u1/entries?from=yesterday",
		"/api/v1/audit/actors/u1/entries?severity=loud",
	}
	for _, path := range bad {
		if w := env.do(t, http.MethodGet, path, env.auditor, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}
