package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flock/api/internal/store"
)

func serveRequest(t *testing.T, fs *fakeStore, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	server := NewHTTPServer(newTestService(fs), "*")

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-Tenant-ID", "0b6f2c1e-9b1a-4f3e-8f5d-1a2b3c4d5e6f")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["ok"] != true {
		t.Errorf("expected ok=true, got %v", response["ok"])
	}
}

func TestReadyEndpointDatabaseFailure(t *testing.T) {
	fs := &fakeStore{
		pingFn: func(context.Context) error { return errors.New("connection refused") },
	}
	server := NewHTTPServer(newTestService(fs), "*")

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["ok"] != false {
		t.Errorf("expected ok=false, got %v", response["ok"])
	}
}

func TestTenantHeaderRequired(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	req := httptest.NewRequest(http.MethodGet, "/api/bulletins", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["code"] != "MISSING_TENANT" {
		t.Errorf("expected code MISSING_TENANT, got %v", response["code"])
	}
}

func TestCreateBulletinReturns201(t *testing.T) {
	fs := &fakeStore{
		createBulletinIssueFn: func(_ context.Context, tenantID string, issueDate time.Time, template string) (store.BulletinIssue, error) {
			return store.BulletinIssue{
				ID:        "bltn_abc",
				TenantID:  tenantID,
				IssueDate: issueDate,
				Status:    store.StatusDraft,
				Template:  template,
				Layout:    json.RawMessage(`{}`),
			}, nil
		},
	}

	rr := serveRequest(t, fs, http.MethodPost, "/api/bulletins",
		`{"serviceDate":"2026-09-06","template":"standard"}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["id"] != "bltn_abc" {
		t.Errorf("expected id bltn_abc, got %v", response["id"])
	}
	if response["serviceDate"] != "2026-09-06" {
		t.Errorf("expected serviceDate 2026-09-06, got %v", response["serviceDate"])
	}
	if response["status"] != store.StatusDraft {
		t.Errorf("expected status draft, got %v", response["status"])
	}
}

func TestCreateBulletinConflictReturns409(t *testing.T) {
	fs := &fakeStore{
		createBulletinIssueFn: func(context.Context, string, time.Time, string) (store.BulletinIssue, error) {
			return store.BulletinIssue{}, store.ErrConflict
		},
	}

	rr := serveRequest(t, fs, http.MethodPost, "/api/bulletins",
		`{"serviceDate":"2026-09-06","template":"standard"}`)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["code"] != "CONFLICT" {
		t.Errorf("expected code CONFLICT, got %v", response["code"])
	}
}

func TestUpdateLockedBulletinReturns403(t *testing.T) {
	fs := &fakeStore{
		updateBulletinIssueFn: func(context.Context, string, string, store.UpdateIssueFields) error {
			return store.ErrLocked
		},
	}

	rr := serveRequest(t, fs, http.MethodPut, "/api/bulletins/bltn_1", `{"template":"festive"}`)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["code"] != "LOCKED" {
		t.Errorf("expected code LOCKED, got %v", response["code"])
	}
}

func TestChangeStatusRoute(t *testing.T) {
	var gotStatus string
	fs := &fakeStore{
		changeBulletinStatusFn: func(_ context.Context, _, _, status string) error {
			gotStatus = status
			return nil
		},
	}

	rr := serveRequest(t, fs, http.MethodPut, "/api/bulletins/bltn_1/status", `{"status":"approved"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotStatus != store.StatusApproved {
		t.Errorf("expected approved, got %q", gotStatus)
	}
}

func TestChangeStatusRouteRejectsTerminalStates(t *testing.T) {
	rr := serveRequest(t, &fakeStore{}, http.MethodPut, "/api/bulletins/bltn_1/status", `{"status":"locked"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["code"] != "INVALID_STATUS" {
		t.Errorf("expected code INVALID_STATUS, got %v", response["code"])
	}
}

func TestLockBulletinPreconditionReturns412(t *testing.T) {
	fs := &fakeStore{
		lockBulletinIssueFn: func(context.Context, string, string, string) error {
			return store.ErrPrecondition
		},
	}

	rr := serveRequest(t, fs, http.MethodPost, "/api/bulletins/bltn_1/lock", `{"actor":"admin"}`)

	if rr.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected status 412, got %d", rr.Code)
	}
}

func TestEndSessionResponseBody(t *testing.T) {
	endedAt := time.Date(2026, 8, 30, 11, 5, 0, 0, time.UTC)
	fs := &fakeStore{
		endPreachSessionFn: func(context.Context, string, string) (time.Time, bool, error) {
			return endedAt, true, nil
		},
	}

	rr := serveRequest(t, fs, http.MethodPost, "/api/sessions/sess_1/end", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["alreadyEnded"] != true {
		t.Errorf("expected alreadyEnded=true, got %v", response["alreadyEnded"])
	}
}

func TestGroupedStatsBadGroupByReturns400(t *testing.T) {
	rr := serveRequest(t, &fakeStore{}, http.MethodGet, "/api/stats/grouped?groupBy=weekday", "")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["code"] != "INVALID_GROUP_BY" {
		t.Errorf("expected code INVALID_GROUP_BY, got %v", response["code"])
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	rr := serveRequest(t, &fakeStore{}, http.MethodGet, "/api/unknown", "")

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestOptionsRequestShortCircuits(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")

	req := httptest.NewRequest(http.MethodOptions, "/api/bulletins", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
}

func TestCORSAndCacheHeaders(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "https://app.example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "https://app.example.com" {
		t.Errorf("expected configured CORS origin, got %v", origin)
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("expected Cache-Control=no-store, got %v", cache)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestSessionSummaryResponseShape(t *testing.T) {
	planned := 30
	fs := &fakeStore{
		getSessionSummaryFn: func(context.Context, string, string) (store.SessionSummary, error) {
			return store.SessionSummary{
				SessionID: "sess_1",
				Items: []store.SessionItemSummary{
					{ItemID: "item_1", Title: "Sermon", ItemType: "sermon", Sequence: 3, PlannedMin: &planned},
				},
				Totals: store.SummaryTotals{PlannedMinutes: 30, ActualMinutes: 38, DeltaMinutes: 8},
			}, nil
		},
	}

	rr := serveRequest(t, fs, http.MethodGet, "/api/sessions/sess_1/summary", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	totals, ok := response["totals"].(map[string]any)
	if !ok {
		t.Fatalf("expected totals object, got %v", response["totals"])
	}
	if totals["deltaMinutes"] != float64(8) {
		t.Errorf("expected deltaMinutes=8, got %v", totals["deltaMinutes"])
	}
}
