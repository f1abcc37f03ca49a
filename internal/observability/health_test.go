package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealth_returnsOK(t *testing.T) {
	origVersion, origCommit := Version, Commit
	Version = "1.2.3"
	Commit = "abc1234"
	t.Cleanup(func() {
		Version = origVersion
		Commit = origCommit
	})

	handler := HandleHealth()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", resp.Version)
	}
	if resp.Commit != "abc1234" {
		t.Errorf("commit = %q, want abc1234", resp.Commit)
	}
}

func TestHandleHealth_defaultValues(t *testing.T) {
	handler := HandleHealth()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Version == "" {
		t.Error("version should have a default value")
	}
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(_ context.Context) error {
	return m.err
}

func serveReady(t *testing.T, checks ReadinessChecks) (*httptest.ResponseRecorder, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleReady(checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return rec, resp
}

func TestHandleReady_allHealthy(t *testing.T) {
	rec, resp := serveReady(t, ReadinessChecks{
		CatalogueLoaded: func() bool { return true },
		ConfigStore:     &mockHealthChecker{},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready", resp.Status)
	}
	if len(resp.Checks) != 2 {
		t.Errorf("checks count = %d, want 2", len(resp.Checks))
	}
	for name, check := range resp.Checks {
		if check.Status != "ok" {
			t.Errorf("%s = %q, want ok", name, check.Status)
		}
		if check.LatencyMs < 0 {
			t.Errorf("%s latency = %d, should be >= 0", name, check.LatencyMs)
		}
	}
}

func TestHandleReady_catalogueNotLoaded(t *testing.T) {
	rec, resp := serveReady(t, ReadinessChecks{
		CatalogueLoaded: func() bool { return false },
	})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if resp.Status != "not_ready" {
		t.Errorf("status = %q, want not_ready", resp.Status)
	}
	if resp.Checks["catalogue"].Status != "error" {
		t.Errorf("catalogue = %q, want error", resp.Checks["catalogue"].Status)
	}
	if resp.Checks["catalogue"].Error == "" {
		t.Error("catalogue error should have a message")
	}
}

func TestHandleReady_configStoreDown(t *testing.T) {
	rec, resp := serveReady(t, ReadinessChecks{
		CatalogueLoaded: func() bool { return true },
		ConfigStore:     &mockHealthChecker{err: errors.New("connection refused")},
	})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if resp.Checks["config_store"].Status != "error" {
		t.Errorf("config_store = %q, want error", resp.Checks["config_store"].Status)
	}
	if resp.Checks["config_store"].Error != "connection refused" {
		t.Errorf("config_store error = %q, want 'connection refused'", resp.Checks["config_store"].Error)
	}
}

func TestHandleReady_nilCheckerFunction(t *testing.T) {
	rec, resp := serveReady(t, ReadinessChecks{})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if resp.Checks["catalogue"].Status != "error" {
		t.Errorf("catalogue = %q, want error", resp.Checks["catalogue"].Status)
	}
}

func TestHandleReady_withoutConfigStore(t *testing.T) {
	_, resp := serveReady(t, ReadinessChecks{
		CatalogueLoaded: func() bool { return true },
	})

	if len(resp.Checks) != 1 {
		t.Errorf("checks count = %d, want 1", len(resp.Checks))
	}
	if _, ok := resp.Checks["config_store"]; ok {
		t.Error("config_store should not be in checks when nil")
	}
}

func TestHandleReady_multipleFailures(t *testing.T) {
	rec, resp := serveReady(t, ReadinessChecks{
		CatalogueLoaded: func() bool { return false },
		ConfigStore:     &mockHealthChecker{err: errors.New("pg down")},
	})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	failCount := 0
	for _, check := range resp.Checks {
		if check.Status == "error" {
			failCount++
		}
	}
	if failCount != 2 {
		t.Errorf("failed checks = %d, want 2", failCount)
	}
}
