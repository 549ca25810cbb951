package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	return out
}

// TestHealthStatus_ReportsDegradedWhenOneDependencyDown checks a single
// failed dependency degrades the status to 503 without marking it unhealthy.
func TestHealthStatus_ReportsDegradedWhenOneDependencyDown(t *testing.T) {
	h := NewHealthStatus()
	h.SetStreamConnected(true)
	h.mu.Lock()
	h.RedisConnected = true
	h.SQLiteOK = false
	h.mu.Unlock()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", rec.Code)
	}
	body := decodeHealth(t, rec)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

// TestHealthStatus_ReportsUnhealthyWhenBothStoresDown checks Redis and
// SQLite both failing escalates to "unhealthy".
func TestHealthStatus_ReportsUnhealthyWhenBothStoresDown(t *testing.T) {
	h := NewHealthStatus()
	h.mu.Lock()
	h.RedisConnected = false
	h.SQLiteOK = false
	h.mu.Unlock()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	h.ServeHTTP(rec, req)

	body := decodeHealth(t, rec)
	if body["status"] != "unhealthy" {
		t.Errorf("status = %v, want unhealthy", body["status"])
	}
}

// TestHealthStatus_HealthyWhenEverythingUp checks the all-green path returns
// 200 with status "healthy".
func TestHealthStatus_HealthyWhenEverythingUp(t *testing.T) {
	h := NewHealthStatus()
	h.SetStreamConnected(true)
	h.mu.Lock()
	h.RedisConnected = true
	h.SQLiteOK = true
	h.mu.Unlock()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	body := decodeHealth(t, rec)
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}
