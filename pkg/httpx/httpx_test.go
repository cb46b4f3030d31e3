package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func corsHandler(t *testing.T, origins string) (http.Handler, *int) {
	t.Helper()
	hits := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	})
	return CORSMiddleware(origins)(next), &hits
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	h, hits := corsHandler(t, "https://ui.example.com")

	req := httptest.NewRequest(http.MethodOptions, "/v1/policies", nil)
	req.Header.Set("Origin", "https://ui.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if *hits != 0 {
		t.Fatal("preflight must not reach the handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ui.example.com" {
		t.Fatalf("allow-origin = %q", got)
	}
	vary := strings.Join(rec.Header().Values("Vary"), ",")
	for _, want := range []string{"Origin", "Access-Control-Request-Method", "Access-Control-Request-Headers"} {
		if !strings.Contains(vary, want) {
			t.Fatalf("Vary missing %s: %s", want, vary)
		}
	}
}

func TestCORSBareOptionsReachesHandler(t *testing.T) {
	h, hits := corsHandler(t, "https://ui.example.com")

	// No Access-Control-Request-Method: this is a plain OPTIONS call,
	// not a browser preflight, and the router must see it.
	req := httptest.NewRequest(http.MethodOptions, "/v1/policies", nil)
	req.Header.Set("Origin", "https://ui.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if *hits != 1 {
		t.Fatal("bare OPTIONS must pass through to the handler")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected handler status, got %d", rec.Code)
	}
}

func TestCORSForbiddenOriginPreflight(t *testing.T) {
	h, hits := corsHandler(t, "https://ui.example.com")

	req := httptest.NewRequest(http.MethodOptions, "/v1/policies", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if *hits != 0 {
		t.Fatal("forbidden preflight must not reach the handler")
	}
}

func TestCORSEchoesRequestedHeaders(t *testing.T) {
	h, _ := corsHandler(t, "https://ui.example.com")

	req := httptest.NewRequest(http.MethodOptions, "/v1/policies", nil)
	req.Header.Set("Origin", "https://ui.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "X-Tenant,Authorization")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "X-Tenant,Authorization" {
		t.Fatalf("allow-headers = %q", got)
	}
}
