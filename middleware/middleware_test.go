package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ledgerwork-backend/auth"
	"ledgerwork-backend/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	limiter := ratelimit.NewLimiter(2, time.Minute)
	keys := auth.NewAPIKeyStore()
	h := RateLimit(limiter, keys)(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	h.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}
}

func TestRateLimitKeysByWalletWhenAuthenticated(t *testing.T) {
	limiter := ratelimit.NewLimiter(1, time.Minute)
	keys := auth.NewAPIKeyStore()
	rec, err := keys.Issue("tb1qwallet", "test")
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	h := RateLimit(limiter, keys)(okHandler())

	// Same wallet from two different IPs shares one window.
	for i, addr := range []string{"10.0.0.1:5000", "10.0.0.2:5000"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
		req.RemoteAddr = addr
		req.Header.Set("X-API-Key", rec.Key)
		h.ServeHTTP(w, req)
		if i == 0 && w.Code != http.StatusOK {
			t.Fatalf("first request status = %d", w.Code)
		}
		if i == 1 && w.Code != http.StatusTooManyRequests {
			t.Fatalf("second request status = %d, want 429", w.Code)
		}
	}
}

func TestRequireAPIKey(t *testing.T) {
	keys := auth.NewAPIKeyStore()
	rec, err := keys.Issue("tb1qwallet", "test")
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}

	var gotWallet string
	h := RequireAPIKey(keys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWallet = WalletFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/tasks", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing key status = %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+rec.Key)
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid key status = %d", w.Code)
	}
	if gotWallet != "tb1qwallet" {
		t.Fatalf("wallet from context = %q", gotWallet)
	}
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
