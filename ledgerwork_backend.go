package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ledgerwork-backend/auth"
	"ledgerwork-backend/container"
	"ledgerwork-backend/middleware"
	"ledgerwork-backend/ratelimit"
)

// setupRoutes builds the full handler tree: the /api/ subtree behind the rate
// limiter, /metrics outside it so scrapes never consume caller quota.
func setupRoutes(c *container.Container, limiter *ratelimit.Limiter, keys auth.APIKeyValidator, registry *prometheus.Registry) http.Handler {
	api := http.NewServeMux()

	// Health and system endpoints
	api.HandleFunc("/api/health", c.HealthHandler.HandleHealth)
	api.HandleFunc("/api/qrcode", c.QRCodeHandler.HandleGenerateQRCode)
	api.HandleFunc("/api/rate-limit", c.RateLimitHandler.HandleStatus)

	// Auth endpoints
	api.HandleFunc("/api/auth/challenge", c.APIKeyHandler.HandleChallenge)
	api.HandleFunc("/api/auth/verify", c.APIKeyHandler.HandleVerify)
	api.HandleFunc("/api/auth/login", c.APIKeyHandler.HandleLogin)

	authRequired := middleware.RequireAPIKey(keys)

	// Task endpoints: reads are public, creation needs a wallet-bound key.
	api.Handle("/api/tasks", authOnWrite(authRequired, http.HandlerFunc(c.TaskHandler.HandleTasks)))
	api.HandleFunc("/api/tasks/", c.TaskHandler.HandleTaskByID)

	// Submission endpoints
	api.Handle("/api/submissions", authOnWrite(authRequired, http.HandlerFunc(c.SubmissionHandler.HandleSubmissions)))
	api.HandleFunc("/api/submissions/", c.SubmissionHandler.HandleSubmissionByID)

	// Verification intake: verifier agents only.
	api.Handle("/api/verifications", authRequired(http.HandlerFunc(c.SubmissionHandler.HandleVerification)))

	// Payment and event endpoints
	api.HandleFunc("/api/payments", c.PaymentHandler.HandlePayments)
	api.HandleFunc("/api/payments/", c.PaymentHandler.HandlePaymentByID)
	api.HandleFunc("/api/events", c.PaymentHandler.HandleEvents)

	limited := middleware.RateLimit(limiter, keys)(api)

	root := http.NewServeMux()
	root.Handle("/api/", limited)
	root.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return root
}

// authOnWrite requires an API key for mutating methods only.
func authOnWrite(wrap func(http.Handler) http.Handler, next http.Handler) http.Handler {
	guarded := wrap(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
		default:
			guarded.ServeHTTP(w, r)
		}
	})
}
