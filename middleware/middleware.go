package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ledgerwork-backend/auth"
	"ledgerwork-backend/ratelimit"
)

// CORS middleware
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Logging middleware emits one JSON line per request.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		entry := map[string]interface{}{
			"ts":       start.UTC().Format(time.RFC3339Nano),
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.statusCode,
			"duration": duration.String(),
		}
		line, err := json.Marshal(entry)
		if err != nil {
			log.Printf("%s %s %d %v", r.Method, r.URL.Path, wrapped.statusCode, duration)
			return
		}
		log.Println(string(line))
	})
}

// Recovery middleware
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("Panic recovered: %v", err)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)

				errorResp := map[string]interface{}{
					"success": false,
					"error": map[string]interface{}{
						"error":   "internal_server_error",
						"message": "Internal server error occurred",
						"code":    http.StatusInternalServerError,
					},
				}

				json.NewEncoder(w).Encode(errorResp)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders middleware
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// RateLimit admits requests through the fixed-window limiter. The key is the
// authenticated wallet when an API key is presented, falling back to the
// client IP. Rejections carry Retry-After in whole seconds.
func RateLimit(limiter *ratelimit.Limiter, keys auth.APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limitKey(r, keys)
			if err := limiter.Check(key); err != nil {
				le, ok := err.(*ratelimit.LimitError)
				retry := 1
				if ok {
					retry = int(le.RetryAfter.Seconds()) + 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"success": false,
					"error": map[string]interface{}{
						"error":   "rate_limited",
						"message": err.Error(),
						"code":    http.StatusTooManyRequests,
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAPIKey rejects requests without a valid key and stores the caller's
// wallet on the request context.
func RequireAPIKey(keys auth.APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := apiKeyFrom(r)
			if key == "" || !keys.Validate(key) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"success": false,
					"error": map[string]interface{}{
						"error":   "unauthorized",
						"message": "valid API key required",
						"code":    http.StatusUnauthorized,
					},
				})
				return
			}
			if rec, ok := keys.Get(key); ok && rec.Wallet != "" {
				r = r.WithContext(context.WithValue(r.Context(), walletContextKey{}, rec.Wallet))
			}
			next.ServeHTTP(w, r)
		})
	}
}

type walletContextKey struct{}

// WalletFrom returns the authenticated wallet bound to the request, if any.
func WalletFrom(ctx context.Context) string {
	if v, ok := ctx.Value(walletContextKey{}).(string); ok {
		return v
	}
	return ""
}

func apiKeyFrom(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k
	}
	bearer := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(bearer, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(bearer, "Bearer "))
	}
	return ""
}

func limitKey(r *http.Request, keys auth.APIKeyValidator) string {
	if k := apiKeyFrom(r); k != "" && keys != nil {
		if rec, ok := keys.Get(k); ok && rec.Wallet != "" {
			return strings.ToLower(rec.Wallet)
		}
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	if host == "" {
		return ratelimit.GlobalKey
	}
	return host
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
