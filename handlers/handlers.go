package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"ledgerwork-backend/models"
	"ledgerwork-backend/ratelimit"
	"ledgerwork-backend/services"
)

// BaseHandler provides common functionality for all handlers
type BaseHandler struct{}

// NewBaseHandler creates a new base handler
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// sendJSON sends a JSON response
func (h *BaseHandler) sendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// sendError sends an error response
func (h *BaseHandler) sendError(w http.ResponseWriter, statusCode int, message string) {
	errorResp := models.NewErrorResponse(message, statusCode)
	h.sendJSON(w, statusCode, errorResp)
}

// sendSuccess sends a success response
func (h *BaseHandler) sendSuccess(w http.ResponseWriter, data interface{}) {
	successResp := models.NewSuccessResponse(data)
	h.sendJSON(w, http.StatusOK, successResp)
}

// parseJSON parses JSON from request
func (h *BaseHandler) parseJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// HealthHandler handles health check requests
type HealthHandler struct {
	*BaseHandler
	healthService *services.HealthService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(healthService *services.HealthService) *HealthHandler {
	return &HealthHandler{
		BaseHandler:   NewBaseHandler(),
		healthService: healthService,
	}
}

// HandleHealth handles health check requests
// @Summary Backend health
// @Description Process health plus store and escrow gateway reachability
// @Tags System
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Router /api/health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	health := h.healthService.GetHealthStatus(r.Context())
	h.sendSuccess(w, health)
}

// QRCodeHandler renders funding QR codes.
type QRCodeHandler struct {
	*BaseHandler
	qrService *services.QRCodeService
}

// NewQRCodeHandler creates a new QR code handler
func NewQRCodeHandler(qrService *services.QRCodeService) *QRCodeHandler {
	return &QRCodeHandler{BaseHandler: NewBaseHandler(), qrService: qrService}
}

// HandleGenerateQRCode renders a PNG QR for a funding URI.
// @Summary Funding QR code
// @Description PNG QR encoding address?amount=<units>
// @Tags System
// @Produce png
// @Param address query string true "Destination address"
// @Param amount query integer false "Amount in base token units"
// @Router /api/qrcode [get]
func (h *QRCodeHandler) HandleGenerateQRCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		h.sendError(w, http.StatusBadRequest, "address required")
		return
	}
	amount, _ := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)

	png, err := h.qrService.GenerateFundingQR(address, amount)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// RateLimitHandler reports remaining quota for the caller's key.
type RateLimitHandler struct {
	*BaseHandler
	limiter *ratelimit.Limiter
}

// NewRateLimitHandler creates a new rate limit status handler
func NewRateLimitHandler(limiter *ratelimit.Limiter) *RateLimitHandler {
	return &RateLimitHandler{BaseHandler: NewBaseHandler(), limiter: limiter}
}

// HandleStatus reports the quota window for a key.
// @Summary Rate limit status
// @Tags System
// @Produce json
// @Param key query string false "Limit key (wallet or IP); defaults to global"
// @Success 200 {object} models.RateLimitStatus
// @Router /api/rate-limit [get]
func (h *RateLimitHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	key := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("key")))
	if key == "" {
		key = ratelimit.GlobalKey
	}
	remaining, resetAt := h.limiter.Status(key)
	h.sendSuccess(w, models.RateLimitStatus{Key: key, Remaining: remaining, ResetAt: resetAt})
}
