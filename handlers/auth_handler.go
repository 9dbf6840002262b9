package handlers

import (
	"net/http"
	"strings"
	"time"

	"ledgerwork-backend/auth"
	"ledgerwork-backend/models"
)

// APIKeyHandler issues API keys via wallet signature verification.
type APIKeyHandler struct {
	*BaseHandler
	issuer    auth.APIKeyIssuer
	validator auth.APIKeyValidator
	maxAge    time.Duration
}

// NewAPIKeyHandler builds an APIKeyHandler with separate issuer/validator implementations.
func NewAPIKeyHandler(issuer auth.APIKeyIssuer, validator auth.APIKeyValidator) *APIKeyHandler {
	return &APIKeyHandler{
		BaseHandler: NewBaseHandler(),
		issuer:      issuer,
		validator:   validator,
		maxAge:      auth.DefaultChallengeMaxAge,
	}
}

// HandleChallenge returns the exact message a wallet must sign to obtain an
// API key. The embedded timestamp doubles as the anti-replay token: the signed
// message is only accepted within the challenge window.
// @Summary Request signable challenge
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body models.ChallengeRequest true "Wallet"
// @Success 200 {object} models.ChallengeResponse
// @Router /api/auth/challenge [post]
func (h *APIKeyHandler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body models.ChallengeRequest
	if err := h.parseJSON(r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}
	wallet := strings.TrimSpace(body.Wallet)
	if wallet == "" {
		h.sendError(w, http.StatusBadRequest, "wallet_address required")
		return
	}

	ts := time.Now().UnixMilli()
	h.sendSuccess(w, models.ChallengeResponse{
		Wallet:      wallet,
		Message:     auth.GenerateChallenge(wallet, ts),
		TimestampMs: ts,
		ExpiresInS:  int(h.maxAge.Seconds()),
	})
}

// HandleVerify checks a signed challenge and issues an API key bound to the
// wallet. An invalid or expired signature yields 401.
// @Summary Verify signature, issue API key
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body models.VerifyRequest true "Signed challenge"
// @Success 200 {object} map[string]string
// @Failure 401 {object} models.APIResponse
// @Router /api/auth/verify [post]
func (h *APIKeyHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body models.VerifyRequest
	if err := h.parseJSON(r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}
	wallet := strings.TrimSpace(body.Wallet)
	sig := strings.TrimSpace(body.Signature)
	if wallet == "" || sig == "" || body.TimestampMs == 0 {
		h.sendError(w, http.StatusBadRequest, "wallet_address, signature and timestamp_ms required")
		return
	}

	if !auth.IsTimestampValid(body.TimestampMs, h.maxAge) {
		h.sendError(w, http.StatusUnauthorized, "challenge expired")
		return
	}
	message := auth.GenerateChallenge(wallet, body.TimestampMs)
	if !auth.Verify(message, sig, wallet) {
		h.sendError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	rec, err := h.issuer.Issue(wallet, "wallet_signature")
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "failed to issue api key")
		return
	}
	h.sendSuccess(w, map[string]string{
		"api_key":        rec.Key,
		"wallet_address": rec.Wallet,
	})
}

// HandleLogin validates an existing API key and echoes its wallet binding.
// @Summary Validate API key
// @Tags Auth
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 401 {object} models.APIResponse
// @Router /api/auth/login [post]
func (h *APIKeyHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := h.parseJSON(r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}
	key := strings.TrimSpace(body.APIKey)
	if !h.validator.Validate(key) {
		h.sendError(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	resp := map[string]string{"api_key": key}
	if rec, ok := h.validator.Get(key); ok {
		resp["wallet_address"] = rec.Wallet
	}
	h.sendSuccess(w, resp)
}
