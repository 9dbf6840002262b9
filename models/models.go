package models

import (
	"time"

	"ledgerwork-backend/core/marketplace"
)

// APIResponse is the envelope every endpoint returns.
type APIResponse struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Meta    interface{}    `json:"meta,omitempty"`
}

// ErrorResponse represents API error details
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Code      int    `json:"code,omitempty"`
	Hint      string `json:"hint,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data interface{}) *APIResponse {
	return &APIResponse{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(error string, code int) *APIResponse {
	return &APIResponse{
		Success: false,
		Error: &ErrorResponse{
			Error:     error,
			Message:   error,
			Code:      code,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// NewErrorResponseWithHint creates an error response with a hint.
func NewErrorResponseWithHint(error string, code int, hint string) *APIResponse {
	resp := NewErrorResponse(error, code)
	if resp != nil && resp.Error != nil {
		resp.Error.Hint = hint
	}
	return resp
}

// ChallengeRequest asks for a signable authentication challenge.
type ChallengeRequest struct {
	Wallet string `json:"wallet_address"`
}

// ChallengeResponse carries the message the wallet must sign.
type ChallengeResponse struct {
	Wallet      string `json:"wallet_address"`
	Message     string `json:"message"`
	TimestampMs int64  `json:"timestamp_ms"`
	ExpiresInS  int    `json:"expires_in_seconds"`
}

// VerifyRequest presents a signed challenge in exchange for an API key.
type VerifyRequest struct {
	Wallet      string `json:"wallet_address"`
	Signature   string `json:"signature"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// CreateTaskRequest creates a marketplace task.
type CreateTaskRequest struct {
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Type           string         `json:"type"`
	AmountUnits    int64          `json:"amount_units"`
	MaxSubmissions int            `json:"max_submissions,omitempty"`
	DurationDays   int            `json:"duration_days,omitempty"`
	OnChain        bool           `json:"on_chain,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// SubmissionRequest submits work against a task.
type SubmissionRequest struct {
	TaskID  string         `json:"task_id"`
	Payload map[string]any `json:"payload"`
}

// VerificationRequest delivers an AI judge verdict for one submission.
type VerificationRequest struct {
	SubmissionID string `json:"submission_id"`
	Approved     bool   `json:"approved"`
	Score        int    `json:"score"`
	Reasoning    string `json:"reasoning"`
}

// RateLimitStatus reports remaining quota for a key.
type RateLimitStatus struct {
	Key       string    `json:"key"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// HealthResponse reports process and dependency health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Timestamp int64             `json:"timestamp"`
	UptimeS   int64             `json:"uptime_seconds"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// TaskPage is a filtered task listing.
type TaskPage struct {
	Tasks []marketplace.Task `json:"tasks"`
	Total int                `json:"total_count"`
}
