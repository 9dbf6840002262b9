package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"ledgerwork-backend/core/marketplace"
	"ledgerwork-backend/middleware"
	"ledgerwork-backend/models"
	storage "ledgerwork-backend/storage/marketplace"
)

// VerificationSink consumes AI judge verdicts. The reconciler implements it.
type VerificationSink interface {
	HandleVerification(ctx context.Context, submissionID string, res marketplace.VerificationResult) error
}

// SubmissionHandler handles work submission and verification intake.
type SubmissionHandler struct {
	*BaseHandler
	store storage.Store
	sink  VerificationSink
}

// NewSubmissionHandler creates a new submission handler
func NewSubmissionHandler(store storage.Store, sink VerificationSink) *SubmissionHandler {
	return &SubmissionHandler{BaseHandler: NewBaseHandler(), store: store, sink: sink}
}

// HandleSubmissions dispatches the /api/submissions collection.
// @Summary List or create submissions
// @Tags Submissions
// @Accept json
// @Produce json
// @Param task_id query string false "Filter by task"
// @Param status query string false "Filter by status"
// @Router /api/submissions [get]
// @Router /api/submissions [post]
func (h *SubmissionHandler) HandleSubmissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		taskID := strings.TrimSpace(r.URL.Query().Get("task_id"))
		status := strings.TrimSpace(r.URL.Query().Get("status"))
		subs, err := h.store.ListSubmissions(r.Context(), taskID, status)
		if err != nil {
			h.sendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		h.sendSuccess(w, map[string]interface{}{"submissions": subs, "total_count": len(subs)})
	case http.MethodPost:
		h.handleCreate(w, r)
	default:
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *SubmissionHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	worker := middleware.WalletFrom(r.Context())
	if worker == "" {
		h.sendError(w, http.StatusUnauthorized, "wallet-bound API key required")
		return
	}

	var body models.SubmissionRequest
	if err := h.parseJSON(r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(body.TaskID) == "" {
		h.sendError(w, http.StatusBadRequest, "task_id required")
		return
	}
	if len(body.Payload) == 0 {
		h.sendError(w, http.StatusBadRequest, "payload required")
		return
	}

	sub := marketplace.Submission{
		SubmissionID: uuid.NewString(),
		TaskID:       body.TaskID,
		WorkerWallet: worker,
		Payload:      body.Payload,
		Status:       marketplace.SubmissionPending,
	}
	err := h.store.CreateSubmission(r.Context(), sub)
	switch err {
	case nil:
	case storage.ErrTaskNotFound:
		h.sendError(w, http.StatusNotFound, "task not found")
		return
	case storage.ErrTaskClosed:
		h.sendError(w, http.StatusConflict, "task is not accepting submissions")
		return
	case storage.ErrSubmissionLimit:
		h.sendError(w, http.StatusConflict, "task submission limit reached")
		return
	default:
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	_ = h.store.AppendEvent(r.Context(), marketplace.Event{
		Type:     "submission_created",
		EntityID: sub.SubmissionID,
		Actor:    worker,
		Message:  fmt.Sprintf("submission %s for task %s", sub.SubmissionID, sub.TaskID),
	})
	h.sendJSON(w, http.StatusCreated, models.NewSuccessResponse(sub))
}

// HandleSubmissionByID serves /api/submissions/{id}.
// @Summary Get a submission
// @Tags Submissions
// @Produce json
// @Param id path string true "Submission ID"
// @Router /api/submissions/{id} [get]
func (h *SubmissionHandler) HandleSubmissionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/submissions/"), "/")
	if id == "" {
		h.sendError(w, http.StatusBadRequest, "submission id required")
		return
	}
	sub, err := h.store.GetSubmission(r.Context(), id)
	if err == storage.ErrSubmissionNotFound {
		h.sendError(w, http.StatusNotFound, "submission not found")
		return
	}
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.sendSuccess(w, sub)
}

// HandleVerification accepts one AI judge verdict. Delivery is idempotent:
// a verdict for an already-resolved submission returns 200 with ignored=true.
// @Summary Deliver verification verdict
// @Tags Verification
// @Accept json
// @Produce json
// @Param body body models.VerificationRequest true "Verdict"
// @Success 202 {object} models.APIResponse
// @Router /api/verifications [post]
func (h *SubmissionHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body models.VerificationRequest
	if err := h.parseJSON(r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res := marketplace.VerificationResult{
		Approved:  body.Approved,
		Score:     body.Score,
		Reasoning: strings.TrimSpace(body.Reasoning),
	}
	if err := marketplace.ValidateVerification(body.SubmissionID, res); err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.sink.HandleVerification(r.Context(), body.SubmissionID, res)
	switch err {
	case nil:
		h.sendJSON(w, http.StatusAccepted, models.NewSuccessResponse(map[string]interface{}{
			"submission_id": body.SubmissionID,
			"accepted":      true,
		}))
	case storage.ErrSubmissionNotFound:
		h.sendError(w, http.StatusNotFound, "submission not found")
	default:
		h.sendError(w, http.StatusInternalServerError, err.Error())
	}
}
