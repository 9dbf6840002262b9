package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledgerwork-backend/core/marketplace"
	"ledgerwork-backend/escrow"
	"ledgerwork-backend/middleware"
	"ledgerwork-backend/models"
	storage "ledgerwork-backend/storage/marketplace"
)

// EscrowFacade is the slice of the chain client the task handler uses.
type EscrowFacade interface {
	CreateTask(ctx context.Context, requester string, amountUnits int64, durationDays int) (int64, string, error)
	TokenBalance(ctx context.Context, address string) (int64, error)
}

// TaskHandler handles task lifecycle requests.
type TaskHandler struct {
	*BaseHandler
	store  storage.Store
	escrow EscrowFacade
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(store storage.Store, escrowClient EscrowFacade) *TaskHandler {
	return &TaskHandler{BaseHandler: NewBaseHandler(), store: store, escrow: escrowClient}
}

// HandleTasks dispatches the /api/tasks collection.
// @Summary List or create tasks
// @Tags Tasks
// @Accept json
// @Produce json
// @Param status query string false "Filter by status"
// @Param type query string false "Filter by task type"
// @Param requester query string false "Filter by requester wallet"
// @Success 200 {object} models.TaskPage
// @Router /api/tasks [get]
// @Router /api/tasks [post]
func (h *TaskHandler) HandleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPost:
		h.handleCreate(w, r)
	default:
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *TaskHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := marketplace.TaskFilter{
		Status:    strings.TrimSpace(q.Get("status")),
		Type:      marketplace.TaskType(strings.TrimSpace(q.Get("type"))),
		Requester: strings.TrimSpace(q.Get("requester")),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}

	tasks, err := h.store.ListTasks(r.Context(), filter)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.sendSuccess(w, models.TaskPage{Tasks: tasks, Total: len(tasks)})
}

func (h *TaskHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	requester := middleware.WalletFrom(r.Context())
	if requester == "" {
		h.sendError(w, http.StatusUnauthorized, "wallet-bound API key required")
		return
	}

	var body models.CreateTaskRequest
	if err := h.parseJSON(r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(body.Title) == "" {
		h.sendError(w, http.StatusBadRequest, "title required")
		return
	}
	taskType := marketplace.TaskType(body.Type)
	if !marketplace.ValidTaskType(taskType) {
		h.sendError(w, http.StatusBadRequest, fmt.Sprintf("unknown task type %q", body.Type))
		return
	}
	if body.AmountUnits <= 0 {
		h.sendError(w, http.StatusBadRequest, "amount_units must be positive")
		return
	}
	if body.DurationDays <= 0 {
		body.DurationDays = 7
	}

	// Funding gate: the requester must hold at least the escrow amount before
	// the task is accepted. An unreachable gateway blocks creation rather than
	// admitting tasks that can never pay out.
	balance, err := h.escrow.TokenBalance(r.Context(), requester)
	if err != nil {
		h.sendError(w, http.StatusServiceUnavailable, "escrow gateway unavailable: "+err.Error())
		return
	}
	if balance < body.AmountUnits {
		h.sendJSON(w, http.StatusPaymentRequired, models.NewErrorResponseWithHint(
			fmt.Sprintf("insufficient balance: have %d, need %d", balance, body.AmountUnits),
			http.StatusPaymentRequired,
			"fund the wallet via /api/qrcode?address=<wallet>&amount=<units>",
		))
		return
	}

	task := marketplace.Task{
		TaskID:         uuid.NewString(),
		Requester:      requester,
		Title:          strings.TrimSpace(body.Title),
		Description:    strings.TrimSpace(body.Description),
		Type:           taskType,
		AmountUnits:    body.AmountUnits,
		Status:         marketplace.TaskOpen,
		MaxSubmissions: body.MaxSubmissions,
		ExpiresAt:      time.Now().AddDate(0, 0, body.DurationDays),
	}
	if err := h.store.CreateTask(r.Context(), task); err != nil {
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Optional on-chain mirror. A failed mirror leaves the task off-chain;
	// its approved submissions will be rejected with a linkage error instead
	// of paid, so surface the miss in the response.
	var mirrorErr string
	if body.OnChain {
		onChainID, txHash, err := h.escrow.CreateTask(r.Context(), requester, body.AmountUnits, body.DurationDays)
		if err != nil {
			log.Printf("task %s: on-chain mirror failed: %v", task.TaskID, err)
			mirrorErr = err.Error()
		} else {
			if err := h.store.SetTaskOnChainID(r.Context(), task.TaskID, onChainID); err != nil {
				h.sendError(w, http.StatusInternalServerError, err.Error())
				return
			}
			task.OnChainID = &onChainID
			_ = h.store.AppendEvent(r.Context(), marketplace.Event{
				Type:     "task_mirrored",
				EntityID: task.TaskID,
				Actor:    requester,
				Message:  fmt.Sprintf("task %s escrowed on-chain as #%d (tx %s)", task.TaskID, onChainID, txHash),
			})
		}
	}
	_ = h.store.AppendEvent(r.Context(), marketplace.Event{
		Type:     "task_created",
		EntityID: task.TaskID,
		Actor:    requester,
		Message:  fmt.Sprintf("task %q created, %d units", task.Title, task.AmountUnits),
	})

	resp := map[string]interface{}{"task": task}
	if mirrorErr != "" {
		resp["mirror_error"] = mirrorErr
	}
	h.sendJSON(w, http.StatusCreated, models.NewSuccessResponse(resp))
}

// HandleTaskByID serves /api/tasks/{id} and /api/tasks/{id}/submissions.
// @Summary Get a task
// @Tags Tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} models.APIResponse
// @Router /api/tasks/{id} [get]
func (h *TaskHandler) HandleTaskByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		h.sendError(w, http.StatusBadRequest, "task id required")
		return
	}
	taskID := parts[0]

	if len(parts) == 2 && parts[1] == "submissions" {
		status := strings.TrimSpace(r.URL.Query().Get("status"))
		subs, err := h.store.ListSubmissions(r.Context(), taskID, status)
		if err != nil {
			h.sendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		h.sendSuccess(w, map[string]interface{}{"submissions": subs, "total_count": len(subs)})
		return
	}

	task, err := h.store.GetTask(r.Context(), taskID)
	if err == storage.ErrTaskNotFound {
		h.sendError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.sendSuccess(w, task)
}

var _ EscrowFacade = (*escrow.Client)(nil)
