package handlers

import (
	"net/http"
	"strconv"
	"strings"

	storage "ledgerwork-backend/storage/marketplace"
)

// PaymentHandler exposes read-only payment and event records.
type PaymentHandler struct {
	*BaseHandler
	store storage.Store
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(store storage.Store) *PaymentHandler {
	return &PaymentHandler{BaseHandler: NewBaseHandler(), store: store}
}

// HandlePayments serves /api/payments?task_id=&worker= pair lookups.
// @Summary Look up the payment for a (task, worker) pair
// @Tags Payments
// @Produce json
// @Param task_id query string true "Task ID"
// @Param worker query string true "Worker wallet"
// @Router /api/payments [get]
func (h *PaymentHandler) HandlePayments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	taskID := strings.TrimSpace(r.URL.Query().Get("task_id"))
	worker := strings.TrimSpace(r.URL.Query().Get("worker"))
	if taskID == "" || worker == "" {
		h.sendError(w, http.StatusBadRequest, "task_id and worker required")
		return
	}
	p, err := h.store.GetPaymentByPair(r.Context(), taskID, worker)
	if err == storage.ErrPaymentNotFound {
		h.sendError(w, http.StatusNotFound, "no payment for pair")
		return
	}
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.sendSuccess(w, p)
}

// HandlePaymentByID serves /api/payments/{id}.
// @Summary Get a payment
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Router /api/payments/{id} [get]
func (h *PaymentHandler) HandlePaymentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/payments/"), "/")
	if id == "" {
		h.sendError(w, http.StatusBadRequest, "payment id required")
		return
	}
	p, err := h.store.GetPayment(r.Context(), id)
	if err == storage.ErrPaymentNotFound {
		h.sendError(w, http.StatusNotFound, "payment not found")
		return
	}
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.sendSuccess(w, p)
}

// HandleEvents serves the recent activity feed.
// @Summary Recent activity events
// @Tags Events
// @Produce json
// @Param limit query integer false "Max events (default 50)"
// @Router /api/events [get]
func (h *PaymentHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	events, err := h.store.ListEvents(r.Context(), limit)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.sendSuccess(w, map[string]interface{}{"events": events, "total_count": len(events)})
}
