package escrow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 200*time.Millisecond, 10*time.Millisecond)
}

func TestCreateTaskConfirmed(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/escrow/tasks" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["payment_amount"].(float64) != 1000 {
			t.Fatalf("unexpected amount %v", body["payment_amount"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"tx_hash": "0xcreate",
			"status":  "confirmed",
			"event":   map[string]any{"task_id": 42, "requester": "0xreq", "payment_amount": 1000},
		})
	}))

	id, tx, err := c.CreateTask(context.Background(), "0xreq", 1000, 7)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if id != 42 || tx != "0xcreate" {
		t.Fatalf("got id=%d tx=%s", id, tx)
	}
}

func TestApproveReverted(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"revert_reason": "task already settled"})
	}))

	_, err := c.ApproveSubmission(context.Background(), 42)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsRevert(err) {
		t.Fatalf("expected revert class, got %v", err)
	}
	if IsTransient(err) || IsUnknownOutcome(err) {
		t.Fatalf("revert misclassified: %v", err)
	}
}

func TestApproveTransportErrorIsTransient(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 100*time.Millisecond, 10*time.Millisecond)

	_, err := c.ApproveSubmission(context.Background(), 42)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsTransient(err) {
		t.Fatalf("expected rpc class, got %v", err)
	}
}

func TestApprovePendingThenConfirmed(t *testing.T) {
	var polls int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]any{"tx_hash": "0xrel", "status": "pending"})
		case r.URL.Path == "/escrow/tx/0xrel":
			if atomic.AddInt32(&polls, 1) < 2 {
				json.NewEncoder(w).Encode(map[string]any{"tx_hash": "0xrel", "status": "pending"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"tx_hash": "0xrel",
				"status":  "confirmed",
				"event":   map[string]any{"task_id": 42, "worker": "0xw", "worker_amount": 975, "platform_fee": 25},
			})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	rec, err := c.ApproveSubmission(context.Background(), 42)
	if err != nil {
		t.Fatalf("ApproveSubmission: %v", err)
	}
	if rec.TxHash != "0xrel" {
		t.Fatalf("tx hash = %s", rec.TxHash)
	}
	if rec.Released.WorkerAmount != 975 || rec.Released.PlatformFee != 25 {
		t.Fatalf("unexpected release event: %+v", rec.Released)
	}
}

func TestApproveConfirmationTimeoutIsUnknown(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tx_hash": "0xstuck", "status": "pending"})
	}))

	_, err := c.ApproveSubmission(context.Background(), 42)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsUnknownOutcome(err) {
		t.Fatalf("expected unknown class, got %v", err)
	}
	ce, ok := err.(*ChainError)
	if !ok || ce.TxHash != "0xstuck" {
		t.Fatalf("expected tx hash on unknown outcome, got %v", err)
	}
}

func TestRejectSubmissionConfirmed(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/escrow/tasks/42/reject" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"tx_hash": "0xreject", "status": "confirmed"})
	}))

	tx, err := c.RejectSubmission(context.Background(), 42)
	if err != nil {
		t.Fatalf("RejectSubmission: %v", err)
	}
	if tx != "0xreject" {
		t.Fatalf("tx hash = %s", tx)
	}
}

func TestGetTask(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/escrow/tasks/7" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(TaskState{OnChainID: 7, Requester: "0xreq", AmountUnits: 500, Status: "settled"})
	}))

	ts, err := c.GetTask(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if ts.Status != "settled" || ts.AmountUnits != 500 {
		t.Fatalf("unexpected state: %+v", ts)
	}
}

func TestTokenBalance(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token/balance/0xabc" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]int64{"balance": 12345})
	}))

	bal, err := c.TokenBalance(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	if bal != 12345 {
		t.Fatalf("balance = %d", bal)
	}
}
