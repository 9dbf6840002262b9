package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client is a typed facade over the escrow contract gateway. The gateway
// broadcasts contract calls and reports per-transaction status; the client
// classifies every failure into one of the three ChainError classes.
type Client struct {
	baseURL     string
	apiKey      string
	http        *http.Client
	confirmWait time.Duration
	pollEvery   time.Duration
}

// TaskState mirrors the escrow contract's view of a task.
type TaskState struct {
	OnChainID   int64     `json:"task_id"`
	Requester   string    `json:"requester"`
	Worker      string    `json:"worker,omitempty"`
	AmountUnits int64     `json:"payment_amount"`
	Status      string    `json:"status"` // open | settled | rejected | expired
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TaskCreated is the contract event emitted when a task is mirrored on-chain.
type TaskCreated struct {
	OnChainID   int64     `json:"task_id"`
	Requester   string    `json:"requester"`
	AmountUnits int64     `json:"payment_amount"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// PaymentReleased is the contract event emitted on an approved release. The
// platform fee is a fixed percentage taken at release time.
type PaymentReleased struct {
	OnChainID    int64  `json:"task_id"`
	Worker       string `json:"worker"`
	WorkerAmount int64  `json:"worker_amount"`
	PlatformFee  int64  `json:"platform_fee"`
}

// ReleaseReceipt is the confirmed outcome of an approve call.
type ReleaseReceipt struct {
	TxHash   string          `json:"tx_hash"`
	Released PaymentReleased `json:"event"`
}

// NewClientFromEnv builds a client from LEDGERWORK_ESCROW_* environment
// variables with local defaults.
func NewClientFromEnv() *Client {
	base := strings.TrimSpace(os.Getenv("LEDGERWORK_ESCROW_GATEWAY"))
	if base == "" {
		base = "http://localhost:8545"
	}
	confirmWait := 90 * time.Second
	if raw := strings.TrimSpace(os.Getenv("LEDGERWORK_ESCROW_CONFIRM_WAIT_SEC")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			confirmWait = time.Duration(v) * time.Second
		}
	}
	return &Client{
		baseURL:     strings.TrimRight(base, "/"),
		apiKey:      strings.TrimSpace(os.Getenv("LEDGERWORK_ESCROW_API_KEY")),
		http:        &http.Client{Timeout: 30 * time.Second},
		confirmWait: confirmWait,
		pollEvery:   2 * time.Second,
	}
}

// NewClient builds a client against an explicit gateway, used by tests.
func NewClient(baseURL string, confirmWait, pollEvery time.Duration) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 30 * time.Second},
		confirmWait: confirmWait,
		pollEvery:   pollEvery,
	}
}

// txStatus is the gateway's report for a broadcast transaction.
type txStatus struct {
	TxHash   string          `json:"tx_hash"`
	Status   string          `json:"status"` // pending | confirmed | reverted
	Revert   string          `json:"revert_reason,omitempty"`
	Event    json.RawMessage `json:"event,omitempty"`
	TaskID   int64           `json:"task_id,omitempty"`
}

// CreateTask locks funds for a new on-chain task and returns the contract's
// task handle once the creation transaction confirms.
func (c *Client) CreateTask(ctx context.Context, requester string, amountUnits int64, durationDays int) (int64, string, error) {
	body := map[string]any{
		"requester":      requester,
		"payment_amount": amountUnits,
		"duration_days":  durationDays,
	}
	st, err := c.submit(ctx, "create_task", "/escrow/tasks", body)
	if err != nil {
		return 0, "", err
	}
	var ev TaskCreated
	if len(st.Event) > 0 {
		if err := json.Unmarshal(st.Event, &ev); err != nil {
			return 0, "", &ChainError{Class: ClassUnknown, Op: "create_task", TxHash: st.TxHash, Detail: "malformed TaskCreated event"}
		}
		return ev.OnChainID, st.TxHash, nil
	}
	if st.TaskID > 0 {
		return st.TaskID, st.TxHash, nil
	}
	return 0, "", &ChainError{Class: ClassUnknown, Op: "create_task", TxHash: st.TxHash, Detail: "confirmed without TaskCreated event"}
}

// ApproveSubmission releases escrowed funds for the task to its worker.
func (c *Client) ApproveSubmission(ctx context.Context, onChainID int64) (*ReleaseReceipt, error) {
	path := fmt.Sprintf("/escrow/tasks/%d/approve", onChainID)
	st, err := c.submit(ctx, "approve_submission", path, nil)
	if err != nil {
		return nil, err
	}
	rec := &ReleaseReceipt{TxHash: st.TxHash}
	if len(st.Event) > 0 {
		if err := json.Unmarshal(st.Event, &rec.Released); err != nil {
			return nil, &ChainError{Class: ClassUnknown, Op: "approve_submission", TxHash: st.TxHash, Detail: "malformed PaymentReleased event"}
		}
	}
	return rec, nil
}

// RejectSubmission refuses the pending submission for a task on-chain.
func (c *Client) RejectSubmission(ctx context.Context, onChainID int64) (string, error) {
	path := fmt.Sprintf("/escrow/tasks/%d/reject", onChainID)
	st, err := c.submit(ctx, "reject_submission", path, nil)
	if err != nil {
		return "", err
	}
	return st.TxHash, nil
}

// GetTask reads the contract's current state for a task. Reads are idempotent
// and carry no broadcast risk, so any failure is ClassRPC.
func (c *Client) GetTask(ctx context.Context, onChainID int64) (TaskState, error) {
	var ts TaskState
	if err := c.get(ctx, fmt.Sprintf("/escrow/tasks/%d", onChainID), &ts); err != nil {
		return TaskState{}, &ChainError{Class: ClassRPC, Op: "get_task", Detail: err.Error()}
	}
	return ts, nil
}

// TokenBalance reads the payment-token balance for an address. Used as a
// precondition gate before task creation.
func (c *Client) TokenBalance(ctx context.Context, address string) (int64, error) {
	var out struct {
		Balance int64 `json:"balance"`
	}
	if err := c.get(ctx, "/token/balance/"+address, &out); err != nil {
		return 0, &ChainError{Class: ClassRPC, Op: "token_balance", Detail: err.Error()}
	}
	return out.Balance, nil
}

// submit posts a contract call and waits out confirmation, classifying the
// outcome. A transport error before the gateway acknowledges the broadcast is
// ClassRPC; a revert is ClassReverted; a confirmation wait that expires is
// ClassUnknown and carries the tx hash for later reconciliation.
func (c *Client) submit(ctx context.Context, op, path string, body any) (*txStatus, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, &ChainError{Class: ClassRPC, Op: op, Detail: err.Error()}
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, &ChainError{Class: ClassRPC, Op: op, Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ChainError{Class: ClassRPC, Op: op, Detail: err.Error()}
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusConflict {
		return nil, &ChainError{Class: ClassReverted, Op: op, Detail: revertReason(payload)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ChainError{Class: ClassRPC, Op: op, Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))}
	}

	var st txStatus
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, &ChainError{Class: ClassRPC, Op: op, Detail: "decode gateway response: " + err.Error()}
	}
	switch st.Status {
	case "confirmed":
		return &st, nil
	case "reverted":
		return nil, &ChainError{Class: ClassReverted, Op: op, TxHash: st.TxHash, Detail: st.Revert}
	}
	return c.awaitConfirmation(ctx, op, st.TxHash)
}

// awaitConfirmation polls the gateway for a broadcast transaction until it
// confirms, reverts, or the bounded wait expires. A broadcast transaction is
// not locally revocable, so expiry yields ClassUnknown rather than a retry
// hint.
func (c *Client) awaitConfirmation(ctx context.Context, op, txHash string) (*txStatus, error) {
	deadline := time.Now().Add(c.confirmWait)
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, &ChainError{Class: ClassUnknown, Op: op, TxHash: txHash, Detail: ctx.Err().Error()}
		case <-ticker.C:
		}
		var st txStatus
		if err := c.get(ctx, "/escrow/tx/"+txHash, &st); err != nil {
			if time.Now().After(deadline) {
				return nil, &ChainError{Class: ClassUnknown, Op: op, TxHash: txHash, Detail: "confirmation wait expired"}
			}
			continue
		}
		switch st.Status {
		case "confirmed":
			return &st, nil
		case "reverted":
			return nil, &ChainError{Class: ClassReverted, Op: op, TxHash: st.TxHash, Detail: st.Revert}
		}
		if time.Now().After(deadline) {
			return nil, &ChainError{Class: ClassUnknown, Op: op, TxHash: txHash, Detail: "confirmation wait expired"}
		}
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func revertReason(payload []byte) string {
	var body struct {
		Revert string `json:"revert_reason"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Revert != "" {
			return body.Revert
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(payload))
}
