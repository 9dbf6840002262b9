package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"ledgerwork-backend/auth"
	"ledgerwork-backend/core/marketplace"
	"ledgerwork-backend/middleware"
	storage "ledgerwork-backend/storage/marketplace"
)

type fakeEscrow struct {
	balance   int64
	onChainID int64
	createErr error
}

func (f *fakeEscrow) CreateTask(ctx context.Context, requester string, amountUnits int64, durationDays int) (int64, string, error) {
	if f.createErr != nil {
		return 0, "", f.createErr
	}
	return f.onChainID, "0xmirror", nil
}

func (f *fakeEscrow) TokenBalance(ctx context.Context, address string) (int64, error) {
	return f.balance, nil
}

type recordingSink struct {
	store storage.Store
	calls int
}

func (s *recordingSink) HandleVerification(ctx context.Context, submissionID string, res marketplace.VerificationResult) error {
	s.calls++
	err := s.store.MarkSubmissionVerified(ctx, submissionID, res)
	if err == storage.ErrAlreadyVerified {
		return nil
	}
	return err
}

func postJSON(t *testing.T, handler http.Handler, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return envelope.Data
}

func TestChallengeVerifyIssuesWalletBoundKey(t *testing.T) {
	keys := auth.NewAPIKeyStore()
	h := NewAPIKeyHandler(keys, keys)

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	pkh := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkh, &chaincfg.TestNet4Params)
	if err != nil {
		t.Fatalf("new address: %v", err)
	}
	wallet := addr.EncodeAddress()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/challenge", h.HandleChallenge)
	mux.HandleFunc("/api/auth/verify", h.HandleVerify)

	w := postJSON(t, mux, "/api/auth/challenge", "", map[string]string{"wallet_address": wallet})
	if w.Code != http.StatusOK {
		t.Fatalf("challenge status = %d: %s", w.Code, w.Body.String())
	}
	data := decodeData(t, w)
	message := data["message"].(string)
	ts := int64(data["timestamp_ms"].(float64))

	sig := ecdsa.SignCompact(priv, auth.ChallengeDigest(message), true)
	w = postJSON(t, mux, "/api/auth/verify", "", map[string]any{
		"wallet_address": wallet,
		"signature":      base64.StdEncoding.EncodeToString(sig),
		"timestamp_ms":   ts,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("verify status = %d: %s", w.Code, w.Body.String())
	}
	key := decodeData(t, w)["api_key"].(string)
	if !keys.Validate(key) {
		t.Fatalf("issued key does not validate")
	}
	rec, _ := keys.Get(key)
	if rec.Wallet != wallet {
		t.Fatalf("key bound to %q, want %q", rec.Wallet, wallet)
	}
}

func TestVerifyRejectsForgedSignature(t *testing.T) {
	keys := auth.NewAPIKeyStore()
	h := NewAPIKeyHandler(keys, keys)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/verify", h.HandleVerify)

	w := postJSON(t, mux, "/api/auth/verify", "", map[string]any{
		"wallet_address": "tb1qsomewallet",
		"signature":      base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 65)),
		"timestamp_ms":   time.Now().UnixMilli(),
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func testServer(t *testing.T, store storage.Store, chain EscrowFacade, sink VerificationSink, keys *auth.APIKeyStore) http.Handler {
	t.Helper()
	taskHandler := NewTaskHandler(store, chain)
	subHandler := NewSubmissionHandler(store, sink)
	authRequired := middleware.RequireAPIKey(keys)

	mux := http.NewServeMux()
	mux.Handle("/api/tasks", authRequired(http.HandlerFunc(taskHandler.HandleTasks)))
	mux.HandleFunc("/api/tasks/", taskHandler.HandleTaskByID)
	mux.Handle("/api/submissions", authRequired(http.HandlerFunc(subHandler.HandleSubmissions)))
	mux.Handle("/api/verifications", authRequired(http.HandlerFunc(subHandler.HandleVerification)))
	return mux
}

func issueKey(t *testing.T, keys *auth.APIKeyStore, wallet string) string {
	t.Helper()
	rec, err := keys.Issue(wallet, "test")
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	return rec.Key
}

func TestCreateTaskRequiresFunding(t *testing.T) {
	store := storage.NewMemoryStore()
	keys := auth.NewAPIKeyStore()
	chain := &fakeEscrow{balance: 100}
	srv := testServer(t, store, chain, &recordingSink{store: store}, keys)
	key := issueKey(t, keys, "tb1qrequester")

	w := postJSON(t, srv, "/api/tasks", key, map[string]any{
		"title":        "label images",
		"type":         "image-labeling",
		"amount_units": 1000,
	})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402: %s", w.Code, w.Body.String())
	}
}

func TestCreateTaskWithOnChainMirror(t *testing.T) {
	store := storage.NewMemoryStore()
	keys := auth.NewAPIKeyStore()
	chain := &fakeEscrow{balance: 10_000, onChainID: 42}
	srv := testServer(t, store, chain, &recordingSink{store: store}, keys)
	key := issueKey(t, keys, "tb1qrequester")

	w := postJSON(t, srv, "/api/tasks", key, map[string]any{
		"title":        "label images",
		"type":         "image-labeling",
		"amount_units": 1000,
		"on_chain":     true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	data := decodeData(t, w)
	taskData := data["task"].(map[string]any)
	taskID := taskData["task_id"].(string)

	task, err := store.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.OnChainID == nil || *task.OnChainID != 42 {
		t.Fatalf("on-chain id not recorded: %+v", task)
	}
}

func TestCreateTaskWithoutKeyIsRejected(t *testing.T) {
	store := storage.NewMemoryStore()
	keys := auth.NewAPIKeyStore()
	srv := testServer(t, store, &fakeEscrow{balance: 10_000}, &recordingSink{store: store}, keys)

	w := postJSON(t, srv, "/api/tasks", "", map[string]any{
		"title":        "label images",
		"type":         "image-labeling",
		"amount_units": 1000,
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestSubmitAndVerifyFlow(t *testing.T) {
	store := storage.NewMemoryStore()
	keys := auth.NewAPIKeyStore()
	sink := &recordingSink{store: store}
	srv := testServer(t, store, &fakeEscrow{balance: 10_000, onChainID: 42}, sink, keys)

	requesterKey := issueKey(t, keys, "tb1qrequester")
	workerKey := issueKey(t, keys, "tb1qworker")
	verifierKey := issueKey(t, keys, "tb1qverifier")

	w := postJSON(t, srv, "/api/tasks", requesterKey, map[string]any{
		"title":        "verify descriptions",
		"type":         "text-verification",
		"amount_units": 1000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create task: %d %s", w.Code, w.Body.String())
	}
	taskID := decodeData(t, w)["task"].(map[string]any)["task_id"].(string)

	w = postJSON(t, srv, "/api/submissions", workerKey, map[string]any{
		"task_id": taskID,
		"payload": map[string]any{"answer": "accurate"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create submission: %d %s", w.Code, w.Body.String())
	}
	subID := decodeData(t, w)["submission_id"].(string)

	verdict := map[string]any{
		"submission_id": subID,
		"approved":      true,
		"score":         88,
		"reasoning":     "description matches the product",
	}
	w = postJSON(t, srv, "/api/verifications", verifierKey, verdict)
	if w.Code != http.StatusAccepted {
		t.Fatalf("verification: %d %s", w.Code, w.Body.String())
	}

	// Duplicate delivery is acknowledged without effect.
	w = postJSON(t, srv, "/api/verifications", verifierKey, verdict)
	if w.Code != http.StatusAccepted {
		t.Fatalf("duplicate verification: %d %s", w.Code, w.Body.String())
	}
	if sink.calls != 2 {
		t.Fatalf("sink calls = %d, want 2", sink.calls)
	}

	sub, err := store.GetSubmission(context.Background(), subID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if sub.Status != marketplace.SubmissionApproved {
		t.Fatalf("submission status = %s", sub.Status)
	}
}

func TestVerificationValidation(t *testing.T) {
	store := storage.NewMemoryStore()
	keys := auth.NewAPIKeyStore()
	srv := testServer(t, store, &fakeEscrow{}, &recordingSink{store: store}, keys)
	key := issueKey(t, keys, "tb1qverifier")

	cases := []map[string]any{
		{"submission_id": "", "approved": true, "score": 50, "reasoning": "r"},
		{"submission_id": "s1", "approved": true, "score": 101, "reasoning": "r"},
		{"submission_id": "s1", "approved": true, "score": -1, "reasoning": "r"},
		{"submission_id": "s1", "approved": true, "score": 50, "reasoning": ""},
	}
	for i, body := range cases {
		w := postJSON(t, srv, "/api/verifications", key, body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("case %d: status = %d, want 400: %s", i, w.Code, w.Body.String())
		}
	}
}

