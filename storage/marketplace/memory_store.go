package marketplace

import (
	"context"
	"strings"
	"sync"
	"time"

	"ledgerwork-backend/core/marketplace"
)

// MemoryStore holds marketplace data in process memory with proper concurrency
// control. The single mutex keeps multi-map transitions (submission + task
// counter, payment + pair index) atomic, mirroring what the Postgres store
// achieves with conditional updates.
type MemoryStore struct {
	mu          sync.RWMutex
	tasks       map[string]marketplace.Task
	submissions map[string]marketplace.Submission
	payments    map[string]marketplace.Payment
	// completedPairs indexes (task_id, worker) pairs that already hold a
	// COMPLETED payment. Stands in for the Postgres partial unique index.
	completedPairs map[string]string // pair key -> payment_id
	events         []marketplace.Event
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:          make(map[string]marketplace.Task),
		submissions:    make(map[string]marketplace.Submission),
		payments:       make(map[string]marketplace.Payment),
		completedPairs: make(map[string]string),
	}
}

func pairKey(taskID, worker string) string {
	return taskID + "|" + strings.ToLower(strings.TrimSpace(worker))
}

// CreateTask stores a new task record.
func (s *MemoryStore) CreateTask(_ context.Context, t marketplace.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.tasks[t.TaskID] = t
	return nil
}

// GetTask returns a task by ID.
func (s *MemoryStore) GetTask(_ context.Context, taskID string) (marketplace.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return marketplace.Task{}, ErrTaskNotFound
	}
	return t, nil
}

// ListTasks returns tasks matching the filter.
func (s *MemoryStore) ListTasks(_ context.Context, filter marketplace.TaskFilter) ([]marketplace.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]marketplace.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.Status != "" && !strings.EqualFold(filter.Status, t.Status) {
			continue
		}
		if filter.Requester != "" && !strings.EqualFold(filter.Requester, t.Requester) {
			continue
		}
		if filter.Type != "" && filter.Type != t.Type {
			continue
		}
		out = append(out, t)
	}
	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// SetTaskOnChainID records the escrow contract handle for a task.
func (s *MemoryStore) SetTaskOnChainID(_ context.Context, taskID string, onChainID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	t.OnChainID = &onChainID
	s.tasks[taskID] = t
	return nil
}

// SetTaskStatus updates the task status.
func (s *MemoryStore) SetTaskStatus(_ context.Context, taskID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = status
	if status == marketplace.TaskCompleted && t.CompletedAt == nil {
		now := time.Now()
		t.CompletedAt = &now
	}
	s.tasks[taskID] = t
	return nil
}

// CreateSubmission stores a submission and bumps the task counter atomically.
func (s *MemoryStore) CreateSubmission(_ context.Context, sub marketplace.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[sub.TaskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != marketplace.TaskOpen && t.Status != marketplace.TaskInProgress {
		return ErrTaskClosed
	}
	if !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt) {
		return ErrTaskClosed
	}
	if t.MaxSubmissions > 0 && t.SubmissionCount >= t.MaxSubmissions {
		return ErrSubmissionLimit
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	if sub.Status == "" {
		sub.Status = marketplace.SubmissionPending
	}
	s.submissions[sub.SubmissionID] = sub
	t.SubmissionCount++
	if t.Status == marketplace.TaskOpen {
		t.Status = marketplace.TaskInProgress
	}
	s.tasks[sub.TaskID] = t
	return nil
}

// GetSubmission returns a submission by ID.
func (s *MemoryStore) GetSubmission(_ context.Context, submissionID string) (marketplace.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return marketplace.Submission{}, ErrSubmissionNotFound
	}
	return sub, nil
}

// ListSubmissions returns submissions filtered by task and status.
func (s *MemoryStore) ListSubmissions(_ context.Context, taskID, status string) ([]marketplace.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]marketplace.Submission, 0)
	for _, sub := range s.submissions {
		if taskID != "" && sub.TaskID != taskID {
			continue
		}
		if status != "" && !strings.EqualFold(status, sub.Status) {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

// MarkSubmissionVerified applies a verdict exactly once.
func (s *MemoryStore) MarkSubmissionVerified(_ context.Context, submissionID string, res marketplace.VerificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return ErrSubmissionNotFound
	}
	if sub.Status != marketplace.SubmissionPending {
		return ErrAlreadyVerified
	}
	if res.Approved {
		sub.Status = marketplace.SubmissionApproved
	} else {
		sub.Status = marketplace.SubmissionRejected
		sub.RejectionReason = res.Reasoning
	}
	r := res
	sub.Verification = &r
	s.submissions[submissionID] = sub
	return nil
}

// RejectSubmission forces a submission to REJECTED with a reason.
func (s *MemoryStore) RejectSubmission(_ context.Context, submissionID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return ErrSubmissionNotFound
	}
	sub.Status = marketplace.SubmissionRejected
	sub.RejectionReason = reason
	s.submissions[submissionID] = sub
	return nil
}

// SetSubmissionPaymentTx records the release transaction hash on a submission.
func (s *MemoryStore) SetSubmissionPaymentTx(_ context.Context, submissionID, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return ErrSubmissionNotFound
	}
	sub.PaymentTxHash = txHash
	s.submissions[submissionID] = sub
	return nil
}

// CreatePayment persists release intent before any chain call is made.
func (s *MemoryStore) CreatePayment(_ context.Context, p marketplace.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.completedPairs[pairKey(p.TaskID, p.WorkerWallet)]; done {
		return ErrDuplicatePayment
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Status == "" {
		p.Status = marketplace.PaymentPending
	}
	s.payments[p.PaymentID] = p
	return nil
}

// GetPayment returns a payment by ID.
func (s *MemoryStore) GetPayment(_ context.Context, paymentID string) (marketplace.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return marketplace.Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

// GetPaymentByPair returns the most recent payment for a (task, worker) pair.
func (s *MemoryStore) GetPaymentByPair(_ context.Context, taskID, workerWallet string) (marketplace.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *marketplace.Payment
	for _, p := range s.payments {
		if p.TaskID != taskID || !strings.EqualFold(p.WorkerWallet, workerWallet) {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			cp := p
			latest = &cp
		}
	}
	if latest == nil {
		return marketplace.Payment{}, ErrPaymentNotFound
	}
	return *latest, nil
}

// CompletePayment settles a pending payment, enforcing pair uniqueness.
func (s *MemoryStore) CompletePayment(_ context.Context, paymentID, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	if p.Status != marketplace.PaymentPending {
		return ErrPaymentSettled
	}
	key := pairKey(p.TaskID, p.WorkerWallet)
	if existing, done := s.completedPairs[key]; done && existing != paymentID {
		return ErrDuplicatePayment
	}
	now := time.Now()
	p.Status = marketplace.PaymentCompleted
	p.TxHash = txHash
	p.SettledAt = &now
	s.payments[paymentID] = p
	s.completedPairs[key] = paymentID
	return nil
}

// FailPayment marks a pending payment failed with diagnostics.
func (s *MemoryStore) FailPayment(_ context.Context, paymentID, code, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	if p.Status != marketplace.PaymentPending {
		return ErrPaymentSettled
	}
	now := time.Now()
	p.Status = marketplace.PaymentFailed
	p.FailureCode = code
	p.FailureDetail = detail
	p.SettledAt = &now
	s.payments[paymentID] = p
	return nil
}

// AppendEvent records an activity entry, keeping the most recent 1000.
func (s *MemoryStore) AppendEvent(_ context.Context, ev marketplace.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	s.events = append(s.events, ev)
	if len(s.events) > 1000 {
		s.events = s.events[1:]
	}
	return nil
}

// ListEvents returns the most recent events, newest last.
func (s *MemoryStore) ListEvents(_ context.Context, limit int) ([]marketplace.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]marketplace.Event, limit)
	copy(out, s.events[len(s.events)-limit:])
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() {}
