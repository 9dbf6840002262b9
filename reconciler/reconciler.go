package reconciler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"ledgerwork-backend/core/marketplace"
	"ledgerwork-backend/escrow"
	storage "ledgerwork-backend/storage/marketplace"
)

// ReasonMissingLinkage is the rejection reason a worker sees when an approved
// submission belongs to a task that was never mirrored on-chain. A missing
// on-chain id is a permanent precondition failure and is never retried.
const ReasonMissingLinkage = "missing on-chain linkage: task has no escrow contract id"

// Failure codes recorded on failed payments.
const (
	FailureReverted       = "contract_reverted"
	FailureRetryExhausted = "retry_exhausted"
)

// EscrowClient is the slice of the chain facade the reconciler drives.
type EscrowClient interface {
	ApproveSubmission(ctx context.Context, onChainID int64) (*escrow.ReleaseReceipt, error)
	RejectSubmission(ctx context.Context, onChainID int64) (string, error)
	GetTask(ctx context.Context, onChainID int64) (escrow.TaskState, error)
}

// IDGenerator supplies payment identifiers; swapped in tests.
type IDGenerator func() string

// Config tunes the reconciliation workers.
type Config struct {
	Workers     int
	MaxAttempts int
	RetryBase   time.Duration
	QueueSize   int
}

// DefaultConfig matches the release retry budget: 3 attempts, 2s base backoff.
func DefaultConfig() Config {
	return Config{Workers: 4, MaxAttempts: 3, RetryBase: 2 * time.Second, QueueSize: 256}
}

type releaseJob struct {
	submissionID string
	taskID       string
	worker       string
	amountUnits  int64
	onChainID    int64
	paymentID    string
}

// Reconciler consumes verification verdicts and drives escrow releases,
// keeping the record store and the contract in agreement. Intent is persisted
// before any broadcast and every step is keyed on the submission, so a restart
// mid-release resumes instead of double-spending.
type Reconciler struct {
	store storage.Store
	chain EscrowClient
	cfg   Config
	newID IDGenerator

	queue  chan releaseJob
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// inflight guards one release attempt per (task, worker) pair.
	inflightMu sync.Mutex
	inflight   map[string]bool

	verdicts *prometheus.CounterVec
	releases *prometheus.CounterVec
	dupes    prometheus.Counter
}

// New builds a Reconciler. A nil idGen defaults to random UUIDs.
func New(store storage.Store, chain EscrowClient, cfg Config, idGen IDGenerator) *Reconciler {
	if idGen == nil {
		idGen = uuid.NewString
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Reconciler{
		store:    store,
		chain:    chain,
		cfg:      cfg,
		newID:    idGen,
		queue:    make(chan releaseJob, cfg.QueueSize),
		inflight: make(map[string]bool),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerwork_reconciler_verdicts_total",
			Help: "Verification verdicts accepted, by outcome.",
		}, []string{"outcome"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerwork_reconciler_releases_total",
			Help: "Payment release attempts, by result.",
		}, []string{"result"}),
		dupes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerwork_reconciler_duplicate_verdicts_total",
			Help: "Verdicts dropped because the submission was already resolved.",
		}),
	}
}

// Register attaches the reconciler's metrics to a Prometheus registry.
func (r *Reconciler) Register(reg prometheus.Registerer) {
	reg.MustRegister(r.verdicts, r.releases, r.dupes)
}

// Start launches the worker pool and re-enqueues unfinished releases from a
// previous run.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-r.queue:
					r.processRelease(ctx, job)
				}
			}
		}()
	}
	if err := r.resume(ctx); err != nil {
		log.Printf("reconciler: resume scan failed: %v", err)
	}
}

// Stop drains the workers.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// StartExpirySweeper periodically moves open tasks past their deadline to
// EXPIRED so they stop accepting submissions.
func (r *Reconciler) StartExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.sweepExpired(ctx)
			}
		}
	}()
}

func (r *Reconciler) sweepExpired(ctx context.Context) {
	for _, status := range []string{marketplace.TaskOpen, marketplace.TaskInProgress} {
		tasks, err := r.store.ListTasks(ctx, marketplace.TaskFilter{Status: status})
		if err != nil {
			log.Printf("reconciler: expiry scan failed: %v", err)
			return
		}
		for _, task := range tasks {
			if task.ExpiresAt.IsZero() || time.Now().Before(task.ExpiresAt) {
				continue
			}
			if err := r.store.SetTaskStatus(ctx, task.TaskID, marketplace.TaskExpired); err != nil {
				log.Printf("reconciler: failed to expire task %s: %v", task.TaskID, err)
				continue
			}
			log.Printf("reconciler: task %s expired", task.TaskID)
			_ = r.store.AppendEvent(ctx, marketplace.Event{
				Type:     "task_expired",
				EntityID: task.TaskID,
				Actor:    "reconciler",
				Message:  fmt.Sprintf("task %q expired unclaimed", task.Title),
			})
		}
	}
}

// resume re-enqueues approved submissions that never got a payment tx hash.
// Keying everything on the submission id makes the scan idempotent.
func (r *Reconciler) resume(ctx context.Context) error {
	subs, err := r.store.ListSubmissions(ctx, "", marketplace.SubmissionApproved)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.PaymentTxHash != "" {
			continue
		}
		if p, err := r.store.GetPaymentByPair(ctx, sub.TaskID, sub.WorkerWallet); err == nil && p.Status != marketplace.PaymentPending {
			continue
		}
		if err := r.scheduleRelease(ctx, sub); err != nil {
			log.Printf("reconciler: resume of submission %s failed: %v", sub.SubmissionID, err)
		}
	}
	return nil
}

// HandleVerification applies the AI judge's verdict to a submission.
// Delivery is exactly-once per submission: a second verdict for the same
// submission is logged, counted and dropped.
func (r *Reconciler) HandleVerification(ctx context.Context, submissionID string, res marketplace.VerificationResult) error {
	if err := marketplace.ValidateVerification(submissionID, res); err != nil {
		return fmt.Errorf("invalid verification: %w", err)
	}

	err := r.store.MarkSubmissionVerified(ctx, submissionID, res)
	if err == storage.ErrAlreadyVerified {
		log.Printf("reconciler: duplicate verdict for submission %s ignored", submissionID)
		r.dupes.Inc()
		return nil
	}
	if err != nil {
		return err
	}

	outcome := "rejected"
	if res.Approved {
		outcome = "approved"
	}
	r.verdicts.WithLabelValues(outcome).Inc()
	_ = r.store.AppendEvent(ctx, marketplace.Event{
		Type:     "verdict",
		EntityID: submissionID,
		Actor:    "verifier",
		Message:  fmt.Sprintf("submission %s %s (score %d)", submissionID, outcome, res.Score),
	})

	sub, err := r.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	if !res.Approved {
		r.refundEscrow(ctx, sub)
		return nil
	}
	return r.scheduleRelease(ctx, sub)
}

// refundEscrow returns a mirrored task's locked funds to the requester once a
// rejected verdict means no submission can claim them anymore. Best effort:
// a failed reject leaves the escrow to the contract's expiry refund.
func (r *Reconciler) refundEscrow(ctx context.Context, sub marketplace.Submission) {
	task, err := r.store.GetTask(ctx, sub.TaskID)
	if err != nil || task.OnChainID == nil {
		return
	}
	accepting := task.Status == marketplace.TaskOpen || task.Status == marketplace.TaskInProgress
	if accepting && (task.MaxSubmissions <= 0 || task.SubmissionCount < task.MaxSubmissions) {
		return // more submissions may still arrive
	}
	siblings, err := r.store.ListSubmissions(ctx, sub.TaskID, "")
	if err != nil {
		log.Printf("reconciler: sibling scan for task %s failed: %v", sub.TaskID, err)
		return
	}
	for _, other := range siblings {
		if other.SubmissionID == sub.SubmissionID {
			continue
		}
		if other.Status == marketplace.SubmissionPending || other.Status == marketplace.SubmissionApproved {
			return // escrow may still be claimed
		}
	}
	txHash, err := r.chain.RejectSubmission(ctx, *task.OnChainID)
	if err != nil {
		log.Printf("reconciler: on-chain reject for submission %s failed: %v", sub.SubmissionID, err)
		return
	}
	r.releases.WithLabelValues("refunded").Inc()
	_ = r.store.AppendEvent(ctx, marketplace.Event{
		Type:     "escrow_refunded",
		EntityID: sub.TaskID,
		Actor:    "reconciler",
		Message:  fmt.Sprintf("escrow for task %s returned to requester after rejected submission %s (tx %s)", sub.TaskID, sub.SubmissionID, txHash),
	})
	log.Printf("reconciler: escrow for task %s refunded, tx %s", sub.TaskID, txHash)
}

// scheduleRelease checks the release preconditions, persists payment intent
// and hands the pair to a worker. At most one release per (task, worker) pair
// is in flight at any time.
func (r *Reconciler) scheduleRelease(ctx context.Context, sub marketplace.Submission) error {
	task, err := r.store.GetTask(ctx, sub.TaskID)
	if err != nil {
		return err
	}

	if task.OnChainID == nil {
		// Permanent precondition failure: without a contract handle there is
		// nothing to release against. Reject with an actionable reason rather
		// than leaving the worker on a payment that can never arrive.
		log.Printf("reconciler: task %s has no on-chain id, rejecting submission %s", task.TaskID, sub.SubmissionID)
		r.releases.WithLabelValues("missing_linkage").Inc()
		if err := r.store.RejectSubmission(ctx, sub.SubmissionID, ReasonMissingLinkage); err != nil {
			return err
		}
		return r.store.AppendEvent(ctx, marketplace.Event{
			Type:     "payment_failed",
			EntityID: sub.SubmissionID,
			Actor:    "reconciler",
			Message:  fmt.Sprintf("submission %s rejected: %s", sub.SubmissionID, ReasonMissingLinkage),
		})
	}

	key := pairKey(sub.TaskID, sub.WorkerWallet)
	r.inflightMu.Lock()
	if r.inflight[key] {
		r.inflightMu.Unlock()
		log.Printf("reconciler: release already in flight for task %s worker %s, dropping duplicate trigger", sub.TaskID, sub.WorkerWallet)
		return nil
	}
	r.inflight[key] = true
	r.inflightMu.Unlock()

	// A PENDING row for this pair is intent persisted by a run that died
	// before its broadcast settled. Adopt it so the restart resumes that
	// payment instead of stranding it behind a fresh row.
	var paymentID string
	existing, err := r.store.GetPaymentByPair(ctx, sub.TaskID, sub.WorkerWallet)
	switch {
	case err == nil && existing.Status == marketplace.PaymentCompleted:
		r.clearInflight(key)
		log.Printf("reconciler: task %s worker %s already paid, skipping", sub.TaskID, sub.WorkerWallet)
		return nil
	case err == nil && existing.Status == marketplace.PaymentPending:
		paymentID = existing.PaymentID
	case err != nil && err != storage.ErrPaymentNotFound:
		r.clearInflight(key)
		return err
	}

	if paymentID == "" {
		payment := marketplace.Payment{
			PaymentID:    r.newID(),
			TaskID:       sub.TaskID,
			WorkerWallet: sub.WorkerWallet,
			AmountUnits:  task.AmountUnits,
			Status:       marketplace.PaymentPending,
		}
		if err := r.store.CreatePayment(ctx, payment); err != nil {
			r.clearInflight(key)
			if err == storage.ErrDuplicatePayment {
				log.Printf("reconciler: task %s worker %s already paid, skipping", sub.TaskID, sub.WorkerWallet)
				return nil
			}
			return err
		}
		paymentID = payment.PaymentID
	}

	job := releaseJob{
		submissionID: sub.SubmissionID,
		taskID:       sub.TaskID,
		worker:       sub.WorkerWallet,
		amountUnits:  task.AmountUnits,
		onChainID:    *task.OnChainID,
		paymentID:    paymentID,
	}
	select {
	case r.queue <- job:
		return nil
	case <-ctx.Done():
		r.clearInflight(key)
		return ctx.Err()
	}
}

// processRelease drives one release attempt through confirmation, retrying
// transient failures with exponential backoff inside a bounded budget.
func (r *Reconciler) processRelease(ctx context.Context, job releaseJob) {
	defer r.clearInflight(pairKey(job.taskID, job.worker))

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		receipt, err := r.chain.ApproveSubmission(ctx, job.onChainID)
		if err == nil {
			r.finishRelease(ctx, job, receipt.TxHash)
			return
		}
		lastErr = err

		if escrow.IsRevert(err) {
			log.Printf("reconciler: release for submission %s reverted: %v", job.submissionID, err)
			r.failRelease(ctx, job, FailureReverted, err.Error())
			return
		}

		if escrow.IsUnknownOutcome(err) {
			// The transaction may have landed. Re-query the contract before
			// deciding; re-broadcasting an unknown-status release is how
			// double payments happen.
			state, qerr := r.chain.GetTask(ctx, job.onChainID)
			if qerr == nil && state.Status == "settled" {
				log.Printf("reconciler: submission %s release confirmed via state re-query", job.submissionID)
				r.finishRelease(ctx, job, txHashFromError(err))
				return
			}
		}

		if attempt < r.cfg.MaxAttempts {
			backoff := r.cfg.RetryBase * time.Duration(1<<(attempt-1))
			log.Printf("reconciler: release attempt %d/%d for submission %s failed (%v), retrying in %s",
				attempt, r.cfg.MaxAttempts, job.submissionID, err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}

	log.Printf("reconciler: release for submission %s failed after %d attempts: %v", job.submissionID, r.cfg.MaxAttempts, lastErr)
	r.failRelease(ctx, job, FailureRetryExhausted, fmt.Sprintf("after %d attempts: %v", r.cfg.MaxAttempts, lastErr))
}

// finishRelease records a confirmed on-chain release in the store.
func (r *Reconciler) finishRelease(ctx context.Context, job releaseJob, txHash string) {
	if err := r.store.CompletePayment(ctx, job.paymentID, txHash); err != nil {
		if err == storage.ErrDuplicatePayment || err == storage.ErrPaymentSettled {
			log.Printf("reconciler: payment %s already settled", job.paymentID)
			return
		}
		log.Printf("reconciler: failed to record completed payment %s: %v", job.paymentID, err)
		return
	}
	if err := r.store.SetSubmissionPaymentTx(ctx, job.submissionID, txHash); err != nil {
		log.Printf("reconciler: failed to record tx hash on submission %s: %v", job.submissionID, err)
	}
	if err := r.store.SetTaskStatus(ctx, job.taskID, marketplace.TaskCompleted); err != nil {
		log.Printf("reconciler: failed to mark task %s completed: %v", job.taskID, err)
	}
	r.releases.WithLabelValues("confirmed").Inc()
	_ = r.store.AppendEvent(ctx, marketplace.Event{
		Type:     "payment_released",
		EntityID: job.paymentID,
		Actor:    "reconciler",
		Message:  fmt.Sprintf("released %d units to %s for task %s (tx %s)", job.amountUnits, job.worker, job.taskID, txHash),
	})
	log.Printf("reconciler: payment %s completed, tx %s", job.paymentID, txHash)
}

// failRelease records a terminal failure with diagnostics for operators.
func (r *Reconciler) failRelease(ctx context.Context, job releaseJob, code, detail string) {
	if err := r.store.FailPayment(ctx, job.paymentID, code, detail); err != nil {
		log.Printf("reconciler: failed to record failed payment %s: %v", job.paymentID, err)
	}
	r.releases.WithLabelValues("failed").Inc()
	_ = r.store.AppendEvent(ctx, marketplace.Event{
		Type:     "payment_failed",
		EntityID: job.paymentID,
		Actor:    "reconciler",
		Message:  fmt.Sprintf("release for task %s worker %s failed: %s", job.taskID, job.worker, code),
	})
}

func (r *Reconciler) clearInflight(key string) {
	r.inflightMu.Lock()
	delete(r.inflight, key)
	r.inflightMu.Unlock()
}

func pairKey(taskID, worker string) string {
	return taskID + "|" + strings.ToLower(strings.TrimSpace(worker))
}

func txHashFromError(err error) string {
	if ce, ok := err.(*escrow.ChainError); ok {
		return ce.TxHash
	}
	return ""
}
