package marketplace

import (
	"context"

	"ledgerwork-backend/core/marketplace"
)

// Store is the system of record for tasks, submissions and payments.
// Every state transition is a single atomic update so that concurrent
// reconciler workers cannot race on the same record.
type Store interface {
	CreateTask(ctx context.Context, t marketplace.Task) error
	GetTask(ctx context.Context, taskID string) (marketplace.Task, error)
	ListTasks(ctx context.Context, filter marketplace.TaskFilter) ([]marketplace.Task, error)
	// SetTaskOnChainID records the escrow contract handle for a task.
	SetTaskOnChainID(ctx context.Context, taskID string, onChainID int64) error
	SetTaskStatus(ctx context.Context, taskID, status string) error

	// CreateSubmission persists a submission and bumps the owning task's
	// submission count, moving an OPEN task to IN_PROGRESS.
	CreateSubmission(ctx context.Context, sub marketplace.Submission) error
	GetSubmission(ctx context.Context, submissionID string) (marketplace.Submission, error)
	ListSubmissions(ctx context.Context, taskID, status string) ([]marketplace.Submission, error)
	// MarkSubmissionVerified transitions PENDING -> APPROVED|REJECTED exactly once.
	// A submission that already left PENDING yields ErrAlreadyVerified.
	MarkSubmissionVerified(ctx context.Context, submissionID string, res marketplace.VerificationResult) error
	// RejectSubmission forces a submission to REJECTED with a reason. Used when an
	// approved verdict cannot be paid out (no on-chain linkage).
	RejectSubmission(ctx context.Context, submissionID, reason string) error
	SetSubmissionPaymentTx(ctx context.Context, submissionID, txHash string) error

	CreatePayment(ctx context.Context, p marketplace.Payment) error
	GetPayment(ctx context.Context, paymentID string) (marketplace.Payment, error)
	GetPaymentByPair(ctx context.Context, taskID, workerWallet string) (marketplace.Payment, error)
	// CompletePayment transitions PENDING -> COMPLETED and records the tx hash.
	// At most one payment per (task, worker) pair may ever complete; a second
	// attempt yields ErrDuplicatePayment.
	CompletePayment(ctx context.Context, paymentID, txHash string) error
	FailPayment(ctx context.Context, paymentID, code, detail string) error

	AppendEvent(ctx context.Context, ev marketplace.Event) error
	ListEvents(ctx context.Context, limit int) ([]marketplace.Event, error)

	Close()
}
