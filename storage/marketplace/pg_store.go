package marketplace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledgerwork-backend/core/marketplace"
)

// PGStore persists marketplace state in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects and initializes the schema.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS lw_tasks (
  task_id TEXT PRIMARY KEY,
  requester_wallet TEXT NOT NULL,
  title TEXT,
  description TEXT,
  task_type TEXT,
  amount_units BIGINT NOT NULL,
  status TEXT NOT NULL,
  max_submissions INT NOT NULL DEFAULT 0,
  submission_count INT NOT NULL DEFAULT 0,
  on_chain_task_id BIGINT,
  expires_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  completed_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS lw_submissions (
  submission_id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL REFERENCES lw_tasks(task_id),
  worker_wallet TEXT NOT NULL,
  payload JSONB,
  status TEXT NOT NULL,
  verification JSONB,
  rejection_reason TEXT,
  payment_tx_hash TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS lw_payments (
  payment_id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  worker_wallet TEXT NOT NULL,
  amount_units BIGINT NOT NULL,
  status TEXT NOT NULL,
  tx_hash TEXT,
  failure_code TEXT,
  failure_detail TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  settled_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS lw_events (
  id BIGSERIAL PRIMARY KEY,
  type TEXT NOT NULL,
  entity_id TEXT,
  actor TEXT,
  message TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_lw_tasks_status ON lw_tasks(status);
CREATE INDEX IF NOT EXISTS idx_lw_submissions_task_status ON lw_submissions(task_id, status);
-- At most one COMPLETED payment per (task, worker) pair, enforced even when the
-- reconciler runs as multiple processes.
CREATE UNIQUE INDEX IF NOT EXISTS uq_lw_payments_completed_pair
  ON lw_payments(task_id, lower(worker_wallet)) WHERE status = 'COMPLETED';
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close shuts down the pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// CreateTask inserts a task record.
func (s *PGStore) CreateTask(ctx context.Context, t marketplace.Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO lw_tasks (task_id, requester_wallet, title, description, task_type, amount_units, status, max_submissions, submission_count, on_chain_task_id, expires_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`, t.TaskID, t.Requester, t.Title, t.Description, string(t.Type), t.AmountUnits, t.Status, t.MaxSubmissions, t.SubmissionCount, t.OnChainID, t.ExpiresAt, t.CreatedAt)
	return err
}

// GetTask returns a task by ID.
func (s *PGStore) GetTask(ctx context.Context, taskID string) (marketplace.Task, error) {
	row := s.pool.QueryRow(ctx, `
SELECT task_id, requester_wallet, title, description, task_type, amount_units, status, max_submissions, submission_count, on_chain_task_id, expires_at, created_at, completed_at
FROM lw_tasks WHERE task_id=$1
`, taskID)
	return scanTaskRow(row)
}

// ListTasks returns tasks filtered by status, requester and type.
func (s *PGStore) ListTasks(ctx context.Context, filter marketplace.TaskFilter) ([]marketplace.Task, error) {
	rows, err := s.pool.Query(ctx, `
SELECT task_id, requester_wallet, title, description, task_type, amount_units, status, max_submissions, submission_count, on_chain_task_id, expires_at, created_at, completed_at
FROM lw_tasks
WHERE ($1 = '' OR status = $1)
AND ($2 = '' OR lower(requester_wallet) = lower($2))
AND ($3 = '' OR task_type = $3)
ORDER BY created_at DESC
`, filter.Status, filter.Requester, string(filter.Type))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []marketplace.Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, rows.Err()
}

// SetTaskOnChainID records the escrow contract handle for a task.
func (s *PGStore) SetTaskOnChainID(ctx context.Context, taskID string, onChainID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE lw_tasks SET on_chain_task_id=$2 WHERE task_id=$1`, taskID, onChainID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// SetTaskStatus updates the task status.
func (s *PGStore) SetTaskStatus(ctx context.Context, taskID, status string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE lw_tasks SET status=$2,
  completed_at = CASE WHEN $2 = 'COMPLETED' AND completed_at IS NULL THEN now() ELSE completed_at END
WHERE task_id=$1
`, taskID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// CreateSubmission inserts a submission and bumps the task counter in one
// transaction. The guarded UPDATE is the gate: zero rows affected means the
// task is missing, closed, expired or at its submission limit.
func (s *PGStore) CreateSubmission(ctx context.Context, sub marketplace.Submission) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE lw_tasks SET
  submission_count = submission_count + 1,
  status = CASE WHEN status = 'OPEN' THEN 'IN_PROGRESS' ELSE status END
WHERE task_id = $1
  AND status IN ('OPEN','IN_PROGRESS')
  AND (expires_at IS NULL OR expires_at > now())
  AND (max_submissions = 0 OR submission_count < max_submissions)
`, sub.TaskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.classifySubmissionGate(ctx, sub.TaskID)
	}

	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	if sub.Status == "" {
		sub.Status = marketplace.SubmissionPending
	}
	payloadJSON, _ := json.Marshal(sub.Payload)
	if _, err := tx.Exec(ctx, `
INSERT INTO lw_submissions (submission_id, task_id, worker_wallet, payload, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, sub.SubmissionID, sub.TaskID, sub.WorkerWallet, string(payloadJSON), sub.Status, sub.CreatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) classifySubmissionGate(ctx context.Context, taskID string) error {
	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.MaxSubmissions > 0 && t.SubmissionCount >= t.MaxSubmissions {
		return ErrSubmissionLimit
	}
	return ErrTaskClosed
}

// GetSubmission returns a submission by ID.
func (s *PGStore) GetSubmission(ctx context.Context, submissionID string) (marketplace.Submission, error) {
	row := s.pool.QueryRow(ctx, `
SELECT submission_id, task_id, worker_wallet, payload, status, verification, rejection_reason, payment_tx_hash, created_at
FROM lw_submissions WHERE submission_id=$1
`, submissionID)
	return scanSubmissionRow(row)
}

// ListSubmissions returns submissions filtered by task and status.
func (s *PGStore) ListSubmissions(ctx context.Context, taskID, status string) ([]marketplace.Submission, error) {
	rows, err := s.pool.Query(ctx, `
SELECT submission_id, task_id, worker_wallet, payload, status, verification, rejection_reason, payment_tx_hash, created_at
FROM lw_submissions
WHERE ($1 = '' OR task_id = $1)
AND ($2 = '' OR status = $2)
ORDER BY created_at
`, taskID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []marketplace.Submission
	for rows.Next() {
		sub, err := scanSubmissionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// MarkSubmissionVerified applies a verdict with a conditional update so that
// only one delivery can ever leave PENDING.
func (s *PGStore) MarkSubmissionVerified(ctx context.Context, submissionID string, res marketplace.VerificationResult) error {
	status := marketplace.SubmissionRejected
	reason := res.Reasoning
	if res.Approved {
		status = marketplace.SubmissionApproved
		reason = ""
	}
	verJSON, _ := json.Marshal(res)
	tag, err := s.pool.Exec(ctx, `
UPDATE lw_submissions SET status=$2, verification=$3, rejection_reason=NULLIF($4,'')
WHERE submission_id=$1 AND status='PENDING'
`, submissionID, status, string(verJSON), reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetSubmission(ctx, submissionID); err != nil {
			return err
		}
		return ErrAlreadyVerified
	}
	return nil
}

// RejectSubmission forces a submission to REJECTED with a reason.
func (s *PGStore) RejectSubmission(ctx context.Context, submissionID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE lw_submissions SET status='REJECTED', rejection_reason=$2 WHERE submission_id=$1
`, submissionID, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

// SetSubmissionPaymentTx records the release transaction hash.
func (s *PGStore) SetSubmissionPaymentTx(ctx context.Context, submissionID, txHash string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE lw_submissions SET payment_tx_hash=$2 WHERE submission_id=$1
`, submissionID, txHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

// CreatePayment persists release intent before any chain call.
func (s *PGStore) CreatePayment(ctx context.Context, p marketplace.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Status == "" {
		p.Status = marketplace.PaymentPending
	}
	var done bool
	if err := s.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM lw_payments WHERE task_id=$1 AND lower(worker_wallet)=lower($2) AND status='COMPLETED')
`, p.TaskID, p.WorkerWallet).Scan(&done); err != nil {
		return err
	}
	if done {
		return ErrDuplicatePayment
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO lw_payments (payment_id, task_id, worker_wallet, amount_units, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, p.PaymentID, p.TaskID, p.WorkerWallet, p.AmountUnits, p.Status, p.CreatedAt)
	return err
}

// GetPayment returns a payment by ID.
func (s *PGStore) GetPayment(ctx context.Context, paymentID string) (marketplace.Payment, error) {
	row := s.pool.QueryRow(ctx, `
SELECT payment_id, task_id, worker_wallet, amount_units, status, tx_hash, failure_code, failure_detail, created_at, settled_at
FROM lw_payments WHERE payment_id=$1
`, paymentID)
	return scanPaymentRow(row)
}

// GetPaymentByPair returns the most recent payment for a (task, worker) pair.
func (s *PGStore) GetPaymentByPair(ctx context.Context, taskID, workerWallet string) (marketplace.Payment, error) {
	row := s.pool.QueryRow(ctx, `
SELECT payment_id, task_id, worker_wallet, amount_units, status, tx_hash, failure_code, failure_detail, created_at, settled_at
FROM lw_payments WHERE task_id=$1 AND lower(worker_wallet)=lower($2)
ORDER BY created_at DESC LIMIT 1
`, taskID, workerWallet)
	return scanPaymentRow(row)
}

// CompletePayment settles a pending payment. The partial unique index turns a
// concurrent double-settle into ErrDuplicatePayment instead of a second row.
func (s *PGStore) CompletePayment(ctx context.Context, paymentID, txHash string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE lw_payments SET status='COMPLETED', tx_hash=$2, settled_at=now()
WHERE payment_id=$1 AND status='PENDING'
`, paymentID, txHash)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePayment
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetPayment(ctx, paymentID); err != nil {
			return err
		}
		return ErrPaymentSettled
	}
	return nil
}

// FailPayment marks a pending payment failed with diagnostics.
func (s *PGStore) FailPayment(ctx context.Context, paymentID, code, detail string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE lw_payments SET status='FAILED', failure_code=$2, failure_detail=$3, settled_at=now()
WHERE payment_id=$1 AND status='PENDING'
`, paymentID, code, detail)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetPayment(ctx, paymentID); err != nil {
			return err
		}
		return ErrPaymentSettled
	}
	return nil
}

// AppendEvent records an activity entry.
func (s *PGStore) AppendEvent(ctx context.Context, ev marketplace.Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO lw_events (type, entity_id, actor, message, created_at) VALUES ($1,$2,$3,$4,$5)
`, ev.Type, ev.EntityID, ev.Actor, ev.Message, ev.CreatedAt)
	return err
}

// ListEvents returns the most recent events, newest last.
func (s *PGStore) ListEvents(ctx context.Context, limit int) ([]marketplace.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT type, entity_id, actor, message, created_at FROM lw_events ORDER BY id DESC LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []marketplace.Event
	for rows.Next() {
		var ev marketplace.Event
		if err := rows.Scan(&ev.Type, &ev.EntityID, &ev.Actor, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	// Newest last to match the memory store ordering.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// scanTaskRow scans a task from a database row.
func scanTaskRow(scanner interface {
	Scan(dest ...interface{}) error
}) (marketplace.Task, error) {
	var t marketplace.Task
	var taskType string
	var onChainID sql.NullInt64
	var expiresAt, completedAt sql.NullTime
	if err := scanner.Scan(
		&t.TaskID, &t.Requester, &t.Title, &t.Description, &taskType, &t.AmountUnits, &t.Status,
		&t.MaxSubmissions, &t.SubmissionCount, &onChainID, &expiresAt, &t.CreatedAt, &completedAt,
	); err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return marketplace.Task{}, ErrTaskNotFound
		}
		return marketplace.Task{}, err
	}
	t.Type = marketplace.TaskType(taskType)
	if onChainID.Valid {
		id := onChainID.Int64
		t.OnChainID = &id
	}
	if expiresAt.Valid {
		t.ExpiresAt = expiresAt.Time
	}
	if completedAt.Valid {
		c := completedAt.Time
		t.CompletedAt = &c
	}
	return t, nil
}

// scanSubmissionRow scans a submission from a database row.
func scanSubmissionRow(scanner interface {
	Scan(dest ...interface{}) error
}) (marketplace.Submission, error) {
	var sub marketplace.Submission
	var payloadJSON, verJSON []byte
	var reason, txHash sql.NullString
	if err := scanner.Scan(
		&sub.SubmissionID, &sub.TaskID, &sub.WorkerWallet, &payloadJSON, &sub.Status,
		&verJSON, &reason, &txHash, &sub.CreatedAt,
	); err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return marketplace.Submission{}, ErrSubmissionNotFound
		}
		return marketplace.Submission{}, err
	}
	if len(payloadJSON) > 0 {
		_ = json.Unmarshal(payloadJSON, &sub.Payload)
	}
	if len(verJSON) > 0 {
		_ = json.Unmarshal(verJSON, &sub.Verification)
	}
	if reason.Valid {
		sub.RejectionReason = reason.String
	}
	if txHash.Valid {
		sub.PaymentTxHash = txHash.String
	}
	return sub, nil
}

// scanPaymentRow scans a payment from a database row.
func scanPaymentRow(scanner interface {
	Scan(dest ...interface{}) error
}) (marketplace.Payment, error) {
	var p marketplace.Payment
	var txHash, code, detail sql.NullString
	var settledAt sql.NullTime
	if err := scanner.Scan(
		&p.PaymentID, &p.TaskID, &p.WorkerWallet, &p.AmountUnits, &p.Status,
		&txHash, &code, &detail, &p.CreatedAt, &settledAt,
	); err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return marketplace.Payment{}, ErrPaymentNotFound
		}
		return marketplace.Payment{}, err
	}
	if txHash.Valid {
		p.TxHash = txHash.String
	}
	if code.Valid {
		p.FailureCode = code.String
	}
	if detail.Valid {
		p.FailureDetail = detail.String
	}
	if settledAt.Valid {
		s := settledAt.Time
		p.SettledAt = &s
	}
	return p, nil
}
