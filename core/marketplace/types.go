package marketplace

import "time"

// TaskType enumerates the kinds of micro-tasks the marketplace supports.
type TaskType string

const (
	TaskTypeTextVerification  TaskType = "text-verification"
	TaskTypeImageLabeling     TaskType = "image-labeling"
	TaskTypeSurvey            TaskType = "survey"
	TaskTypeContentModeration TaskType = "content-moderation"
)

// ValidTaskType reports whether t is one of the supported task types.
func ValidTaskType(t TaskType) bool {
	switch t {
	case TaskTypeTextVerification, TaskTypeImageLabeling, TaskTypeSurvey, TaskTypeContentModeration:
		return true
	}
	return false
}

// Task is the off-chain record of a unit of work a requester pays for.
type Task struct {
	TaskID          string     `json:"task_id"`
	Requester       string     `json:"requester_wallet"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Type            TaskType   `json:"task_type"`
	AmountUnits     int64      `json:"amount_units"` // payment in base token units
	Status          string     `json:"status"`       // OPEN | IN_PROGRESS | COMPLETED | EXPIRED
	MaxSubmissions  int        `json:"max_submissions"`
	SubmissionCount int        `json:"submission_count"`
	OnChainID       *int64     `json:"on_chain_task_id,omitempty"` // nil: never mirrored to the escrow contract
	ExpiresAt       time.Time  `json:"expires_at"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Task statuses.
const (
	TaskOpen       = "OPEN"
	TaskInProgress = "IN_PROGRESS"
	TaskCompleted  = "COMPLETED"
	TaskExpired    = "EXPIRED"
)

// Submission is a worker's answer to a task.
type Submission struct {
	SubmissionID    string              `json:"submission_id"`
	TaskID          string              `json:"task_id"`
	WorkerWallet    string              `json:"worker_wallet"`
	Payload         map[string]any      `json:"payload,omitempty"`
	Status          string              `json:"status"` // PENDING | APPROVED | REJECTED
	Verification    *VerificationResult `json:"verification,omitempty"`
	RejectionReason string              `json:"rejection_reason,omitempty"`
	PaymentTxHash   string              `json:"payment_tx_hash,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Submission statuses.
const (
	SubmissionPending  = "PENDING"
	SubmissionApproved = "APPROVED"
	SubmissionRejected = "REJECTED"
)

// VerificationResult is the AI judge's verdict for a submission.
type VerificationResult struct {
	Approved  bool   `json:"approved"`
	Score     int    `json:"score"` // 0-100
	Reasoning string `json:"reasoning"`
}

// Payment tracks a single release attempt lifecycle for a (task, worker) pair.
type Payment struct {
	PaymentID     string     `json:"payment_id"`
	TaskID        string     `json:"task_id"`
	WorkerWallet  string     `json:"worker_wallet"`
	AmountUnits   int64      `json:"amount_units"`
	Status        string     `json:"status"` // PENDING | COMPLETED | FAILED
	TxHash        string     `json:"tx_hash,omitempty"`
	FailureCode   string     `json:"failure_code,omitempty"`
	FailureDetail string     `json:"failure_detail,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
}

// Payment statuses.
const (
	PaymentPending   = "PENDING"
	PaymentCompleted = "COMPLETED"
	PaymentFailed    = "FAILED"
)

// TaskFilter captures simple query params for listing tasks.
type TaskFilter struct {
	Status    string
	Requester string
	Type      TaskType
	Limit     int
	Offset    int
}

// Event is a lightweight activity entry for marketplace actions.
type Event struct {
	Type      string    `json:"type"`      // task_created | submission | verdict | payment_released | payment_failed
	EntityID  string    `json:"entity_id"` // task_id, submission_id or payment_id
	Actor     string    `json:"actor"`     // wallet, "verifier" or "reconciler"
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
