package marketplace

// Err is a simple string error helper.
type Err string

func (e Err) Error() string { return string(e) }

var (
	ErrTaskNotFound       = Err("task not found")
	ErrSubmissionNotFound = Err("submission not found")
	ErrPaymentNotFound    = Err("payment not found")
	ErrTaskClosed         = Err("task is not accepting submissions")
	ErrSubmissionLimit    = Err("task reached its submission limit")
	ErrAlreadyVerified    = Err("submission already verified")
	ErrPaymentSettled     = Err("payment already settled")
	ErrDuplicatePayment   = Err("a completed payment already exists for this task and worker")
)
