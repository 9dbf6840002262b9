package marketplace

import (
	"fmt"
	"strings"
)

// ValidateVerification checks a verdict payload at the intake boundary.
// Malformed verdicts are rejected here and never reach the reconciler.
func ValidateVerification(submissionID string, res VerificationResult) error {
	if strings.TrimSpace(submissionID) == "" {
		return fmt.Errorf("submission_id is required")
	}
	if res.Score < 0 || res.Score > 100 {
		return fmt.Errorf("score %d out of range 0-100", res.Score)
	}
	if strings.TrimSpace(res.Reasoning) == "" {
		return fmt.Errorf("reasoning must not be empty")
	}
	return nil
}
