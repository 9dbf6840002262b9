package escrow

import (
	"errors"
	"fmt"
)

// ErrorClass separates the three outcome classes of a chain call. Only
// ClassRPC (the call never left this process or never reached the chain) is
// safe to retry without risking a double effect.
type ErrorClass int

const (
	// ClassRPC: network or gateway failure before broadcast. Retryable.
	ClassRPC ErrorClass = iota
	// ClassReverted: the contract rejected the call. Terminal.
	ClassReverted
	// ClassUnknown: broadcast but confirmation timed out. The caller must
	// re-query chain state before deciding anything.
	ClassUnknown
)

// ChainError is the typed error for escrow gateway calls.
type ChainError struct {
	Class  ErrorClass
	Op     string
	TxHash string // set when the transaction was broadcast before failing
	Detail string
}

func (e *ChainError) Error() string {
	switch e.Class {
	case ClassReverted:
		return fmt.Sprintf("escrow %s reverted: %s", e.Op, e.Detail)
	case ClassUnknown:
		return fmt.Sprintf("escrow %s outcome unknown (tx %s): %s", e.Op, e.TxHash, e.Detail)
	default:
		return fmt.Sprintf("escrow %s rpc failure: %s", e.Op, e.Detail)
	}
}

// IsRevert reports whether err is a contract-level rejection.
func IsRevert(err error) bool {
	var ce *ChainError
	return errors.As(err, &ce) && ce.Class == ClassReverted
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	var ce *ChainError
	return errors.As(err, &ce) && ce.Class == ClassRPC
}

// IsUnknownOutcome reports whether err left the transaction in an unknown state.
func IsUnknownOutcome(err error) bool {
	var ce *ChainError
	return errors.As(err, &ce) && ce.Class == ClassUnknown
}
