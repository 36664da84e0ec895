package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrReverted is wrapped by SubmissionError when the ledger executed and
	// rejected a transaction.
	ErrReverted = errors.New("transaction reverted")
	// ErrBlockUnavailable is returned by proof providers when the requested
	// block is unknown or its state has been pruned.
	ErrBlockUnavailable = errors.New("block state unavailable")
	// ErrMessageHashMismatch means the two sides disagree about which message
	// they track. It is protocol-fatal for that message.
	ErrMessageHashMismatch = errors.New("declared message hash differs from canonical hash")
	// ErrUnsupportedOnSide is returned by gateways asked for an operation the
	// contract on their ledger does not have.
	ErrUnsupportedOnSide = errors.New("operation not supported on this ledger side")
)

// ValidationError reports malformed or missing input. Nothing was submitted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// PreconditionError means the caller must act outside the coordinator, for
// example grant an allowance, before retrying.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition not met: " + e.Reason
}

// SequencingError means an action was attempted before its prerequisite
// state exists on the ledger. It points at caller logic, not a transient.
type SequencingError struct {
	Op     string
	Side   Side
	Box    Box
	Status MessageStatus
}

func (e *SequencingError) Error() string {
	return fmt.Sprintf("%s: %s %s status is %s", e.Op, e.Side, e.Box, e.Status)
}

// ProofErrorKind separates retry-after-waiting conditions from bad data.
type ProofErrorKind int

const (
	ProofCheckpointStale ProofErrorKind = iota
	ProofCheckpointUnavailable
	ProofKeyAbsent
	ProofMalformed
)

func (k ProofErrorKind) String() string {
	switch k {
	case ProofCheckpointStale:
		return "checkpoint stale"
	case ProofCheckpointUnavailable:
		return "checkpoint unavailable"
	case ProofKeyAbsent:
		return "key absent"
	default:
		return "malformed proof"
	}
}

// ProofError reports a failure to obtain usable proof material.
type ProofError struct {
	Kind ProofErrorKind
	Err  error
}

func (e *ProofError) Error() string {
	if e.Err == nil {
		return "proof: " + e.Kind.String()
	}
	return fmt.Sprintf("proof: %s: %v", e.Kind, e.Err)
}

func (e *ProofError) Unwrap() error { return e.Err }

// SubmissionError wraps a failed or rejected ledger transaction.
type SubmissionError struct {
	Op   string
	Side Side
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s on %s: %v", e.Op, e.Side, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// IsRetryable reports whether re-invoking the same call later, without
// changing input or ledger state by hand, can succeed.
func IsRetryable(err error) bool {
	var pe *ProofError
	if errors.As(err, &pe) {
		return pe.Kind != ProofMalformed
	}
	return false
}

// ErrorKind names the category of err for metrics labels and API responses.
// A joined error reports the kind of its first categorized member.
func ErrorKind(err error) string {
	var (
		ve *ValidationError
		pe *PreconditionError
		se *SequencingError
		fe *ProofError
		be *SubmissionError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &pe):
		return "precondition"
	case errors.As(err, &se):
		return "sequencing"
	case errors.As(err, &fe):
		return "proof"
	case errors.Is(err, ErrMessageHashMismatch):
		return "hash_mismatch"
	case errors.As(err, &be):
		return "submission"
	default:
		return "internal"
	}
}
