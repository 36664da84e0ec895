package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&ProofError{Kind: ProofCheckpointStale}, true},
		{&ProofError{Kind: ProofCheckpointUnavailable, Err: ErrBlockUnavailable}, true},
		{fmt.Errorf("confirm: %w", &ProofError{Kind: ProofKeyAbsent}), true},
		{&ProofError{Kind: ProofMalformed}, false},
		{&SubmissionError{Op: "progressStake", Err: ErrReverted}, false},
		{&ValidationError{Field: "amount"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryable(tt.err), "%v", tt.err)
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("outer: %w", &SubmissionError{Op: "stake", Side: Origin, Err: ErrReverted})
	require.ErrorIs(t, err, ErrReverted)
	require.Contains(t, err.Error(), "submit stake on origin")

	perr := &ProofError{Kind: ProofCheckpointUnavailable, Err: ErrBlockUnavailable}
	require.ErrorIs(t, perr, ErrBlockUnavailable)

	var seq *SequencingError
	require.True(t, errors.As(fmt.Errorf("x: %w", &SequencingError{Op: "progressMint", Side: Auxiliary, Box: Inbox, Status: Undeclared}), &seq))
	require.Equal(t, "progressMint: auxiliary inbox status is undeclared", seq.Error())
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{invalid("amount", "missing"), "validation"},
		{&PreconditionError{Reason: "allowance"}, "precondition"},
		{&SequencingError{Op: "confirmStakeIntent"}, "sequencing"},
		{&ProofError{Kind: ProofKeyAbsent}, "proof"},
		{fmt.Errorf("stake: %w", ErrMessageHashMismatch), "hash_mismatch"},
		{&SubmissionError{Op: "progressMint", Err: ErrReverted}, "submission"},
		{errors.Join(fmt.Errorf("origin: %w", &SubmissionError{Op: "progressStake"})), "submission"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), "%v", tt.err)
	}
}
