package core

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation is matched by every *ProtocolViolation
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrAborted is returned by producers woken up by Abort
	ErrAborted = errors.New("merger aborted")

	// ErrIncomplete is returned when a run ends before every slot is empty
	ErrIncomplete = errors.New("merge incomplete")

	// ErrOverRelease is returned when more size is released than was merged
	ErrOverRelease = errors.New("release exceeds unreleased size")
)

// ProtocolViolation reports a producer breaking the submission contract.
// It indicates a bug in the caller and aborts the merge run.
type ProtocolViolation struct {
	Source  SourceID
	Reason  ViolationReason
	Details string
}

func (e *ProtocolViolation) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("protocol violation by source %q (%s): %s", e.Source, e.Reason, e.Details)
	}
	return fmt.Sprintf("protocol violation by source %q (%s)", e.Source, e.Reason)
}

// Is makes errors.Is(err, ErrProtocolViolation) hold for every violation
func (e *ProtocolViolation) Is(target error) bool {
	return target == ErrProtocolViolation
}

// IsProtocolViolation reports whether err carries a protocol violation with the given reason.
// An empty reason matches any violation.
func IsProtocolViolation(err error, reason ViolationReason) bool {
	var pv *ProtocolViolation
	if !errors.As(err, &pv) {
		return false
	}
	return reason == "" || pv.Reason == reason
}
