package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition rejects a move the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrIgnoredRequiresForce rejects leaving IGNORED without ForceUnignore.
	ErrIgnoredRequiresForce = errors.New("ignored item requires force unignore")
	// ErrDuplicateInBatch rejects repeated keys within one batch.
	ErrDuplicateInBatch = errors.New("duplicate key in batch")
	// ErrVersionConflict is returned by a RecordStore when the stored version
	// no longer matches the expected one.
	ErrVersionConflict = errors.New("record version conflict")
)

// TransitionError describes a rejected transition.
type TransitionError struct {
	Key  Key
	From Status
	To   Status
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s: %v", e.Key, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }
