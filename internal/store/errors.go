package store

import (
	"errors"
	"fmt"

	"skipline/internal/models"
)

var (
	ErrQueueNotFound        = errors.New("queue not found")
	ErrEntryNotFound        = errors.New("entry not found")
	ErrQueueInactive        = errors.New("queue inactive")
	ErrAlreadyInQueue       = errors.New("already in queue")
	ErrQueueFull            = errors.New("queue full")
	ErrInvalidTransition    = errors.New("invalid entry transition")
	ErrNotOwner             = errors.New("not queue owner")
	ErrNothingWaiting       = errors.New("nothing waiting")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidInput         = errors.New("invalid input")
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindForbidden
	KindUnavailable
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindUnavailable:
		return "unavailable"
	case KindInvalid:
		return "invalid"
	default:
		return "internal"
	}
}

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrQueueNotFound, KindNotFound},
	{ErrEntryNotFound, KindNotFound},
	{ErrSessionNotFound, KindNotFound},
	{ErrSubscriptionNotFound, KindNotFound},
	{ErrAlreadyInQueue, KindConflict},
	{ErrQueueFull, KindConflict},
	{ErrInvalidTransition, KindConflict},
	{ErrNothingWaiting, KindConflict},
	{ErrNotOwner, KindForbidden},
	{ErrQueueInactive, KindUnavailable},
	{ErrInvalidInput, KindInvalid},
}

// KindOf classifies err. Anything that is not a known business error is
// internal.
func KindOf(err error) Kind {
	var internal *InternalError
	if errors.As(err, &internal) {
		return KindInternal
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// InternalError marks a persistence failure. It may leave the store in a state
// that needs operator attention, so it is never retried.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Wrap returns business errors unchanged and wraps everything else as an
// InternalError for op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindInternal {
		return err
	}
	var internal *InternalError
	if errors.As(err, &internal) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

// AlreadyInQueueError carries the entry that already holds a place for the
// same phone.
type AlreadyInQueueError struct {
	Entry models.Entry
}

func (e *AlreadyInQueueError) Error() string {
	return ErrAlreadyInQueue.Error()
}

func (e *AlreadyInQueueError) Is(target error) bool {
	return target == ErrAlreadyInQueue
}

func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
