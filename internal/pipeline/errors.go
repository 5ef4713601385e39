package pipeline

import (
	"errors"
	"fmt"
)

// Reason classifies why an event was dropped.
type Reason string

const (
	ReasonDecode     Reason = "DecodeError"
	ReasonMissingKey Reason = "MissingKeyError"
	ReasonStoreFetch Reason = "StoreFetchError"
	ReasonInference  Reason = "InferenceError"
)

// ErrShapeMismatch is returned when the reconstruction does not match the
// shape of the submitted sequence.
var ErrShapeMismatch = errors.New("reconstruction shape mismatch")

// DropError marks an event that is permanently dropped. Drops are reported
// to the dead-letter sink and never retried.
type DropError struct {
	Reason Reason
	UserID string
	Err    error
}

func (e *DropError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *DropError) Unwrap() error { return e.Err }

// Is matches any *DropError with the same reason, so callers can write
// errors.Is(err, &pipeline.DropError{Reason: pipeline.ReasonDecode}).
func (e *DropError) Is(target error) bool {
	t, ok := target.(*DropError)
	return ok && t.Reason == e.Reason
}

func drop(reason Reason, userID string, err error) *DropError {
	return &DropError{Reason: reason, UserID: userID, Err: err}
}
