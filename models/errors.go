package models

import (
	"errors"
	"fmt"
)

// ErrPredictionNotFound is returned when an evaluation targets an unknown
// prediction id.
var ErrPredictionNotFound = errors.New("prediction not found")

// InsufficientDataError signals that the snapshot history is too short for
// an operation. It is an expected, recoverable condition: the caller fixes
// it by running more simulation steps.
type InsufficientDataError struct {
	Op     string
	Needed int
	Got    int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: need at least %d snapshots, have %d", e.Op, e.Needed, e.Got)
}

// UpstreamModelError wraps a failure of the delegated model service. It is
// always recovered locally via the fallback path and never surfaces past
// the inference engine.
type UpstreamModelError struct {
	Err error
}

func (e *UpstreamModelError) Error() string {
	return fmt.Sprintf("upstream model: %v", e.Err)
}

func (e *UpstreamModelError) Unwrap() error {
	return e.Err
}

// AlreadyEvaluatedError signals a second evaluation attempt on a prediction
// that already received ground truth. The first evaluation stays intact.
type AlreadyEvaluatedError struct {
	ID string
}

func (e *AlreadyEvaluatedError) Error() string {
	return fmt.Sprintf("prediction %s already evaluated", e.ID)
}
