// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package opt

import "github.com/cockroachdb/errors"

// Marker errors for the failure kinds surfaced by the optimizer. Errors
// returned by the optimizer are marked with one of these and can be tested
// with errors.Is. Internal inconsistencies are assertion failures and are
// tested with IsInternalInconsistency.
var (
	// ErrUnsupportedPattern is recorded when a rule does not apply to, or
	// fails on, a particular expression. It never aborts optimization.
	ErrUnsupportedPattern = errors.New("unsupported pattern")

	// ErrResourceLimitExceeded is returned when exploration or task bounds
	// are hit. The query may succeed with simpler rewrites or higher limits.
	ErrResourceLimitExceeded = errors.New("optimizer resource limit exceeded")

	// ErrPlanNotFound is returned when no physical plan satisfies the
	// required properties.
	ErrPlanNotFound = errors.New("no plan satisfies the required properties")

	// ErrTimeout is returned when the deadline or cancellation hits before
	// any complete plan was found.
	ErrTimeout = errors.New("optimizer timed out")
)

// NewResourceLimitExceededf returns an error marked with
// ErrResourceLimitExceeded that carries a retry hint.
func NewResourceLimitExceededf(format string, args ...interface{}) error {
	err := errors.Newf(format, args...)
	err = errors.WithHint(err, "the query is too complex to optimize within the configured "+
		"limits; simplify it or raise the search limits")
	return errors.Mark(err, ErrResourceLimitExceeded)
}

// NewPlanNotFoundf returns an error marked with ErrPlanNotFound.
func NewPlanNotFoundf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrPlanNotFound)
}

// NewTimeoutf returns an error marked with ErrTimeout.
func NewTimeoutf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrTimeout)
}

// NewUnsupportedPatternf returns an error marked with ErrUnsupportedPattern.
func NewUnsupportedPatternf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrUnsupportedPattern)
}

// IsInternalInconsistency returns true if the error reports a bug in the
// optimizer, such as a broken memo invariant.
func IsInternalInconsistency(err error) bool {
	return errors.HasAssertionFailure(err)
}
