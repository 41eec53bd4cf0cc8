package engine

import (
	"errors"
	"fmt"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/repo"
)

var (
	ErrCaseNotFound       = fmt.Errorf("case %w", repo.ErrNotFound)
	ErrSubmissionNotFound = fmt.Errorf("submission %w", repo.ErrNotFound)
	ErrEvidenceNotFound   = fmt.Errorf("evidence %w", repo.ErrNotFound)
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNoOpenInfoRequest  = errors.New("case has no open information request")
	ErrCaseClosed         = errors.New("case is closed")
	// ErrSharedSubmission rejects edits to a submission that other cases
	// also score against.
	ErrSharedSubmission = errors.New("submission is linked to more than one case")
)

// InvalidTransitionError names the rejected edge. Stale is set when the
// caller's view of the current status was out of date.
type InvalidTransitionError struct {
	From    domain.CaseStatus
	To      domain.CaseStatus
	Current domain.CaseStatus
	Stale   bool
}

func (e *InvalidTransitionError) Error() string {
	if e.Stale {
		return fmt.Sprintf("invalid transition %s -> %s: case is now %s", e.From, e.To, e.Current)
	}
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// PersistenceError wraps a store failure. Every write is transactional, so
// the whole operation is safe to retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: persistence failure: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// classify passes domain errors through and wraps everything else as a
// persistence failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	var pe *PersistenceError
	switch {
	case errors.Is(err, repo.ErrNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNoOpenInfoRequest),
		errors.Is(err, ErrCaseClosed),
		errors.As(err, &fe),
		errors.As(err, &pe):
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
