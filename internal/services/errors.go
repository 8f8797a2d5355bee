// Package services defines the business logic for the backup queue, rate
// limiting, request processing, and status reporting. This file centralizes
// common service-level error values so that they can be consistently returned
// by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages should be performed at the Telegram
// handler layer.
package services

import "errors"

// Queue-related errors.
var (
	// ErrDuplicateRequest indicates the (user, post) pair is already queued
	// or already present in the processed history.
	ErrDuplicateRequest = errors.New("request already queued or processed")

	// ErrConfigurationMissing is returned when a user has no rate-limit
	// profile. Requests are rejected rather than scheduled with implicit
	// defaults.
	ErrConfigurationMissing = errors.New("user request profile is missing")

	// ErrUserDenied is returned when a user's access status is denied.
	ErrUserDenied = errors.New("user access denied")

	// ErrPostNotFound indicates the referenced post is not in the user's
	// active queue.
	ErrPostNotFound = errors.New("post not found in queue")

	// ErrTimeInPast is returned when a reschedule targets a non-future time.
	ErrTimeInPast = errors.New("requested time is not in the future")

	// ErrInvalidStateTransition indicates the entry's lifecycle state forbids
	// the requested change (claimed or terminal entries cannot be moved).
	ErrInvalidStateTransition = errors.New("entry state forbids this operation")

	// ErrMessageUnmodified is returned by the messenger when an edit carries
	// the same content the message already has.
	ErrMessageUnmodified = errors.New("message content is unchanged")
)

// CollaboratorErrorKind classifies a failure of an external collaborator.
type CollaboratorErrorKind string

// Collaborator failure classes. Transient failures are retried with backoff;
// permanent failures fail the phase immediately.
const (
	KindTransient CollaboratorErrorKind = "transient"
	KindPermanent CollaboratorErrorKind = "permanent"
)

// CollaboratorError wraps a failure from an external system (content source,
// target storage, messenger) with a retryability classification.
type CollaboratorError struct {
	Kind CollaboratorErrorKind
	Op   string // short operation name, e.g. "instagram.fetch_post"
	Err  error
}

// Error implements the error interface.
func (e *CollaboratorError) Error() string {
	return e.Op + " (" + string(e.Kind) + "): " + e.Err.Error()
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *CollaboratorError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable collaborator failure.
func Transient(op string, err error) *CollaboratorError {
	return &CollaboratorError{Kind: KindTransient, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable collaborator failure.
func Permanent(op string, err error) *CollaboratorError {
	return &CollaboratorError{Kind: KindPermanent, Op: op, Err: err}
}

// IsTransient reports whether err is classified as retryable. Unclassified
// errors are treated as transient so unknown failures get the retry budget
// before the entry is failed.
func IsTransient(err error) bool {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce.Kind == KindTransient
	}
	return true
}

// IsPermanent reports whether err is classified as non-retryable.
func IsPermanent(err error) bool {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce.Kind == KindPermanent
	}
	return false
}
