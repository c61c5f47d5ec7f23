package engine

import "errors"

// Error classes shared across the pipeline. Callers wrap them with context
// via fmt.Errorf("...: %w", Err...) and classify with errors.Is.
var (
	// ErrValidation marks malformed tokens or payloads. Shown to the user, never retried.
	ErrValidation = errors.New("validation failed")

	// ErrAdmissionDenied marks quota, membership, in-flight and capacity denials.
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrProviderUnavailable marks a provider timeout, bad status or missing fields.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrTransient marks an upstream failure worth retrying.
	ErrTransient = errors.New("transient upstream failure")

	// ErrQueueFull is returned synchronously by a full lane.
	ErrQueueFull = errors.New("queue is full")

	// ErrMembershipBadRequest is the chat platform's definitive "bad request"
	// answer to a membership lookup (unknown user, bot not in channel).
	ErrMembershipBadRequest = errors.New("membership lookup rejected")
)
