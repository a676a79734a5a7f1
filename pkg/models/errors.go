package models

import "errors"

// Domain error kinds from §7. Handlers map these to HTTP status codes;
// consumers map them to retry-then-DLT or log-and-continue policies.
var (
	// ErrUserServiceUnavailable is returned by the Targeting Service when
	// the UserService circuit breaker is open. Precompute-only; does not
	// roll back the base broadcast row.
	ErrUserServiceUnavailable = errors.New("user service unavailable")

	// ErrNotFound maps to 404 at the HTTP boundary; harmless in consumers
	// (ack and log).
	ErrNotFound = errors.New("resource not found")

	// ErrIllegalTransition maps to 409 — e.g. redrive of a cancelled
	// broadcast's message.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrMessageProcessing is consumer-side and triggers retry then DLT.
	ErrMessageProcessing = errors.New("message processing failed")

	// ErrDataIntegrityViolation signals a unique-key conflict on the
	// idempotence path — callers should warn and drop, not retry.
	ErrDataIntegrityViolation = errors.New("data integrity violation")
)
