package retry

import (
	"context"
	"errors"
)

// Class is the disposition class of a processing failure.
type Class int

const (
	// ClassTransient failures are retried locally with backoff.
	ClassTransient Class = iota
	// ClassPermanent failures are mirrored to the error channel and never
	// retried locally.
	ClassPermanent
	// ClassInfrastructure failures leave the message unacknowledged so the
	// transport's redelivery handles it.
	ClassInfrastructure
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// TransientError marks a retryable processing failure.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a non-retryable processing failure.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// InfraError marks a broker/queue reachability failure. Not
// application-retryable; disposition is left to the transport.
type InfraError struct{ Err error }

func (e *InfraError) Error() string { return "infrastructure: " + e.Err.Error() }
func (e *InfraError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as non-retryable. Returns nil for nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Infra wraps err as an infrastructure failure. Returns nil for nil.
func Infra(err error) error {
	if err == nil {
		return nil
	}
	return &InfraError{Err: err}
}

// Classify maps an error to its disposition class. Unclassified errors are
// treated as transient: retrying an unknown failure is safe because
// exhaustion converts it to permanent disposition anyway.
func Classify(err error) Class {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return ClassPermanent
	}
	var ie *InfraError
	if errors.As(err, &ie) {
		return ClassInfrastructure
	}
	if errors.Is(err, context.Canceled) {
		return ClassInfrastructure
	}
	return ClassTransient
}
