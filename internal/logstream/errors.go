package logstream

import (
	"fmt"
	"time"
)

// DeliveryError reports that the log did not durably accept a publish
// within the flush window. Unrecoverable delivery failures are fatal to the
// process.
type DeliveryError struct {
	Topic  string
	Window time.Duration
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("logstream: publish to %q not durable within %s: %v", e.Topic, e.Window, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// AssignmentTimeoutError reports that the consumer did not receive a
// partition assignment within the startup timeout. Fatal.
type AssignmentTimeoutError struct {
	Group   string
	Timeout time.Duration
}

func (e *AssignmentTimeoutError) Error() string {
	return fmt.Sprintf("logstream: group %q received no partition assignment within %s", e.Group, e.Timeout)
}

// TransportError reports that the broker is unreachable. Not retryable at
// the application level; redelivery and reconnect are the transport's job.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("logstream: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
