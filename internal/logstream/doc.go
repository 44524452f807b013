// Package logstream provides the producer and consumer client contract
// against a durable partitioned log, plus two LogTransport implementations:
// a Kafka transport (segmentio/kafka-go, manual commits, all-replica acks)
// and an embedded transport backed by the Pebble event log.
//
// The Producer publishes idempotently within a bounded flush window and
// fails with DeliveryError past it. The Consumer gates startup on partition
// assignment (AssignmentTimeoutError is fatal), tracks the
// JOINING→ASSIGNED→POLLING⇄PROCESSING→COMMITTED lifecycle, and commits
// positions only on explicit acknowledgment. One poll loop owns a consumer
// handle; Publish and Commit are safe for concurrent use.
package logstream
