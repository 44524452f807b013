// Package taskqueue provides the client contract against an ordered,
// visibility-leased task queue, plus an embedded QueueTransport backed by
// the Pebble work queue.
//
// Tasks sharing a group key are delivered strictly in order, one in flight
// at a time; distinct groups run concurrently. Duplicate enqueues inside
// the dedup window are suppressed. A leased task is acked only on full
// success; any failure simply omits the ack and the visibility timeout
// drives redelivery, with automatic dead-letter placement after the
// delivery budget is spent.
package taskqueue
