// Package workqueue implements the embedded ordered task queue backing
// Conveyor's embedded queue transport.
//
// # Model
//
// Messages belong to a group. Within a group delivery is strict FIFO and at
// most one message is in flight at a time: the next message of a group is
// only leasable after the current one is acked or returned. Groups are
// independent, so distinct groups can be processed concurrently.
//
// # Keyspace
//
//   - wq/{queue}/meta                        lastSeq
//   - wq/{queue}/msg/{seq_be8}               message record
//   - wq/{queue}/ready/{group}/{seq_be8}     per-group FIFO availability index
//   - wq/{queue}/delay/{fire_be8}/{seq_be8}  delayed messages (value: group)
//   - wq/{queue}/lease/{group}               active lease (value: seq|expiry)
//   - wq/{queue}/lease_idx/{exp_be8}/{group} lease expiry scan index
//   - wq/{queue}/dedup/{key}                 dedup window marker (seq|expiry)
//   - wq/{queue}/dlq/{seq_be8}               dead letters
//
// The single lease key per group is what enforces ordering: a group with an
// active lease is skipped during the availability scan.
//
// # Lifecycle
//
// Enqueue writes the message and its ready index entry, suppressing
// duplicates whose dedup key is still inside the window. Lease scans ready
// groups in order, counts the delivery, and creates a visibility lease.
// Ack deletes the message; it fails with ErrLeaseLost if the lease already
// expired and the message was handed to another consumer. A failed or
// expired message returns to the head of its group until its delivery count
// exceeds the configured maximum, at which point it moves to the dead-letter
// keyspace where it can be inspected and redriven.
package workqueue
