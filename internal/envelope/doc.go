// Package envelope defines the units exchanged on the durable log and the
// ordered task queue, plus their JSON codecs.
//
// An Envelope is one coarse-grained inter-service event on the log. A Task is
// one fine-grained unit of work derived from an envelope and distributed via
// the queue. An ErrorRecord mirrors a failed envelope or task, in full, onto
// the error channel.
//
// Wire format is JSON (UTF-8). EntityID and Timestamp are always present on
// an Envelope; payloads are JSON-serializable maps with no binary blobs.
// Tasks are immutable after creation: a retry is a new delivery attempt of
// the same logical task, never a new task.
package envelope
