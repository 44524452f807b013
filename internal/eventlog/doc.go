// Package eventlog implements the embedded durable, partitioned log backing
// Conveyor's embedded log transport.
//
// # Overview
//
// The log is partitioned by topic/partition and persisted in Pebble. Keys are
// lexicographically ordered for efficient range scans:
//   - log/{topic}/{part_be4}/m            (partition metadata: lastSeq)
//   - log/{topic}/{part_be4}/e/{seq_be8}  (entries)
//   - log/{topic}/{part_be4}/t/{token}    (publish-token dedupe index)
//   - cur/{topic}/{group}/{part_be4}      (durable group cursors)
//
// Records are stored as: varint headerLen | header | payload | crc32c.
//
// # Idempotent appends
//
// An AppendRecord may carry a publish token. Re-appending a record with a
// token already committed returns the original sequence without writing a
// duplicate, which is how retried publishes stay idempotent.
//
// # Cursors
//
// Group cursors are committed manually and never regress; commit of a lower
// sequence is a no-op. This is the embedded equivalent of a consumer group's
// committed offset.
package eventlog
