// Package id provides 128-bit, lexicographically sortable identifiers.
//
// An ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence],
// so byte-wise comparison preserves chronological order and IDs minted in
// the same millisecond stay strictly increasing.
//
// Conveyor uses these as publish tokens (the embedded log transport dedupes
// retried publishes on them) and as queue message identifiers.
//
// The Generator is monotonic per process: a regressing system clock pins to
// the last seen millisecond, and a sequence overflow within one millisecond
// waits for the next millisecond.
package id
