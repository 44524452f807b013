package workqueue

import (
	"encoding/binary"
	"fmt"
)

// Key prefixes for queue data structures.
const (
	prefixMsg      = "msg/"       // message records
	prefixReady    = "ready/"     // per-group FIFO availability index
	prefixDelay    = "delay/"     // delayed message index
	prefixLease    = "lease/"     // active lease per group
	prefixLeaseIdx = "lease_idx/" // lease expiry index
	prefixDedup    = "dedup/"     // dedup window markers
	prefixDLQ      = "dlq/"       // dead letters
)

// queuePrefix returns the base prefix for a queue.
// Format: wq/{name}/
func queuePrefix(name string) string {
	return fmt.Sprintf("wq/%s/", name)
}

// MetaKey returns the queue metadata key.
// Format: wq/{name}/meta
func MetaKey(name string) []byte {
	return []byte(queuePrefix(name) + "meta")
}

// MsgKey returns the message key.
// Format: wq/{name}/msg/{seq_be8}
func MsgKey(name string, seq uint64) []byte {
	prefix := queuePrefix(name) + prefixMsg
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// ReadyKey returns the per-group availability index key. Big-endian
// sequences keep each group's range in FIFO order.
// Format: wq/{name}/ready/{group}/{seq_be8}
func ReadyKey(name, group string, seq uint64) []byte {
	prefix := queuePrefix(name) + prefixReady + group + "/"
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// ReadyPrefix returns the scan prefix covering every group's ready entries.
// Format: wq/{name}/ready/
func ReadyPrefix(name string) []byte {
	return []byte(queuePrefix(name) + prefixReady)
}

// ReadyGroupPrefix returns the scan prefix for one group's ready entries.
// Format: wq/{name}/ready/{group}/
func ReadyGroupPrefix(name, group string) []byte {
	return []byte(queuePrefix(name) + prefixReady + group + "/")
}

// DelayKey returns the delayed message index key.
// Format: wq/{name}/delay/{fire_ms_be8}/{seq_be8}
func DelayKey(name string, fireMs uint64, seq uint64) []byte {
	prefix := queuePrefix(name) + prefixDelay
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], fireMs)
	binary.BigEndian.PutUint64(key[len(prefix)+8:], seq)
	return key
}

// DelayPrefix returns the scan prefix for the delay index.
func DelayPrefix(name string) []byte {
	return []byte(queuePrefix(name) + prefixDelay)
}

// LeaseKey returns the active lease key for a group. One key per group is
// what limits a group to a single in-flight message.
// Format: wq/{name}/lease/{group}
func LeaseKey(name, group string) []byte {
	return []byte(queuePrefix(name) + prefixLease + group)
}

// LeaseIdxKey returns the lease expiry index key.
// Format: wq/{name}/lease_idx/{expires_ms_be8}/{group}
func LeaseIdxKey(name string, expiresMs uint64, group string) []byte {
	prefix := queuePrefix(name) + prefixLeaseIdx
	key := make([]byte, len(prefix)+8+len(group))
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], expiresMs)
	copy(key[len(prefix)+8:], group)
	return key
}

// LeaseIdxPrefix returns the scan prefix for the lease expiry index.
func LeaseIdxPrefix(name string) []byte {
	return []byte(queuePrefix(name) + prefixLeaseIdx)
}

// LeasePrefix returns the scan prefix for all active leases.
func LeasePrefix(name string) []byte {
	return []byte(queuePrefix(name) + prefixLease)
}

// DedupKey returns the dedup window marker key.
// Format: wq/{name}/dedup/{key}
func DedupKey(name, key string) []byte {
	return []byte(queuePrefix(name) + prefixDedup + key)
}

// DLQKey returns the dead-letter key for a message.
// Format: wq/{name}/dlq/{seq_be8}
func DLQKey(name string, seq uint64) []byte {
	prefix := queuePrefix(name) + prefixDLQ
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// DLQPrefix returns the scan prefix for dead letters.
func DLQPrefix(name string) []byte {
	return []byte(queuePrefix(name) + prefixDLQ)
}

// keyRange returns inclusive-low / exclusive-high bounds for a prefix scan.
func keyRange(prefix []byte) ([]byte, []byte) {
	end := make([]byte, len(prefix)+1)
	copy(end, prefix)
	end[len(prefix)] = 0xFF
	return prefix, end
}

// seqFromKey extracts the trailing big-endian sequence from an index key.
func seqFromKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
