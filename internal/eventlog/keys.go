package eventlog

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - log/{topic}/{part_be4}/m
// - log/{topic}/{part_be4}/e/{seq_be8}
// - log/{topic}/{part_be4}/t/{token16}
// - cur/{topic}/{group}/{part_be4}

var (
	sep        = byte('/')
	logPrefix  = []byte("log/")
	curPrefix  = []byte("cur/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
	tokenSeg   = []byte("/t/")
)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func keyPartition(topic string, partition uint32) []byte {
	k := make([]byte, 0, len(logPrefix)+len(topic)+5)
	k = append(k, logPrefix...)
	k = append(k, topic...)
	k = append(k, sep)
	k = appendBE4(k, partition)
	return k
}

// KeyLogMeta builds the partition metadata key.
func KeyLogMeta(topic string, partition uint32) []byte {
	return append(keyPartition(topic, partition), metaSuffix...)
}

// KeyLogEntry builds the entry key with a big-endian sequence for ordering.
func KeyLogEntry(topic string, partition uint32, seq uint64) []byte {
	k := append(keyPartition(topic, partition), entrySeg...)
	return appendBE8(k, seq)
}

// KeyLogToken builds the publish-token dedupe key.
func KeyLogToken(topic string, partition uint32, token []byte) []byte {
	k := append(keyPartition(topic, partition), tokenSeg...)
	return append(k, token...)
}

// KeyCursor builds the durable cursor key for a group and partition.
func KeyCursor(topic, group string, partition uint32) []byte {
	k := make([]byte, 0, len(curPrefix)+len(topic)+len(group)+6)
	k = append(k, curPrefix...)
	k = append(k, topic...)
	k = append(k, sep)
	k = append(k, group...)
	k = append(k, sep)
	return appendBE4(k, partition)
}

// KeyTopicPrefix is the range prefix covering all partitions of a topic.
func KeyTopicPrefix(topic string) []byte {
	k := make([]byte, 0, len(logPrefix)+len(topic)+1)
	k = append(k, logPrefix...)
	k = append(k, topic...)
	return append(k, sep)
}
