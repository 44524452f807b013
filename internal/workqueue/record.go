package workqueue

import (
	"encoding/binary"
	"hash/crc32"
)

// Message record:
// groupLen(2B BE) | group | deliveries(4B BE) | enqueuedMs(8B BE) |
// headerLen(4B BE) | header | payload | crc32c(everything before crc)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Message is a decoded queue message record.
type Message struct {
	Group      string
	Deliveries uint32
	EnqueuedMs int64
	Header     []byte
	Payload    []byte
}

// EncodeMessage serializes a message record with a trailing checksum.
func EncodeMessage(m Message) []byte {
	out := make([]byte, 0, 2+len(m.Group)+4+8+4+len(m.Header)+len(m.Payload)+4)
	var b2 [2]byte
	binary.BigEndian.PutUint16(b2[:], uint16(len(m.Group)))
	out = append(out, b2[:]...)
	out = append(out, m.Group...)
	var b4 [4]byte
	binary.BigEndian.PutUint32(b4[:], m.Deliveries)
	out = append(out, b4[:]...)
	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], uint64(m.EnqueuedMs))
	out = append(out, b8[:]...)
	binary.BigEndian.PutUint32(b4[:], uint32(len(m.Header)))
	out = append(out, b4[:]...)
	out = append(out, m.Header...)
	out = append(out, m.Payload...)

	crc := crc32.Update(0, castagnoli, out)
	binary.BigEndian.PutUint32(b4[:], crc)
	return append(out, b4[:]...)
}

// DecodeMessage parses a message record, returning false on truncation or
// checksum mismatch.
func DecodeMessage(b []byte) (Message, bool) {
	if len(b) < 2+4+8+4+4 {
		return Message{}, false
	}
	body := b[:len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Update(0, castagnoli, body) != expect {
		return Message{}, false
	}

	glen := int(binary.BigEndian.Uint16(body[:2]))
	off := 2
	if off+glen+4+8+4 > len(body) {
		return Message{}, false
	}
	group := string(body[off : off+glen])
	off += glen
	deliveries := binary.BigEndian.Uint32(body[off:])
	off += 4
	enqueued := int64(binary.BigEndian.Uint64(body[off:]))
	off += 8
	hlen := int(binary.BigEndian.Uint32(body[off:]))
	off += 4
	if off+hlen > len(body) {
		return Message{}, false
	}
	header := append([]byte(nil), body[off:off+hlen]...)
	payload := append([]byte(nil), body[off+hlen:]...)
	return Message{Group: group, Deliveries: deliveries, EnqueuedMs: enqueued, Header: header, Payload: payload}, true
}
