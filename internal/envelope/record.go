package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrorRecord mirrors a failed envelope or task onto the error channel.
// Records are immutable and append-only; the original message is carried in
// full and never overwritten or deleted.
type ErrorRecord struct {
	ErrorID         string          `json:"errorId"`
	OriginalMessage json.RawMessage `json:"originalMessage"`
	Stage           string          `json:"stage"`
	ErrorType       string          `json:"errorType"`
	ErrorMessage    string          `json:"errorMessage"`
	StackTrace      string          `json:"stackTrace,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	Service         string          `json:"service"`
}

// NewErrorRecord builds a record for the given original message bytes.
func NewErrorRecord(original []byte, stage, errorType, errorMessage, service string) ErrorRecord {
	return ErrorRecord{
		ErrorID:         uuid.NewString(),
		OriginalMessage: json.RawMessage(append([]byte(nil), original...)),
		Stage:           stage,
		ErrorType:       errorType,
		ErrorMessage:    errorMessage,
		Timestamp:       time.Now().UTC(),
		Service:         service,
	}
}

// EncodeErrorRecord serializes a record as JSON.
func EncodeErrorRecord(r ErrorRecord) ([]byte, error) {
	r.Timestamp = r.Timestamp.UTC()
	return json.Marshal(r)
}

// DecodeErrorRecord parses a record from JSON.
func DecodeErrorRecord(b []byte) (ErrorRecord, error) {
	var r ErrorRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return ErrorRecord{}, fmt.Errorf("error record: decode: %w", err)
	}
	return r, nil
}
