package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope is one message on the durable log.
type Envelope struct {
	EntityID      string                 `json:"entity_id"`
	Timestamp     time.Time              `json:"timestamp"`
	Organization  string                 `json:"organization,omitempty"`
	Domain        string                 `json:"domain,omitempty"`
	SourceService string                 `json:"source_service"`
	Payload       map[string]interface{} `json:"payload"`
}

var (
	ErrMissingEntityID  = errors.New("envelope: entity_id is required")
	ErrMissingTimestamp = errors.New("envelope: timestamp is required")
)

// New builds an envelope stamped with the current UTC time.
func New(entityID, sourceService string, payload map[string]interface{}) Envelope {
	return Envelope{
		EntityID:      entityID,
		Timestamp:     time.Now().UTC(),
		SourceService: sourceService,
		Payload:       payload,
	}
}

// Validate checks the envelope invariants.
func (e Envelope) Validate() error {
	if e.EntityID == "" {
		return ErrMissingEntityID
	}
	if e.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}

// Encode serializes the envelope as UTF-8 JSON, timestamp in RFC 3339 UTC.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	return json.Marshal(e)
}

// Decode parses and validates an envelope from JSON.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: decode: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
