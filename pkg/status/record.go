package status

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Record is the persisted form of the status used by key/value backends.
type Record struct {
	State     State     `json:"state"`
	Node      string    `json:"node"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord stamps s with node and the current time.
func NewRecord(s State, node string) Record {
	return Record{State: s, Node: node, UpdatedAt: time.Now().UTC()}
}

// Encode serializes r.
func (r Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord parses data produced by Record.Encode.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("status: decode record: %w", err)
	}
	if !r.State.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidState, r.State)
	}
	return r, nil
}

// DefaultNodeName returns the hostname, or "netconfd" when it is unavailable.
func DefaultNodeName() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "netconfd"
}
