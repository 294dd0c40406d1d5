// Package xviz defines the protocol messages streamed to clients.
package xviz

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol version advertised in metadata.
const Version = "2.0.0"

// MessageType names the envelope type of a message.
type MessageType string

const (
	TypeMetadata    MessageType = "xviz/metadata"
	TypeStateUpdate MessageType = "xviz/state_update"
)

// UpdateType describes how a state update applies to client state.
type UpdateType string

const (
	UpdateSnapshot    UpdateType = "SNAPSHOT"
	UpdateIncremental UpdateType = "INCREMENTAL"
	UpdateComplete    UpdateType = "COMPLETE_STATE"
)

// Message is one protocol message. Exactly one of Metadata or StateUpdate is set.
type Message struct {
	Metadata    *Metadata
	StateUpdate *StateUpdate
}

type envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewMetadataMessage wraps metadata in a message.
func NewMetadataMessage(m *Metadata) *Message {
	return &Message{Metadata: m}
}

// NewStateUpdateMessage wraps a state update in a message.
func NewStateUpdateMessage(u *StateUpdate) *Message {
	return &Message{StateUpdate: u}
}

// Type returns the envelope type, or "" for an empty message.
func (m *Message) Type() MessageType {
	switch {
	case m == nil:
		return ""
	case m.Metadata != nil:
		return TypeMetadata
	case m.StateUpdate != nil:
		return TypeStateUpdate
	default:
		return ""
	}
}

// IsMetadata reports whether m carries metadata.
func (m *Message) IsMetadata() bool {
	return m.Type() == TypeMetadata
}

// Timestamp returns the time of a state update: the earliest stream set
// timestamp. Metadata reports its log start time.
func (m *Message) Timestamp() float64 {
	switch {
	case m == nil:
		return 0
	case m.StateUpdate != nil:
		return m.StateUpdate.Timestamp()
	case m.Metadata != nil && m.Metadata.LogInfo != nil:
		return m.Metadata.LogInfo.StartTime
	default:
		return 0
	}
}

// MarshalJSON writes the {"type", "data"} envelope.
func (m Message) MarshalJSON() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	t := m.Type()
	switch t {
	case TypeMetadata:
		data, err = json.Marshal(m.Metadata)
	case TypeStateUpdate:
		data, err = json.Marshal(m.StateUpdate)
	default:
		return nil, fmt.Errorf("xviz: empty message")
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: t, Data: data})
}

// UnmarshalJSON reads the {"type", "data"} envelope. Unknown types are rejected.
func (m *Message) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}

	*m = Message{}
	switch env.Type {
	case TypeMetadata:
		m.Metadata = &Metadata{}
		return json.Unmarshal(env.Data, m.Metadata)
	case TypeStateUpdate:
		m.StateUpdate = &StateUpdate{}
		return json.Unmarshal(env.Data, m.StateUpdate)
	default:
		return fmt.Errorf("xviz: unknown message type %q", env.Type)
	}
}
