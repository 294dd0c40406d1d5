package xviz

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_EnvelopeShape(t *testing.T) {
	msg := NewStateUpdateMessage(&StateUpdate{
		UpdateType: UpdateSnapshot,
		Updates: []StreamSet{{
			Timestamp: 12.5,
			Links: map[string]LinkRecord{
				"/object/shape": {SourcePose: "/vehicle_pose"},
			},
		}},
	})

	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "xviz/state_update",
		"data": {
			"update_type": "SNAPSHOT",
			"updates": [{
				"timestamp": 12.5,
				"links": {"/object/shape": {"source_pose": "/vehicle_pose"}}
			}]
		}
	}`, string(b))
}

func TestMessage_UnmarshalMetadata(t *testing.T) {
	raw := `{"type":"xviz/metadata","data":{"version":"2.0.0","log_info":{"start_time":100,"end_time":130}}}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	assert.True(t, msg.IsMetadata())
	assert.Equal(t, TypeMetadata, msg.Type())
	assert.Equal(t, 100.0, msg.Timestamp())
	assert.Nil(t, msg.StateUpdate)
}

func TestMessage_UnmarshalRejectsUnknownType(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"type":"xviz/transform_log","data":{}}`), &msg)
	assert.Error(t, err)
}

func TestMessage_MarshalEmpty(t *testing.T) {
	_, err := json.Marshal(Message{})
	assert.Error(t, err)
}

func TestStateUpdate_TimestampIsEarliest(t *testing.T) {
	u := &StateUpdate{Updates: []StreamSet{{Timestamp: 3}, {Timestamp: 1}, {Timestamp: 2}}}
	assert.Equal(t, 1.0, u.Timestamp())
	assert.Equal(t, 0.0, (&StateUpdate{}).Timestamp())
}
