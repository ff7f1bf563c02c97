package ws

import (
	"encoding/base64"
	"encoding/json"

	"roiwatch/internal/motion"
	"roiwatch/internal/pipeline"
)

// Message types pushed to clients.
const (
	TypeStats     = "stats"
	TypeDetection = "detection"
)

// Message is the envelope of every server push.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
	// Frame is the base64 encoded frame the stats describe, when the hub
	// forwards frames.
	Frame string `json:"frame,omitempty"`
}

// NewStatsMessage wraps a snapshot. payload is attached only when non-empty.
func NewStatsMessage(stats motion.FrameStats, payload []byte) *Message {
	msg := &Message{Type: TypeStats, Data: stats}
	if len(payload) > 0 {
		msg.Frame = base64.StdEncoding.EncodeToString(payload)
	}
	return msg
}

// NewDetectionMessage wraps a detection event.
func NewDetectionMessage(event *pipeline.DetectionEvent) *Message {
	return &Message{Type: TypeDetection, Data: event}
}

func (m *Message) encode() ([]byte, error) {
	return json.Marshal(m)
}
