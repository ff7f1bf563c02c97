// Package pipeline runs the per-camera detection loop: it pulls frames from a
// FrameSource, applies pending config and ROI changes at frame boundaries,
// runs the motion stages and publishes a FrameStats snapshot per frame.
package pipeline

import (
	"context"
	"image"
	"time"

	"roiwatch/internal/motion"
)

// Frame is one decoded video frame.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Image     image.Image
	// Data is the encoded payload as received from the camera, forwarded to
	// broadcasters untouched. May be nil.
	Data []byte
}

// FrameSource supplies frames in arrival order. NextFrame blocks until a
// frame is available or ctx is done, in which case it returns ctx.Err().
type FrameSource interface {
	NextFrame(ctx context.Context) (*Frame, error)
}

// Broadcaster receives every published snapshot with the frame payload it
// describes. Broadcast is called from the detection loop and must not block.
type Broadcaster interface {
	Broadcast(stats motion.FrameStats, payload []byte)
}

// DetectionEvent records a confirmed motion rising edge on a ROI.
type DetectionEvent struct {
	ID        string    `json:"id"`
	ROIID     int       `json:"roi_id"`
	Timestamp time.Time `json:"timestamp"`
	Area      int       `json:"area"`
	Blobs     int       `json:"blobs"`
	FrameSeq  uint64    `json:"frame_seq"`
}

// DetectionHandler is notified synchronously of detection events.
type DetectionHandler interface {
	OnDetection(event *DetectionEvent)
}
