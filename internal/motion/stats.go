package motion

import (
	"slices"
	"sync/atomic"
	"time"
)

// CameraStatus is the acquisition state reported by the frame source.
type CameraStatus string

const (
	CameraConnected    CameraStatus = "connected"
	CameraDisconnected CameraStatus = "disconnected"
	CameraError        CameraStatus = "error"
)

// DefaultFPSSmoothing is the EMA factor applied to inter-frame intervals.
const DefaultFPSSmoothing = 0.1

// FrameStats is the snapshot published after every processed frame. A
// published snapshot is never modified.
type FrameStats struct {
	CameraStatus       CameraStatus `json:"camera_status"`
	FPS                float64      `json:"fps"`
	TotalDetections    uint64       `json:"total_detections"`
	ActiveROIs         int          `json:"active_rois"`
	MotionDetectedROIs []int        `json:"motion_detected_rois"`
	RainDetected       bool         `json:"rain_detected"`
	LastDetectionTime  *time.Time   `json:"last_detection_time"`
	FrameSeq           uint64       `json:"frame_seq"`
}

// FPSMeter estimates frame rate as the inverse of an exponential moving
// average of inter-frame intervals.
type FPSMeter struct {
	alpha    float64
	last     time.Time
	interval float64
}

// NewFPSMeter returns a meter with smoothing factor alpha in (0,1].
func NewFPSMeter(alpha float64) *FPSMeter {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultFPSSmoothing
	}
	return &FPSMeter{alpha: alpha}
}

// Tick records a frame arrival and returns the current estimate. The first
// arrival after construction or Reset yields 0; the first interval seeds
// the average.
func (m *FPSMeter) Tick(at time.Time) float64 {
	if m.last.IsZero() {
		m.last = at
		return m.FPS()
	}
	dt := at.Sub(m.last).Seconds()
	m.last = at
	if dt <= 0 {
		return m.FPS()
	}
	if m.interval == 0 {
		m.interval = dt
	} else {
		m.interval = m.alpha*dt + (1-m.alpha)*m.interval
	}
	return m.FPS()
}

// FPS returns the current estimate.
func (m *FPSMeter) FPS() float64 {
	if m.interval <= 0 {
		return 0
	}
	return 1 / m.interval
}

// Reset discards the history.
func (m *FPSMeter) Reset() {
	m.last = time.Time{}
	m.interval = 0
}

// FrameResult carries what the detection loop learned from one frame.
type FrameResult struct {
	Seq          uint64
	ArrivedAt    time.Time
	ActiveROIs   int
	Confirmed    []int
	Rain         bool
	Total        uint64
	DetectedAt   *time.Time
	CameraStatus CameraStatus
}

// StatsAggregator assembles FrameStats and publishes them for any number of
// concurrent readers. Only the detection loop writes.
type StatsAggregator struct {
	fps     *FPSMeter
	current atomic.Pointer[FrameStats]
}

// NewStatsAggregator starts with an empty, disconnected snapshot.
func NewStatsAggregator(smoothing float64) *StatsAggregator {
	a := &StatsAggregator{fps: NewFPSMeter(smoothing)}
	a.current.Store(&FrameStats{CameraStatus: CameraDisconnected, MotionDetectedROIs: []int{}})
	return a
}

// Publish builds and publishes the snapshot for a processed frame.
func (a *StatsAggregator) Publish(r FrameResult) *FrameStats {
	confirmed := slices.Clone(r.Confirmed)
	if confirmed == nil {
		confirmed = []int{}
	}
	slices.Sort(confirmed)

	status := r.CameraStatus
	if status == "" {
		status = CameraConnected
	}
	last := a.current.Load().LastDetectionTime
	if r.DetectedAt != nil {
		t := *r.DetectedAt
		last = &t
	}

	s := &FrameStats{
		CameraStatus:       status,
		FPS:                a.fps.Tick(r.ArrivedAt),
		TotalDetections:    r.Total,
		ActiveROIs:         r.ActiveROIs,
		MotionDetectedROIs: confirmed,
		RainDetected:       r.Rain,
		LastDetectionTime:  last,
		FrameSeq:           r.Seq,
	}
	a.current.Store(s)
	return s
}

// SetCameraStatus republishes the latest snapshot with a new camera status.
// Leaving the connected state also resets the frame rate estimate.
func (a *StatsAggregator) SetCameraStatus(status CameraStatus) *FrameStats {
	prev := a.current.Load()
	if prev.CameraStatus == status {
		return prev
	}
	next := *prev
	next.CameraStatus = status
	if status != CameraConnected {
		a.fps.Reset()
		next.FPS = 0
	}
	a.current.Store(&next)
	return &next
}

// Latest returns a copy of the most recently published snapshot.
func (a *StatsAggregator) Latest() FrameStats {
	s := *a.current.Load()
	s.MotionDetectedROIs = slices.Clone(s.MotionDetectedROIs)
	return s
}
