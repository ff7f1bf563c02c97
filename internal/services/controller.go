// Package services implements the control operations shared by the HTTP and
// gRPC surfaces.
package services

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"go.uber.org/zap"

	"roiwatch/internal/camera"
	"roiwatch/internal/config"
	"roiwatch/internal/database"
	"roiwatch/internal/errdefs"
	"roiwatch/internal/motion"
	"roiwatch/internal/roi"
)

// Result is the outcome every control operation reports to clients.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ResultOf converts an operation error into a Result.
func ResultOf(err error, message string) Result {
	if err != nil {
		return Result{Success: false, Message: err.Error()}
	}
	return Result{Success: true, Message: message}
}

// ROIView is a ROI as shown to clients, with derived geometry and its live
// motion state.
type ROIView struct {
	roi.ROI
	Width          int        `json:"width"`
	Height         int        `json:"height"`
	Area           int        `json:"area"`
	MotionDetected bool       `json:"motion_detected"`
	LastDetection  *time.Time `json:"last_detection,omitempty"`
}

// CameraState describes the capture and what the detection loop sees of it.
type CameraState struct {
	Device  string              `json:"device"`
	Running bool                `json:"running"`
	Status  motion.CameraStatus `json:"status"`
	Capture *camera.Stats       `json:"capture,omitempty"`
}

// StatsSource is the detection loop as seen by the controller.
type StatsSource interface {
	Stats() motion.FrameStats
	LastDetection(id int) (time.Time, bool)
}

// Camera is the capture lifecycle as seen by the controller.
type Camera interface {
	Start() error
	Stop() error
	IsRunning() bool
	Device() string
	Stats() camera.Stats
}

// EventStore lists recorded detection events.
type EventStore interface {
	ListDetectionEvents(roiID int, since *time.Time, limit int) ([]*database.DetectionEventRecord, error)
}

// ConfigPersister stores each accepted detection config.
type ConfigPersister interface {
	SaveDetectionConfig(cfg config.Detection) error
}

// Options wires a Controller. Store, Registry, Stats and ROIFile are
// required; the rest may be nil.
type Options struct {
	Store     *config.Store
	Registry  *roi.Registry
	ROIFile   string
	Autosaver *roi.Autosaver
	Stats     StatsSource
	Camera    Camera
	Events    EventStore
	Persister ConfigPersister
	Logger    *zap.SugaredLogger
}

// Controller executes control operations. Each call touches shared state
// only through the store's and registry's short critical sections, so it
// never waits on frame processing.
type Controller struct {
	store     *config.Store
	registry  *roi.Registry
	roiFile   string
	autosaver *roi.Autosaver
	stats     StatsSource
	camera    Camera
	events    EventStore
	logger    *zap.SugaredLogger

	// serializes explicit save and load
	fileMu sync.Mutex
}

// DefaultEventLimit bounds ListEvents when the caller gives no limit.
const DefaultEventLimit = 50

// NewController creates a controller. When opts.Persister is set, every
// accepted config change is persisted through it.
func NewController(opts Options) *Controller {
	c := &Controller{
		store:     opts.Store,
		registry:  opts.Registry,
		roiFile:   opts.ROIFile,
		autosaver: opts.Autosaver,
		stats:     opts.Stats,
		camera:    opts.Camera,
		events:    opts.Events,
		logger:    opts.Logger.Named("control"),
	}
	if p := opts.Persister; p != nil {
		c.store.OnChange(func(cfg config.Detection) {
			if err := p.SaveDetectionConfig(cfg); err != nil {
				c.logger.Warnw("persisting detection config failed", "error", err)
			}
		})
	}
	return c
}

// AddROI validates and adds a rectangle.
func (c *Controller) AddROI(x1, y1, x2, y2 int) (ROIView, error) {
	r, err := c.registry.Add(x1, y1, x2, y2)
	if err != nil {
		c.logger.Infow("ROI rejected", "x1", x1, "y1", y1, "x2", x2, "y2", y2, "error", err)
		return ROIView{}, err
	}
	c.logger.Infow("ROI added", "id", r.ID, "x1", r.X1, "y1", r.Y1, "x2", r.X2, "y2", r.Y2)
	c.scheduleAutosave()
	return c.view(r, c.stats.Stats()), nil
}

// DeleteROI removes the ROI with the given id.
func (c *Controller) DeleteROI(id int) error {
	if err := c.registry.Delete(id); err != nil {
		return err
	}
	c.logger.Infow("ROI deleted", "id", id)
	c.scheduleAutosave()
	return nil
}

// ClearROIs removes every ROI and returns how many were removed. Clearing
// only changes the in-memory set: a pending autosave is dropped so the ROI
// file keeps what was last written, and loadROIs can bring it back.
func (c *Controller) ClearROIs() int {
	n := c.registry.Clear()
	c.logger.Infow("ROIs cleared", "count", n)
	c.cancelAutosave()
	return n
}

// ListROIs returns the ROIs in insertion order.
func (c *Controller) ListROIs() []ROIView {
	stats := c.stats.Stats()
	rois := c.registry.List()
	out := make([]ROIView, 0, len(rois))
	for _, r := range rois {
		out = append(out, c.view(r, stats))
	}
	return out
}

func (c *Controller) view(r roi.ROI, stats motion.FrameStats) ROIView {
	v := ROIView{ROI: r, Width: r.Width(), Height: r.Height(), Area: r.Area()}
	for _, id := range stats.MotionDetectedROIs {
		if id == r.ID {
			v.MotionDetected = true
			break
		}
	}
	if t, ok := c.stats.LastDetection(r.ID); ok {
		v.LastDetection = &t
	}
	return v
}

// SaveROIs writes the ROIs to the ROI file.
func (c *Controller) SaveROIs() (int, error) {
	c.fileMu.Lock()
	defer c.fileMu.Unlock()

	pending := c.cancelAutosave()
	n := c.registry.Len()
	if err := c.registry.SaveFile(c.roiFile); err != nil {
		c.logger.Warnw("saving ROIs failed", "path", c.roiFile, "error", err)
		if pending {
			c.scheduleAutosave()
		}
		return 0, err
	}
	c.logger.Infow("ROIs saved", "path", c.roiFile, "count", n)
	return n, nil
}

// LoadROIs replaces the ROIs with the contents of the ROI file.
func (c *Controller) LoadROIs() (int, error) {
	c.fileMu.Lock()
	defer c.fileMu.Unlock()

	pending := c.cancelAutosave()
	if err := c.registry.LoadFile(c.roiFile); err != nil {
		c.logger.Warnw("loading ROIs failed", "path", c.roiFile, "error", err)
		if pending {
			c.scheduleAutosave()
		}
		return 0, err
	}
	n := c.registry.Len()
	c.logger.Infow("ROIs loaded", "path", c.roiFile, "count", n)
	return n, nil
}

// RestoreROIs loads the ROI file at startup. A missing file is not an error.
func (c *Controller) RestoreROIs() (int, error) {
	n, err := c.LoadROIs()
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Infow("no saved ROIs", "path", c.roiFile)
		return 0, nil
	}
	return n, err
}

// FlushAutosave writes pending ROI edits, for shutdown.
func (c *Controller) FlushAutosave() error {
	if c.autosaver == nil {
		return nil
	}
	return c.autosaver.Flush()
}

func (c *Controller) scheduleAutosave() {
	if c.autosaver != nil {
		c.autosaver.Schedule()
	}
}

func (c *Controller) cancelAutosave() bool {
	return c.autosaver != nil && c.autosaver.Cancel()
}

// GetConfig returns the current detection config.
func (c *Controller) GetConfig() config.Detection {
	return c.store.Get()
}

// UpdateConfig applies a partial config record. Invalid records change
// nothing and name the offending field.
func (c *Controller) UpdateConfig(record map[string]any) (config.Detection, error) {
	cfg, err := c.store.Update(record)
	if err != nil {
		c.logger.Infow("config update rejected", "error", err)
		return config.Detection{}, err
	}
	c.logger.Infow("config updated",
		"threshold", cfg.Threshold,
		"min_area", cfg.MinArea,
		"blur_size", cfg.BlurSize,
		"rain_area_threshold", cfg.RainAreaThreshold,
	)
	return cfg, nil
}

// GetStats returns the latest published snapshot.
func (c *Controller) GetStats() motion.FrameStats {
	return c.stats.Stats()
}

// ListEvents returns recorded detection events, newest first. roiID zero
// matches every ROI.
func (c *Controller) ListEvents(roiID, limit int) ([]*database.DetectionEventRecord, error) {
	if c.events == nil {
		return []*database.DetectionEventRecord{}, nil
	}
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	events, err := c.events.ListDetectionEvents(roiID, nil, limit)
	if err != nil {
		return nil, &errdefs.PersistenceError{Op: "list events", Err: err}
	}
	return events, nil
}

// StartCamera starts the capture.
func (c *Controller) StartCamera() error {
	if c.camera == nil {
		return fmt.Errorf("%w: no camera configured", errdefs.ErrCameraUnavailable)
	}
	if c.camera.IsRunning() {
		return nil
	}
	return c.camera.Start()
}

// StopCamera stops the capture. The detection loop keeps running and reports
// the camera as disconnected.
func (c *Controller) StopCamera() error {
	if c.camera == nil {
		return nil
	}
	return c.camera.Stop()
}

// CameraStatus reports the capture state.
func (c *Controller) CameraStatus() CameraState {
	state := CameraState{Status: c.stats.Stats().CameraStatus}
	if c.camera != nil {
		s := c.camera.Stats()
		state.Device = c.camera.Device()
		state.Running = c.camera.IsRunning()
		state.Capture = &s
	}
	return state
}
