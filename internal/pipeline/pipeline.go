package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"roiwatch/internal/config"
	"roiwatch/internal/errdefs"
	"roiwatch/internal/motion"
	"roiwatch/internal/roi"
)

// Options tune the detection loop. Zero values select the defaults.
type Options struct {
	// FrameTimeout bounds the wait for each frame.
	FrameTimeout time.Duration
	// RetryDelay is the pause after a failed acquisition.
	RetryDelay time.Duration
	// MorphKernel is the side of the mask cleanup kernel; below 3 disables it.
	MorphKernel   int
	ConfirmFrames int
	ClearFrames   int
	LearningRate  float64
	Deviation     float64
	FPSSmoothing  float64
	Clock         clock.Clock
	Logger        *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.FrameTimeout <= 0 {
		o.FrameTimeout = 5 * time.Second
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.ConfirmFrames <= 0 {
		o.ConfirmFrames = motion.DefaultConfirmFrames
	}
	if o.ClearFrames <= 0 {
		o.ClearFrames = motion.DefaultClearFrames
	}
	if o.LearningRate <= 0 {
		o.LearningRate = motion.DefaultLearningRate
	}
	if o.Deviation <= 0 {
		o.Deviation = motion.DefaultDeviationThreshold
	}
	if o.FPSSmoothing <= 0 {
		o.FPSSmoothing = motion.DefaultFPSSmoothing
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// LoopStats counts what the loop has done since it started.
type LoopStats struct {
	FramesProcessed  uint64 `json:"frames_processed"`
	FramesSkipped    uint64 `json:"frames_skipped"`
	AcquireFailures  uint64 `json:"acquire_failures"`
	ResolutionResets uint64 `json:"resolution_resets"`
	// DroppedROIs counts ROIs removed because the frame size changed.
	DroppedROIs uint64 `json:"dropped_rois"`
}

// Pipeline is the detection loop for one camera. Everything it computes per
// frame is owned by the goroutine running Run; other goroutines only read
// published snapshots.
type Pipeline struct {
	source       FrameSource
	store        *config.Store
	registry     *roi.Registry
	bus          *EventBus
	opts         Options
	logger       *zap.SugaredLogger
	clock        clock.Clock
	broadcasters []Broadcaster

	// loop state
	pre        *motion.Preprocessor
	background *motion.BackgroundModel
	morph      *motion.Morphology
	evaluator  motion.RegionEvaluator
	rain       motion.RainClassifier
	tracker    *motion.Tracker
	cfg        config.Detection
	cfgVersion uint64
	rois       []roi.ROI
	roiVersion uint64
	width      int
	height     int

	stats   *motion.StatsAggregator
	running atomic.Bool

	processed atomic.Uint64
	skipped   atomic.Uint64
	failures  atomic.Uint64
	resets    atomic.Uint64
	dropped   atomic.Uint64

	lastMu        sync.RWMutex
	lastDetection map[int]time.Time
}

// New wires a pipeline. bus may be nil when nobody consumes detection events.
func New(source FrameSource, store *config.Store, registry *roi.Registry, bus *EventBus, opts Options) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		source:        source,
		store:         store,
		registry:      registry,
		bus:           bus,
		opts:          opts,
		logger:        opts.Logger,
		clock:         opts.Clock,
		pre:           motion.NewPreprocessor(),
		background:    motion.NewBackgroundModel(opts.LearningRate, opts.Deviation),
		morph:         motion.NewMorphology(opts.MorphKernel),
		tracker:       motion.NewTracker(opts.ConfirmFrames, opts.ClearFrames),
		stats:         motion.NewStatsAggregator(opts.FPSSmoothing),
		lastDetection: make(map[int]time.Time),
	}
}

// AddBroadcaster registers b. It must be called before Run.
func (p *Pipeline) AddBroadcaster(b Broadcaster) {
	p.broadcasters = append(p.broadcasters, b)
}

// Stats returns the latest published snapshot.
func (p *Pipeline) Stats() motion.FrameStats {
	return p.stats.Latest()
}

// LoopStats returns the loop counters.
func (p *Pipeline) LoopStats() LoopStats {
	return LoopStats{
		FramesProcessed:  p.processed.Load(),
		FramesSkipped:    p.skipped.Load(),
		AcquireFailures:  p.failures.Load(),
		ResolutionResets: p.resets.Load(),
		DroppedROIs:      p.dropped.Load(),
	}
}

// LastDetection returns when ROI id last had a confirmed rising edge.
func (p *Pipeline) LastDetection(id int) (time.Time, bool) {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	t, ok := p.lastDetection[id]
	return t, ok
}

// Running reports whether Run is active.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Run processes frames until ctx is done. Acquisition failures are reported
// through the snapshot's camera status and retried; a frame that cannot be
// processed is logged and skipped. Run returns nil on cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("pipeline already running")
	}
	defer p.running.Store(false)

	// A new session relearns the scene.
	p.background.Reset()
	p.tracker.Reset()

	p.logger.Infow("detection loop started", "frame_timeout", p.opts.FrameTimeout, "retry_delay", p.opts.RetryDelay)
	defer p.logger.Infow("detection loop stopped", "frames", p.processed.Load(), "skipped", p.skipped.Load())

	for {
		if ctx.Err() != nil {
			p.publishStatus(motion.CameraDisconnected)
			return nil
		}

		frame, err := p.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.publishStatus(motion.CameraDisconnected)
				return nil
			}
			p.acquireFailed(err)
			if !p.sleep(ctx, p.opts.RetryDelay) {
				p.publishStatus(motion.CameraDisconnected)
				return nil
			}
			continue
		}

		if err := p.processFrame(frame); err != nil {
			p.skipped.Add(1)
			p.logger.Warnw("skipping frame", "seq", frame.Seq, "error", err)
		}
	}
}

func (p *Pipeline) next(ctx context.Context) (*Frame, error) {
	fctx, cancel := p.clock.WithTimeout(ctx, p.opts.FrameTimeout)
	defer cancel()
	frame, err := p.source.NextFrame(fctx)
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, fmt.Errorf("%w: source returned no frame", errdefs.ErrCameraUnavailable)
	}
	return frame, nil
}

func (p *Pipeline) acquireFailed(err error) {
	n := p.failures.Add(1)
	status := motion.CameraError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errdefs.ErrCameraUnavailable) {
		status = motion.CameraDisconnected
	}
	prev := p.stats.Latest().CameraStatus
	p.publishStatus(status)
	if prev != status || n%100 == 1 {
		p.logger.Warnw("frame acquisition failed", "status", status, "failures", n, "error", err)
	}
}

func (p *Pipeline) publishStatus(status motion.CameraStatus) {
	s := p.stats.SetCameraStatus(status)
	p.broadcast(*s, nil)
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(d):
		return true
	}
}

// processFrame runs every stage for one frame. Config and ROI changes made
// since the previous frame are picked up first and stay fixed for the rest of
// the frame.
func (p *Pipeline) processFrame(frame *Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic while processing: %v", errdefs.ErrInvalidFrame, r)
		}
	}()

	if frame.Image == nil {
		return fmt.Errorf("%w: no image", errdefs.ErrInvalidFrame)
	}
	arrived := p.clock.Now()

	p.syncBoundary()

	gray := p.pre.Gray(frame.Image, p.cfg.BlurSize)
	p.checkResolution(gray.Bounds().Dx(), gray.Bounds().Dy())

	mask, err := p.background.Apply(gray)
	if err != nil {
		return err
	}
	mask = p.morph.Apply(mask)

	ev := p.evaluator.Evaluate(mask, p.rois, p.cfg)
	rain := p.rain.Classify(ev.SmallAreas, p.cfg.RainAreaThreshold)

	var detectedAt *time.Time
	for _, region := range ev.Regions {
		if !p.tracker.Observe(region.ID, rain.Suppress(region.Raw)) {
			continue
		}
		detectedAt = &arrived
		p.recordDetection(frame, region, arrived)
	}

	stats := p.stats.Publish(motion.FrameResult{
		Seq:          frame.Seq,
		ArrivedAt:    arrived,
		ActiveROIs:   len(p.rois),
		Confirmed:    p.tracker.Confirmed(),
		Rain:         rain.Detected,
		Total:        p.tracker.TotalDetections(),
		DetectedAt:   detectedAt,
		CameraStatus: motion.CameraConnected,
	})
	n := p.processed.Add(1)
	if n%100 == 0 {
		p.logger.Debugw("frames processed", "count", n, "fps", stats.FPS, "rain", rain.Detected, "small_area", rain.SmallArea)
	}
	p.broadcast(*stats, frame.Data)
	return nil
}

// syncBoundary applies pending config and ROI changes.
func (p *Pipeline) syncBoundary() {
	cfg, version := p.store.Snapshot()
	if version != p.cfgVersion {
		if p.cfgVersion != 0 {
			p.logger.Infow("detection config applied",
				"threshold", cfg.Threshold,
				"min_area", cfg.MinArea,
				"blur_size", cfg.BlurSize,
				"rain_area_threshold", cfg.RainAreaThreshold,
			)
		}
		p.cfg, p.cfgVersion = cfg, version
	}

	rois, version := p.registry.Snapshot()
	if version != p.roiVersion || p.rois == nil {
		p.rois, p.roiVersion = rois, version
		p.tracker.Sync(rois)
		p.pruneLastDetections(rois)
	}
}

// checkResolution handles the first frame of a session and any later change
// of frame size. ROIs are defined in frame coordinates, so a new size drops
// them along with the learned background.
func (p *Pipeline) checkResolution(w, h int) {
	if w == p.width && h == p.height {
		return
	}

	bw, bh := p.registry.Bounds()
	first := p.width == 0 && p.height == 0
	prevW, prevH := p.width, p.height
	if first {
		prevW, prevH = bw, bh
	}
	p.width, p.height = w, h

	if first && (bw == 0 || (bw == w && bh == h)) {
		p.registry.SetBounds(w, h)
		return
	}
	p.resets.Add(1)
	p.background.Reset()
	p.tracker.Reset()
	p.registry.SetBounds(w, h)
	dropped := p.registry.Clear()
	p.dropped.Add(uint64(dropped))
	rois, version := p.registry.Snapshot()
	p.rois, p.roiVersion = rois, version
	p.tracker.Sync(rois)
	p.pruneLastDetections(rois)

	p.logger.Warnw("frame resolution changed, ROIs must be redefined",
		"previous", fmt.Sprintf("%dx%d", prevW, prevH),
		"current", fmt.Sprintf("%dx%d", w, h),
		"dropped_rois", dropped,
	)
}

func (p *Pipeline) recordDetection(frame *Frame, region motion.RegionResult, at time.Time) {
	p.lastMu.Lock()
	p.lastDetection[region.ID] = at
	p.lastMu.Unlock()

	event := &DetectionEvent{
		ID:        uuid.New().String(),
		ROIID:     region.ID,
		Timestamp: at,
		Area:      region.Area,
		Blobs:     region.Blobs,
		FrameSeq:  frame.Seq,
	}
	p.logger.Infow("motion confirmed", "roi", region.ID, "area", region.Area, "seq", frame.Seq)
	if p.bus != nil {
		p.bus.Publish(event)
	}
}

func (p *Pipeline) pruneLastDetections(rois []roi.ROI) {
	live := make(map[int]bool, len(rois))
	for _, r := range rois {
		live[r.ID] = true
	}
	p.lastMu.Lock()
	defer p.lastMu.Unlock()
	for id := range p.lastDetection {
		if !live[id] {
			delete(p.lastDetection, id)
		}
	}
}

func (p *Pipeline) broadcast(stats motion.FrameStats, payload []byte) {
	for _, b := range p.broadcasters {
		b.Broadcast(stats, payload)
	}
}
