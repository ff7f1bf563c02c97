package database

import (
	"context"
	"time"

	"go.uber.org/zap"

	"roiwatch/internal/pipeline"
)

// Recorder stores detection events from an event bus channel. Writes happen
// on the recorder's goroutine so the detection loop never waits for disk.
type Recorder struct {
	db        *Database
	events    <-chan *pipeline.DetectionEvent
	retention time.Duration
	logger    *zap.SugaredLogger
}

// NewRecorder creates a recorder. A positive retention prunes older events
// once an hour.
func NewRecorder(db *Database, events <-chan *pipeline.DetectionEvent, retention time.Duration) *Recorder {
	return &Recorder{db: db, events: events, retention: retention, logger: db.logger}
}

// Run stores events until ctx is done or the channel is closed. Pending
// events are stored before returning.
func (r *Recorder) Run(ctx context.Context) error {
	var prune <-chan time.Time
	if r.retention > 0 {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		prune = ticker.C
		r.prune()
	}

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case event, ok := <-r.events:
			if !ok {
				return nil
			}
			r.store(event)
		case <-prune:
			r.prune()
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case event, ok := <-r.events:
			if !ok {
				return
			}
			r.store(event)
		default:
			return
		}
	}
}

func (r *Recorder) store(event *pipeline.DetectionEvent) {
	err := r.db.SaveDetectionEvent(&DetectionEventRecord{
		ID:        event.ID,
		ROIID:     event.ROIID,
		Timestamp: event.Timestamp,
		Area:      event.Area,
		Blobs:     event.Blobs,
		FrameSeq:  event.FrameSeq,
	})
	if err != nil {
		r.logger.Warnw("dropping detection event", "id", event.ID, "roi", event.ROIID, "error", err)
	}
}

func (r *Recorder) prune() {
	n, err := r.db.DeleteOldDetectionEvents(time.Now().Add(-r.retention))
	if err != nil {
		r.logger.Warnw("pruning detection events failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Infow("pruned detection events", "count", n, "retention", r.retention)
	}
}
