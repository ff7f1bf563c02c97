package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"roiwatch/internal/errdefs"
	"roiwatch/internal/pipeline"
)

// maxPending is the number of encoded frames held for the detection loop.
// When the loop falls behind the oldest frame is dropped.
const maxPending = 2

// maxStreamBuffer bounds the bytes kept while looking for a JPEG end marker.
const maxStreamBuffer = 16 << 20

// Stats describes the capture since it was created.
type Stats struct {
	Device         string     `json:"device"`
	Running        bool       `json:"running"`
	FramesCaptured uint64     `json:"frames_captured"`
	FramesDropped  uint64     `json:"frames_dropped"`
	DecodeErrors   uint64     `json:"decode_errors"`
	Restarts       uint64     `json:"restarts"`
	LastFrameTime  *time.Time `json:"last_frame_time,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

type encodedFrame struct {
	seq  uint64
	at   time.Time
	data []byte
}

// Capture runs one capture source in the background and implements
// pipeline.FrameSource. It restarts the source with exponential backoff when
// it fails.
type Capture struct {
	cfg    Config
	logger *zap.SugaredLogger
	client *http.Client

	frames  chan encodedFrame
	seq     atomic.Uint64
	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

var _ pipeline.FrameSource = (*Capture)(nil)

// NewCapture creates a stopped capture for cfg.
func NewCapture(cfg Config, logger *zap.SugaredLogger) *Capture {
	cfg = cfg.withDefaults()
	return &Capture{
		cfg:    cfg,
		logger: logger.Named("camera"),
		client: &http.Client{Timeout: 10 * time.Second},
		frames: make(chan encodedFrame, maxPending),
		stats:  Stats{Device: cfg.Device},
	}
}

// Device returns the configured source.
func (c *Capture) Device() string {
	return c.cfg.Device
}

// Start begins capturing. Local devices must be openable.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return fmt.Errorf("capture of %s already running", c.cfg.Device)
	}
	if err := deviceAccessible(c.cfg.Device); err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrCameraUnavailable, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running.Store(true)
	go c.run(ctx, c.done)

	c.logger.Infow("capture started", "device", c.cfg.Device, "fps", c.cfg.FPS, "width", c.cfg.Width, "height", c.cfg.Height)
	return nil
}

// Stop ends the capture and discards pending frames. It is a no-op when the
// capture is not running.
func (c *Capture) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	for {
		select {
		case <-c.frames:
		default:
			c.logger.Infow("capture stopped", "device", c.cfg.Device)
			return nil
		}
	}
}

// IsRunning reports whether the capture goroutine is active.
func (c *Capture) IsRunning() bool {
	return c.running.Load()
}

// Stats returns a copy of the capture counters.
func (c *Capture) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s := c.stats
	if s.LastFrameTime != nil {
		t := *s.LastFrameTime
		s.LastFrameTime = &t
	}
	s.Running = c.running.Load()
	return s
}

// NextFrame returns the next decodable frame. Frames that fail to decode are
// counted and skipped. A stopped capture yields ErrCameraUnavailable once its
// pending frames are consumed.
func (c *Capture) NextFrame(ctx context.Context) (*pipeline.Frame, error) {
	for {
		select {
		case raw := <-c.frames:
			if f := c.decode(raw); f != nil {
				return f, nil
			}
			continue
		default:
		}

		if !c.running.Load() {
			return nil, fmt.Errorf("%w: capture of %s is not running", errdefs.ErrCameraUnavailable, c.cfg.Device)
		}

		select {
		case raw := <-c.frames:
			if f := c.decode(raw); f != nil {
				return f, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Capture) decode(raw encodedFrame) *pipeline.Frame {
	img, _, err := Decode(raw.data)
	if err != nil {
		c.statsMu.Lock()
		c.stats.DecodeErrors++
		n := c.stats.DecodeErrors
		c.statsMu.Unlock()
		if n%100 == 1 {
			c.logger.Warnw("dropping undecodable frame", "seq", raw.seq, "bytes", len(raw.data), "decode_errors", n, "error", err)
		}
		return nil
	}
	return &pipeline.Frame{Seq: raw.seq, Timestamp: raw.at, Image: img, Data: raw.data}
}

func (c *Capture) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.running.Store(false)

	backoff := time.Second
	for {
		before := c.seq.Load()
		err := c.captureOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if c.seq.Load() > before {
			backoff = time.Second
		}

		c.statsMu.Lock()
		c.stats.Restarts++
		if err != nil {
			c.stats.LastError = err.Error()
		}
		c.statsMu.Unlock()
		c.logger.Warnw("capture ended, restarting", "device", c.cfg.Device, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
}

func (c *Capture) captureOnce(ctx context.Context) error {
	if isHTTPImageEndpoint(c.cfg.Device) {
		return c.captureHTTPImages(ctx)
	}
	return c.captureFFmpeg(ctx)
}

func (c *Capture) captureHTTPImages(ctx context.Context) error {
	interval := time.Second / time.Duration(c.cfg.FPS)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		if err := c.fetchImage(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures%100 == 1 {
				c.logger.Warnw("snapshot fetch failed", "url", c.cfg.Device, "failures", failures, "error", err)
			}
			c.statsMu.Lock()
			c.stats.LastError = err.Error()
			c.statsMu.Unlock()
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Capture) fetchImage(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Device, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	c.push(data)
	return nil
}

func (c *Capture) captureFFmpeg(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(c.cfg)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	var lastLine atomic.Value
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			lastLine.Store(scanner.Text())
		}
	}()

	readErr := c.readStream(stdout)
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	msg, _ := lastLine.Load().(string)
	if waitErr != nil {
		return fmt.Errorf("ffmpeg exited: %w (%s)", waitErr, msg)
	}
	return fmt.Errorf("ffmpeg stream ended: %w", readErr)
}

// readStream splits a concatenated MJPEG stream into frames until r fails.
func (c *Capture) readStream(r io.Reader) error {
	buffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 32*1024)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&buffer)
				if frame == nil {
					break
				}
				c.push(frame)
			}
			if len(buffer) > maxStreamBuffer {
				c.logger.Warnw("discarding oversized partial frame", "bytes", len(buffer))
				buffer = buffer[:0]
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("reading frames: %w", err)
		}
	}
}

// push queues an encoded frame, evicting the oldest one when the queue is
// full.
func (c *Capture) push(data []byte) {
	seq := c.seq.Add(1)
	now := time.Now()
	frame := encodedFrame{seq: seq, at: now, data: data}

	var dropped uint64
	for {
		select {
		case c.frames <- frame:
		default:
			select {
			case <-c.frames:
				dropped++
			default:
			}
			continue
		}
		break
	}

	c.statsMu.Lock()
	c.stats.FramesCaptured++
	c.stats.FramesDropped += dropped
	c.stats.LastFrameTime = &now
	c.statsMu.Unlock()

	if seq%100 == 0 {
		c.logger.Debugw("frames captured", "device", c.cfg.Device, "seq", seq)
	}
}
