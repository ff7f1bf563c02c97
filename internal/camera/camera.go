// Package camera captures frames from a V4L2 device, an RTSP or HTTP stream
// through FFmpeg, or an HTTP snapshot endpoint, and serves them decoded to the
// detection loop.
package camera

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config describes the capture source.
type Config struct {
	// Device is a V4L2 path such as /dev/video0, an rtsp:// or http(s)://
	// stream URL, or an http(s):// URL of a still image.
	Device string
	FPS    int
	Width  int
	Height int
	// MaxBackoff caps the delay between capture restarts.
	MaxBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.FPS <= 0 {
		c.FPS = 15
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// isNetworkSource checks if device is an HTTP/RTSP URL
func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

// isHTTPImageEndpoint reports whether device serves single images that must
// be polled rather than a stream.
func isHTTPImageEndpoint(device string) bool {
	if !strings.HasPrefix(device, "http://") && !strings.HasPrefix(device, "https://") {
		return false
	}
	return strings.Contains(device, ".jpg") ||
		strings.Contains(device, ".jpeg") ||
		strings.Contains(device, ".png") ||
		strings.Contains(device, "image") ||
		strings.Contains(device, "snapshot")
}

// deviceAccessible checks that a local device exists and can be opened.
// Network sources are checked by connecting.
func deviceAccessible(device string) error {
	if isNetworkSource(device) {
		return nil
	}
	f, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("camera device %s: %w", device, err)
	}
	return f.Close()
}

// ffmpegArgs builds an image2pipe MJPEG pipeline for the device.
func ffmpegArgs(cfg Config) []string {
	output := []string{"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-"}
	rate := fmt.Sprintf("%d", cfg.FPS)

	switch {
	case strings.HasPrefix(cfg.Device, "rtsp://"):
		args := []string{"-rtsp_transport", "tcp", "-i", cfg.Device, "-r", rate}
		return append(args, output...)
	case isNetworkSource(cfg.Device):
		args := []string{"-i", cfg.Device, "-r", rate}
		return append(args, output...)
	default:
		args := []string{"-f", "v4l2"}
		if cfg.Width > 0 && cfg.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
		}
		args = append(args, "-framerate", rate, "-i", cfg.Device)
		return append(args, output...)
	}
}
