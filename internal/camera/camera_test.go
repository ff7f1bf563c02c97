package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/image/bmp"

	"roiwatch/internal/errdefs"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(w, h), nil))
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	t.Parallel()

	var pngBuf, bmpBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, testImage(12, 8)))
	require.NoError(t, bmp.Encode(&bmpBuf, testImage(12, 8)))

	tests := []struct {
		name   string
		data   []byte
		format string
	}{
		{"jpeg", encodeJPEG(t, 12, 8), "jpeg"},
		{"png", pngBuf.Bytes(), "png"},
		{"bmp", bmpBuf.Bytes(), "bmp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, format, err := Decode(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.format, format)
			assert.Equal(t, image.Rect(0, 0, 12, 8), img.Bounds())
		})
	}

	_, _, err := Decode(nil)
	assert.ErrorIs(t, err, errdefs.ErrInvalidFrame)
	_, _, err = Decode([]byte("not an image"))
	assert.ErrorIs(t, err, errdefs.ErrInvalidFrame)
}

func TestExtractJPEGFrame(t *testing.T) {
	t.Parallel()

	first := []byte{0xFF, 0xD8, 1, 2, 3, 0xFF, 0xD9}
	second := []byte{0xFF, 0xD8, 4, 0xFF, 0xD9}

	buf := append([]byte{9, 9}, first...)
	buf = append(buf, second[:3]...)

	assert.Equal(t, first, extractJPEGFrame(&buf))
	assert.Equal(t, second[:3], buf)
	assert.Nil(t, extractJPEGFrame(&buf))

	buf = append(buf, second[3:]...)
	assert.Equal(t, second, extractJPEGFrame(&buf))
	assert.Empty(t, buf)

	// Garbage without a start marker is discarded.
	buf = []byte{1, 2, 3, 4, 5}
	assert.Nil(t, extractJPEGFrame(&buf))
	assert.Empty(t, buf)

	// A split start marker survives.
	buf = []byte{1, 2, 3, 0xFF}
	assert.Nil(t, extractJPEGFrame(&buf))
	assert.Equal(t, []byte{0xFF}, buf)
}

func TestReadStreamQueuesLatestFrames(t *testing.T) {
	t.Parallel()
	c := NewCapture(Config{Device: "/dev/null"}, zaptest.NewLogger(t).Sugar())

	var stream bytes.Buffer
	stream.Write([]byte("ffmpeg banner"))
	stream.Write(encodeJPEG(t, 16, 16))
	stream.Write(encodeJPEG(t, 32, 16))
	stream.Write(encodeJPEG(t, 48, 16))

	require.ErrorIs(t, c.readStream(&stream), io.EOF)

	stats := c.Stats()
	assert.EqualValues(t, 3, stats.FramesCaptured)
	assert.EqualValues(t, 1, stats.FramesDropped)
	assert.False(t, stats.Running)

	// The oldest frame was evicted; the rest drain even though the capture
	// is not running.
	ctx := context.Background()
	f, err := c.NextFrame(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.Seq)
	assert.Equal(t, 32, f.Image.Bounds().Dx())
	assert.NotEmpty(t, f.Data)

	f, err = c.NextFrame(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, f.Seq)

	_, err = c.NextFrame(ctx)
	assert.ErrorIs(t, err, errdefs.ErrCameraUnavailable)
}

func TestNextFrameSkipsUndecodable(t *testing.T) {
	t.Parallel()
	c := NewCapture(Config{Device: "/dev/null"}, zaptest.NewLogger(t).Sugar())
	c.push([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	c.push(encodeJPEG(t, 8, 8))

	f, err := c.NextFrame(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.Seq)
	assert.EqualValues(t, 1, c.Stats().DecodeErrors)
}

func TestCaptureHTTPSnapshots(t *testing.T) {
	t.Parallel()
	frame := encodeJPEG(t, 64, 48)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(frame)
	}))
	defer srv.Close()

	c := NewCapture(Config{Device: srv.URL + "/snapshot.jpg", FPS: 20}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, c.Start())
	assert.True(t, c.IsRunning())
	assert.Error(t, c.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := c.NextFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), f.Image.Bounds())
	assert.NotNil(t, c.Stats().LastFrameTime)

	require.NoError(t, c.Stop())
	assert.False(t, c.IsRunning())
	require.NoError(t, c.Stop())

	_, err = c.NextFrame(ctx)
	assert.ErrorIs(t, err, errdefs.ErrCameraUnavailable)

	// A stopped capture can be started again.
	require.NoError(t, c.Start())
	f, err = c.NextFrame(ctx)
	require.NoError(t, err)
	assert.Greater(t, f.Seq, uint64(1))
	require.NoError(t, c.Stop())
}

func TestNextFrameHonorsContext(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewCapture(Config{Device: srv.URL + "/image"}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, c.Start())
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.NextFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Eventually(t, func() bool {
		return c.Stats().LastError != ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartRejectsMissingDevice(t *testing.T) {
	t.Parallel()
	c := NewCapture(Config{Device: "/dev/does-not-exist-roiwatch"}, zaptest.NewLogger(t).Sugar())
	err := c.Start()
	assert.ErrorIs(t, err, errdefs.ErrCameraUnavailable)
	assert.False(t, c.IsRunning())
}

func TestFFmpegArgs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		cfg    Config
		prefix []string
	}{
		{"rtsp", Config{Device: "rtsp://cam/live", FPS: 10}, []string{"-rtsp_transport", "tcp", "-i", "rtsp://cam/live", "-r", "10"}},
		{"http stream", Config{Device: "http://cam/stream.mjpg", FPS: 5}, []string{"-i", "http://cam/stream.mjpg", "-r", "5"}},
		{"v4l2", Config{Device: "/dev/video0", FPS: 15, Width: 640, Height: 480}, []string{"-f", "v4l2", "-video_size", "640x480", "-framerate", "15", "-i", "/dev/video0"}},
		{"v4l2 native size", Config{Device: "/dev/video1", FPS: 15}, []string{"-f", "v4l2", "-framerate", "15", "-i", "/dev/video1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := ffmpegArgs(tt.cfg)
			require.GreaterOrEqual(t, len(args), len(tt.prefix))
			assert.Equal(t, tt.prefix, args[:len(tt.prefix)])
			assert.Equal(t, "-", args[len(args)-1])
			assert.Contains(t, args, "image2pipe")
		})
	}

	assert.True(t, isHTTPImageEndpoint("http://cam/snapshot.jpg"))
	assert.True(t, isHTTPImageEndpoint("https://cam/cgi-bin/image"))
	assert.False(t, isHTTPImageEndpoint("http://cam/stream.mjpg"))
	assert.False(t, isHTTPImageEndpoint("/dev/video0"))
}
