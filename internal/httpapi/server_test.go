package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	goahttp "goa.design/goa/v3/http"

	"roiwatch/internal/config"
	"roiwatch/internal/errdefs"
	"roiwatch/internal/motion"
	"roiwatch/internal/roi"
	"roiwatch/internal/services"
)

type staticStats struct {
	stats motion.FrameStats
}

func (s staticStats) Stats() motion.FrameStats              { return s.stats }
func (s staticStats) LastDetection(int) (time.Time, bool) { return time.Time{}, false }

type notRunning struct{}

func (notRunning) Running() bool { return false }

func newTestServer(t *testing.T) (*httptest.Server, *roi.Registry) {
	t.Helper()
	store, err := config.NewStore(config.DefaultDetection())
	require.NoError(t, err)
	registry := roi.NewRegistry(4)
	registry.SetBounds(640, 480)

	logger := zaptest.NewLogger(t).Sugar()
	ctrl := services.NewController(services.Options{
		Store:    store,
		Registry: registry,
		ROIFile:  filepath.Join(t.TempDir(), "rois.json"),
		Stats: staticStats{stats: motion.FrameStats{
			CameraStatus:       motion.CameraConnected,
			FPS:                14.2,
			MotionDetectedROIs: []int{},
		}},
		Logger: logger,
	})

	mux := goahttp.NewMuxer()
	srv := New(ctrl, services.NewHealth(nil, notRunning{}), logger)
	srv.Mount(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, registry
}

func call(t *testing.T, ts *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestROIRoutes(t *testing.T) {
	ts, registry := newTestServer(t)

	status, body := call(t, ts, "POST", "/api/rois", `{"x1":300,"y1":200,"x2":100,"y2":100}`)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, true, body["success"])
	created := body["roi"].(map[string]any)
	assert.EqualValues(t, 1, created["id"])
	assert.EqualValues(t, 100, created["x1"])
	assert.EqualValues(t, 20000, created["area"])

	status, body = call(t, ts, "POST", "/api/rois", `{"x1":0,"y1":0,"x2":20,"y2":200}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "width", body["field"])

	status, body = call(t, ts, "POST", "/api/rois", `{"x1":0,"y1":0,"x2":100}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "y2", body["field"])

	status, body = call(t, ts, "GET", "/api/rois", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["rois"], 1)

	status, body = call(t, ts, "DELETE", "/api/rois/7", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "roi 7 not found", body["message"])

	status, _ = call(t, ts, "DELETE", "/api/rois/abc", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = call(t, ts, "DELETE", "/api/rois/1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Zero(t, registry.Len())
}

func TestROIPersistenceRoutes(t *testing.T) {
	ts, registry := newTestServer(t)

	status, body := call(t, ts, "POST", "/api/rois/load", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, false, body["success"])

	for i := 0; i < 2; i++ {
		status, _ = call(t, ts, "POST", "/api/rois", fmt.Sprintf(`{"x1":%d,"y1":0,"x2":%d,"y2":100}`, i*200, i*200+100))
		require.Equal(t, http.StatusCreated, status)
	}

	status, body = call(t, ts, "POST", "/api/rois/save", "")
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["count"])

	status, body = call(t, ts, "POST", "/api/rois/clear", "")
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["count"])
	assert.Zero(t, registry.Len())

	status, body = call(t, ts, "POST", "/api/rois/load", "")
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["count"])
	assert.Equal(t, 2, registry.Len())
}

func TestConfigRoutes(t *testing.T) {
	ts, _ := newTestServer(t)

	status, body := call(t, ts, "GET", "/api/config", "")
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, config.DefaultThreshold, body["config"].(map[string]any)["threshold"])

	status, body = call(t, ts, "PUT", "/api/config", `{"threshold":1200,"blur_size":6}`)
	assert.Equal(t, http.StatusOK, status)
	cfg := body["config"].(map[string]any)
	assert.EqualValues(t, 1200, cfg["threshold"])
	assert.EqualValues(t, 7, cfg["blur_size"])

	status, body = call(t, ts, "PUT", "/api/config", `{"rain_area_threshold":-1}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "rain_area_threshold", body["field"])

	status, _ = call(t, ts, "PUT", "/api/config", `{"threshold":`)
	assert.Equal(t, http.StatusBadRequest, status)

	_, body = call(t, ts, "GET", "/api/config", "")
	assert.EqualValues(t, 1200, body["config"].(map[string]any)["threshold"])
}

func TestStatsEventsAndCameraRoutes(t *testing.T) {
	ts, _ := newTestServer(t)

	status, body := call(t, ts, "GET", "/api/stats", "")
	assert.Equal(t, http.StatusOK, status)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, "connected", stats["camera_status"])
	assert.Equal(t, 14.2, stats["fps"])
	assert.Nil(t, stats["last_detection_time"])

	status, body = call(t, ts, "GET", "/api/events?limit=5", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, body["events"])

	status, body = call(t, ts, "GET", "/api/events?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "limit", body["field"])

	status, _ = call(t, ts, "POST", "/api/camera/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, body = call(t, ts, "GET", "/api/camera/status", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "connected", body["camera"].(map[string]any)["status"])
}

func TestHealthRoutes(t *testing.T) {
	ts, _ := newTestServer(t)

	status, body := call(t, ts, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, body = call(t, ts, "GET", "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "detection loop not running", body["message"])
}

func TestStatusOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{errdefs.Invalid("x1", "bad"), http.StatusBadRequest},
		{&errdefs.NotFoundError{Kind: "roi", ID: 1}, http.StatusNotFound},
		{fmt.Errorf("start: %w", errdefs.ErrCameraUnavailable), http.StatusServiceUnavailable},
		{&errdefs.PersistenceError{Op: "save", Err: errors.New("disk full")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), tt.err.Error())
	}
}
