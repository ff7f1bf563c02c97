package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"roiwatch/internal/config"
	"roiwatch/internal/grpcapi"
	"roiwatch/internal/motion"
	"roiwatch/internal/roi"
	"roiwatch/internal/services"
)

type idleStats struct{}

func (idleStats) Stats() motion.FrameStats {
	return motion.FrameStats{CameraStatus: motion.CameraDisconnected, MotionDetectedROIs: []int{}}
}

func (idleStats) LastDetection(int) (time.Time, bool) { return time.Time{}, false }

func bufDialer(t *testing.T) dialer {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	store, err := config.NewStore(config.DefaultDetection())
	require.NoError(t, err)
	registry := roi.NewRegistry(4)
	registry.SetBounds(640, 480)
	ctrl := services.NewController(services.Options{
		Store:    store,
		Registry: registry,
		ROIFile:  filepath.Join(t.TempDir(), "rois.json"),
		Stats:    idleStats{},
		Logger:   logger,
	})

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	grpcapi.RegisterControlServer(srv, grpcapi.NewServer(ctrl, logger))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return func(string) (grpc.ClientConnInterface, func() error, error) {
		conn, err := grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			return nil, nil, err
		}
		return conn, conn.Close, nil
	}
}

func runCLI(t *testing.T, dial dialer, args ...string) (map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp(dial)
	app.Writer = &out
	if err := app.Run(append([]string{"roiwatch-cli"}, args...)); err != nil {
		return nil, err
	}
	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	return result, nil
}

func TestCLICommands(t *testing.T) {
	dial := bufDialer(t)

	out, err := runCLI(t, dial, "rois", "add", "10", "10", "200", "150")
	require.NoError(t, err)
	assert.EqualValues(t, 1, out["roi"].(map[string]any)["id"])

	out, err = runCLI(t, dial, "rois", "list")
	require.NoError(t, err)
	assert.Len(t, out["rois"], 1)

	_, err = runCLI(t, dial, "rois", "add", "10", "10", "20")
	assert.ErrorContains(t, err, "missing argument Y2")

	_, err = runCLI(t, dial, "rois", "delete", "9")
	assert.ErrorContains(t, err, "NotFound")

	out, err = runCLI(t, dial, "config", "set", "--threshold", "1500")
	require.NoError(t, err)
	assert.EqualValues(t, 1500, out["threshold"])
	assert.EqualValues(t, config.DefaultMinArea, out["min_area"])

	_, err = runCLI(t, dial, "config", "set")
	assert.ErrorContains(t, err, "nothing to set")

	out, err = runCLI(t, dial, "stats")
	require.NoError(t, err)
	assert.Equal(t, "disconnected", out["camera_status"])

	out, err = runCLI(t, dial, "rois", "clear")
	require.NoError(t, err)
	assert.EqualValues(t, 1, out["count"])
}
