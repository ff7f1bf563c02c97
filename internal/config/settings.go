package config

import (
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Settings are the process-level options read once at start.
type Settings struct {
	CameraDevice   string
	CameraFPS      int
	CameraWidth    int
	CameraHeight   int
	FrameTimeout   time.Duration
	RetryDelay     time.Duration
	ROIFile        string
	MaxROIs        int
	DBPath         string
	ConfigFile     string
	MorphKernel    int
	LogLevel       string
	HTTPAddr       string
	GRPCAddr       string
	AutosaveDelay  time.Duration
	AutoStartVideo bool
	EventRetention time.Duration
	ForwardFrames  bool
}

// DefaultSettings returns the settings used when no environment is set.
func DefaultSettings() Settings {
	return Settings{
		CameraDevice:   "/dev/video0",
		CameraFPS:      15,
		CameraWidth:    640,
		CameraHeight:   480,
		FrameTimeout:   5 * time.Second,
		RetryDelay:     2 * time.Second,
		ROIFile:        "config/rois.json",
		MaxROIs:        4,
		DBPath:         "data/roiwatch.db",
		MorphKernel:    5,
		LogLevel:       "info",
		HTTPAddr:       ":8080",
		GRPCAddr:       ":9090",
		AutosaveDelay:  time.Second,
		AutoStartVideo: true,
		EventRetention: 30 * 24 * time.Hour,
	}
}

// SettingsFromEnv overlays ROIWATCH_* environment variables on the defaults.
// Unparseable values keep the default and are logged.
func SettingsFromEnv(logger *zap.SugaredLogger) Settings {
	return settingsFrom(os.Getenv, logger)
}

func settingsFrom(getenv func(string) string, logger *zap.SugaredLogger) Settings {
	s := DefaultSettings()
	env := envReader{getenv: getenv, logger: logger}

	env.str("ROIWATCH_CAMERA_DEVICE", &s.CameraDevice)
	env.integer("ROIWATCH_CAMERA_FPS", &s.CameraFPS, 1)
	env.integer("ROIWATCH_CAMERA_WIDTH", &s.CameraWidth, 1)
	env.integer("ROIWATCH_CAMERA_HEIGHT", &s.CameraHeight, 1)
	env.duration("ROIWATCH_FRAME_TIMEOUT", &s.FrameTimeout)
	env.duration("ROIWATCH_RETRY_DELAY", &s.RetryDelay)
	env.str("ROIWATCH_ROI_FILE", &s.ROIFile)
	env.integer("ROIWATCH_MAX_ROIS", &s.MaxROIs, 0)
	env.str("ROIWATCH_DB_PATH", &s.DBPath)
	env.str("ROIWATCH_CONFIG_FILE", &s.ConfigFile)
	env.integer("ROIWATCH_MORPH_KERNEL", &s.MorphKernel, 0)
	env.str("ROIWATCH_LOG_LEVEL", &s.LogLevel)
	env.str("ROIWATCH_HTTP_ADDR", &s.HTTPAddr)
	env.str("ROIWATCH_GRPC_ADDR", &s.GRPCAddr)
	env.duration("ROIWATCH_AUTOSAVE_DELAY", &s.AutosaveDelay)
	env.boolean("ROIWATCH_AUTOSTART", &s.AutoStartVideo)
	env.duration("ROIWATCH_EVENT_RETENTION", &s.EventRetention)
	env.boolean("ROIWATCH_WS_FRAMES", &s.ForwardFrames)
	return s
}

type envReader struct {
	getenv func(string) string
	logger *zap.SugaredLogger
}

func (e envReader) str(key string, dst *string) {
	if v := e.getenv(key); v != "" {
		*dst = v
	}
}

func (e envReader) integer(key string, dst *int, min int) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		e.logger.Warnw("ignoring invalid integer setting", "key", key, "value", v, "default", *dst)
		return
	}
	*dst = n
}

func (e envReader) duration(key string, dst *time.Duration) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		e.logger.Warnw("ignoring invalid duration setting", "key", key, "value", v, "default", *dst)
		return
	}
	*dst = d
}

func (e envReader) boolean(key string, dst *bool) {
	v := e.getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.logger.Warnw("ignoring invalid boolean setting", "key", key, "value", v, "default", *dst)
		return
	}
	*dst = b
}
