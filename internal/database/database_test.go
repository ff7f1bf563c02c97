package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"roiwatch/internal/config"
	"roiwatch/internal/pipeline"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "nested", "roiwatch.db"), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
	assert.False(t, dirty)

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Ping(context.Background()))
}

func TestConfigValues(t *testing.T) {
	db := openTestDB(t)

	value, err := db.GetConfig("missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, db.SaveConfig("k", "one"))
	require.NoError(t, db.SaveConfig("k", "two"))
	value, err = db.GetConfig("k")
	require.NoError(t, err)
	assert.Equal(t, "two", value)
}

func TestDetectionConfigPersistence(t *testing.T) {
	db := openTestDB(t)

	_, ok, err := db.LoadDetectionConfig()
	require.NoError(t, err)
	assert.False(t, ok)

	want := config.Detection{Threshold: 900, MinArea: 200, BlurSize: 7, RainAreaThreshold: 1000}
	require.NoError(t, db.SaveDetectionConfig(want))

	got, ok, err := db.LoadDetectionConfig()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, db.SaveConfig(DetectionConfigKey, "{broken"))
	_, _, err = db.LoadDetectionConfig()
	assert.Error(t, err)
}

func TestDetectionEvents(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*DetectionEventRecord{
		{ID: "a", ROIID: 1, Timestamp: base, Area: 900, Blobs: 1, FrameSeq: 10},
		{ID: "b", ROIID: 2, Timestamp: base.Add(time.Minute), Area: 1200, Blobs: 2, FrameSeq: 50},
		{ID: "c", ROIID: 1, Timestamp: base.Add(2 * time.Minute), Area: 1000, Blobs: 1, FrameSeq: 90},
	}
	for _, r := range records {
		require.NoError(t, db.SaveDetectionEvent(r))
	}
	// Duplicate ids are ignored.
	require.NoError(t, db.SaveDetectionEvent(&DetectionEventRecord{ID: "a", ROIID: 3, Timestamp: base}))

	all, err := db.ListDetectionEvents(0, nil, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)
	assert.Equal(t, 1, all[2].ROIID)
	assert.True(t, all[2].Timestamp.Equal(base))
	assert.EqualValues(t, 10, all[2].FrameSeq)

	roiOne, err := db.ListDetectionEvents(1, nil, 0)
	require.NoError(t, err)
	assert.Len(t, roiOne, 2)

	since := base.Add(30 * time.Second)
	recent, err := db.ListDetectionEvents(0, &since, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "c", recent[0].ID)

	n, err := db.DeleteOldDetectionEvents(base.Add(90 * time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	rest, err := db.ListDetectionEvents(0, nil, 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].ID)
}

func TestRecorderStoresBusEvents(t *testing.T) {
	db := openTestDB(t)
	bus := pipeline.NewEventBus()
	events, unsubscribe := bus.SubscribeChannel(8)

	rec := NewRecorder(db, events, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	now := time.Now().UTC()
	bus.Publish(&pipeline.DetectionEvent{ID: "e1", ROIID: 4, Timestamp: now, Area: 1500, Blobs: 1, FrameSeq: 7})
	bus.Publish(&pipeline.DetectionEvent{ID: "e2", ROIID: 4, Timestamp: now.Add(time.Second), Area: 1600, Blobs: 2, FrameSeq: 22})

	assert.Eventually(t, func() bool {
		list, err := db.ListDetectionEvents(4, nil, 0)
		return err == nil && len(list) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	// A closed channel also ends the recorder.
	unsubscribe()
	assert.NoError(t, NewRecorder(db, events, 0).Run(context.Background()))
}
