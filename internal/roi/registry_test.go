package roi

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"roiwatch/internal/errdefs"
)

func TestAddNormalizesCorners(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		x1, y1, x2, y2 int
		want           ROI
	}{
		{"already ordered", 100, 100, 300, 200, ROI{ID: 1, X1: 100, Y1: 100, X2: 300, Y2: 200}},
		{"swapped x", 300, 100, 100, 200, ROI{ID: 1, X1: 100, Y1: 100, X2: 300, Y2: 200}},
		{"swapped y", 100, 200, 300, 100, ROI{ID: 1, X1: 100, Y1: 100, X2: 300, Y2: 200}},
		{"both swapped", 300, 200, 100, 100, ROI{ID: 1, X1: 100, Y1: 100, X2: 300, Y2: 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(0)
			got, err := r.Add(tt.x1, tt.y1, tt.x2, tt.y2)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Less(t, got.X1, got.X2)
			assert.Less(t, got.Y1, got.Y2)
		})
	}
}

func TestAddMinimumSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		w, h      int
		wantField string
	}{
		{"51x51 accepted", 51, 51, ""},
		{"width 50 rejected", 50, 100, "width"},
		{"height 50 rejected", 100, 50, "height"},
		{"degenerate rejected", 0, 0, "width"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(0)
			_, err := r.Add(10, 10, 10+tt.w, 10+tt.h)
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			var verr *errdefs.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
			assert.Zero(t, r.Len())
		})
	}
}

func TestAddClampsToFrame(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)
	r.SetBounds(640, 480)

	got, err := r.Add(-20, 400, 700, 600)
	require.NoError(t, err)
	assert.Equal(t, ROI{ID: 1, X1: 0, Y1: 400, X2: 640, Y2: 480}, got)

	// Entirely outside the frame collapses to nothing.
	_, err = r.Add(700, 500, 900, 700)
	assert.True(t, errdefs.IsValidation(err))

	// Clamping can shrink a rectangle below the minimum.
	_, err = r.Add(600, 0, 800, 200)
	assert.True(t, errdefs.IsValidation(err))
}

func TestAddRespectsCap(t *testing.T) {
	t.Parallel()
	r := NewRegistry(2)
	for i := 0; i < 2; i++ {
		_, err := r.Add(0, 0, 100, 100)
		require.NoError(t, err)
	}
	_, err := r.Add(0, 0, 100, 100)
	var verr *errdefs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "roi", verr.Field)
}

func TestIDsAreNeverReused(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)
	a, _ := r.Add(0, 0, 100, 100)
	b, _ := r.Add(0, 0, 100, 100)
	require.NoError(t, r.Delete(b.ID))

	c, err := r.Add(0, 0, 100, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, a.ID)
	assert.Equal(t, 3, c.ID)

	r.Clear()
	d, err := r.Add(0, 0, 100, 100)
	require.NoError(t, err)
	assert.Equal(t, 4, d.ID)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)
	for i := 0; i < 3; i++ {
		_, err := r.Add(0, 0, 100+i, 100)
		require.NoError(t, err)
	}
	_, v0 := r.Snapshot()

	require.NoError(t, r.Delete(2))
	ids := []int{}
	for _, roi := range r.List() {
		ids = append(ids, roi.ID)
	}
	assert.Equal(t, []int{1, 3}, ids)

	err := r.Delete(2)
	assert.True(t, errdefs.IsNotFound(err))
	_, v1 := r.Snapshot()
	assert.Equal(t, v0+1, v1)
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)
	_, err := r.Add(0, 0, 100, 100)
	require.NoError(t, err)

	rois, _ := r.Snapshot()
	rois[0].X1 = 99
	assert.Equal(t, 0, r.List()[0].X1)
}

func TestSaveClearLoadRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config", "rois.json")

	r := NewRegistry(0)
	for _, rect := range [][4]int{{100, 100, 300, 200}, {0, 0, 60, 60}, {400, 50, 200, 300}} {
		_, err := r.Add(rect[0], rect[1], rect[2], rect[3])
		require.NoError(t, err)
	}
	before := r.List()

	require.NoError(t, r.SaveFile(path))
	r.Clear()
	require.Zero(t, r.Len())
	require.NoError(t, r.LoadFile(path))

	if diff := cmp.Diff(before, r.List()); diff != "" {
		t.Fatalf("registry mismatch after reload (-want +got):\n%s", diff)
	}

	// Ids continue after the restored maximum.
	next, err := r.Add(0, 0, 100, 100)
	require.NoError(t, err)
	assert.Equal(t, 4, next.ID)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "rois.json")
	r := NewRegistry(0)
	_, err := r.Add(0, 0, 100, 100)
	require.NoError(t, err)

	require.NoError(t, r.SaveFile(path))
	require.NoError(t, r.SaveFile(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rois.json", entries[0].Name())
}

func TestSaveFailureKeepsLiveSet(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	r := NewRegistry(0)
	_, err := r.Add(0, 0, 100, 100)
	require.NoError(t, err)

	err = r.SaveFile(filepath.Join(blocker, "rois.json"))
	assert.True(t, errdefs.IsPersistence(err))
	assert.Equal(t, 1, r.Len())
}

func TestLoadFailuresKeepCurrentSet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"malformed json", `[{"id": 1,`},
		{"duplicate ids", `[{"id":1,"x1":0,"y1":0,"x2":100,"y2":100},{"id":1,"x1":0,"y1":0,"x2":100,"y2":100}]`},
		{"too small", `[{"id":1,"x1":0,"y1":0,"x2":50,"y2":100}]`},
		{"not normalized", `[{"id":1,"x1":100,"y1":0,"x2":0,"y2":100}]`},
		{"zero id", `[{"id":0,"x1":0,"y1":0,"x2":100,"y2":100}]`},
		{"outside frame", `[{"id":1,"x1":0,"y1":0,"x2":1000,"y2":100}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(0)
			r.SetBounds(640, 480)
			_, err := r.Add(10, 10, 200, 200)
			require.NoError(t, err)
			before := r.List()

			err = r.Restore(strings.NewReader(tt.content))
			assert.True(t, errdefs.IsValidation(err), "got %v", err)
			assert.Equal(t, before, r.List())
		})
	}

	t.Run("missing file", func(t *testing.T) {
		r := NewRegistry(0)
		_, err := r.Add(10, 10, 200, 200)
		require.NoError(t, err)

		err = r.LoadFile(filepath.Join(t.TempDir(), "absent.json"))
		assert.True(t, errors.Is(err, fs.ErrNotExist))
		assert.True(t, errdefs.IsPersistence(err))
		assert.Equal(t, 1, r.Len())
	})
}

func TestPersistFormat(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)
	_, err := r.Add(100, 100, 300, 200)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Persist(&buf))
	assert.JSONEq(t, `[{"id":1,"x1":100,"y1":100,"x2":300,"y2":200}]`, buf.String())
}

func TestAutosaverCoalescesEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rois.json")
	r := NewRegistry(0)
	a := NewAutosaver(r, path, 20*time.Millisecond, zaptest.NewLogger(t).Sugar())

	for i := 0; i < 3; i++ {
		_, err := r.Add(0, 0, 100, 100)
		require.NoError(t, err)
		a.Schedule()
	}

	require.Eventually(t, func() bool { return a.Saves() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, a.Saves())

	restored := NewRegistry(0)
	require.NoError(t, restored.LoadFile(path))
	assert.Equal(t, r.List(), restored.List())
}

func TestAutosaverFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rois.json")
	r := NewRegistry(0)
	a := NewAutosaver(r, path, time.Hour, zaptest.NewLogger(t).Sugar())

	require.NoError(t, a.Flush())
	assert.Zero(t, a.Saves())

	_, err := r.Add(0, 0, 100, 100)
	require.NoError(t, err)
	a.Schedule()
	require.NoError(t, a.Flush())
	assert.Equal(t, 1, a.Saves())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestAutosaverCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rois.json")
	r := NewRegistry(0)
	a := NewAutosaver(r, path, 30*time.Millisecond, zaptest.NewLogger(t).Sugar())

	assert.False(t, a.Cancel())

	_, err := r.Add(0, 0, 100, 100)
	require.NoError(t, err)
	a.Schedule()
	assert.True(t, a.Cancel())

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, a.Saves())
	require.NoError(t, a.Flush())
	assert.Zero(t, a.Saves())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
