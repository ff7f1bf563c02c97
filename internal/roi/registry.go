package roi

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"roiwatch/internal/errdefs"
)

// Registry owns the ordered set of ROIs. Mutations are cheap and guarded by a
// short lock; the detection loop picks them up with Snapshot at the next
// frame boundary.
type Registry struct {
	mu      sync.RWMutex
	rois    []ROI
	nextID  int
	version uint64
	width   int
	height  int
	maxROIs int
}

// NewRegistry creates an empty registry. maxROIs caps the number of ROIs;
// zero means no cap.
func NewRegistry(maxROIs int) *Registry {
	return &Registry{nextID: 1, maxROIs: maxROIs}
}

// SetBounds sets the frame size ROIs are validated against. A zero size
// disables the upper bound check.
func (r *Registry) SetBounds(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.width, r.height = width, height
}

// Bounds returns the frame size set by SetBounds.
func (r *Registry) Bounds() (width, height int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.width, r.height
}

// Add normalizes the corners so that x1<x2 and y1<y2, clamps the rectangle to
// the frame, and appends it with the next unused id.
func (r *Registry) Add(x1, y1, x2, y2 int) (ROI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxROIs > 0 && len(r.rois) >= r.maxROIs {
		return ROI{}, errdefs.Invalid("roi", "at most %d ROIs may be defined", r.maxROIs)
	}

	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	x1, x2 = clamp(x1, r.width), clamp(x2, r.width)
	y1, y2 = clamp(y1, r.height), clamp(y2, r.height)

	candidate := ROI{X1: x1, Y1: y1, X2: x2, Y2: y2}
	if err := checkSize(candidate); err != nil {
		return ROI{}, err
	}

	candidate.ID = r.nextID
	r.nextID++
	r.rois = append(r.rois, candidate)
	r.version++
	return candidate, nil
}

// Delete removes the ROI with the given id.
func (r *Registry) Delete(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, roi := range r.rois {
		if roi.ID == id {
			r.rois = append(r.rois[:i:i], r.rois[i+1:]...)
			r.version++
			return nil
		}
	}
	return &errdefs.NotFoundError{Kind: "roi", ID: id}
}

// Clear removes every ROI and returns how many were removed. Ids are not
// recycled afterwards.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.rois)
	r.rois = nil
	r.version++
	return n
}

// List returns a copy of the ROIs in insertion order.
func (r *Registry) List() []ROI {
	rois, _ := r.Snapshot()
	return rois
}

// Len returns the number of ROIs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rois)
}

// Snapshot returns a copy of the ROIs with the registry version. The version
// changes whenever the set changes.
func (r *Registry) Snapshot() ([]ROI, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ROI, len(r.rois))
	copy(out, r.rois)
	return out, r.version
}

// Persist writes the ROIs as a JSON list.
func (r *Registry) Persist(w io.Writer) error {
	rois := r.List()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rois); err != nil {
		return fmt.Errorf("failed to encode ROIs: %w", err)
	}
	return nil
}

// Restore replaces the ROIs with the JSON list read from src. Every record is
// validated first; on any error the current set is kept.
func (r *Registry) Restore(src io.Reader) error {
	var records []ROI
	if err := json.NewDecoder(src).Decode(&records); err != nil {
		return errdefs.Invalid("rois", "malformed ROI list: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxROIs > 0 && len(records) > r.maxROIs {
		return errdefs.Invalid("rois", "%d ROIs exceed the limit of %d", len(records), r.maxROIs)
	}

	seen := make(map[int]bool, len(records))
	maxID := 0
	for i, rec := range records {
		if rec.ID <= 0 {
			return errdefs.Invalid("id", "record %d has non-positive id %d", i, rec.ID)
		}
		if seen[rec.ID] {
			return errdefs.Invalid("id", "duplicate id %d", rec.ID)
		}
		seen[rec.ID] = true
		if rec.X1 >= rec.X2 || rec.Y1 >= rec.Y2 {
			return errdefs.Invalid("roi", "record %d is not normalized: (%d,%d)-(%d,%d)", rec.ID, rec.X1, rec.Y1, rec.X2, rec.Y2)
		}
		if rec.X1 < 0 || rec.Y1 < 0 ||
			(r.width > 0 && rec.X2 > r.width) || (r.height > 0 && rec.Y2 > r.height) {
			return errdefs.Invalid("roi", "record %d lies outside the %dx%d frame", rec.ID, r.width, r.height)
		}
		if err := checkSize(rec); err != nil {
			return err
		}
		maxID = max(maxID, rec.ID)
	}

	r.rois = records
	if maxID >= r.nextID {
		r.nextID = maxID + 1
	}
	r.version++
	return nil
}

func checkSize(roi ROI) error {
	if roi.Width() <= MinSide {
		return errdefs.Invalid("width", "ROI width %d must be greater than %d", roi.Width(), MinSide)
	}
	if roi.Height() <= MinSide {
		return errdefs.Invalid("height", "ROI height %d must be greater than %d", roi.Height(), MinSide)
	}
	return nil
}

// clamp limits v to [0, limit]; limit zero means unbounded above.
func clamp(v, limit int) int {
	if v < 0 {
		return 0
	}
	if limit > 0 && v > limit {
		return limit
	}
	return v
}
