package motion

import (
	"sort"

	"roiwatch/internal/roi"
)

// Debounce windows.
const (
	DefaultConfirmFrames = 3
	DefaultClearFrames   = 3
)

// Phase is the state of a ROI's debouncer.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePending
	PhaseConfirmed
	PhaseClearing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePending:
		return "pending"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseClearing:
		return "clearing"
	default:
		return "unknown"
	}
}

// DebounceState is a read-only view of a Debouncer.
type DebounceState struct {
	Phase Phase
	Count int
}

// Debouncer turns a per-frame raw signal into a confirmed flag. It needs
// confirm consecutive positives to raise the flag and clear consecutive
// negatives to drop it.
type Debouncer struct {
	confirm int
	clear   int
	phase   Phase
	count   int
}

// NewDebouncer returns an idle debouncer. Windows below 1 are raised to 1.
func NewDebouncer(confirm, clear int) *Debouncer {
	return &Debouncer{confirm: max(confirm, 1), clear: max(clear, 1)}
}

// Step feeds one frame's raw signal and reports whether the confirmed flag
// rose on this frame.
func (d *Debouncer) Step(raw bool) (rising bool) {
	switch d.phase {
	case PhaseIdle:
		if !raw {
			return false
		}
		d.phase, d.count = PhasePending, 1
		return d.promote()

	case PhasePending:
		if !raw {
			d.phase, d.count = PhaseIdle, 0
			return false
		}
		d.count++
		return d.promote()

	case PhaseConfirmed:
		if raw {
			return false
		}
		d.phase, d.count = PhaseClearing, 1
		d.demote()
		return false

	case PhaseClearing:
		if raw {
			d.phase, d.count = PhaseConfirmed, 0
			return false
		}
		d.count++
		d.demote()
		return false
	}
	return false
}

func (d *Debouncer) promote() bool {
	if d.count < d.confirm {
		return false
	}
	d.phase, d.count = PhaseConfirmed, 0
	return true
}

func (d *Debouncer) demote() {
	if d.count >= d.clear {
		d.phase, d.count = PhaseIdle, 0
	}
}

// Confirmed reports the externally visible motion flag.
func (d *Debouncer) Confirmed() bool {
	return d.phase == PhaseConfirmed || d.phase == PhaseClearing
}

// State returns the current phase and streak length.
func (d *Debouncer) State() DebounceState {
	return DebounceState{Phase: d.phase, Count: d.count}
}

// Tracker owns one Debouncer per live ROI and the detection counter. The
// counter moves only when a debouncer reports a rising edge.
type Tracker struct {
	confirm, clear int
	states         map[int]*Debouncer
	total          uint64
}

// NewTracker returns a Tracker using the given windows for every ROI.
func NewTracker(confirm, clear int) *Tracker {
	return &Tracker{confirm: confirm, clear: clear, states: make(map[int]*Debouncer)}
}

// Sync creates debouncers for new ROIs and drops those of removed ROIs.
func (t *Tracker) Sync(rois []roi.ROI) {
	live := make(map[int]struct{}, len(rois))
	for _, r := range rois {
		live[r.ID] = struct{}{}
		if _, ok := t.states[r.ID]; !ok {
			t.states[r.ID] = NewDebouncer(t.confirm, t.clear)
		}
	}
	for id := range t.states {
		if _, ok := live[id]; !ok {
			delete(t.states, id)
		}
	}
}

// Observe steps the debouncer of ROI id. It reports a rising edge, which
// also increments the detection counter. Unknown ids are ignored.
func (t *Tracker) Observe(id int, raw bool) bool {
	d, ok := t.states[id]
	if !ok {
		return false
	}
	if d.Step(raw) {
		t.total++
		return true
	}
	return false
}

// State returns the debouncer state for id.
func (t *Tracker) State(id int) (DebounceState, bool) {
	d, ok := t.states[id]
	if !ok {
		return DebounceState{}, false
	}
	return d.State(), true
}

// Confirmed returns the ids whose confirmed flag is set, ascending.
func (t *Tracker) Confirmed() []int {
	ids := make([]int, 0, len(t.states))
	for id, d := range t.states {
		if d.Confirmed() {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// TotalDetections returns the number of rising edges seen so far.
func (t *Tracker) TotalDetections() uint64 {
	return t.total
}

// Reset returns every debouncer to idle. The detection counter is kept.
func (t *Tracker) Reset() {
	for id := range t.states {
		t.states[id] = NewDebouncer(t.confirm, t.clear)
	}
}
