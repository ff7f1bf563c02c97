package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-viper/mapstructure/v2"

	"roiwatch/internal/errdefs"
)

// fieldNames lists the keys accepted in an update record, in validation order.
var fieldNames = []string{"threshold", "min_area", "blur_size", "rain_area_threshold"}

type versioned struct {
	cfg     Detection
	version uint64
}

// Store holds the current Detection config. Readers never block and always
// see a complete config; writers are serialized and either replace the whole
// record or leave it untouched.
type Store struct {
	current   atomic.Pointer[versioned]
	writeMu   sync.Mutex
	listeners []func(Detection)
}

// NewStore creates a store seeded with initial, which must be valid.
func NewStore(initial Detection) (*Store, error) {
	cfg, err := initial.Normalize()
	if err != nil {
		return nil, fmt.Errorf("initial detection config: %w", err)
	}
	s := &Store{}
	s.current.Store(&versioned{cfg: cfg, version: 1})
	return s, nil
}

// Get returns the current config.
func (s *Store) Get() Detection {
	return s.current.Load().cfg
}

// Snapshot returns the current config and its version. The version increases
// by one on every accepted change.
func (s *Store) Snapshot() (Detection, uint64) {
	v := s.current.Load()
	return v.cfg, v.version
}

// OnChange registers fn to be called after every accepted change, in the
// order changes were accepted. fn must not call Set or Update.
func (s *Store) OnChange(fn func(Detection)) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Set validates candidate and, if it passes, makes it current.
func (s *Store) Set(candidate Detection) (Detection, error) {
	cfg, err := candidate.Normalize()
	if err != nil {
		return Detection{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.commitLocked(cfg)
	return cfg, nil
}

func (s *Store) commitLocked(cfg Detection) {
	prev := s.current.Load()
	s.current.Store(&versioned{cfg: cfg, version: prev.version + 1})
	for _, fn := range s.listeners {
		fn(cfg)
	}
}

// Update applies a loosely typed record, such as a decoded JSON body, on top
// of the current config. Unknown keys are ignored. Any invalid field rejects
// the whole update and is named in the returned *errdefs.ValidationError.
func (s *Store) Update(record map[string]any) (Detection, error) {
	var patch struct {
		Threshold         *int `mapstructure:"threshold"`
		MinArea           *int `mapstructure:"min_area"`
		BlurSize          *int `mapstructure:"blur_size"`
		RainAreaThreshold *int `mapstructure:"rain_area_threshold"`
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &patch,
		DecodeHook:       wholeNumbers,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return Detection{}, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := dec.Decode(record); err != nil {
		return Detection{}, errdefs.Invalid(offendingField(err), "%v", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	candidate := s.current.Load().cfg
	if patch.Threshold != nil {
		candidate.Threshold = *patch.Threshold
	}
	if patch.MinArea != nil {
		candidate.MinArea = *patch.MinArea
	}
	if patch.BlurSize != nil {
		candidate.BlurSize = *patch.BlurSize
	}
	if patch.RainAreaThreshold != nil {
		candidate.RainAreaThreshold = *patch.RainAreaThreshold
	}
	cfg, err := candidate.Normalize()
	if err != nil {
		return Detection{}, err
	}
	s.commitLocked(cfg)
	return cfg, nil
}

// ApplyFile reads a JSON object from path and applies it with Update.
func (s *Store) ApplyFile(path string) (Detection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Detection{}, &errdefs.PersistenceError{Op: "read config", Path: path, Err: err}
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return Detection{}, errdefs.Invalid("config", "%s is not a JSON object: %v", path, err)
	}
	return s.Update(record)
}

// wholeNumbers rejects fractional and out-of-range numbers bound for int
// fields, which weak decoding would otherwise truncate.
func wholeNumbers(from, to reflect.Type, data any) (any, error) {
	for to.Kind() == reflect.Pointer {
		to = to.Elem()
	}
	if to.Kind() != reflect.Int {
		return data, nil
	}
	v := reflect.ValueOf(data)
	switch from.Kind() {
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("%v is not a whole number", data)
		}
		if f < math.MinInt32 || f > math.MaxInt32 {
			return nil, fmt.Errorf("%v is out of range", data)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n := v.Int(); n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("%d is out of range", n)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if n := v.Uint(); n > math.MaxInt32 {
			return nil, fmt.Errorf("%d is out of range", n)
		}
	}
	return data, nil
}

// offendingField picks the update key named in a decode error.
func offendingField(err error) string {
	msg := err.Error()
	for _, name := range fieldNames {
		if strings.Contains(msg, "'"+name+"'") || strings.Contains(msg, "\""+name+"\"") {
			return name
		}
	}
	return "config"
}
