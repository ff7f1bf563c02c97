package motion

// RainResult is the frame-level precipitation decision.
type RainResult struct {
	Detected bool
	// SmallArea is the summed area of all small components in the frame.
	SmallArea int
	// SmallCount is how many small components there were.
	SmallCount int
}

// RainClassifier decides per frame whether the foreground is dominated by
// many small components, as produced by rain or sensor noise. It keeps no
// state between frames.
type RainClassifier struct{}

// Classify reports rain when the summed small-component area exceeds
// threshold.
func (RainClassifier) Classify(smallAreas []int, threshold int) RainResult {
	res := RainResult{SmallCount: len(smallAreas)}
	for _, a := range smallAreas {
		res.SmallArea += a
	}
	res.Detected = res.SmallArea > threshold
	return res
}

// Suppress applies the rain decision to a raw ROI signal: rain frames never
// count as motion.
func (r RainResult) Suppress(raw bool) bool {
	return raw && !r.Detected
}
