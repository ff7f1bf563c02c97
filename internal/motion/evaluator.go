package motion

import (
	"image"

	"roiwatch/internal/config"
	"roiwatch/internal/roi"
)

// RegionResult is the raw, single-frame decision for one ROI.
type RegionResult struct {
	ID int
	// Area is the summed area of components at least min_area in size.
	Area int
	// Blobs is the number of components that contributed to Area.
	Blobs int
	Raw   bool
}

// Evaluation is the output of RegionEvaluator for one frame.
type Evaluation struct {
	Regions []RegionResult
	// SmallAreas holds the area of every whole-frame component smaller than
	// min_area.
	SmallAreas []int
}

// RegionEvaluator turns a foreground mask into per-ROI raw motion decisions.
type RegionEvaluator struct{}

// Evaluate crops mask to each ROI, keeps components of at least cfg.MinArea
// pixels and reports raw motion when their summed area reaches cfg.Threshold.
// It also collects the small components over the whole frame for the rain
// classifier. Results are in the order of rois.
func (RegionEvaluator) Evaluate(mask *image.Gray, rois []roi.ROI, cfg config.Detection) Evaluation {
	ev := Evaluation{Regions: make([]RegionResult, 0, len(rois))}

	for _, c := range Components(mask, mask.Bounds()) {
		if c.Area < cfg.MinArea {
			ev.SmallAreas = append(ev.SmallAreas, c.Area)
		}
	}

	for _, r := range rois {
		res := RegionResult{ID: r.ID}
		for _, c := range Components(mask, r.Rect()) {
			if c.Area < cfg.MinArea {
				continue
			}
			res.Area += c.Area
			res.Blobs++
		}
		res.Raw = res.Area >= cfg.Threshold
		ev.Regions = append(ev.Regions, res)
	}
	return ev
}
