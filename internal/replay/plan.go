package replay

import "time"

// Step is a frame with its scheduling decision.
type Step struct {
	Frame Frame
	// Immediate frames fall inside the fast-forward horizon.
	Immediate bool
	// Delay is measured from the moment the horizon is crossed.
	Delay time.Duration
}

// Plan anchors a single horizon at the first frame's timestamp plus
// fastForward. Frames before it are caught up immediately; later frames keep
// their spacing relative to the horizon.
func Plan(frames []Frame, fastForward time.Duration) []Step {
	if len(frames) == 0 {
		return nil
	}

	first := frames[0].At
	horizon := first.Add(fastForward)

	steps := make([]Step, len(frames))
	for i, f := range frames {
		steps[i].Frame = f
		if f.At.Sub(first) < fastForward {
			steps[i].Immediate = true
			continue
		}
		if d := f.At.Sub(horizon); d > 0 {
			steps[i].Delay = d
		}
	}
	return steps
}
