package vision

// Ambulance smoothing defaults: confirmed when seen in 3 of the last 5 frames.
const (
	DefaultSmoothingWindow    = 5
	DefaultSmoothingThreshold = 3
)

// AmbulanceSmoother confirms an emergency vehicle only after repeated sightings,
// so a single misdetection never preempts the junction.
type AmbulanceSmoother struct {
	window    int
	threshold int
	frames    []bool
	next      int
}

// NewAmbulanceSmoother creates a smoother over the last window frames. Values
// below one fall back to the defaults.
func NewAmbulanceSmoother(window, threshold int) *AmbulanceSmoother {
	if window < 1 {
		window = DefaultSmoothingWindow
	}
	if threshold < 1 {
		threshold = DefaultSmoothingThreshold
	}
	return &AmbulanceSmoother{
		window:    window,
		threshold: min(threshold, window),
		frames:    make([]bool, window),
	}
}

// Observe records one frame and reports whether an ambulance is confirmed.
func (s *AmbulanceSmoother) Observe(seen bool) bool {
	s.frames[s.next] = seen
	s.next = (s.next + 1) % s.window
	return s.Confirmed()
}

// Confirmed reports whether enough recent frames contained an ambulance.
func (s *AmbulanceSmoother) Confirmed() bool {
	hits := 0
	for _, seen := range s.frames {
		if seen {
			hits++
		}
	}
	return hits >= s.threshold
}

// Reset forgets every frame.
func (s *AmbulanceSmoother) Reset() {
	clear(s.frames)
	s.next = 0
}
