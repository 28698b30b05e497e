package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/junctionflow/junctionflow/internal/junction"
	"github.com/junctionflow/junctionflow/internal/resilience"
)

// DetectorName identifies the detector service in the health registry.
const DetectorName = "detector"

// DetectorConfig holds configuration for the detector service feed.
type DetectorConfig struct {
	// BaseURL is the detector service base URL (required).
	BaseURL string

	// HTTPClient is the client to use. If nil, a resilient client with defaults is used.
	HTTPClient *resilience.Client

	// SmoothAmbulance confirms raw per-frame ambulance sightings across
	// SmoothingWindow frames. Leave it off for detectors that already report
	// a confirmed flag.
	SmoothAmbulance    bool
	SmoothingWindow    int
	SmoothingThreshold int

	Logger zerolog.Logger
}

// HTTPFeed polls an external detector service for per-lane detections.
type HTTPFeed struct {
	baseURL    string
	httpClient *resilience.Client
	logger     zerolog.Logger

	mu        sync.Mutex
	smoothers map[junction.LaneID]*AmbulanceSmoother
}

var _ Feed = (*HTTPFeed)(nil)

// NewHTTPFeed creates a detector feed.
func NewHTTPFeed(cfg DetectorConfig) *HTTPFeed {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(DetectorName))
	}

	var smoothers map[junction.LaneID]*AmbulanceSmoother
	if cfg.SmoothAmbulance {
		smoothers = make(map[junction.LaneID]*AmbulanceSmoother, 4)
		for _, lane := range junction.Lanes() {
			smoothers[lane] = NewAmbulanceSmoother(cfg.SmoothingWindow, cfg.SmoothingThreshold)
		}
	}

	return &HTTPFeed{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     cfg.Logger,
		smoothers:  smoothers,
	}
}

// lanesResponse is the detector's per-frame payload.
type lanesResponse struct {
	Lanes map[string]laneDetection `json:"lanes"`
}

type laneDetection struct {
	Load             *int                      `json:"load,omitempty"`
	Ambulance        bool                      `json:"ambulance"`
	VehicleBreakdown junction.VehicleBreakdown `json:"vehicle_breakdown"`
}

// Snapshots fetches the latest frame from GET {base}/v1/lanes. A lane without
// an explicit load is scored from its breakdown. Unknown lanes are ignored.
func (f *HTTPFeed) Snapshots(ctx context.Context) (junction.Snapshots, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/v1/lanes", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var payload lanesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	detections := make(map[junction.LaneID]laneDetection, len(payload.Lanes))
	for name, d := range payload.Lanes {
		lane, err := junction.ParseLaneID(name)
		if err != nil {
			f.logger.Debug().Str("lane", name).Msg("ignoring unknown lane from detector")
			continue
		}
		detections[lane] = d
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(junction.Snapshots, 4)
	for _, lane := range junction.Lanes() {
		d, ok := detections[lane]
		if !ok {
			// A missing lane reads as empty; the smoother still sees a clear frame.
			f.ambulance(lane, false)
			continue
		}

		load := LoadScore(d.VehicleBreakdown)
		if d.Load != nil {
			load = junction.ClampLoad(*d.Load)
		}
		out[lane] = junction.LaneSnapshot{
			Load:             load,
			AmbulancePresent: f.ambulance(lane, d.Ambulance),
			VehicleBreakdown: d.VehicleBreakdown,
		}
	}
	return out, nil
}

// ambulance must be called with f.mu held.
func (f *HTTPFeed) ambulance(lane junction.LaneID, seen bool) bool {
	if f.smoothers == nil {
		return seen
	}
	return f.smoothers[lane].Observe(seen)
}
