package sentinel

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/raster"
)

var ErrMissingBand = errors.New("scene is missing a band")

// SceneInfo is what a catalog search knows about an acquisition before any
// pixels are fetched.
type SceneInfo struct {
	ID           string    `json:"id"`
	Acquired     time.Time `json:"acquired"`
	CloudPercent float64   `json:"cloud_percent"`
}

// Scene is one acquisition resampled onto the month grid. Operations on a
// scene return a new scene and never modify their input.
type Scene struct {
	SceneInfo
	Grid  raster.Grid
	Bands map[string]raster.Band
}

func (s Scene) Band(name string) (raster.Band, error) {
	band, ok := s.Bands[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %s band", ErrMissingBand, s.ID, name)
	}
	if err := band.CheckSize(s.Grid); err != nil {
		return nil, fmt.Errorf("band %s of %s: %w", name, s.ID, err)
	}
	return band, nil
}

// withBands returns a shallow copy of the scene with its own band map.
func (s Scene) withBands() Scene {
	out := s
	out.Bands = maps.Clone(s.Bands)
	if out.Bands == nil {
		out.Bands = map[string]raster.Band{}
	}
	return out
}

// BandNames groups the band identifiers the pipeline reads from a scene.
type BandNames struct {
	NIR string
	Red string
	SCL string
}

var DefaultBandNames = BandNames{NIR: "B08", Red: "B04", SCL: "SCL"}
