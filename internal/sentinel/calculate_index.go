package sentinel

import (
	"github.com/SensingClues/correlaid-environmental-time-series/internal/raster"
)

const NDVIBand = "NDVI"

// AddNDVI returns a copy of the scene with an NDVI band appended.
func AddNDVI(s Scene, names BandNames) (Scene, error) {
	nir, err := s.Band(names.NIR)
	if err != nil {
		return Scene{}, err
	}
	red, err := s.Band(names.Red)
	if err != nil {
		return Scene{}, err
	}

	out := s.withBands()
	out.Bands[NDVIBand] = calculateIndex(nir, red)
	return out, nil
}

// calculateIndex computes (a-b)/(a+b). Pixels with a zero denominator, a
// no-data input or a result outside [-1, 1] are no-data.
func calculateIndex(a, b raster.Band) raster.Band {
	result := make(raster.Band, len(a))
	for i := range result {
		denominator := a[i] + b[i]
		if denominator == 0 || raster.IsNoData(denominator) {
			result[i] = raster.NoData
			continue
		}
		v := (a[i] - b[i]) / denominator
		if v < -1 || v > 1 {
			result[i] = raster.NoData
			continue
		}
		result[i] = v
	}
	return result
}
