package sentinel

import (
	"github.com/SensingClues/correlaid-environmental-time-series/internal/raster"
)

// Scene classification (SCL) codes of the Sentinel-2 L2A product.
const (
	SCLNoData                 = 0
	SCLSaturatedOrDefective   = 1
	SCLDarkArea               = 2
	SCLCloudShadow            = 3
	SCLVegetation             = 4
	SCLNotVegetated           = 5
	SCLWater                  = 6
	SCLUnclassified           = 7
	SCLCloudMediumProbability = 8
	SCLCloudHighProbability   = 9
	SCLThinCirrus             = 10
	SCLSnowOrIce              = 11
)

// ExcludedSCL lists the classes that make a pixel unusable for vegetation
// indices. Older scripts of this pipeline only excluded 1, 7, 8, 9, 10 and
// 11 because code 7 was written in place of 2 and 3.
var ExcludedSCL = map[int]bool{
	SCLSaturatedOrDefective:   true,
	SCLDarkArea:               true,
	SCLCloudShadow:            true,
	SCLUnclassified:           true,
	SCLCloudMediumProbability: true,
	SCLCloudHighProbability:   true,
	SCLThinCirrus:             true,
	SCLSnowOrIce:              true,
}

func isValidSCL(v float64) bool {
	if raster.IsNoData(v) {
		return false
	}
	return !ExcludedSCL[int(v)]
}

// ValidityMask is true where the SCL class of the scene is usable.
func ValidityMask(s Scene, sclBand string) ([]bool, error) {
	scl, err := s.Band(sclBand)
	if err != nil {
		return nil, err
	}
	mask := make([]bool, len(scl))
	for i, v := range scl {
		mask[i] = isValidSCL(v)
	}
	return mask, nil
}

// MaskClouds returns a copy of the scene where every band, the SCL band
// included, is no-data wherever the validity mask is false. Masking an
// already masked scene changes nothing.
func MaskClouds(s Scene, sclBand string) (Scene, error) {
	mask, err := ValidityMask(s, sclBand)
	if err != nil {
		return Scene{}, err
	}

	out := s.withBands()
	for name, band := range s.Bands {
		if err := band.CheckSize(s.Grid); err != nil {
			return Scene{}, err
		}
		masked := band.Clone()
		for i, valid := range mask {
			if !valid {
				masked[i] = raster.NoData
			}
		}
		out.Bands[name] = masked
	}
	return out, nil
}
