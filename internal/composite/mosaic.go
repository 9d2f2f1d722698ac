// Package composite builds one cloud-free NDVI raster per month.
//
// Mosaic keeps, for every pixel, the value of the first scene in input order
// that has a valid value there. The result therefore depends on the order of
// the scenes; the collector sorts them before they reach this package.
package composite

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/aoi"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/daterange"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/raster"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/sentinel"
)

type MonthlyComposite struct {
	Window     daterange.Window
	Site       string
	Grid       raster.Grid
	NDVI       raster.Band
	SceneCount int
}

// ValidPixels counts pixels that carry an NDVI value.
func (c MonthlyComposite) ValidPixels() int {
	return c.NDVI.ValidCount()
}

func Mosaic(grid raster.Grid, scenes []sentinel.Scene, band string) (raster.Band, error) {
	out := raster.NewBand(grid)
	remaining := len(out)

	for _, s := range scenes {
		if s.Grid != grid {
			return nil, fmt.Errorf("scene %s (%s) does not match %s: %w", s.ID, s.Grid, grid, raster.ErrGridMismatch)
		}
		values, err := s.Band(band)
		if err != nil {
			return nil, err
		}
		if remaining == 0 {
			continue
		}
		for i, v := range values {
			if raster.IsNoData(out[i]) && !raster.IsNoData(v) {
				out[i] = v
				remaining--
			}
		}
	}
	return out, nil
}

// Build mosaics the NDVI band of masked scenes and clips it to the area
// boundary. boundary must already be in the grid CRS.
func Build(window daterange.Window, area aoi.AreaOfInterest, grid raster.Grid, boundary orb.Geometry, scenes []sentinel.Scene) (MonthlyComposite, error) {
	mosaic, err := Mosaic(grid, scenes, sentinel.NDVIBand)
	if err != nil {
		return MonthlyComposite{}, err
	}
	ndvi, err := raster.Clip(grid, mosaic, boundary)
	if err != nil {
		return MonthlyComposite{}, fmt.Errorf("failed to clip composite to %s: %w", area.Name, err)
	}
	return MonthlyComposite{
		Window:     window,
		Site:       area.Name,
		Grid:       grid,
		NDVI:       ndvi,
		SceneCount: len(scenes),
	}, nil
}
