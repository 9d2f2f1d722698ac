package raster

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Clip returns a copy of band where every pixel whose centre falls outside
// boundary is no-data. boundary must be expressed in the grid CRS.
func Clip(g Grid, band Band, boundary orb.Geometry) (Band, error) {
	if err := band.CheckSize(g); err != nil {
		return nil, err
	}

	var contains func(orb.Point) bool
	switch b := boundary.(type) {
	case orb.Polygon:
		contains = func(p orb.Point) bool { return planar.PolygonContains(b, p) }
	case orb.MultiPolygon:
		contains = func(p orb.Point) bool { return planar.MultiPolygonContains(b, p) }
	case orb.Ring:
		contains = func(p orb.Point) bool { return planar.RingContains(b, p) }
	default:
		return nil, fmt.Errorf("cannot clip to a %T boundary", boundary)
	}

	bound := boundary.Bound()
	out := band.Clone()
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			i := row*g.Width + col
			if IsNoData(out[i]) {
				continue
			}
			p := g.PixelCenter(col, row)
			if !bound.Contains(p) || !contains(p) {
				out[i] = NoData
			}
		}
	}
	return out, nil
}
