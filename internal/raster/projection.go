package raster

import (
	"fmt"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

func newLonLatTransform(code int) (*godal.Transform, error) {
	src, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	dst, err := godal.NewSpatialRefFromEPSG(code)
	if err != nil {
		return nil, err
	}
	defer dst.Close()
	return godal.NewTransform(src, dst)
}

func transformPoints(trn *godal.Transform, points []orb.Point) ([]orb.Point, error) {
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p[0], p[1]
	}
	ok := make([]bool, len(points))
	if err := trn.TransformEx(xs, ys, nil, ok); err != nil {
		return nil, err
	}
	out := make([]orb.Point, len(points))
	for i := range points {
		if !ok[i] {
			return nil, fmt.Errorf("point %v cannot be transformed", points[i])
		}
		out[i] = orb.Point{xs[i], ys[i]}
	}
	return out, nil
}

// ProjectBound transforms a lon/lat bound to the given EPSG code. Edge
// midpoints are included so that curved edges still fit inside the result.
func ProjectBound(b orb.Bound, code int) (orb.Bound, error) {
	if code == 4326 {
		return b, nil
	}
	trn, err := newLonLatTransform(code)
	if err != nil {
		return orb.Bound{}, err
	}
	defer trn.Close()

	cx, cy := (b.Min[0]+b.Max[0])/2, (b.Min[1]+b.Max[1])/2
	points, err := transformPoints(trn, []orb.Point{
		b.Min, {b.Max[0], b.Min[1]}, b.Max, {b.Min[0], b.Max[1]},
		{cx, b.Min[1]}, {b.Max[0], cy}, {cx, b.Max[1]}, {b.Min[0], cy},
	})
	if err != nil {
		return orb.Bound{}, err
	}
	return orb.MultiPoint(points).Bound(), nil
}

// ProjectGeometry transforms a lon/lat geometry to the given EPSG code.
func ProjectGeometry(g orb.Geometry, code int) (orb.Geometry, error) {
	if code == 4326 {
		return g, nil
	}
	trn, err := newLonLatTransform(code)
	if err != nil {
		return nil, err
	}
	defer trn.Close()

	var failed error
	projected := project.Geometry(orb.Clone(g), func(p orb.Point) orb.Point {
		out, err := transformPoints(trn, []orb.Point{p})
		if err != nil {
			failed = err
			return p
		}
		return out[0]
	})
	if failed != nil {
		return nil, failed
	}
	return projected, nil
}
