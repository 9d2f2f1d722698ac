// Package aoi resolves a country or site name to its boundary geometry,
// either from a configured site table or by searching an asset folder.
package aoi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// AreaOfInterest is a named boundary in lon/lat (EPSG:4326). Boundary is an
// orb.Polygon or an orb.MultiPolygon.
type AreaOfInterest struct {
	Name     string
	Asset    string
	Boundary orb.Geometry
}

// Centroid is the area-weighted centre of the boundary in lon/lat.
func (a AreaOfInterest) Centroid() (orb.Point, error) {
	if a.Boundary == nil {
		return orb.Point{}, errors.New("area of interest has no boundary")
	}
	centroid, area := planar.CentroidArea(a.Boundary)
	if area <= 0 {
		return orb.Point{}, fmt.Errorf("boundary of %s has no area", a.Name)
	}
	return centroid, nil
}

type Resolver interface {
	Resolve(ctx context.Context, name string) (AreaOfInterest, error)
}

// NotFoundError reports that no boundary matches a name.
type NotFoundError struct {
	Name  string
	Where string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("area of interest %q not found in %s", e.Name, e.Where)
}

// AmbiguousError reports several catalog assets matching one name.
type AmbiguousError struct {
	Name       string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("area of interest %q matches %d assets: %s", e.Name, len(e.Candidates), strings.Join(e.Candidates, ", "))
}
