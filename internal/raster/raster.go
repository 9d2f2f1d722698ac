// Package raster holds the in-memory pixel model shared by scenes and
// composites: a georeferenced grid and float64 bands where NaN is no-data.
package raster

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

var (
	ErrGridMismatch = errors.New("rasters are not on the same grid")
	ErrInvalidCRS   = errors.New("crs must be of the form EPSG:<code>")
)

// NoData marks a pixel without a usable value. It is never zero.
var NoData = math.NaN()

func IsNoData(v float64) bool {
	return math.IsNaN(v)
}

// Grid is a north-up pixel grid. GeoTransform follows the GDAL convention:
// x = gt[0] + col*gt[1], y = gt[3] + row*gt[5].
type Grid struct {
	Width        int
	Height       int
	GeoTransform [6]float64
	CRS          string
}

func (g Grid) Pixels() int64 {
	return int64(g.Width) * int64(g.Height)
}

func (g Grid) PixelCenter(col, row int) orb.Point {
	return orb.Point{
		g.GeoTransform[0] + (float64(col)+0.5)*g.GeoTransform[1],
		g.GeoTransform[3] + (float64(row)+0.5)*g.GeoTransform[5],
	}
}

func (g Grid) Bound() orb.Bound {
	minX := g.GeoTransform[0]
	maxY := g.GeoTransform[3]
	maxX := minX + float64(g.Width)*g.GeoTransform[1]
	minY := maxY + float64(g.Height)*g.GeoTransform[5]
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

func (g Grid) EPSG() (int, error) {
	return ParseEPSG(g.CRS)
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%d %s origin=(%g,%g) px=(%g,%g)", g.Width, g.Height, g.CRS,
		g.GeoTransform[0], g.GeoTransform[3], g.GeoTransform[1], g.GeoTransform[5])
}

// ParseEPSG extracts the numeric code of an "EPSG:<code>" identifier.
func ParseEPSG(crs string) (int, error) {
	prefix, code, ok := strings.Cut(crs, ":")
	if !ok || !strings.EqualFold(prefix, "EPSG") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCRS, crs)
	}
	n, err := strconv.Atoi(code)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCRS, crs)
	}
	return n, nil
}

// Band is a row-major pixel buffer of Grid.Width*Grid.Height values.
type Band []float64

// NewBand returns a band of the grid size filled with NoData.
func NewBand(g Grid) Band {
	band := make(Band, g.Pixels())
	for i := range band {
		band[i] = NoData
	}
	return band
}

func (b Band) Clone() Band {
	if b == nil {
		return nil
	}
	out := make(Band, len(b))
	copy(out, b)
	return out
}

func (b Band) ValidCount() int {
	n := 0
	for _, v := range b {
		if !IsNoData(v) {
			n++
		}
	}
	return n
}

// CheckSize reports whether the band holds exactly one value per grid pixel.
func (b Band) CheckSize(g Grid) error {
	if int64(len(b)) != g.Pixels() {
		return fmt.Errorf("%w: band has %d pixels, grid %s has %d", ErrGridMismatch, len(b), g, g.Pixels())
	}
	return nil
}
