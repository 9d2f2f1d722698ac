package raster

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

const metersPerDegree = 111_000.0

// NewGrid lays a grid over a lon/lat bound. resolution is in metres for
// EPSG:4326 and in CRS units otherwise; projected bounds go through GDAL.
func NewGrid(bound orb.Bound, resolution float64, crs string) (Grid, error) {
	if resolution <= 0 {
		return Grid{}, errors.New("resolution must be positive")
	}
	code, err := ParseEPSG(crs)
	if err != nil {
		return Grid{}, err
	}

	pixelSize := resolution
	if code == 4326 {
		pixelSize = resolution / metersPerDegree
	} else {
		bound, err = ProjectBound(bound, code)
		if err != nil {
			return Grid{}, fmt.Errorf("failed to project bound to %s: %w", crs, err)
		}
	}

	return Grid{
		Width:        calculatePixels(bound.Max[0]-bound.Min[0], pixelSize),
		Height:       calculatePixels(bound.Max[1]-bound.Min[1], pixelSize),
		GeoTransform: [6]float64{bound.Min[0], pixelSize, 0, bound.Max[1], 0, -pixelSize},
		CRS:          fmt.Sprintf("EPSG:%d", code),
	}, nil
}

func calculatePixels(distance, pixelSize float64) int {
	pixels := int(math.Ceil(distance/pixelSize - 1e-9))
	if pixels < 1 {
		return 1
	}
	return pixels
}

// Tile is a window of a parent grid starting at (Col, Row).
type Tile struct {
	Col  int
	Row  int
	Grid Grid
}

// Tiles splits the grid into windows of at most maxSize pixels per side,
// row by row.
func (g Grid) Tiles(maxSize int) []Tile {
	if maxSize <= 0 || (g.Width <= maxSize && g.Height <= maxSize) {
		return []Tile{{Grid: g}}
	}

	var tiles []Tile
	for row := 0; row < g.Height; row += maxSize {
		for col := 0; col < g.Width; col += maxSize {
			gt := g.GeoTransform
			gt[0] += float64(col) * g.GeoTransform[1]
			gt[3] += float64(row) * g.GeoTransform[5]
			tiles = append(tiles, Tile{
				Col: col,
				Row: row,
				Grid: Grid{
					Width:        min(maxSize, g.Width-col),
					Height:       min(maxSize, g.Height-row),
					GeoTransform: gt,
					CRS:          g.CRS,
				},
			})
		}
	}
	return tiles
}

// Paste copies a tile band into its place in a band of the parent grid.
func (g Grid) Paste(dst Band, tile Tile, src Band) error {
	if err := dst.CheckSize(g); err != nil {
		return err
	}
	if err := src.CheckSize(tile.Grid); err != nil {
		return err
	}
	for y := 0; y < tile.Grid.Height; y++ {
		offset := (tile.Row+y)*g.Width + tile.Col
		copy(dst[offset:offset+tile.Grid.Width], src[y*tile.Grid.Width:(y+1)*tile.Grid.Width])
	}
	return nil
}
