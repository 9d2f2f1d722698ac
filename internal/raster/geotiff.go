package raster

import (
	"errors"
	"fmt"

	"github.com/airbusgeo/godal"
)

func init() {
	godal.RegisterAll()
}

// ReadGeoTIFF decodes every band of a GeoTIFF into float64 buffers. Pixels
// equal to a band's nodata value are returned as NoData. The returned grid
// has no CRS; the caller knows which one it requested.
func ReadGeoTIFF(path string) (Grid, []Band, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return Grid{}, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer ds.Close()

	geoTransform, err := ds.GeoTransform()
	if err != nil {
		return Grid{}, nil, fmt.Errorf("failed to read geotransform of %s: %w", path, err)
	}
	structure := ds.Structure()
	grid := Grid{
		Width:        structure.SizeX,
		Height:       structure.SizeY,
		GeoTransform: geoTransform,
	}

	bands := make([]Band, 0, structure.NBands)
	for i, band := range ds.Bands() {
		data := make([]float64, grid.Width*grid.Height)
		if err := band.Read(0, 0, data, grid.Width, grid.Height); err != nil {
			return Grid{}, nil, fmt.Errorf("failed to read band %d of %s: %w", i+1, path, err)
		}
		if nodata, ok := band.NoData(); ok && !IsNoData(nodata) {
			for j, v := range data {
				if v == nodata {
					data[j] = NoData
				}
			}
		}
		bands = append(bands, data)
	}
	return grid, bands, nil
}

// WriteGeoTIFF encodes the bands as a Float32 DEFLATE GeoTIFF with NaN as
// the nodata value.
func WriteGeoTIFF(path string, g Grid, bands ...Band) (err error) {
	if len(bands) == 0 {
		return errors.New("no bands to write")
	}
	for _, band := range bands {
		if err := band.CheckSize(g); err != nil {
			return err
		}
	}
	code, err := g.EPSG()
	if err != nil {
		return err
	}

	ds, err := godal.Create(godal.GTiff, path, len(bands), godal.Float32, g.Width, g.Height,
		godal.CreationOption("COMPRESS=DEFLATE", "TILED=YES", "BIGTIFF=IF_SAFER"))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	if err := ds.SetGeoTransform(g.GeoTransform); err != nil {
		return fmt.Errorf("failed to set geotransform: %w", err)
	}
	sr, err := godal.NewSpatialRefFromEPSG(code)
	if err != nil {
		return fmt.Errorf("failed to build spatial reference for %s: %w", g.CRS, err)
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		return fmt.Errorf("failed to set spatial reference: %w", err)
	}

	for i, band := range ds.Bands() {
		if err := band.SetNoData(NoData); err != nil {
			return fmt.Errorf("failed to set nodata on band %d: %w", i+1, err)
		}
		if err := band.Write(0, 0, []float64(bands[i]), g.Width, g.Height); err != nil {
			return fmt.Errorf("failed to write band %d: %w", i+1, err)
		}
	}
	return nil
}
