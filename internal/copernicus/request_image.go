package copernicus

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/raster"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/sentinel"
)

const processPath = "/api/v1/process"

const evalscriptTemplate = `//VERSION=3
function setup() {
  return {
    input: [{
      bands: [%q, %q, %q, "dataMask"],
      units: ["REFLECTANCE", "REFLECTANCE", "DN", "DN"]
    }],
    output: {
      id: "default",
      bands: 4,
      sampleType: SampleType.FLOAT32
    }
  };
}

function evaluatePixel(sample) {
  return [sample.%s, sample.%s, sample.%s, sample.dataMask];
}
`

func (c *Client) evalscript() string {
	b := c.bands
	return fmt.Sprintf(evalscriptTemplate, b.Red, b.NIR, b.SCL, b.Red, b.NIR, b.SCL)
}

func crsURL(code int) string {
	if code == 4326 {
		return "http://www.opengis.net/def/crs/OGC/1.3/CRS84"
	}
	return fmt.Sprintf("http://www.opengis.net/def/crs/EPSG/0/%d", code)
}

// acquisitionDay is the Process API time range covering one scene.
func acquisitionDay(info sentinel.SceneInfo) (time.Time, time.Time) {
	start := info.Acquired.UTC().Truncate(24 * time.Hour)
	return start, start.Add(24*time.Hour - time.Second)
}

func (c *Client) processRequest(info sentinel.SceneInfo, grid raster.Grid) (map[string]interface{}, error) {
	code, err := grid.EPSG()
	if err != nil {
		return nil, err
	}
	bound := grid.Bound()
	from, to := acquisitionDay(info)

	return map[string]interface{}{
		"input": map[string]interface{}{
			"bounds": map[string]interface{}{
				"bbox": []float64{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]},
				"properties": map[string]string{
					"crs": crsURL(code),
				},
			},
			"data": []map[string]interface{}{
				{
					"type": c.collection,
					"dataFilter": map[string]interface{}{
						"timeRange": map[string]string{
							"from": from.Format(time.RFC3339),
							"to":   to.Format(time.RFC3339),
						},
						"mosaickingOrder": "mostRecent",
					},
				},
			},
		},
		"output": map[string]interface{}{
			"width":  grid.Width,
			"height": grid.Height,
			"responses": []map[string]interface{}{
				{
					"identifier": "default",
					"format": map[string]string{
						"type": "image/tiff",
					},
				},
			},
		},
		"evalscript": c.evalscript(),
	}, nil
}

// cacheKey names the image cache directory of a tile. Images depend on the
// grid, the collection and the requested bands.
func (c *Client) cacheKey(grid raster.Grid) string {
	h := sha1.New()
	fmt.Fprintf(h, "%v|%s|%s", grid, c.collection, c.evalscript())
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// requestImage downloads one tile as GeoTIFF and returns the local path. A
// tile already present in the image cache is not requested again.
func (c *Client) requestImage(ctx context.Context, info sentinel.SceneInfo, tile raster.Grid) (path string, cleanup func(), err error) {
	dir := c.imageDir
	cleanup = func() {}
	if dir == "" {
		dir, err = os.MkdirTemp("", "copernicus-*")
		if err != nil {
			return "", nil, err
		}
		cleanup = func() { os.RemoveAll(dir) }
	} else {
		dir = filepath.Join(dir, c.cacheKey(tile))
	}
	path = filepath.Join(dir, info.ID+".tif")
	if _, statErr := os.Stat(path); statErr == nil {
		return path, cleanup, nil
	}

	payload, err := c.processRequest(info, tile)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	resp, err := c.post(ctx, processPath, payload)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to request image %s: %w", info.ID, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		cleanup()
		return "", nil, err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, resp.Body(), 0644); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to save image %s: %w", info.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

// Fetch downloads the scene onto grid, tile by tile, and returns its red,
// NIR and SCL bands. Pixels outside the acquisition footprint are no-data on
// every band.
func (c *Client) Fetch(ctx context.Context, info sentinel.SceneInfo, grid raster.Grid) (sentinel.Scene, error) {
	red, nir, scl, dataMask := raster.NewBand(grid), raster.NewBand(grid), raster.NewBand(grid), raster.NewBand(grid)
	targets := []raster.Band{red, nir, scl, dataMask}

	for _, tile := range grid.Tiles(c.tileSize) {
		if err := c.fetchTile(ctx, info, grid, tile, targets); err != nil {
			return sentinel.Scene{}, err
		}
	}

	for i, m := range dataMask {
		if raster.IsNoData(m) || m == 0 {
			red[i], nir[i], scl[i] = raster.NoData, raster.NoData, raster.NoData
		}
	}

	return sentinel.Scene{
		SceneInfo: info,
		Grid:      grid,
		Bands: map[string]raster.Band{
			c.bands.Red: red,
			c.bands.NIR: nir,
			c.bands.SCL: scl,
		},
	}, nil
}

func (c *Client) fetchTile(ctx context.Context, info sentinel.SceneInfo, grid raster.Grid, tile raster.Tile, targets []raster.Band) error {
	path, cleanup, err := c.requestImage(ctx, info, tile.Grid)
	if err != nil {
		return err
	}
	defer cleanup()

	tileGrid, bands, err := raster.ReadGeoTIFF(path)
	if err != nil {
		os.Remove(path)
		return err
	}
	if tileGrid.Width != tile.Grid.Width || tileGrid.Height != tile.Grid.Height {
		os.Remove(path)
		return fmt.Errorf("image %s is %dx%d, requested %dx%d: %w", info.ID, tileGrid.Width, tileGrid.Height,
			tile.Grid.Width, tile.Grid.Height, raster.ErrGridMismatch)
	}
	if len(bands) != len(targets) {
		os.Remove(path)
		return errors.New("unexpected number of bands in image " + info.ID)
	}
	for i, band := range bands {
		if err := grid.Paste(targets[i], tile, band); err != nil {
			return err
		}
	}
	return nil
}
