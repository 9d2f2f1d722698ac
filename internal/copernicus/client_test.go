package copernicus

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/daterange"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/properties"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/raster"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/sentinel"
)

var triangle = orb.Polygon{{{28, -15}, {28.002, -15}, {28, -14.998}, {28, -15}}}

func newTestClient(t *testing.T, server *httptest.Server, opts ...Option) *Client {
	t.Helper()
	cfg := properties.CopernicusConfig{BaseURL: server.URL, Collection: "sentinel-2-l2a", Retries: 2}
	opts = append([]Option{WithHTTPClient(server.Client()), WithRetryWait(time.Millisecond)}, opts...)
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c
}

func february(t *testing.T) daterange.Window {
	t.Helper()
	r, err := daterange.Generate(daterange.YearMonth{Year: 2020, Month: time.February}, nil)
	require.NoError(t, err)
	return r.Slice()[0]
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(properties.CopernicusConfig{TokenURL: "http://token"})
	assert.Error(t, err)

	_, err = New(properties.CopernicusConfig{ClientIDs: []string{"a", "b"}, ClientSecrets: []string{"x"}, TokenURL: "http://token"})
	assert.Error(t, err)
}

func TestSearchPaginatesAndGroupsTiles(t *testing.T) {
	var requests []catalogRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, catalogSearchPath, r.URL.Path)
		var req catalogRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)

		w.Header().Set("Content-Type", "application/json")
		if req.Next == 0 {
			io.WriteString(w, `{"features": [
			  {"id": "T35LLD_a", "properties": {"datetime": "2020-02-03T08:30:12.024Z", "eo:cloud_cover": 10}},
			  {"id": "T35LMD_a", "properties": {"datetime": "2020-02-03T08:30:05Z", "eo:cloud_cover": 30}}
			], "context": {"next": 2}}`)
			return
		}
		io.WriteString(w, `{"features": [
		  {"id": "T35LLD_b", "properties": {"datetime": "2020-02-08T08:30:00Z", "eo:cloud_cover": 5}}
		], "context": {}}`)
	}))
	defer server.Close()

	infos, err := newTestClient(t, server).Search(context.Background(), sentinel.SearchRequest{Boundary: triangle, Window: february(t)})
	require.NoError(t, err)

	require.Len(t, requests, 2)
	assert.Equal(t, []string{"sentinel-2-l2a"}, requests[0].Collections)
	assert.Equal(t, "2020-02-01T00:00:00Z/2020-02-29T23:59:59Z", requests[0].Datetime)
	assert.Equal(t, "Polygon", requests[0].Intersects.Type)
	assert.Equal(t, 2, requests[1].Next)

	require.Len(t, infos, 2)
	assert.Equal(t, "sentinel-2-l2a_20200203", infos[0].ID)
	assert.Equal(t, time.Date(2020, 2, 3, 8, 30, 5, 0, time.UTC), infos[0].Acquired)
	assert.Equal(t, 30.0, infos[0].CloudPercent)
	assert.Equal(t, "sentinel-2-l2a_20200208", infos[1].ID)
}

func TestSearchUsesCacheForPastWindows(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, `{"features": [{"id": "x", "properties": {"datetime": "2020-02-03T08:30:00Z", "eo:cloud_cover": 1}}], "context": {}}`)
	}))
	defer server.Close()

	c := newTestClient(t, server, WithCacheDir(t.TempDir()))
	req := sentinel.SearchRequest{Boundary: triangle, Window: february(t)}

	first, err := c.Search(context.Background(), req)
	require.NoError(t, err)
	second, err := c.Search(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first, second)
}

func TestSearchRefreshesRecentlyEndedWindows(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			io.WriteString(w, `{"features": [{"id": "a", "properties": {"datetime": "2020-02-03T08:30:00Z", "eo:cloud_cover": 1}}], "context": {}}`)
			return
		}
		io.WriteString(w, `{"features": [
		  {"id": "a", "properties": {"datetime": "2020-02-03T08:30:00Z", "eo:cloud_cover": 1}},
		  {"id": "b", "properties": {"datetime": "2020-02-27T08:30:00Z", "eo:cloud_cover": 2}}
		], "context": {}}`)
	}))
	defer server.Close()

	c := newTestClient(t, server, WithCacheDir(t.TempDir()))
	req := sentinel.SearchRequest{Boundary: triangle, Window: february(t)}

	c.now = func() time.Time { return time.Date(2020, 3, 1, 3, 0, 0, 0, time.UTC) }
	first, err := c.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	c.now = func() time.Time { return time.Date(2020, 3, 5, 3, 0, 0, 0, time.UTC) }
	second, err := c.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, second, 2)
	assert.Equal(t, int32(2), calls.Load())

	c.now = func() time.Time { return time.Date(2020, 3, 20, 0, 0, 0, 0, time.UTC) }
	for i := 0; i < 2; i++ {
		settled, err := c.Search(context.Background(), req)
		require.NoError(t, err)
		assert.Len(t, settled, 2)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestImageCacheIsKeyedByBands(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, processPath, r.URL.Path)
		calls.Add(1)
		io.WriteString(w, "tiff")
	}))
	defer server.Close()

	dir := t.TempDir()
	grid, err := raster.NewGrid(triangle.Bound(), 10, "EPSG:4326")
	require.NoError(t, err)
	info := sentinel.SceneInfo{ID: "s", Acquired: time.Date(2020, 2, 3, 8, 30, 0, 0, time.UTC)}

	b08 := newTestClient(t, server, WithCacheDir(dir))
	for i := 0; i < 2; i++ {
		_, cleanup, err := b08.requestImage(context.Background(), info, grid)
		require.NoError(t, err)
		cleanup()
	}
	assert.Equal(t, int32(1), calls.Load())

	b8a := newTestClient(t, server, WithCacheDir(dir), WithBandNames(sentinel.BandNames{NIR: "B8A", Red: "B04", SCL: "SCL"}))
	path, cleanup, err := b8a.requestImage(context.Background(), info, grid)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, int32(2), calls.Load())
	assert.FileExists(t, path)
}

func TestPostRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"features": [], "context": {}}`)
	}))
	defer server.Close()

	infos, err := newTestClient(t, server).Search(context.Background(), sentinel.SearchRequest{Boundary: triangle, Window: february(t)})
	require.NoError(t, err)
	assert.Empty(t, infos)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPostReportsUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := newTestClient(t, server).Search(context.Background(), sentinel.SearchRequest{Boundary: triangle, Window: february(t)})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestProcessRequestPayload(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	c := newTestClient(t, server)

	grid, err := raster.NewGrid(triangle.Bound(), 10, "EPSG:4326")
	require.NoError(t, err)
	info := sentinel.SceneInfo{ID: "s", Acquired: time.Date(2020, 2, 3, 8, 30, 0, 0, time.UTC)}

	payload, err := c.processRequest(info, grid)
	require.NoError(t, err)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	var decoded struct {
		Input struct {
			Bounds struct {
				BBox       []float64         `json:"bbox"`
				Properties map[string]string `json:"properties"`
			} `json:"bounds"`
			Data []struct {
				Type       string `json:"type"`
				DataFilter struct {
					TimeRange map[string]string `json:"timeRange"`
				} `json:"dataFilter"`
			} `json:"data"`
		} `json:"input"`
		Output struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"output"`
		Evalscript string `json:"evalscript"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, grid.Width, decoded.Output.Width)
	assert.Equal(t, grid.Height, decoded.Output.Height)
	assert.InDelta(t, 28.0, decoded.Input.Bounds.BBox[0], 1e-9)
	assert.Equal(t, "http://www.opengis.net/def/crs/OGC/1.3/CRS84", decoded.Input.Bounds.Properties["crs"])
	assert.Equal(t, "sentinel-2-l2a", decoded.Input.Data[0].Type)
	assert.Equal(t, "2020-02-03T00:00:00Z", decoded.Input.Data[0].DataFilter.TimeRange["from"])
	assert.Equal(t, "2020-02-03T23:59:59Z", decoded.Input.Data[0].DataFilter.TimeRange["to"])
	assert.Contains(t, decoded.Evalscript, `bands: ["B04", "B08", "SCL", "dataMask"]`)
	assert.Contains(t, decoded.Evalscript, "sample.B04, sample.B08, sample.SCL, sample.dataMask")
}

func TestFetchStitchesTilesAndAppliesDataMask(t *testing.T) {
	grid := raster.Grid{Width: 3, Height: 2, GeoTransform: [6]float64{0, 1, 0, 2, 0, -1}, CRS: "EPSG:4326"}
	tileDir := t.TempDir()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Output struct {
				Width  int `json:"width"`
				Height int `json:"height"`
			} `json:"output"`
			Input struct {
				Bounds struct {
					BBox []float64 `json:"bbox"`
				} `json:"bounds"`
			} `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		tile := raster.Grid{
			Width:        req.Output.Width,
			Height:       req.Output.Height,
			GeoTransform: [6]float64{req.Input.Bounds.BBox[0], 1, 0, req.Input.Bounds.BBox[3], 0, -1},
			CRS:          "EPSG:4326",
		}
		n := tile.Pixels()
		red, nir, scl, mask := make(raster.Band, n), make(raster.Band, n), make(raster.Band, n), make(raster.Band, n)
		for i := range red {
			red[i], nir[i], scl[i], mask[i] = 0.1, 0.5, 4, 1
		}
		if tile.GeoTransform[0] == 0 && tile.GeoTransform[3] == 2 {
			mask[0] = 0
		}

		path := filepath.Join(tileDir, "tile.tif")
		require.NoError(t, raster.WriteGeoTIFF(path, tile, red, nir, scl, mask))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "image/tiff")
		w.Write(data)
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	c := newTestClient(t, server, WithTileSize(2), WithCacheDir(cacheDir))
	info := sentinel.SceneInfo{ID: "sentinel-2-l2a_20200203", Acquired: time.Date(2020, 2, 3, 8, 30, 0, 0, time.UTC)}

	scene, err := c.Fetch(context.Background(), info, grid)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, grid, scene.Grid)
	assert.Equal(t, info, scene.SceneInfo)
	for _, name := range []string{"B04", "B08", "SCL"} {
		band := scene.Bands[name]
		require.Len(t, band, 6)
		assert.True(t, raster.IsNoData(band[0]), name)
		assert.Equal(t, 5, band.ValidCount(), name)
	}
	assert.InDelta(t, 0.5, scene.Bands["B08"][5], 1e-6)

	_, err = c.Fetch(context.Background(), info, grid)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "cached tiles must not be requested again")
}
