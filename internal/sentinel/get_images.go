package sentinel

import (
	"context"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/aoi"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/daterange"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/raster"
)

type SearchRequest struct {
	Boundary orb.Geometry
	Window   daterange.Window
}

// SceneSource is the imagery backend: a catalog of acquisitions and a way
// to fetch one acquisition resampled onto a grid.
type SceneSource interface {
	Search(ctx context.Context, req SearchRequest) ([]SceneInfo, error)
	Fetch(ctx context.Context, info SceneInfo, grid raster.Grid) (Scene, error)
}

type SceneOrder string

const (
	OrderByAcquisition SceneOrder = "acquired"
	OrderByCloud       SceneOrder = "cloud"
)

func ParseSceneOrder(s string) (SceneOrder, error) {
	switch SceneOrder(s) {
	case OrderByAcquisition, OrderByCloud:
		return SceneOrder(s), nil
	}
	return "", fmt.Errorf("unknown scene order %q", s)
}

// SortScenes orders scene metadata deterministically. The compositor keeps
// the first valid pixel, so this order decides which scene wins.
func SortScenes(infos []SceneInfo, order SceneOrder) {
	sort.SliceStable(infos, func(i, j int) bool {
		a, b := infos[i], infos[j]
		if order == OrderByCloud && a.CloudPercent != b.CloudPercent {
			return a.CloudPercent < b.CloudPercent
		}
		if !a.Acquired.Equal(b.Acquired) {
			return a.Acquired.Before(b.Acquired)
		}
		return a.ID < b.ID
	})
}

type Collector struct {
	source       SceneSource
	cloudCeiling float64
	order        SceneOrder
	concurrency  int
	progress     bool
	log          logrus.FieldLogger
}

type CollectorOption func(*Collector)

// WithCloudCeiling drops scenes whose cloud percentage exceeds ceiling when
// cloud filtering is requested.
func WithCloudCeiling(ceiling float64) CollectorOption {
	return func(c *Collector) { c.cloudCeiling = ceiling }
}

func WithSceneOrder(order SceneOrder) CollectorOption {
	return func(c *Collector) { c.order = order }
}

func WithFetchConcurrency(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithProgress(enabled bool) CollectorOption {
	return func(c *Collector) { c.progress = enabled }
}

func WithLogger(log logrus.FieldLogger) CollectorOption {
	return func(c *Collector) { c.log = log }
}

func NewCollector(source SceneSource, opts ...CollectorOption) *Collector {
	c := &Collector{
		source:       source,
		cloudCeiling: 100,
		order:        OrderByAcquisition,
		concurrency:  4,
		log:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect returns every acquisition intersecting the area inside the window,
// fetched onto grid and in a deterministic order. No match is an empty
// slice, not an error.
func (c *Collector) Collect(ctx context.Context, area aoi.AreaOfInterest, window daterange.Window, grid raster.Grid, filterCloud bool) ([]Scene, error) {
	found, err := c.source.Search(ctx, SearchRequest{Boundary: area.Boundary, Window: window})
	if err != nil {
		return nil, fmt.Errorf("failed to search scenes for %s in %s: %w", area.Name, window.Month(), err)
	}

	infos := make([]SceneInfo, 0, len(found))
	for _, info := range found {
		if !window.Contains(info.Acquired) {
			continue
		}
		if filterCloud && info.CloudPercent > c.cloudCeiling {
			c.log.WithFields(logrus.Fields{"scene": info.ID, "cloud": info.CloudPercent}).Debug("Skipping cloudy scene")
			continue
		}
		infos = append(infos, info)
	}
	if len(infos) == 0 {
		return []Scene{}, nil
	}
	SortScenes(infos, c.order)

	var bar *progressbar.ProgressBar
	if c.progress {
		bar = progressbar.Default(int64(len(infos)), "Fetching "+window.Month())
	}

	scenes := make([]Scene, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, info := range infos {
		g.Go(func() error {
			scene, err := c.source.Fetch(gctx, info, grid)
			if err != nil {
				return fmt.Errorf("failed to fetch scene %s: %w", info.ID, err)
			}
			if scene.Grid != grid {
				return fmt.Errorf("scene %s: %w", info.ID, raster.ErrGridMismatch)
			}
			scenes[i] = scene
			if bar != nil {
				bar.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scenes, nil
}
