// Package pipeline drives one run: resolve the area once, then for every
// month collect scenes, mask them, compute NDVI, composite and export.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/aoi"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/composite"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/daterange"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/export"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/properties"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/raster"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/sentinel"
)

// Config is the immutable input of a run.
type Config struct {
	CountryName  string
	Start        daterange.YearMonth
	End          *daterange.YearMonth
	Resolution   float64
	CRS          string
	OutputFolder string
	FilterCloud  bool
	MaxPixels    int64
	Preview      bool
	Bands        sentinel.BandNames
}

func ConfigFromProperties(p properties.Config) Config {
	return Config{
		CountryName:  p.CountryName,
		Start:        daterange.YearMonth{Year: p.StartYear, Month: time.Month(p.StartMonth)},
		End:          daterange.Optional(p.EndYear, p.EndMonth),
		Resolution:   p.Resolution,
		CRS:          p.CRS,
		OutputFolder: p.OutputFolder,
		FilterCloud:  p.FilterCloud,
		MaxPixels:    p.MaxPixels,
		Preview:      p.Export.Preview,
		Bands:        sentinel.BandNames{NIR: p.NIRBand, Red: p.RedBand, SCL: p.SCLBand},
	}
}

type SceneCollector interface {
	Collect(ctx context.Context, area aoi.AreaOfInterest, window daterange.Window, grid raster.Grid, filterCloud bool) ([]sentinel.Scene, error)
}

type Exporter interface {
	Submit(c composite.MonthlyComposite, area aoi.AreaOfInterest, dest export.Destination) (export.JobHandle, error)
}

type Driver struct {
	resolver  aoi.Resolver
	collector SceneCollector
	exporter  Exporter
	log       logrus.FieldLogger
}

func NewDriver(resolver aoi.Resolver, collector SceneCollector, exporter Exporter, log logrus.FieldLogger) *Driver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Driver{resolver: resolver, collector: collector, exporter: exporter, log: log}
}

// Run processes the months of cfg in order and returns one handle per
// submitted export. It does not wait for the exports to finish.
func (d *Driver) Run(ctx context.Context, cfg Config) ([]export.JobHandle, error) {
	months, err := daterange.Generate(cfg.Start, cfg.End)
	if err != nil {
		return nil, fmt.Errorf("invalid date range: %w", err)
	}
	code, err := raster.ParseEPSG(cfg.CRS)
	if err != nil {
		return nil, err
	}

	log := d.log.WithFields(logrus.Fields{"run_id": uuid.NewString(), "site": cfg.CountryName})

	area, err := d.resolver.Resolve(ctx, cfg.CountryName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve area of interest: %w", err)
	}
	entry := log.WithField("asset", area.Asset)
	if centroid, err := area.Centroid(); err == nil {
		entry = entry.WithFields(logrus.Fields{"lon": centroid.Lon(), "lat": centroid.Lat()})
	}
	entry.Info("Resolved area of interest")

	grid, err := raster.NewGrid(area.Boundary.Bound(), cfg.Resolution, cfg.CRS)
	if err != nil {
		return nil, fmt.Errorf("failed to build grid for %s: %w", area.Name, err)
	}
	boundary, err := raster.ProjectGeometry(area.Boundary, code)
	if err != nil {
		return nil, fmt.Errorf("failed to project boundary of %s: %w", area.Name, err)
	}

	dest := export.Destination{
		Folder:    cfg.OutputFolder,
		Scale:     cfg.Resolution,
		CRS:       grid.CRS,
		MaxPixels: cfg.MaxPixels,
		Preview:   cfg.Preview,
	}

	handles := make([]export.JobHandle, 0, months.Len())
	for window := range months.Windows() {
		if err := ctx.Err(); err != nil {
			return handles, err
		}
		monthLog := log.WithField("month", window.Month())

		handle, err := d.runMonth(ctx, monthLog, cfg, area, window, grid, boundary, dest)
		if err != nil {
			return handles, fmt.Errorf("month %s: %w", window.Month(), err)
		}
		handles = append(handles, handle)
	}
	return handles, nil
}

func (d *Driver) runMonth(ctx context.Context, log logrus.FieldLogger, cfg Config, area aoi.AreaOfInterest,
	window daterange.Window, grid raster.Grid, boundary orb.Geometry, dest export.Destination) (export.JobHandle, error) {
	scenes, err := d.collector.Collect(ctx, area, window, grid, cfg.FilterCloud)
	if err != nil {
		return export.JobHandle{}, err
	}
	log.WithField("scenes", len(scenes)).Info("Processing month")

	prepared := make([]sentinel.Scene, 0, len(scenes))
	for _, scene := range scenes {
		masked, err := sentinel.MaskClouds(scene, cfg.Bands.SCL)
		if err != nil {
			return export.JobHandle{}, err
		}
		indexed, err := sentinel.AddNDVI(masked, cfg.Bands)
		if err != nil {
			return export.JobHandle{}, err
		}
		prepared = append(prepared, indexed)
	}

	monthly, err := composite.Build(window, area, grid, boundary, prepared)
	if err != nil {
		return export.JobHandle{}, err
	}

	handle, err := d.exporter.Submit(monthly, area, dest)
	if err != nil {
		return export.JobHandle{}, fmt.Errorf("failed to submit export: %w", err)
	}
	log.WithFields(logrus.Fields{"job": handle.Name, "valid_pixels": monthly.ValidPixels()}).Debug("Export submitted")
	return handle, nil
}
