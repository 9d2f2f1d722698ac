// Package export hands monthly composites to a background worker pool that
// encodes them as GeoTIFF and uploads them to a sink. Callers get a handle
// back immediately and never observe completion; results go to a Monitor.
package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/aoi"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/composite"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/raster"
)

// Encoder writes one band to a file at path.
type Encoder func(path string, grid raster.Grid, band raster.Band) error

func geoTIFFEncoder(path string, grid raster.Grid, band raster.Band) error {
	return raster.WriteGeoTIFF(path, grid, band)
}

type Dispatcher struct {
	pool    *workerpool.WorkerPool
	ctx     context.Context
	sink    Sink
	monitor Monitor
	encode  Encoder
	log     logrus.FieldLogger
	now     func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.pool = workerpool.New(n)
		}
	}
}

func WithMonitor(m Monitor) DispatcherOption {
	return func(d *Dispatcher) { d.monitor = m }
}

func WithEncoder(e Encoder) DispatcherOption {
	return func(d *Dispatcher) { d.encode = e }
}

func WithLogger(log logrus.FieldLogger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

// WithContext sets the context jobs run under. It is independent from the
// context of the caller that submits them.
func WithContext(ctx context.Context) DispatcherOption {
	return func(d *Dispatcher) { d.ctx = ctx }
}

func NewDispatcher(sink Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		ctx:    context.Background(),
		sink:   sink,
		encode: geoTIFFEncoder,
		log:    logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.pool == nil {
		d.pool = workerpool.New(2)
	}
	if d.monitor == nil {
		d.monitor = NewLogMonitor(d.log)
	}
	return d
}

// Submit queues the export of one composite and returns without waiting.
// Only the destination is validated here.
func (d *Dispatcher) Submit(c composite.MonthlyComposite, area aoi.AreaOfInterest, dest Destination) (JobHandle, error) {
	if err := dest.validate(); err != nil {
		return JobHandle{}, err
	}
	if err := c.NDVI.CheckSize(c.Grid); err != nil {
		return JobHandle{}, err
	}

	maxPixels := dest.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	name := JobName(c.Window.YearMonth(), area.Name)
	job := Job{
		ID:             uuid.NewString(),
		Name:           name,
		FileNamePrefix: name,
		Folder:         dest.FolderFor(area.Name),
		Scale:          dest.Scale,
		CRS:            dest.CRS,
		Region:         area.Boundary,
		MaxPixels:      maxPixels,
		Preview:        dest.Preview,
		Composite:      c,
		SubmittedAt:    d.now(),
	}

	d.pool.Submit(func() { d.run(job) })
	d.log.WithFields(logrus.Fields{"job": job.Name, "job_id": job.ID, "key": job.Key()}).Debug("Export submitted")
	return JobHandle{ID: job.ID, Name: job.Name, Key: job.Key()}, nil
}

// Wait blocks until every submitted job has finished. The dispatcher does
// not accept jobs afterwards.
func (d *Dispatcher) Wait() {
	d.pool.StopWait()
}

func (d *Dispatcher) run(job Job) {
	result := JobResult{
		ID:          job.ID,
		Name:        job.Name,
		Site:        job.Composite.Site,
		Month:       job.Composite.Window.Month(),
		Key:         job.Key(),
		SceneCount:  job.Composite.SceneCount,
		ValidPixels: job.Composite.ValidPixels(),
		StartedAt:   d.now(),
	}
	if job.Region != nil {
		result.Region = job.Region.Bound()
	}

	uri, err := d.export(job)
	result.URI = uri
	result.Status = JobSucceeded
	if err != nil {
		result.Status = JobFailed
		result.Err = err
	} else if job.Preview {
		// A failed preview leaves the job succeeded.
		previewURI, err := d.exportPreview(job)
		if err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{"job": job.Name, "job_id": job.ID, "key": job.PreviewKey()}).Warn("Preview export failed")
		}
		result.PreviewURI = previewURI
	}
	result.FinishedAt = d.now()
	d.monitor.JobFinished(result)
}

func (d *Dispatcher) export(job Job) (string, error) {
	grid := job.Composite.Grid
	if grid.Pixels() > job.MaxPixels {
		return "", fmt.Errorf("%w: %d > %d", ErrTooManyPixels, grid.Pixels(), job.MaxPixels)
	}
	if grid.CRS != job.CRS {
		return "", fmt.Errorf("composite is in %s, export requested %s", grid.CRS, job.CRS)
	}

	dir, err := os.MkdirTemp("", "ndvi-export-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, job.FileNamePrefix+".tif")
	if err := d.encode(path, grid, job.Composite.NDVI); err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", job.Name, err)
	}
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return d.sink.Put(d.ctx, job.Key(), file)
}

func (d *Dispatcher) exportPreview(job Job) (string, error) {
	var buf bytes.Buffer
	if err := createPreviewImage(&buf, job.Composite.Grid, job.Composite.NDVI, NDVIPalette); err != nil {
		return "", fmt.Errorf("failed to render preview of %s: %w", job.Name, err)
	}
	return d.sink.Put(d.ctx, job.PreviewKey(), &buf)
}
