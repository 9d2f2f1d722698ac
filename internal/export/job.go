package export

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/composite"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/daterange"
)

var (
	ErrEmptyDestination = errors.New("export destination has no folder")
	ErrTooManyPixels    = errors.New("composite exceeds the export pixel limit")
)

// DefaultMaxPixels is the pixel ceiling of a single export.
const DefaultMaxPixels int64 = 1e9

// Destination describes where and how composites are written. Folder may
// contain the {country} and {resolution} placeholders.
type Destination struct {
	Folder    string
	Scale     float64
	CRS       string
	MaxPixels int64
	Preview   bool
}

func (d Destination) FolderFor(country string) string {
	return strings.NewReplacer(
		"{country}", country,
		"{resolution}", strconv.FormatFloat(d.Scale, 'f', -1, 64),
	).Replace(d.Folder)
}

func (d Destination) validate() error {
	if strings.TrimSpace(d.Folder) == "" {
		return ErrEmptyDestination
	}
	if d.Scale <= 0 {
		return fmt.Errorf("export scale must be positive, got %v", d.Scale)
	}
	if d.CRS == "" {
		return errors.New("export destination has no crs")
	}
	return nil
}

// JobName is the deterministic name of the export of one month and country,
// used both as job description and as file name prefix.
func JobName(month daterange.YearMonth, country string) string {
	return fmt.Sprintf("%04d-%02d_NDVI_%s", month.Year, int(month.Month), country)
}

// Job is one queued export. Region is the boundary of the area the
// composite was clipped to.
type Job struct {
	ID             string
	Name           string
	FileNamePrefix string
	Folder         string
	Scale          float64
	CRS            string
	Region         orb.Geometry
	MaxPixels      int64
	Preview        bool
	Composite      composite.MonthlyComposite
	SubmittedAt    time.Time
}

func (j Job) Key() string {
	return path.Join(j.Folder, j.FileNamePrefix+".tif")
}

func (j Job) PreviewKey() string {
	return path.Join(j.Folder, j.FileNamePrefix+".png")
}

// JobHandle identifies a submitted job. Submission never waits for it.
type JobHandle struct {
	ID   string
	Name string
	Key  string
}

type JobStatus string

const (
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

type JobResult struct {
	ID          string
	Name        string
	Site        string
	Month       string
	Key         string
	URI         string
	PreviewURI  string
	Region      orb.Bound
	SceneCount  int
	ValidPixels int
	Status      JobStatus
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

// formatBound renders b as "minLon,minLat,maxLon,maxLat", or "" for an
// empty bound.
func formatBound(b orb.Bound) string {
	if b.IsZero() {
		return ""
	}
	return fmt.Sprintf("%g,%g,%g,%g", b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat())
}
