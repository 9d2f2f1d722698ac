package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/sirupsen/logrus"
)

// Monitor observes finished export jobs. JobFinished is called from worker
// goroutines and must be safe for concurrent use.
type Monitor interface {
	JobFinished(result JobResult)
}

type Monitors []Monitor

func (m Monitors) JobFinished(result JobResult) {
	for _, monitor := range m {
		monitor.JobFinished(result)
	}
}

type LogMonitor struct {
	log logrus.FieldLogger
}

func NewLogMonitor(log logrus.FieldLogger) *LogMonitor {
	return &LogMonitor{log: log}
}

func (m *LogMonitor) JobFinished(r JobResult) {
	entry := m.log.WithFields(logrus.Fields{
		"job":      r.Name,
		"job_id":   r.ID,
		"month":    r.Month,
		"uri":      r.URI,
		"bbox":     formatBound(r.Region),
		"duration": r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
	})
	if r.Status == JobFailed {
		entry.WithError(r.Err).Error("Export failed")
		return
	}
	if r.PreviewURI != "" {
		entry = entry.WithField("preview", r.PreviewURI)
	}
	entry.WithField("valid_pixels", r.ValidPixels).Info("Export finished")
}

type ManifestRecord struct {
	JobID       string `csv:"job_id"`
	Name        string `csv:"name"`
	Site        string `csv:"site"`
	Month       string `csv:"month"`
	URI         string `csv:"uri"`
	Preview     string `csv:"preview_uri"`
	BBox        string `csv:"bbox"`
	Scenes      int    `csv:"scenes"`
	ValidPixels int    `csv:"valid_pixels"`
	Status      string `csv:"status"`
	Error       string `csv:"error"`
	FinishedAt  string `csv:"finished_at"`
}

// ManifestMonitor appends one CSV row per finished job.
type ManifestMonitor struct {
	path string
	log  logrus.FieldLogger
	mu   sync.Mutex
}

func NewManifestMonitor(path string, log logrus.FieldLogger) *ManifestMonitor {
	return &ManifestMonitor{path: path, log: log}
}

func (m *ManifestMonitor) JobFinished(r JobResult) {
	record := ManifestRecord{
		JobID:       r.ID,
		Name:        r.Name,
		Site:        r.Site,
		Month:       r.Month,
		URI:         r.URI,
		Preview:     r.PreviewURI,
		BBox:        formatBound(r.Region),
		Scenes:      r.SceneCount,
		ValidPixels: r.ValidPixels,
		Status:      string(r.Status),
		FinishedAt:  r.FinishedAt.UTC().Format(time.RFC3339),
	}
	if r.Err != nil {
		record.Error = r.Err.Error()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.append(record); err != nil {
		m.log.WithError(err).WithField("manifest", m.path).Error("Failed to update export manifest")
	}
}

func (m *ManifestMonitor) append(record ManifestRecord) error {
	records, err := ReadManifest(m.path)
	if err != nil {
		return err
	}
	records = append(records, record)

	if err := os.MkdirAll(filepath.Dir(m.path), os.ModePerm); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gocsv.MarshalFile(&records, file); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}

// ReadManifest returns the recorded jobs, or none if the manifest does not
// exist yet.
func ReadManifest(path string) ([]ManifestRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []ManifestRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	var records []ManifestRecord
	if err := gocsv.UnmarshalBytes(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return records, nil
}
