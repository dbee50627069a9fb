package telemetry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/springmesh/config"
)

// csvLog is an append-only CSV file whose header comes from the first batch.
type csvLog struct {
	f      *os.File
	header bool
}

func createLog(dir, name string) (*csvLog, error) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return &csvLog{f: f}, nil
}

// append writes rows, which must be a slice of gocsv-tagged structs.
func (l *csvLog) append(rows any) error {
	if l.header {
		return gocsv.MarshalWithoutHeaders(rows, l.f)
	}
	if err := gocsv.Marshal(rows, l.f); err != nil {
		return err
	}
	l.header = true
	return nil
}

func (l *csvLog) close() error {
	if l == nil {
		return nil
	}
	return l.f.Close()
}

// OutputManager writes a run directory: config.yaml, telemetry.csv (one
// WindowStats row per window) and perf.csv (one PerfRecord per window).
// A nil *OutputManager discards everything.
type OutputManager struct {
	dir       string
	telemetry *csvLog
	perf      *csvLog
}

// NewOutputManager creates dir and its CSV files. An empty dir disables
// output and returns nil.
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	telemetry, err := createLog(dir, "telemetry.csv")
	if err != nil {
		return nil, err
	}
	perf, err := createLog(dir, "perf.csv")
	if err != nil {
		telemetry.close()
		return nil, err
	}
	return &OutputManager{dir: dir, telemetry: telemetry, perf: perf}, nil
}

// WriteConfig snapshots cfg into config.yaml.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteTelemetry appends one window to telemetry.csv.
func (om *OutputManager) WriteTelemetry(stats WindowStats) error {
	if om == nil {
		return nil
	}
	if err := om.telemetry.append([]WindowStats{stats}); err != nil {
		return fmt.Errorf("writing telemetry: %w", err)
	}
	return nil
}

// WritePerf appends the perf summary for the window ending at windowEnd.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd uint64) error {
	if om == nil {
		return nil
	}
	if err := om.perf.append([]PerfRecord{stats.Record(windowEnd)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// Dir returns the output directory, or "" when output is disabled.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close closes both CSV files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	return errors.Join(om.telemetry.close(), om.perf.close())
}
