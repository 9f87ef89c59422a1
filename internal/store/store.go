// Package store persists raw hourly history and the fetch sync log.
package store

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gridclimate/internal/config"
	"github.com/sells-group/gridclimate/internal/model"
)

// SyncStatus is the lifecycle state of a sync log entry.
type SyncStatus string

// SyncStatus values.
const (
	SyncRunning  SyncStatus = "running"
	SyncComplete SyncStatus = "complete"
	SyncFailed   SyncStatus = "failed"
)

// SyncEntry records one fetch attempt for a region, source and day range.
type SyncEntry struct {
	ID          string       `json:"id"`
	Region      string       `json:"region"`
	Source      model.Source `json:"source"`
	RangeStart  time.Time    `json:"range_start"`
	RangeEnd    time.Time    `json:"range_end"`
	Status      SyncStatus   `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	RowsMerged  int64        `json:"rows_merged"`
	ErrorKind   string       `json:"error_kind,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// SyncFilter narrows ListSyncs. Empty fields match everything.
type SyncFilter struct {
	Region string
	Source model.Source
	Limit  int
}

// Coverage summarizes what is stored for a region and source.
type Coverage struct {
	First time.Time
	Last  time.Time
	Count int
}

// Empty reports whether nothing is stored.
func (c Coverage) Empty() bool { return c.Count == 0 }

// Store is the raw hourly history owned by the fetch side of the pipeline.
type Store interface {
	// Merge folds the series into stored history, replacing every hour it
	// carries, and returns the updated history for its region and source.
	Merge(ctx context.Context, s *model.Series) (*model.Series, error)
	// Load returns stored history ordered by hour. Zero bounds are open.
	Load(ctx context.Context, region string, source model.Source, from, to time.Time) (*model.Series, error)
	Coverage(ctx context.Context, region string, source model.Source) (Coverage, error)

	// Sync log
	StartSync(ctx context.Context, region string, source model.Source, start, end time.Time) (string, error)
	CompleteSync(ctx context.Context, id string, rows int64) error
	FailSync(ctx context.Context, id string, kind, msg string) error
	ListSyncs(ctx context.Context, filter SyncFilter) ([]SyncEntry, error)
	LastSuccess(ctx context.Context, region string, source model.Source) (*SyncEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "gridclimate.db"
		}
		if dir := filepath.Dir(dsn); dir != "." && dsn != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrapf(err, "store: create %s", dir)
			}
		}
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

const defaultSyncLimit = 100

func validateSeries(s *model.Series) error {
	if s == nil {
		return eris.New("store: merge of nil series")
	}
	if s.Region == "" {
		return eris.New("store: series has no region")
	}
	if _, err := model.ParseSource(string(s.Source)); err != nil {
		return eris.Wrap(err, "store: merge")
	}
	return nil
}

// encodeValues serializes one hour of readings. Map keys are emitted in
// sorted order, so equal readings always encode to equal bytes. Non-finite
// readings are stored as missing.
func encodeValues(vals map[string]*float64) ([]byte, error) {
	clean := make(map[string]*float64, len(vals))
	for k, p := range vals {
		if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
			clean[k] = nil
			continue
		}
		v := *p
		clean[k] = &v
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode values")
	}
	return b, nil
}

func decodeValues(region string, source model.Source, ts time.Time, b []byte) (map[string]*float64, error) {
	var vals map[string]*float64
	if err := json.Unmarshal(b, &vals); err != nil {
		return nil, eris.Wrapf(model.ErrMergeConflict, "store: corrupt record %s/%s at %s: %v",
			region, source, ts.Format(time.RFC3339), err)
	}
	if vals == nil {
		vals = map[string]*float64{}
	}
	return vals, nil
}

// dayStart truncates t to its UTC day.
func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
