package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/sells-group/gridclimate/internal/store"
)

// SyncSnapshot is a point-in-time view of fetch health over a lookback window.
type SyncSnapshot struct {
	Total      int     `json:"total"`
	Complete   int     `json:"complete"`
	Failed     int     `json:"failed"`
	Running    int     `json:"running"`
	FailRate   float64 `json:"fail_rate"`
	RowsMerged int64   `json:"rows_merged"`

	// FailedByKind counts failed syncs by error kind.
	FailedByKind map[string]int `json:"failed_by_kind,omitempty"`
	// FailingKeys lists region/source keys whose most recent sync failed.
	FailingKeys []string `json:"failing_keys,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// SyncLogQuerier is the part of the store the collector reads.
type SyncLogQuerier interface {
	ListSyncs(ctx context.Context, filter store.SyncFilter) ([]store.SyncEntry, error)
}

// Collector summarizes the sync log.
type Collector struct {
	syncLog SyncLogQuerier
	clock   clockwork.Clock
}

// NewCollector creates a collector over the given sync log.
func NewCollector(syncLog SyncLogQuerier, clock clockwork.Clock) *Collector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Collector{syncLog: syncLog, clock: clock}
}

// collectLimit bounds how many sync entries are scanned; one full fetch of
// 66 regions writes 132.
const collectLimit = 10000

// Collect gathers a snapshot over the last lookbackHours.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*SyncSnapshot, error) {
	now := c.clock.Now().UTC()
	snap := &SyncSnapshot{
		FailedByKind:  map[string]int{},
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	entries, err := c.syncLog.ListSyncs(ctx, store.SyncFilter{Limit: collectLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sync entries")
	}

	// Entries arrive newest first, so the first one seen per key is its latest.
	latest := map[string]store.SyncStatus{}
	for _, e := range entries {
		if e.StartedAt.Before(cutoff) {
			continue
		}
		snap.Total++
		switch e.Status {
		case store.SyncComplete:
			snap.Complete++
			snap.RowsMerged += e.RowsMerged
		case store.SyncFailed:
			snap.Failed++
			snap.FailedByKind[e.ErrorKind]++
		case store.SyncRunning:
			snap.Running++
		}

		key := e.Region + "/" + string(e.Source)
		if _, seen := latest[key]; !seen {
			latest[key] = e.Status
		}
	}

	if finished := snap.Complete + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	for key, status := range latest {
		if status == store.SyncFailed {
			snap.FailingKeys = append(snap.FailingKeys, key)
		}
	}
	sort.Strings(snap.FailingKeys)

	return snap, nil
}
