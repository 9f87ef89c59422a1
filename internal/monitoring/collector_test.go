package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gridclimate/internal/model"
	"github.com/sells-group/gridclimate/internal/store"
)

type mockSyncLog struct {
	entries []store.SyncEntry
	err     error
}

func (m *mockSyncLog) ListSyncs(_ context.Context, _ store.SyncFilter) ([]store.SyncEntry, error) {
	return m.entries, m.err
}

var collectNow = time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)

func entry(region string, src model.Source, status store.SyncStatus, kind string, ago time.Duration, rows int64) store.SyncEntry {
	return store.SyncEntry{
		Region:     region,
		Source:     src,
		Status:     status,
		ErrorKind:  kind,
		StartedAt:  collectNow.Add(-ago),
		RowsMerged: rows,
	}
}

func TestCollector_Collect(t *testing.T) {
	// newest first, as ListSyncs returns them
	sl := &mockSyncLog{entries: []store.SyncEntry{
		entry("PACW", model.SourceClimate, store.SyncFailed, "rate_limited", time.Hour, 0),
		entry("ERCO", model.SourceDemand, store.SyncComplete, "", 2*time.Hour, 744),
		entry("ERCO", model.SourceClimate, store.SyncComplete, "", 2*time.Hour, 744),
		entry("PJM", model.SourceDemand, store.SyncRunning, "", 3*time.Hour, 0),
		entry("ERCO", model.SourceDemand, store.SyncFailed, "transient", 5*time.Hour, 0),
		entry("MISO", model.SourceDemand, store.SyncFailed, "not_found", 48*time.Hour, 0),
	}}

	c := NewCollector(sl, clockwork.NewFakeClockAt(collectNow))
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.Total)
	assert.Equal(t, 2, snap.Complete)
	assert.Equal(t, 2, snap.Failed)
	assert.Equal(t, 1, snap.Running)
	assert.InDelta(t, 0.5, snap.FailRate, 1e-9)
	assert.Equal(t, int64(1488), snap.RowsMerged)
	assert.Equal(t, map[string]int{"rate_limited": 1, "transient": 1}, snap.FailedByKind)
	// ERCO/demand recovered after its failure; MISO is outside the window.
	assert.Equal(t, []string{"PACW/climate"}, snap.FailingKeys)
	assert.Equal(t, collectNow, snap.CollectedAt)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollector_Empty(t *testing.T) {
	c := NewCollector(&mockSyncLog{}, clockwork.NewFakeClockAt(collectNow))
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Total)
	assert.InDelta(t, 0.0, snap.FailRate, 1e-9)
	assert.Empty(t, snap.FailingKeys)
}

func TestCollector_Error(t *testing.T) {
	c := NewCollector(&mockSyncLog{err: errors.New("db down")}, nil)
	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list sync entries")
}
