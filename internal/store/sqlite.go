package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/gridclimate/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, clock: clockwork.NewRealClock()}, nil
}

// SetClock replaces the clock used for sync log timestamps.
func (s *SQLiteStore) SetClock(c clockwork.Clock) { s.clock = c }

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS observations (
	region TEXT    NOT NULL,
	source TEXT    NOT NULL,
	ts     INTEGER NOT NULL,
	vals   TEXT    NOT NULL,
	PRIMARY KEY (region, source, ts)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS sync_log (
	id           TEXT PRIMARY KEY,
	region       TEXT    NOT NULL,
	source       TEXT    NOT NULL,
	range_start  INTEGER NOT NULL,
	range_end    INTEGER NOT NULL,
	status       TEXT    NOT NULL DEFAULT 'running',
	started_at   INTEGER NOT NULL,
	completed_at INTEGER,
	rows_merged  INTEGER NOT NULL DEFAULT 0,
	error_kind   TEXT    NOT NULL DEFAULT '',
	error        TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sync_log_region_source ON sync_log(region, source, status);
CREATE INDEX IF NOT EXISTS idx_sync_log_started_at ON sync_log(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Merge upserts every hour of the series in a single transaction.
func (s *SQLiteStore) Merge(ctx context.Context, series *model.Series) (*model.Series, error) {
	if err := validateSeries(series); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: merge begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO observations (region, source, ts, vals) VALUES (?, ?, ?, ?)
		 ON CONFLICT(region, source, ts) DO UPDATE SET vals = excluded.vals`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: merge prepare")
	}
	defer stmt.Close() //nolint:errcheck

	for _, o := range series.Observations {
		vals, err := encodeValues(o.Values)
		if err != nil {
			return nil, err
		}
		if _, err := stmt.ExecContext(ctx, series.Region, string(series.Source), model.Hour(o.Time).Unix(), string(vals)); err != nil {
			return nil, eris.Wrapf(err, "sqlite: merge %s/%s", series.Region, series.Source)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: merge commit")
	}

	return s.Load(ctx, series.Region, series.Source, time.Time{}, time.Time{})
}

func (s *SQLiteStore) Load(ctx context.Context, region string, source model.Source, from, to time.Time) (*model.Series, error) {
	query := `SELECT ts, vals FROM observations WHERE region = ? AND source = ?`
	args := []any{region, string(source)}
	if !from.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, from.Unix())
	}
	if !to.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, to.Unix())
	}
	query += ` ORDER BY ts`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load %s/%s", region, source)
	}
	defer rows.Close()

	out := &model.Series{Region: region, Source: source}
	for rows.Next() {
		var (
			ts  int64
			raw string
		)
		if err := rows.Scan(&ts, &raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan observation")
		}
		t := time.Unix(ts, 0).UTC()
		vals, err := decodeValues(region, source, t, []byte(raw))
		if err != nil {
			return nil, err
		}
		out.Observations = append(out.Observations, model.Observation{Time: t, Values: vals})
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load iterate")
}

func (s *SQLiteStore) Coverage(ctx context.Context, region string, source model.Source) (Coverage, error) {
	var (
		first, last sql.NullInt64
		count       int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(ts), MAX(ts), COUNT(*) FROM observations WHERE region = ? AND source = ?`,
		region, string(source),
	).Scan(&first, &last, &count)
	if err != nil {
		return Coverage{}, eris.Wrapf(err, "sqlite: coverage %s/%s", region, source)
	}
	cov := Coverage{Count: count}
	if first.Valid {
		cov.First = time.Unix(first.Int64, 0).UTC()
	}
	if last.Valid {
		cov.Last = time.Unix(last.Int64, 0).UTC()
	}
	return cov, nil
}

func (s *SQLiteStore) StartSync(ctx context.Context, region string, source model.Source, start, end time.Time) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_log (id, region, source, range_start, range_end, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, region, string(source), dayStart(start).Unix(), dayStart(end).Unix(),
		string(SyncRunning), s.clock.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start sync %s/%s", region, source)
	}
	return id, nil
}

func (s *SQLiteStore) CompleteSync(ctx context.Context, id string, rows int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_log SET status = ?, completed_at = ?, rows_merged = ? WHERE id = ?`,
		string(SyncComplete), s.clock.Now().UTC().UnixMilli(), rows, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete sync %s", id)
	}
	return checkRowsAffected(res, "sync", id)
}

func (s *SQLiteStore) FailSync(ctx context.Context, id string, kind, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_log SET status = ?, completed_at = ?, error_kind = ?, error = ? WHERE id = ?`,
		string(SyncFailed), s.clock.Now().UTC().UnixMilli(), kind, msg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail sync %s", id)
	}
	return checkRowsAffected(res, "sync", id)
}

const sqliteSyncColumns = `id, region, source, range_start, range_end, status, started_at, completed_at, rows_merged, error_kind, error`

func (s *SQLiteStore) ListSyncs(ctx context.Context, filter SyncFilter) ([]SyncEntry, error) {
	query := `SELECT ` + sqliteSyncColumns + ` FROM sync_log WHERE 1=1`
	var args []any

	if filter.Region != "" {
		query += ` AND region = ?`
		args = append(args, filter.Region)
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	query += ` ORDER BY started_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSyncLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list syncs")
	}
	defer rows.Close()

	var entries []SyncEntry
	for rows.Next() {
		e, err := scanSQLiteSync(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list syncs iterate")
}

func (s *SQLiteStore) LastSuccess(ctx context.Context, region string, source model.Source) (*SyncEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSyncColumns+` FROM sync_log
		 WHERE region = ? AND source = ? AND status = ?
		 ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		region, string(source), string(SyncComplete),
	)
	e, err := scanSQLiteSync(row)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteSync(row scannable) (*SyncEntry, error) {
	var (
		e                    SyncEntry
		source, status       string
		rangeStart, rangeEnd int64
		startedAt            int64
		completedAt          sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.Region, &source, &rangeStart, &rangeEnd, &status,
		&startedAt, &completedAt, &e.RowsMerged, &e.ErrorKind, &e.Error)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(err, "sqlite: sync not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan sync")
	}
	e.Source = model.Source(source)
	e.Status = SyncStatus(status)
	e.RangeStart = time.Unix(rangeStart, 0).UTC()
	e.RangeEnd = time.Unix(rangeEnd, 0).UTC()
	e.StartedAt = time.UnixMilli(startedAt).UTC()
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		e.CompletedAt = &t
	}
	return &e, nil
}
