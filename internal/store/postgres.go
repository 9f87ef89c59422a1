package store

import (
	"context"
	"embed"
	"io/fs"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gridclimate/internal/db"
	"github.com/sells-group/gridclimate/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 4417032

const observationsTable = "gridclimate.observations"

var observationColumns = []string{"region", "source", "ts", "vals"}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Migrate applies embedded migrations in lexicographic order inside one
// transaction, recording each in gridclimate.schema_migrations. The
// transaction holds an advisory lock so concurrent callers queue behind it;
// the lock lives and dies with the transaction's connection.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin migration")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}

	if _, err := tx.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS gridclimate;
		CREATE TABLE IF NOT EXISTS gridclimate.schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied, err := appliedMigrations(ctx, tx)
	if err != nil {
		return err
	}

	var fresh []string
	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO gridclimate.schema_migrations (filename) VALUES ($1)", name,
		); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}
		fresh = append(fresh, name)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit migration")
	}
	for _, name := range fresh {
		log.Info("migration applied", zap.String("file", name))
	}
	return nil
}

func appliedMigrations(ctx context.Context, tx pgx.Tx) (map[string]bool, error) {
	rows, err := tx.Query(ctx, "SELECT filename FROM gridclimate.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "postgres: iterate migrations")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Merge bulk-upserts the series while holding a transaction-scoped advisory
// lock on its (region, source) key.
func (s *PostgresStore) Merge(ctx context.Context, series *model.Series) (*model.Series, error) {
	if err := validateSeries(series); err != nil {
		return nil, err
	}

	rows := make([][]any, 0, series.Len())
	for _, o := range series.Observations {
		vals, err := encodeValues(o.Values)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []any{series.Region, string(series.Source), model.Hour(o.Time), string(vals)})
	}

	if _, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        observationsTable,
		Columns:      observationColumns,
		ConflictKeys: []string{"region", "source", "ts"},
		LockKey:      series.Region + "/" + string(series.Source),
	}, rows); err != nil {
		return nil, eris.Wrapf(err, "postgres: merge %s/%s", series.Region, series.Source)
	}

	return s.Load(ctx, series.Region, series.Source, time.Time{}, time.Time{})
}

func (s *PostgresStore) Load(ctx context.Context, region string, source model.Source, from, to time.Time) (*model.Series, error) {
	query := `SELECT ts, vals FROM gridclimate.observations WHERE region = $1 AND source = $2`
	args := []any{region, string(source)}
	if !from.IsZero() {
		args = append(args, from.UTC())
		query += ` AND ts >= $` + strconv.Itoa(len(args))
	}
	if !to.IsZero() {
		args = append(args, to.UTC())
		query += ` AND ts <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY ts`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load %s/%s", region, source)
	}
	defer rows.Close()

	out := &model.Series{Region: region, Source: source}
	for rows.Next() {
		var (
			ts  time.Time
			raw []byte
		)
		if err := rows.Scan(&ts, &raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan observation")
		}
		ts = ts.UTC()
		vals, err := decodeValues(region, source, ts, raw)
		if err != nil {
			return nil, err
		}
		out.Observations = append(out.Observations, model.Observation{Time: ts, Values: vals})
	}
	return out, eris.Wrap(rows.Err(), "postgres: load iterate")
}

func (s *PostgresStore) Coverage(ctx context.Context, region string, source model.Source) (Coverage, error) {
	var (
		first, last *time.Time
		count       int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT MIN(ts), MAX(ts), COUNT(*) FROM gridclimate.observations WHERE region = $1 AND source = $2`,
		region, string(source),
	).Scan(&first, &last, &count)
	if err != nil {
		return Coverage{}, eris.Wrapf(err, "postgres: coverage %s/%s", region, source)
	}
	cov := Coverage{Count: int(count)}
	if first != nil {
		cov.First = first.UTC()
	}
	if last != nil {
		cov.Last = last.UTC()
	}
	return cov, nil
}

func (s *PostgresStore) StartSync(ctx context.Context, region string, source model.Source, start, end time.Time) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO gridclimate.sync_log (id, region, source, range_start, range_end, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())`,
		id, region, string(source), dayStart(start), dayStart(end), string(SyncRunning),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: start sync %s/%s", region, source)
	}
	return id, nil
}

func (s *PostgresStore) CompleteSync(ctx context.Context, id string, rows int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE gridclimate.sync_log SET status = $1, completed_at = now(), rows_merged = $2 WHERE id = $3`,
		string(SyncComplete), rows, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete sync %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sync not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) FailSync(ctx context.Context, id string, kind, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE gridclimate.sync_log SET status = $1, completed_at = now(), error_kind = $2, error = $3 WHERE id = $4`,
		string(SyncFailed), kind, msg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail sync %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sync not found: %s", id)
	}
	return nil
}

const pgSyncColumns = `id, region, source, range_start, range_end, status, started_at, completed_at, rows_merged, error_kind, error`

func (s *PostgresStore) ListSyncs(ctx context.Context, filter SyncFilter) ([]SyncEntry, error) {
	query := `SELECT ` + pgSyncColumns + ` FROM gridclimate.sync_log WHERE 1=1`
	var args []any
	argN := 1

	if filter.Region != "" {
		query += ` AND region = $` + strconv.Itoa(argN)
		args = append(args, filter.Region)
		argN++
	}
	if filter.Source != "" {
		query += ` AND source = $` + strconv.Itoa(argN)
		args = append(args, string(filter.Source))
		argN++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSyncLimit
	}
	query += ` LIMIT $` + strconv.Itoa(argN)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list syncs")
	}
	defer rows.Close()

	var entries []SyncEntry
	for rows.Next() {
		e, err := scanPgSync(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list syncs iterate")
}

func (s *PostgresStore) LastSuccess(ctx context.Context, region string, source model.Source) (*SyncEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgSyncColumns+` FROM gridclimate.sync_log
		 WHERE region = $1 AND source = $2 AND status = $3
		 ORDER BY started_at DESC LIMIT 1`,
		region, string(source), string(SyncComplete),
	)
	e, err := scanPgSync(row)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func scanPgSync(row pgx.Row) (*SyncEntry, error) {
	var (
		e              SyncEntry
		source, status string
	)
	err := row.Scan(&e.ID, &e.Region, &source, &e.RangeStart, &e.RangeEnd, &status,
		&e.StartedAt, &e.CompletedAt, &e.RowsMerged, &e.ErrorKind, &e.Error)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan sync")
	}
	e.Source = model.Source(source)
	e.Status = SyncStatus(status)
	e.RangeStart = e.RangeStart.UTC()
	e.RangeEnd = e.RangeEnd.UTC()
	e.StartedAt = e.StartedAt.UTC()
	return &e, nil
}
