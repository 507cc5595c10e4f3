package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fundamentals/internal/db"
	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/resilience"
)

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

const (
	sqlInsertSnapshot = `INSERT INTO snapshots (id, symbol, record, gaps, phases, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	sqlGetSnapshot    = `SELECT id, symbol, record, gaps, phases, created_at FROM snapshots WHERE id = $1`
	sqlLatestSnapshot = `SELECT id, symbol, record, gaps, phases, created_at FROM snapshots WHERE symbol = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT 1`
	sqlGetProvenance  = `SELECT snapshot_id, symbol, scope, period, field_key, winner_source, created_at FROM field_provenance WHERE snapshot_id = $1 ORDER BY scope, period, field_key`
)

// preparedStatements lists queries to prepare on each new connection: the
// cache lookup runs once per request.
var preparedStatements = map[string]string{
	"insert_snapshot": sqlInsertSnapshot,
	"get_snapshot":    sqlGetSnapshot,
	"latest_snapshot": sqlLatestSnapshot,
	"get_provenance":  sqlGetProvenance,
}

var provenanceColumns = []string{"snapshot_id", "symbol", "scope", "period", "field_key", "winner_source", "created_at"}

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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         TEXT PRIMARY KEY,
	symbol     TEXT NOT NULL,
	record     JSONB NOT NULL,
	gaps       JSONB NOT NULL DEFAULT '[]',
	phases     JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS field_provenance (
	snapshot_id   TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	symbol        TEXT NOT NULL,
	scope         TEXT NOT NULL,
	period        TEXT NOT NULL DEFAULT '',
	field_key     TEXT NOT NULL,
	winner_source TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (snapshot_id, scope, period, field_key)
);

CREATE TABLE IF NOT EXISTS failed_symbols (
	symbol          TEXT PRIMARY KEY,
	id              TEXT NOT NULL UNIQUE,
	error_type      TEXT NOT NULL,
	last_error      TEXT NOT NULL,
	retries         INTEGER NOT NULL DEFAULT 0,
	max_retries     INTEGER NOT NULL DEFAULT 3,
	retry_after     TIMESTAMPTZ NOT NULL,
	first_failed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_snapshots_symbol_created ON snapshots(symbol, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at);
CREATE INDEX IF NOT EXISTS idx_field_provenance_symbol ON field_provenance(symbol, field_key);
CREATE INDEX IF NOT EXISTS idx_failed_symbols_due ON failed_symbols(retry_after) WHERE retries < max_retries;
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	record, gaps, phases, err := marshalSnapshot(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal snapshot")
	}
	_, err = s.pool.Exec(ctx, sqlInsertSnapshot, snap.ID, snap.Symbol, record, gaps, phases, snap.CreatedAt)
	return eris.Wrapf(err, "postgres: save snapshot %s", snap.Symbol)
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	snap, err := scanPostgresSnapshot(s.pool.QueryRow(ctx, sqlGetSnapshot, id), true)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: snapshot %s", id)
	}
	return snap, eris.Wrapf(err, "postgres: get snapshot %s", id)
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, symbol string, maxAge time.Duration) (*model.Snapshot, error) {
	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = time.Now().UTC().Add(-maxAge)
	}
	snap, err := scanPostgresSnapshot(s.pool.QueryRow(ctx, sqlLatestSnapshot, symbol, cutoff), true)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return snap, eris.Wrapf(err, "postgres: latest snapshot %s", symbol)
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.Snapshot, error) {
	query := `SELECT id, symbol, NULL::jsonb, gaps, phases, created_at FROM snapshots`
	var args []any
	argIdx := 1
	if filter.Symbol != "" {
		query += fmt.Sprintf(` WHERE symbol = $%d`, argIdx)
		args = append(args, filter.Symbol)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	var out []model.Snapshot
	for rows.Next() {
		snap, err := scanPostgresSnapshot(rows, false)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

func (s *PostgresStore) PruneSnapshots(ctx context.Context, cutoff time.Time) (int, error) {
	var n int64
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM field_provenance WHERE snapshot_id IN (SELECT id FROM snapshots WHERE created_at < $1)`, cutoff); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM snapshots WHERE created_at < $1`, cutoff)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return int(n), eris.Wrap(err, "postgres: prune snapshots")
}

// SaveProvenance bulk-loads rows with COPY. Snapshot IDs are fresh per run,
// so rows never collide with existing ones.
func (s *PostgresStore) SaveProvenance(ctx context.Context, rows []model.FieldProvenance) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.SnapshotID, r.Symbol, string(r.Scope), r.Period, r.FieldKey, string(r.Winner), r.CreatedAt})
	}
	_, err := db.CopyFrom(ctx, s.pool, "field_provenance", provenanceColumns, data)
	return eris.Wrap(err, "postgres: save provenance")
}

func (s *PostgresStore) GetProvenance(ctx context.Context, snapshotID string) ([]model.FieldProvenance, error) {
	rows, err := s.pool.Query(ctx, sqlGetProvenance, snapshotID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get provenance")
	}
	defer rows.Close()

	var out []model.FieldProvenance
	for rows.Next() {
		var r model.FieldProvenance
		var scope, winner string
		if err := rows.Scan(&r.SnapshotID, &r.Symbol, &scope, &r.Period, &r.FieldKey, &winner, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan provenance")
		}
		r.Scope = model.MergeScope(scope)
		r.Winner = model.Source(winner)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get provenance iterate")
}

// EnqueueDLQ queues symbol for retry. A symbol already queued keeps its ID
// and retry count; its error and schedule are replaced.
func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO failed_symbols AS f
		   (symbol, id, error_type, last_error, retries, max_retries, retry_after, first_failed_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (symbol) DO UPDATE SET
		   error_type = EXCLUDED.error_type,
		   last_error = EXCLUDED.last_error,
		   retries = GREATEST(f.retries, EXCLUDED.retries),
		   max_retries = EXCLUDED.max_retries,
		   retry_after = EXCLUDED.retry_after,
		   last_failed_at = EXCLUDED.last_failed_at`,
		entry.Symbol, entry.ID, entry.ErrorType, entry.Error, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrapf(err, "postgres: queue failed symbol %s", entry.Symbol)
}

// DequeueDLQ lists symbols whose retry is due and whose retries are not
// exhausted, soonest first.
func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, id, error_type, last_error, retries, max_retries, retry_after, first_failed_at, last_failed_at
		 FROM failed_symbols
		 WHERE retries < max_retries AND retry_after <= now() AND ($1::text = '' OR error_type = $1)
		 ORDER BY retry_after, symbol
		 LIMIT $2`,
		filter.ErrorType, listLimit(filter.Limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list due symbols")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.Symbol, &e.ID, &e.ErrorType, &e.Error, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failed symbol")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list due symbols iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE failed_symbols
		 SET retries = retries + 1, retry_after = $2, last_error = $3, last_failed_at = now()
		 WHERE id = $1`,
		id, nextRetryAt, lastErr,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: reschedule failed symbol %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "failed symbol %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM failed_symbols WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: drop failed symbol %s", id)
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM failed_symbols`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count failed symbols")
}

func scanPostgresSnapshot(row scannable, withRecord bool) (*model.Snapshot, error) {
	var snap model.Snapshot
	var record, gaps, phases []byte
	if err := row.Scan(&snap.ID, &snap.Symbol, &record, &gaps, &phases, &snap.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalSnapshot(&snap, withRecord, record, gaps, phases); err != nil {
		return nil, err
	}
	return &snap, nil
}
