package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/resilience"
)

// sqliteTime is fixed width so timestamps compare correctly as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
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
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         TEXT PRIMARY KEY,
	symbol     TEXT NOT NULL,
	record     TEXT NOT NULL,
	gaps       TEXT NOT NULL DEFAULT '[]',
	phases     TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS field_provenance (
	snapshot_id   TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	symbol        TEXT NOT NULL,
	scope         TEXT NOT NULL,
	period        TEXT NOT NULL DEFAULT '',
	field_key     TEXT NOT NULL,
	winner_source TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	PRIMARY KEY (snapshot_id, scope, period, field_key)
);

CREATE TABLE IF NOT EXISTS failed_symbols (
	symbol          TEXT PRIMARY KEY,
	id              TEXT NOT NULL UNIQUE,
	error_type      TEXT NOT NULL,
	last_error      TEXT NOT NULL,
	retries         INTEGER NOT NULL DEFAULT 0,
	max_retries     INTEGER NOT NULL DEFAULT 3,
	retry_after     TEXT NOT NULL,
	first_failed_at TEXT NOT NULL,
	last_failed_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_symbol_created ON snapshots(symbol, created_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at);
CREATE INDEX IF NOT EXISTS idx_failed_symbols_due ON failed_symbols(retry_after) WHERE retries < max_retries;
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	record, gaps, phases, err := marshalSnapshot(snap)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal snapshot")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, symbol, record, gaps, phases, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Symbol, string(record), string(gaps), string(phases), formatTime(snap.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: save snapshot %s", snap.Symbol)
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, symbol, record, gaps, phases, created_at FROM snapshots WHERE id = ?`, id)
	snap, err := scanSQLiteSnapshot(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: snapshot %s", id)
	}
	return snap, eris.Wrapf(err, "sqlite: get snapshot %s", id)
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, symbol string, maxAge time.Duration) (*model.Snapshot, error) {
	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = time.Now().UTC().Add(-maxAge)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, symbol, record, gaps, phases, created_at FROM snapshots
		 WHERE symbol = ? AND created_at >= ?
		 ORDER BY created_at DESC LIMIT 1`,
		symbol, formatTime(cutoff))
	snap, err := scanSQLiteSnapshot(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return snap, eris.Wrapf(err, "sqlite: latest snapshot %s", symbol)
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, symbol, '', gaps, phases, created_at FROM snapshots
		 WHERE (? = '' OR symbol = ?)
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		filter.Symbol, filter.Symbol, listLimit(filter.Limit), filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Snapshot
	for rows.Next() {
		snap, err := scanSQLiteSnapshot(rows, false)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list snapshots iterate")
}

func (s *SQLiteStore) PruneSnapshots(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin prune")
	}
	defer tx.Rollback() //nolint:errcheck

	at := formatTime(cutoff)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM field_provenance WHERE snapshot_id IN (SELECT id FROM snapshots WHERE created_at < ?)`, at); err != nil {
		return 0, eris.Wrap(err, "sqlite: prune provenance")
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE created_at < ?`, at)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune snapshots")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune rows affected")
	}
	return int(n), eris.Wrap(tx.Commit(), "sqlite: commit prune")
}

func (s *SQLiteStore) SaveProvenance(ctx context.Context, rows []model.FieldProvenance) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin provenance")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO field_provenance
		 (snapshot_id, symbol, scope, period, field_key, winner_source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare provenance")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.SnapshotID, r.Symbol, string(r.Scope), r.Period,
			r.FieldKey, string(r.Winner), formatTime(r.CreatedAt)); err != nil {
			return eris.Wrapf(err, "sqlite: insert provenance %s/%s", r.Scope, r.FieldKey)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit provenance")
}

func (s *SQLiteStore) GetProvenance(ctx context.Context, snapshotID string) ([]model.FieldProvenance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot_id, symbol, scope, period, field_key, winner_source, created_at
		 FROM field_provenance WHERE snapshot_id = ?
		 ORDER BY scope, period, field_key`, snapshotID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get provenance")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FieldProvenance
	for rows.Next() {
		var r model.FieldProvenance
		var scope, winner, ts string
		if err := rows.Scan(&r.SnapshotID, &r.Symbol, &scope, &r.Period, &r.FieldKey, &winner, &ts); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provenance")
		}
		r.Scope = model.MergeScope(scope)
		r.Winner = model.Source(winner)
		if r.CreatedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get provenance iterate")
}

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failed_symbols
		   (symbol, id, error_type, last_error, retries, max_retries, retry_after, first_failed_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (symbol) DO UPDATE SET
		   error_type = excluded.error_type,
		   last_error = excluded.last_error,
		   retries = max(failed_symbols.retries, excluded.retries),
		   max_retries = excluded.max_retries,
		   retry_after = excluded.retry_after,
		   last_failed_at = excluded.last_failed_at`,
		entry.Symbol, entry.ID, entry.ErrorType, entry.Error, entry.RetryCount, entry.MaxRetries,
		formatTime(entry.NextRetryAt), formatTime(entry.CreatedAt), formatTime(entry.LastFailedAt),
	)
	return eris.Wrapf(err, "sqlite: queue failed symbol %s", entry.Symbol)
}

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, id, error_type, last_error, retries, max_retries, retry_after, first_failed_at, last_failed_at
		 FROM failed_symbols
		 WHERE retries < max_retries AND retry_after <= ? AND (? = '' OR error_type = ?)
		 ORDER BY retry_after, symbol
		 LIMIT ?`,
		formatTime(time.Now()), filter.ErrorType, filter.ErrorType, listLimit(filter.Limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list due symbols")
	}
	defer rows.Close() //nolint:errcheck

	var entries []resilience.DLQEntry
	for rows.Next() {
		var (
			e                    resilience.DLQEntry
			due, first, lastFail string
		)
		if err := rows.Scan(&e.Symbol, &e.ID, &e.ErrorType, &e.Error, &e.RetryCount, &e.MaxRetries,
			&due, &first, &lastFail); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failed symbol")
		}
		if e.NextRetryAt, err = parseTime(due); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(first); err != nil {
			return nil, err
		}
		if e.LastFailedAt, err = parseTime(lastFail); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list due symbols iterate")
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE failed_symbols
		 SET retries = retries + 1, retry_after = ?, last_error = ?, last_failed_at = ?
		 WHERE id = ?`,
		formatTime(nextRetryAt), lastErr, formatTime(time.Now()), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reschedule failed symbol %s", id)
	}
	return checkRowsAffected(res, "failed symbol", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM failed_symbols WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: drop failed symbol %s", id)
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM failed_symbols`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count failed symbols")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

// scanSQLiteSnapshot reads id, symbol, record, gaps, phases, created_at.
// withRecord false leaves Record nil for header listings.
func scanSQLiteSnapshot(row scannable, withRecord bool) (*model.Snapshot, error) {
	var snap model.Snapshot
	var record, gaps, phases, created string
	if err := row.Scan(&snap.ID, &snap.Symbol, &record, &gaps, &phases, &created); err != nil {
		return nil, err
	}
	var err error
	if snap.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if err := unmarshalSnapshot(&snap, withRecord, []byte(record), []byte(gaps), []byte(phases)); err != nil {
		return nil, err
	}
	return &snap, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	return t, eris.Wrapf(err, "sqlite: parse time %q", s)
}

func marshalSnapshot(snap *model.Snapshot) (record, gaps, phases []byte, err error) {
	if record, err = json.Marshal(snap.Record); err != nil {
		return nil, nil, nil, err
	}
	g := snap.Gaps
	if g == nil {
		g = []string{}
	}
	if gaps, err = json.Marshal(g); err != nil {
		return nil, nil, nil, err
	}
	p := snap.Phases
	if p == nil {
		p = []model.PhaseOutcome{}
	}
	if phases, err = json.Marshal(p); err != nil {
		return nil, nil, nil, err
	}
	return record, gaps, phases, nil
}

func unmarshalSnapshot(snap *model.Snapshot, withRecord bool, record, gaps, phases []byte) error {
	if withRecord && len(record) > 0 && string(record) != "null" {
		snap.Record = &model.Record{}
		if err := json.Unmarshal(record, snap.Record); err != nil {
			return eris.Wrap(err, "unmarshal snapshot record")
		}
	}
	if err := json.Unmarshal(gaps, &snap.Gaps); err != nil {
		return eris.Wrap(err, "unmarshal snapshot gaps")
	}
	if err := json.Unmarshal(phases, &snap.Phases); err != nil {
		return eris.Wrap(err, "unmarshal snapshot phases")
	}
	return nil
}
