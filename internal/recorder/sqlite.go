package recorder

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"DCAVault/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists vault history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so dashboards can read while the cranker writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("sqlite recorder opened", slog.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id        TEXT NOT NULL,
			timestamp       INTEGER NOT NULL,
			scheduled_for   INTEGER NOT NULL,
			status          TEXT NOT NULL,
			amount_in       INTEGER,
			fee             INTEGER,
			quote_id        TEXT,
			venue           TEXT,
			quoted_out      INTEGER,
			minimum_out     INTEGER,
			rate            TEXT,
			signature       TEXT,
			realized_out    INTEGER,
			error_class     TEXT,
			error           TEXT,
			stable_balance  INTEGER,
			target_balance  INTEGER,
			total_shares    INTEGER,
			next_execution  INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_ts ON cycles(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_cycle ON cycles(cycle_id)`,

		`CREATE TABLE IF NOT EXISTS holder_events (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp     INTEGER NOT NULL,
			event_type    TEXT NOT NULL,
			holder        TEXT NOT NULL,
			stable_in     INTEGER,
			shares_minted INTEGER,
			shares_burned INTEGER,
			stable_out    INTEGER,
			target_out    INTEGER,
			total_shares  INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_holder_ts ON holder_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_holder_id ON holder_events(holder)`,

		`CREATE TABLE IF NOT EXISTS fee_collections (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			admin     TEXT NOT NULL,
			amount    INTEGER
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordCycle(evt *CycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := evt.Record
	ts := rec.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	var quoteID, venueName, rate, signature, errText sql.NullString
	var quotedOut, minOut, realized sql.NullInt64
	if q := rec.Quote; q != nil {
		quoteID = sql.NullString{String: q.ID, Valid: true}
		venueName = sql.NullString{String: q.Venue, Valid: true}
		rate = sql.NullString{String: q.Rate.String(), Valid: true}
		quotedOut = sql.NullInt64{Int64: int64(q.OutAmount), Valid: true}
		minOut = sql.NullInt64{Int64: int64(q.MinimumOutput), Valid: true}
	}
	if st := rec.Settlement; st != nil {
		signature = sql.NullString{String: st.Signature, Valid: st.Signature != ""}
		realized = sql.NullInt64{Int64: int64(st.RealizedOutput), Valid: true}
	}
	if rec.Err != nil {
		errText = sql.NullString{String: rec.Err.Error(), Valid: true}
	}

	var stable, target, total, next sql.NullInt64
	if v := evt.Vault; v != nil {
		stable = sql.NullInt64{Int64: int64(v.StableBalance), Valid: true}
		target = sql.NullInt64{Int64: int64(v.TargetBalance), Valid: true}
		total = sql.NullInt64{Int64: int64(v.TotalShares), Valid: true}
		next = sql.NullInt64{Int64: v.NextExecutionTime, Valid: true}
	}

	_, err := r.db.Exec(`INSERT INTO cycles
		(cycle_id, timestamp, scheduled_for, status, amount_in, fee,
		 quote_id, venue, quoted_out, minimum_out, rate,
		 signature, realized_out, error_class, error,
		 stable_balance, target_balance, total_shares, next_execution)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, ts.Unix(), rec.ScheduledFor, string(rec.Status), int64(rec.AmountIn), int64(rec.Fee),
		quoteID, venueName, quotedOut, minOut, rate,
		signature, realized, model.Classify(rec.Err), errText,
		stable, target, total, next,
	)
	return err
}

func (r *SQLiteRecorder) RecordHolderEvent(evt *HolderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := evt.At
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.db.Exec(`INSERT INTO holder_events
		(timestamp, event_type, holder, stable_in, shares_minted, shares_burned,
		 stable_out, target_out, total_shares)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		ts.Unix(), evt.EventType, evt.Holder,
		int64(evt.StableIn), int64(evt.SharesMinted), int64(evt.SharesBurned),
		int64(evt.StableOut), int64(evt.TargetOut), int64(evt.TotalShares),
	)
	return err
}

func (r *SQLiteRecorder) RecordFeeCollection(evt *FeeCollection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := evt.At
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.db.Exec(`INSERT INTO fee_collections (timestamp, admin, amount) VALUES (?,?,?)`,
		ts.Unix(), evt.Admin, int64(evt.Amount),
	)
	return err
}

// CycleRow is one archived cycle as returned by RecentCycles.
type CycleRow struct {
	CycleID      string    `json:"cycle_id"`
	Timestamp    time.Time `json:"timestamp"`
	ScheduledFor int64     `json:"scheduled_for"`
	Status       string    `json:"status"`
	AmountIn     uint64    `json:"amount_in"`
	RealizedOut  uint64    `json:"realized_out"`
	ErrorClass   string    `json:"error_class,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// RecentCycles returns up to limit archived cycles, newest first.
func (r *SQLiteRecorder) RecentCycles(limit int) ([]CycleRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT cycle_id, timestamp, scheduled_for, status,
		COALESCE(amount_in, 0), COALESCE(realized_out, 0),
		COALESCE(error_class, ''), COALESCE(error, '')
		FROM cycles ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var out []CycleRow
	for rows.Next() {
		var row CycleRow
		var ts, amountIn, realized int64
		if err := rows.Scan(&row.CycleID, &ts, &row.ScheduledFor, &row.Status,
			&amountIn, &realized, &row.ErrorClass, &row.Error); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		row.Timestamp = time.Unix(ts, 0)
		row.AmountIn = uint64(amountIn)
		row.RealizedOut = uint64(realized)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	slog.Info("closing sqlite recorder")
	return r.db.Close()
}
