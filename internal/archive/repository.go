// Package archive persists retired positions. Every position that
// completes its lifecycle is written here with its final snapshot, so
// the audit trail survives restarts. Rows are append-only; the ledger
// database profile fsyncs every write.
package archive

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/alimogh/trdk/internal/database"
	"github.com/alimogh/trdk/internal/position"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	strategy TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	tag TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	is_canceled INTEGER NOT NULL,
	is_error INTEGER NOT NULL,
	planned_qty INTEGER NOT NULL,
	opened_qty INTEGER NOT NULL,
	closed_qty INTEGER NOT NULL,
	open_price REAL NOT NULL,
	close_price REAL NOT NULL,
	created_at TEXT NOT NULL,
	retired_at TEXT NOT NULL,
	snapshot BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_strategy ON positions(strategy);
CREATE INDEX IF NOT EXISTS idx_positions_retired_at ON positions(retired_at);
`

// Repository stores retired position snapshots. Queryable fields are
// broken out into columns; the full snapshot rides along msgpack-encoded
// so later schema additions never lose information.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates the repository and applies the schema.
func NewRepository(db *database.DB, log zerolog.Logger) (*Repository, error) {
	if err := db.ApplySchema(schema); err != nil {
		return nil, err
	}
	return &Repository{
		db:  db,
		log: log.With().Str("component", "archive").Logger(),
	}, nil
}

// SavePosition writes one retired position. Saving the same position id
// twice replaces the row, which makes retirement idempotent.
func (r *Repository) SavePosition(snap position.Snapshot) error {
	blob, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}

	_, err = r.db.Exec(`
		INSERT OR REPLACE INTO positions (
			id, strategy, symbol, side, tag, state,
			is_canceled, is_error,
			planned_qty, opened_qty, closed_qty,
			open_price, close_price,
			created_at, retired_at, snapshot
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Strategy, snap.Symbol, snap.Side, snap.Tag, snap.State,
		boolToInt(snap.IsCanceled), boolToInt(snap.IsError),
		snap.PlannedQty, snap.OpenedQty, snap.ClosedQty,
		snap.OpenPrice, snap.ClosePrice,
		snap.CreatedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
		blob,
	)
	if err != nil {
		return fmt.Errorf("archive position %s: %w", snap.ID, err)
	}

	r.log.Debug().
		Str("position_id", snap.ID).
		Str("strategy", snap.Strategy).
		Str("symbol", snap.Symbol).
		Msg("Position archived")
	return nil
}

// Recent returns the most recently retired positions, newest first.
func (r *Repository) Recent(limit int) ([]position.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(
		`SELECT snapshot FROM positions ORDER BY retired_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent positions: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// ByStrategy returns retired positions of one strategy, newest first.
func (r *Repository) ByStrategy(strategy string, limit int) ([]position.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(
		`SELECT snapshot FROM positions WHERE strategy = ? ORDER BY retired_at DESC LIMIT ?`,
		strategy, limit)
	if err != nil {
		return nil, fmt.Errorf("query positions for %s: %w", strategy, err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// Count returns the total number of archived positions.
func (r *Repository) Count() (int64, error) {
	var n int64
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM positions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count positions: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanSnapshots(rows rowScanner) ([]position.Snapshot, error) {
	var out []position.Snapshot
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var snap position.Snapshot
		if err := msgpack.Unmarshal(blob, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
