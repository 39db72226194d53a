package assignments

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists assignment events and per-ticker basis rollups in SQLite.
type Store struct {
	db *sql.DB
}

// BasisEntry is the running assigned-cost rollup for one ticker.
type BasisEntry struct {
	Ticker          string    `json:"ticker"`
	TotalShares     int64     `json:"total_shares"`
	TotalCost       float64   `json:"total_cost"`
	AvgBasis        float64   `json:"avg_basis"`
	LastAssignment  time.Time `json:"last_assignment"`
	AssignmentCount int64     `json:"assignment_count"`
}

// TickerSummary counts assignment activity for one ticker.
type TickerSummary struct {
	Ticker      string `json:"ticker"`
	Count       int64  `json:"count"`
	TotalShares int64  `json:"total_shares"`
}

// Summary aggregates the assignment history.
type Summary struct {
	TotalAssignments  int64           `json:"total_assignments"`
	RecentAssignments int64           `json:"recent_assignments_30d"`
	ByTicker          []TickerSummary `json:"assignments_by_ticker"`
}

const schema = `
CREATE TABLE IF NOT EXISTS assignments (
	id TEXT PRIMARY KEY,
	account_hash TEXT NOT NULL,
	option_symbol TEXT NOT NULL,
	ticker TEXT NOT NULL,
	option_type TEXT,
	contracts INTEGER NOT NULL,
	shares INTEGER NOT NULL,
	price_per_share REAL,
	total_amount REAL,
	assigned_at TEXT NOT NULL,
	transaction_type TEXT,
	related_order_id TEXT,
	raw_payload TEXT,
	recorded_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS assigned_basis (
	ticker TEXT PRIMARY KEY,
	total_shares INTEGER DEFAULT 0,
	total_cost REAL DEFAULT 0.0,
	avg_basis REAL DEFAULT 0.0,
	last_assignment TEXT,
	assignment_count INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_assignments_ticker ON assignments(ticker);
CREATE INDEX IF NOT EXISTS idx_assignments_assigned_at ON assignments(assigned_at);
CREATE INDEX IF NOT EXISTS idx_assignments_option_symbol ON assignments(option_symbol);
`

// NewStore opens (creating if needed) the assignment database at path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open assignment db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init assignment schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts an assignment, reporting whether it was new. Existing
// IDs are left untouched so re-processing history is safe.
func (s *Store) Upsert(a *Assignment) (bool, error) {
	price := sql.NullFloat64{Float64: a.PricePerShare, Valid: a.PricePerShare > 0}
	total := sql.NullFloat64{Float64: a.TotalAmount, Valid: a.TotalAmount > 0}

	res, err := s.db.Exec(`
		INSERT INTO assignments (
			id, account_hash, option_symbol, ticker, option_type, contracts,
			shares, price_per_share, total_amount, assigned_at,
			transaction_type, related_order_id, raw_payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		a.ID, a.AccountHash, a.OptionSymbol, a.Ticker, a.OptionType,
		a.Contracts, a.Shares, price, total,
		a.AssignedAt.UTC().Format(time.RFC3339), a.TransactionType,
		a.RelatedOrderID, a.RawPayload)
	if err != nil {
		return false, fmt.Errorf("insert assignment %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordBasis folds an assignment into the ticker's running cost basis.
func (s *Store) RecordBasis(ticker string, shares int64, pricePerShare float64, assignedAt time.Time) error {
	if pricePerShare <= 0 {
		return fmt.Errorf("cannot record basis for %s without a price", ticker)
	}
	totalCost := float64(shares) * pricePerShare

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var curShares, curCount int64
	var curCost float64
	err = tx.QueryRow(`SELECT total_shares, total_cost, assignment_count
		FROM assigned_basis WHERE ticker = ?`, ticker).Scan(&curShares, &curCost, &curCount)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`INSERT INTO assigned_basis
			(ticker, total_shares, total_cost, avg_basis, last_assignment, assignment_count)
			VALUES (?, ?, ?, ?, ?, 1)`,
			ticker, shares, totalCost, pricePerShare, assignedAt.UTC().Format(time.RFC3339))
	case err == nil:
		newShares := curShares + shares
		newCost := curCost + totalCost
		avg := 0.0
		if newShares > 0 {
			avg = newCost / float64(newShares)
		}
		_, err = tx.Exec(`UPDATE assigned_basis
			SET total_shares = ?, total_cost = ?, avg_basis = ?,
				last_assignment = ?, assignment_count = ?
			WHERE ticker = ?`,
			newShares, newCost, avg, assignedAt.UTC().Format(time.RFC3339), curCount+1, ticker)
	}
	if err != nil {
		return fmt.Errorf("record basis for %s: %w", ticker, err)
	}
	return tx.Commit()
}

// Basis returns the rollup for a ticker, or nil when nothing was assigned.
func (s *Store) Basis(ticker string) (*BasisEntry, error) {
	var entry BasisEntry
	var last string
	err := s.db.QueryRow(`SELECT ticker, total_shares, total_cost, avg_basis,
		COALESCE(last_assignment, ''), assignment_count
		FROM assigned_basis WHERE ticker = ?`, ticker).
		Scan(&entry.Ticker, &entry.TotalShares, &entry.TotalCost, &entry.AvgBasis,
			&last, &entry.AssignmentCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ts, perr := time.Parse(time.RFC3339, last); perr == nil {
		entry.LastAssignment = ts
	}
	return &entry, nil
}

// ForTicker returns a ticker's assignment history, newest first.
func (s *Store) ForTicker(ticker string, limit int) ([]Assignment, error) {
	query := `SELECT id, account_hash, option_symbol, ticker, option_type,
		contracts, shares, COALESCE(price_per_share, 0), COALESCE(total_amount, 0),
		assigned_at, COALESCE(transaction_type, ''), COALESCE(related_order_id, '')
		FROM assignments WHERE ticker = ? ORDER BY assigned_at DESC`
	args := []any{ticker}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryAssignments(query, args...)
}

// Recent returns assignments from the last N days, newest first.
func (s *Store) Recent(days int) ([]Assignment, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	return s.queryAssignments(`SELECT id, account_hash, option_symbol, ticker,
		option_type, contracts, shares, COALESCE(price_per_share, 0),
		COALESCE(total_amount, 0), assigned_at, COALESCE(transaction_type, ''),
		COALESCE(related_order_id, '')
		FROM assignments WHERE assigned_at >= ? ORDER BY assigned_at DESC`, cutoff)
}

func (s *Store) queryAssignments(query string, args ...any) ([]Assignment, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		var assignedAt string
		if err := rows.Scan(&a.ID, &a.AccountHash, &a.OptionSymbol, &a.Ticker,
			&a.OptionType, &a.Contracts, &a.Shares, &a.PricePerShare,
			&a.TotalAmount, &assignedAt, &a.TransactionType, &a.RelatedOrderID); err != nil {
			return nil, err
		}
		if ts, perr := time.Parse(time.RFC3339, assignedAt); perr == nil {
			a.AssignedAt = ts
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Summarize reports totals, the trailing 30 days of activity and the
// per-ticker breakdown ordered by event count.
func (s *Store) Summarize() (*Summary, error) {
	sum := &Summary{}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM assignments`).Scan(&sum.TotalAssignments); err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -30).Format(time.RFC3339)
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM assignments WHERE assigned_at >= ?`, cutoff).
		Scan(&sum.RecentAssignments); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT ticker, COUNT(*), SUM(shares)
		FROM assignments GROUP BY ticker ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t TickerSummary
		if err := rows.Scan(&t.Ticker, &t.Count, &t.TotalShares); err != nil {
			return nil, err
		}
		sum.ByTicker = append(sum.ByTicker, t)
	}
	return sum, rows.Err()
}
