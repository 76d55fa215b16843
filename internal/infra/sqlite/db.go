// Package sqlite provides SQLite-based persistent storage for Agora.
// Uses WAL mode for concurrent reads and crash-safe writes. The single
// connection (SQLite is single-writer) also serializes the audit chain
// append path: read-last-hash + write-next-hash run on one writer.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/core.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "core.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Agents and their compliance credentials
		`CREATE TABLE IF NOT EXISTS agents (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			status        TEXT NOT NULL,
			capabilities  TEXT NOT NULL DEFAULT '[]',
			region        TEXT NOT NULL DEFAULT '',
			registered_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_credentials (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id   TEXT NOT NULL,
			type       TEXT NOT NULL,
			issued_at  INTEGER NOT NULL,
			expires_at INTEGER,
			revoked    BOOLEAN DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_creds_agent ON agent_credentials(agent_id)`,

		// Tasks and auctions
		`CREATE TABLE IF NOT EXISTS tasks (
			id              TEXT PRIMARY KEY,
			buyer_id        TEXT NOT NULL,
			buyer_org       TEXT NOT NULL DEFAULT '',
			title           TEXT NOT NULL,
			max_budget      TEXT NOT NULL,
			currency        TEXT NOT NULL,
			auction_type    TEXT NOT NULL,
			status          TEXT NOT NULL,
			deadline        INTEGER,
			created_at      INTEGER NOT NULL,
			min_reputation  REAL NOT NULL DEFAULT 0,
			required_skills TEXT NOT NULL DEFAULT '[]',
			data_classes    TEXT NOT NULL DEFAULT '[]',
			region          TEXT NOT NULL DEFAULT '',
			required_creds  TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,

		// One bid per (task, agent) — enforced by the database, so a race
		// between two submissions persists exactly one bid.
		`CREATE TABLE IF NOT EXISTS bids (
			id           TEXT PRIMARY KEY,
			task_id      TEXT NOT NULL,
			agent_id     TEXT NOT NULL,
			amount       TEXT NOT NULL DEFAULT '0',
			currency     TEXT NOT NULL,
			status       TEXT NOT NULL,
			ciphertext   TEXT,
			nonce        TEXT,
			commitment   TEXT,
			submitted_at INTEGER NOT NULL,
			revealed_at  INTEGER,
			UNIQUE(task_id, agent_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bids_task ON bids(task_id)`,

		// Task assignments — exactly one per awarded task
		`CREATE TABLE IF NOT EXISTS assignments (
			id           TEXT PRIMARY KEY,
			task_id      TEXT NOT NULL UNIQUE,
			agent_id     TEXT NOT NULL,
			bid_id       TEXT NOT NULL,
			agreed_price TEXT NOT NULL,
			currency     TEXT NOT NULL,
			sla_due_at   INTEGER NOT NULL,
			status       TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			completed_at INTEGER,
			buyer_rating INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_agent ON assignments(agent_id)`,

		// Escrow and payment records
		`CREATE TABLE IF NOT EXISTS escrow_accounts (
			id            TEXT PRIMARY KEY,
			assignment_id TEXT NOT NULL UNIQUE,
			amount        TEXT NOT NULL,
			currency      TEXT NOT NULL,
			status        TEXT NOT NULL,
			held_at       INTEGER NOT NULL,
			closed_at     INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id             TEXT PRIMARY KEY,
			escrow_id      TEXT NOT NULL,
			payee          TEXT NOT NULL,
			gross          TEXT NOT NULL,
			fee            TEXT NOT NULL,
			net            TEXT NOT NULL,
			currency       TEXT NOT NULL,
			created_at     INTEGER NOT NULL,
			settled_at     INTEGER,
			settlement_ref TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_unsettled ON payments(settled_at)`,

		// Disputes and evidence bundles
		`CREATE TABLE IF NOT EXISTS disputes (
			id            TEXT PRIMARY KEY,
			assignment_id TEXT NOT NULL,
			reason        TEXT NOT NULL,
			raised_by     TEXT NOT NULL,
			status        TEXT NOT NULL,
			created_at    INTEGER NOT NULL,
			decision      TEXT,
			resolution    TEXT,
			refund_amount TEXT,
			payout_amount TEXT,
			resolved_at   INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_disputes_assignment ON disputes(assignment_id)`,
		`CREATE TABLE IF NOT EXISTS dispute_evidence (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			dispute_id   TEXT NOT NULL,
			party        TEXT NOT NULL,
			description  TEXT NOT NULL,
			uri          TEXT NOT NULL DEFAULT '',
			submitted_at INTEGER NOT NULL
		)`,

		// Stake positions with ordered slash history
		`CREATE TABLE IF NOT EXISTS stake_positions (
			id            TEXT PRIMARY KEY,
			agent_id      TEXT NOT NULL,
			amount        TEXT NOT NULL,
			currency      TEXT NOT NULL,
			locked_at     INTEGER NOT NULL,
			unlockable_at INTEGER NOT NULL,
			status        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stake_agent ON stake_positions(agent_id)`,
		`CREATE TABLE IF NOT EXISTS stake_slashes (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			position_id TEXT NOT NULL,
			at          INTEGER NOT NULL,
			amount      TEXT NOT NULL,
			reason      TEXT NOT NULL,
			task_id     TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_slashes_position ON stake_slashes(position_id)`,

		// Reputation inputs and derived scores
		`CREATE TABLE IF NOT EXISTS attestations (
			id          TEXT PRIMARY KEY,
			agent_id    TEXT NOT NULL,
			attestor_id TEXT NOT NULL,
			category    TEXT NOT NULL,
			score       INTEGER NOT NULL,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attestations_agent ON attestations(agent_id)`,
		`CREATE TABLE IF NOT EXISTS compliance_events (
			id       TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			kind     TEXT NOT NULL,
			task_id  TEXT NOT NULL DEFAULT '',
			at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_compliance_agent ON compliance_events(agent_id, at)`,
		`CREATE TABLE IF NOT EXISTS reputation_scores (
			agent_id        TEXT NOT NULL,
			period          TEXT NOT NULL,
			overall         REAL NOT NULL,
			performance     REAL NOT NULL,
			compliance      REAL NOT NULL,
			stake           REAL NOT NULL,
			verification    REAL NOT NULL,
			reliability     REAL NOT NULL,
			speed           REAL NOT NULL,
			cost_efficiency REAL NOT NULL,
			communication   REAL NOT NULL,
			computed_at     INTEGER NOT NULL,
			PRIMARY KEY (agent_id, period)
		)`,

		// Tamper-evident audit chain and anchors
		`CREATE TABLE IF NOT EXISTS audit_events (
			seq       INTEGER PRIMARY KEY,
			type      TEXT NOT NULL,
			agent_id  TEXT NOT NULL DEFAULT '',
			user_id   TEXT NOT NULL DEFAULT '',
			task_id   TEXT NOT NULL DEFAULT '',
			payload   TEXT NOT NULL DEFAULT '',
			prev_hash TEXT NOT NULL,
			hash      TEXT NOT NULL,
			ts        INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS merkle_anchors (
			id           TEXT PRIMARY KEY,
			from_seq     INTEGER NOT NULL,
			to_seq       INTEGER NOT NULL,
			root         TEXT NOT NULL,
			external_ref TEXT NOT NULL,
			anchored_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anchors_range ON merkle_anchors(to_seq)`,

		// Key-value store for batch markers (last settlement run, etc.)
		`CREATE TABLE IF NOT EXISTS core_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Core Info ──────────────────────────────────────────────────────────────

// SetInfo stores a key-value pair in core_info.
func (d *DB) SetInfo(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO core_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetInfo retrieves a value from core_info ("" if absent).
func (d *DB) GetInfo(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM core_info WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func unixOrZero(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(n.Int64, 0)
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func strOrEmpty(n sql.NullString) string {
	if !n.Valid {
		return ""
	}
	return n.String
}

// money round-trips decimal amounts through TEXT columns.
func money(dec decimal.Decimal) string { return dec.String() }

func parseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseMoneyNull(n sql.NullString) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(n.String)
}

// jsonList round-trips string slices through TEXT columns.
func jsonList(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func parseJSONList(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var ss []string
	_ = json.Unmarshal([]byte(s), &ss)
	return ss
}
