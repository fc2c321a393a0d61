// Package ledger is the append-only action history and the dedup query layer
// over it. Records are never mutated or deleted by this process; retention is
// someone else's problem.
package ledger

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gramherd/gramherd/fleet/definitions"
)

const schemaSQL = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;

CREATE TABLE IF NOT EXISTS action_records (
    id          TEXT PRIMARY KEY,
    account     TEXT NOT NULL,
    device      TEXT NOT NULL,
    action_type TEXT NOT NULL,
    target      TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    reason      TEXT DEFAULT '',
    ts          INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_account_type_ts ON action_records(account, action_type, ts);
CREATE INDEX IF NOT EXISTS idx_records_target ON action_records(target, action_type, outcome);
CREATE INDEX IF NOT EXISTS idx_records_account_ts ON action_records(account, ts DESC);
`

// Store wraps the sqlite database holding ActionRecords. It is shared by all
// device goroutines; sqlite's own locking plus the append-only write pattern
// is the only synchronization needed.
type Store struct {
	db         *sql.DB
	stmtInsert *sql.Stmt
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening ledger db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying ledger schema: %w", err)
	}

	stmt, err := db.Prepare(`INSERT INTO action_records
		(id, account, device, action_type, target, outcome, reason, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing insert: %w", err)
	}

	return &Store{db: db, stmtInsert: stmt}, nil
}

func (s *Store) Close() error {
	s.stmtInsert.Close()
	return s.db.Close()
}

func normalize(rec *definitions.ActionRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
}

// Append writes one terminal record.
func (s *Store) Append(rec definitions.ActionRecord) error {
	normalize(&rec)
	_, err := s.stmtInsert.Exec(rec.ID, rec.Account, rec.Device, string(rec.Type),
		rec.Target, string(rec.Outcome), rec.Reason, rec.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("appending record: %w", err)
	}
	return nil
}

// AppendIfBelowQuota atomically appends a success record only while the
// account's success count for that type today is below quota. The check and
// insert share one immediate transaction: that is the "increment only if
// below quota" the counters rely on.
func (s *Store) AppendIfBelowQuota(rec definitions.ActionRecord, quota int) (bool, error) {
	normalize(&rec)

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("starting quota tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRow(`SELECT COUNT(*) FROM action_records
		WHERE account = ? AND action_type = ? AND outcome = ? AND ts >= ?`,
		rec.Account, string(rec.Type), string(definitions.OutcomeSuccess), midnight(rec.Timestamp).Unix(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("counting today's actions: %w", err)
	}
	if quota > 0 && count >= quota {
		return false, nil
	}

	_, err = tx.Exec(`INSERT INTO action_records
		(id, account, device, action_type, target, outcome, reason, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Account, rec.Device, string(rec.Type),
		rec.Target, string(rec.Outcome), rec.Reason, rec.Timestamp.Unix())
	if err != nil {
		return false, fmt.Errorf("appending record: %w", err)
	}
	return true, tx.Commit()
}

// CountToday returns the account's success count for one action type since
// local midnight. Counters are derived, never stored: a rebuilt scheduler
// sees exactly the counts the ledger proves.
func (s *Store) CountToday(account string, t definitions.ActionType, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM action_records
		WHERE account = ? AND action_type = ? AND outcome = ? AND ts >= ?`,
		account, string(t), string(definitions.OutcomeSuccess), midnight(now).Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting today's actions: %w", err)
	}
	return count, nil
}

// TodayCounts returns all of the account's per-type success counts since
// local midnight, for status reporting.
func (s *Store) TodayCounts(account string, now time.Time) (map[definitions.ActionType]int, error) {
	rows, err := s.db.Query(`SELECT action_type, COUNT(*) FROM action_records
		WHERE account = ? AND outcome = ? AND ts >= ?
		GROUP BY action_type`,
		account, string(definitions.OutcomeSuccess), midnight(now).Unix())
	if err != nil {
		return nil, fmt.Errorf("querying today's counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[definitions.ActionType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[definitions.ActionType(t)] = n
	}
	return counts, rows.Err()
}

// ActedSet returns every target any of the given accounts has succeeded on
// for the action type. This is the bulk-preload path: one query per session
// start instead of one per target inside the action loop.
func (s *Store) ActedSet(accounts []string, t definitions.ActionType) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	if len(accounts) == 0 {
		return set, nil
	}

	query := fmt.Sprintf(`SELECT DISTINCT target FROM action_records
		WHERE account IN (%s) AND action_type = ? AND outcome = ?`,
		placeholders(len(accounts)))

	args := make([]any, 0, len(accounts)+2)
	for _, a := range accounts {
		args = append(args, a)
	}
	args = append(args, string(t), string(definitions.OutcomeSuccess))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying acted set: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, err
		}
		set[target] = struct{}{}
	}
	return set, rows.Err()
}

// HasActed is the single-target existence check behind hasPeerActed.
func (s *Store) HasActed(accounts []string, target string, t definitions.ActionType) (bool, error) {
	if len(accounts) == 0 {
		return false, nil
	}

	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM action_records
		WHERE account IN (%s) AND action_type = ? AND outcome = ? AND target = ?)`,
		placeholders(len(accounts)))

	args := make([]any, 0, len(accounts)+3)
	for _, a := range accounts {
		args = append(args, a)
	}
	args = append(args, string(t), string(definitions.OutcomeSuccess), target)

	var exists bool
	if err := s.db.QueryRow(query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("querying acted existence: %w", err)
	}
	return exists, nil
}

// History returns the account's newest records, most recent first.
func (s *Store) History(account string, limit int) ([]definitions.ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, account, device, action_type, target, outcome, reason, ts
		FROM action_records WHERE account = ? ORDER BY ts DESC, rowid DESC LIMIT ?`,
		account, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var records []definitions.ActionRecord
	for rows.Next() {
		var rec definitions.ActionRecord
		var typ, outcome string
		var ts int64
		if err := rows.Scan(&rec.ID, &rec.Account, &rec.Device, &typ, &rec.Target, &outcome, &rec.Reason, &ts); err != nil {
			return nil, err
		}
		rec.Type = definitions.ActionType(typ)
		rec.Outcome = definitions.RecordOutcome(outcome)
		rec.Timestamp = time.Unix(ts, 0)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LastRun returns the newest record timestamp for the account, zero when the
// account has never run. Used for least-recently-run tie-breaking.
func (s *Store) LastRun(account string) (time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(ts) FROM action_records WHERE account = ?`, account).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying last run: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func midnight(now time.Time) time.Time {
	y, m, d := now.Local().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}
