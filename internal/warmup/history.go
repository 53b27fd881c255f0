// Package warmup implements the periodic scan that pre-warms models sitting
// at 100% quota so the first real request doesn't pay a cold-start penalty
// (C11, spec §4.11).
package warmup

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const (
	cooldown    = 4 * time.Hour
	historyTTL  = 24 * time.Hour
)

// History persists "<email>:<model>:100" -> last-warmed timestamps in a
// local sqlite database, replacing the single-JSON-file store with a table
// that survives concurrent writers from the batched warmup runner.
type History struct {
	db *sql.DB
}

// OpenHistory opens (creating if needed) the warmup_history table at path.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	const schema = `CREATE TABLE IF NOT EXISTS warmup_history (
		key TEXT PRIMARY KEY,
		last_unix INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &History{db: db}, nil
}

func (h *History) Close() error { return h.db.Close() }

// Key builds the "<email>:<model>:100" history key (spec §4.11).
func Key(email, model string) string {
	return fmt.Sprintf("%s:%s:100", email, model)
}

// InCooldown reports whether key was warmed within the last 4 hours.
func (h *History) InCooldown(key string) (bool, error) {
	var lastUnix int64
	err := h.db.QueryRow(`SELECT last_unix FROM warmup_history WHERE key = ?`, key).Scan(&lastUnix)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return time.Since(time.Unix(lastUnix, 0)) < cooldown, nil
}

// Record stores (key -> now) after a successful warmup task.
func (h *History) Record(key string, now time.Time) error {
	_, err := h.db.Exec(
		`INSERT INTO warmup_history (key, last_unix) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET last_unix = excluded.last_unix`,
		key, now.Unix(),
	)
	return err
}

// Clear removes key entirely, so a subsequent 100%-quota sighting can
// re-trigger warmup immediately (spec §4.11 step 5).
func (h *History) Clear(key string) error {
	_, err := h.db.Exec(`DELETE FROM warmup_history WHERE key = ?`, key)
	return err
}

// CleanupOlderThan24h removes every entry older than historyTTL.
func (h *History) CleanupOlderThan24h(now time.Time) error {
	cutoff := now.Add(-historyTTL).Unix()
	_, err := h.db.Exec(`DELETE FROM warmup_history WHERE last_unix < ?`, cutoff)
	return err
}
