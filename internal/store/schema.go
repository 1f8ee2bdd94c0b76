package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Schema for the per-room ordered message log and the per-identity quota
// clock. ts_key is a fixed-width UTC timestamp string so that lexicographic
// order equals chronological order; replay reads the newest N by key and
// re-reverses them.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	room_id   TEXT    NOT NULL,
	ts_key    TEXT    NOT NULL,
	name      TEXT    NOT NULL,
	body      TEXT    NOT NULL,
	timestamp INTEGER NOT NULL,
	PRIMARY KEY (room_id, ts_key)
);

CREATE TABLE IF NOT EXISTS quota (
	client_key   TEXT PRIMARY KEY,
	next_allowed INTEGER NOT NULL
);
`

// tsKeyLayout is fixed-width down to the millisecond. RFC3339Nano is not
// usable here: it trims trailing zeros, which breaks lexicographic ordering.
const tsKeyLayout = "2006-01-02T15:04:05.000Z"

// TimestampKey converts a millisecond timestamp into the lexicographically
// time-ordered storage key.
func TimestampKey(millis int64) string {
	return time.UnixMilli(millis).UTC().Format(tsKeyLayout)
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	return nil
}
