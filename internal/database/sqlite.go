package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens the on-device SQLite database in WAL mode.
func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single writer keeps SQLite from returning SQLITE_BUSY under the debounced flushes.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	log.Info().Str("path", path).Msg("SQLite opened")
	return db, nil
}
