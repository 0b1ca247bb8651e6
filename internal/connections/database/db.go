package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"restaurant-system/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	maxRetries = 10
	retryDelay = 2 * time.Second
	pingTTL    = 5 * time.Second
)

// ConnectDB opens a pgx-backed pool and retries until the server answers
// a ping or ctx ends.
func ConnectDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	return connect(ctx, cfg.DSN(), cfg.MaxConns, maxRetries, retryDelay)
}

// Open connects to a full DSN, for tools and integration tests.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	return connect(ctx, dsn, 0, 1, 0)
}

func connect(ctx context.Context, dsn string, maxConns, attempts int, delay time.Duration) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	for i := 1; i <= attempts; i++ {
		db, err = sql.Open("pgx", dsn)
		if err == nil {
			if maxConns > 0 {
				db.SetMaxOpenConns(maxConns)
				db.SetMaxIdleConns(maxConns)
			}
			pctx, cancel := context.WithTimeout(ctx, pingTTL)
			err = db.PingContext(pctx)
			cancel()
			if err == nil {
				return db, nil
			}
			_ = db.Close()
		}
		if i == attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("db connect canceled: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("database unreachable after %d attempts: %w", attempts, err)
}
