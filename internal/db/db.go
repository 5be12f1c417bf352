package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/libroteca/apiserver/config"
	_ "github.com/lib/pq"
)

const (
	defaultDBDriver     = "postgres"
	defaultPingTimeout  = 5 * time.Second
	defaultConnMaxIdle  = 2 * time.Minute
	defaultConnMaxLife  = 30 * time.Minute
	defaultMaxIdleConns = 5
	defaultMaxOpenConns = 25
)

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg config.Config) (*sqlx.DB, error) {
	return OpenDSN(ctx, cfg.Database.URL())
}

// OpenDSN connects to the database at dsn with the default pool settings.
func OpenDSN(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(defaultDBDriver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetConnMaxIdleTime(defaultConnMaxIdle)
	db.SetConnMaxLifetime(defaultConnMaxLife)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetMaxOpenConns(defaultMaxOpenConns)

	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
