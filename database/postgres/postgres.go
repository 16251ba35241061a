package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrNotConfigured is returned by New when DB_HOST is empty.
var ErrNotConfigured = errors.New("database not configured")

const schema = `
	CREATE TABLE IF NOT EXISTS measurements (
		id           VARCHAR(26) PRIMARY KEY,
		request_id   VARCHAR(64) NOT NULL,
		image_sha256 CHAR(64) NOT NULL,
		image_width  INTEGER NOT NULL,
		image_height INTEGER NOT NULL,
		status       VARCHAR(32) NOT NULL,
		pd_total_mm  DOUBLE PRECISION,
		response     JSONB NOT NULL,
		image_url    TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_measurements_created_at ON measurements (created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_measurements_image_sha256 ON measurements (image_sha256);
`

func FormatDSN() string {
	sslMode := os.Getenv("DB_SSLMODE")
	if sslMode == "" {
		sslMode = "disable"
	}

	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		os.Getenv("DB_HOST"),
		port,
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		sslMode,
	)
}

func New() (*sqlx.DB, error) {
	if os.Getenv("DB_HOST") == "" {
		return nil, ErrNotConfigured
	}

	db, err := sqlx.Open("postgres", FormatDSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// Migrate creates the tables the service needs when they are missing.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate measurements: %w", err)
	}
	return nil
}
