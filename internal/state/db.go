// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS pool_controllers (
		pool_id VARCHAR(128) PRIMARY KEY,
		asset VARCHAR(128) NOT NULL,
		controller VARCHAR(255) NOT NULL,
		registered_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Versioned config history, at most one active row per pool
	CREATE TABLE IF NOT EXISTS pool_configs (
		config_id SERIAL PRIMARY KEY,
		pool_id VARCHAR(128) NOT NULL REFERENCES pool_controllers(pool_id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		target_percentage NUMERIC(38, 18) NOT NULL,
		upper_critical_percentage NUMERIC(38, 18) NOT NULL,
		lower_critical_percentage NUMERIC(38, 18) NOT NULL,
		fee_percentage NUMERIC(38, 18) NOT NULL,
		set_by VARCHAR(255) NOT NULL,
		activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT uq_pool_configs_pool_version UNIQUE (pool_id, version)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_pool_configs_active ON pool_configs(pool_id) WHERE is_active;

	CREATE TABLE IF NOT EXISTS pool_rebalances (
		pool_id VARCHAR(128) NOT NULL,
		asset VARCHAR(128) NOT NULL,
		last_rebalance_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (pool_id, asset)
	);

	CREATE TABLE IF NOT EXISTS rebalance_receipts (
		receipt_id SERIAL PRIMARY KEY,
		rebalance_id VARCHAR(64) NOT NULL,
		pool_id VARCHAR(128) NOT NULL,
		asset VARCHAR(128) NOT NULL,
		caller VARCHAR(255) NOT NULL,
		direction VARCHAR(16) NOT NULL,
		fee NUMERIC(78, 0) NOT NULL DEFAULT 0,
		swapped BOOLEAN NOT NULL DEFAULT FALSE,
		success BOOLEAN NOT NULL,
		message TEXT,
		action_types TEXT[],
		result JSONB NOT NULL,
		action_plan JSONB,
		swap_events JSONB,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_rebalance_receipts_pool ON rebalance_receipts(pool_id, asset);
	CREATE INDEX IF NOT EXISTS idx_rebalance_receipts_recorded ON rebalance_receipts(recorded_at DESC);

	CREATE TABLE IF NOT EXISTS ledger_pool_balances (
		pool_id VARCHAR(128) NOT NULL,
		asset VARCHAR(128) NOT NULL,
		cash NUMERIC(78, 0) NOT NULL CHECK (cash >= 0),
		managed NUMERIC(78, 0) NOT NULL CHECK (managed >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (pool_id, asset)
	);

	CREATE TABLE IF NOT EXISTS ledger_accounts (
		account VARCHAR(255) NOT NULL,
		asset VARCHAR(128) NOT NULL,
		internal BOOLEAN NOT NULL DEFAULT FALSE,
		balance NUMERIC(78, 0) NOT NULL CHECK (balance >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (account, asset, internal)
	);

	CREATE TABLE IF NOT EXISTS ledger_swap_pools (
		pool_id VARCHAR(128) PRIMARY KEY,
		token_a VARCHAR(128) NOT NULL,
		token_b VARCHAR(128) NOT NULL,
		rate_ab NUMERIC(38, 18) NOT NULL CHECK (rate_ab > 0),
		reserve_a NUMERIC(78, 0) NOT NULL CHECK (reserve_a >= 0),
		reserve_b NUMERIC(78, 0) NOT NULL CHECK (reserve_b >= 0)
	);

	CREATE TABLE IF NOT EXISTS ledger_swap_events (
		event_id SERIAL PRIMARY KEY,
		tx_id VARCHAR(64) NOT NULL,
		pool_id VARCHAR(128) NOT NULL,
		token_in VARCHAR(128) NOT NULL,
		token_out VARCHAR(128) NOT NULL,
		amount_in NUMERIC(78, 0) NOT NULL,
		amount_out NUMERIC(78, 0) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_swap_events_tx ON ledger_swap_events(tx_id);

	-- Ledger transaction counter for persistent tx ids
	CREATE TABLE IF NOT EXISTS ledger_tx_counter (
		id INTEGER PRIMARY KEY DEFAULT 1,
		current_tx BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT single_row_check CHECK (id = 1)
	);

	-- Insert initial row if it doesn't exist
	INSERT INTO ledger_tx_counter (id, current_tx)
	VALUES (1, 0)
	ON CONFLICT (id) DO NOTHING;
`

const dropSchemaSQL = `
	DROP TABLE IF EXISTS ledger_swap_events CASCADE;
	DROP TABLE IF EXISTS ledger_swap_pools CASCADE;
	DROP TABLE IF EXISTS ledger_accounts CASCADE;
	DROP TABLE IF EXISTS ledger_pool_balances CASCADE;
	DROP TABLE IF EXISTS ledger_tx_counter CASCADE;
	DROP TABLE IF EXISTS rebalance_receipts CASCADE;
	DROP TABLE IF EXISTS pool_rebalances CASCADE;
	DROP TABLE IF EXISTS pool_configs CASCADE;
	DROP TABLE IF EXISTS pool_controllers CASCADE;
`

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// DropSchema removes every table owned by the asset manager. Used by scripts/reset_db.go.
func DropSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, err := DB.Exec(dropSchemaSQL); err != nil {
		return fmt.Errorf("failed to drop schema: %w", err)
	}
	log.Warn().Msg("Database schema dropped.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// rollbackUnlessCommitted is deferred right after BeginTx; Rollback after Commit is a no-op.
func rollbackUnlessCommitted(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		log.Error().Err(err).Msg("Failed to roll back transaction")
	}
}
