// ./internal/state/pool_store.go
package state

import (
	"context"
	"database/sql"
	"fmt"

	errorsmod "cosmossdk.io/errors"
	"github.com/rs/zerolog"

	"github.com/elys-network/assetmanager/internal/assetmanager"
	"github.com/elys-network/assetmanager/internal/logger"
	"github.com/elys-network/assetmanager/internal/types"
	"github.com/elys-network/assetmanager/internal/utils"
)

// PostgresStore persists pool registrations, config history and rebalance receipts.
type PostgresStore struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ assetmanager.Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open connection pool, usually state.DB.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return &PostgresStore{db: db, log: logger.GetForComponent("state")}, nil
}

// SavePool registers a pool with its controller.
func (s *PostgresStore) SavePool(ctx context.Context, info types.PoolInfo) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pool_controllers (pool_id, asset, controller)
		VALUES ($1, $2, $3)
		ON CONFLICT (pool_id) DO NOTHING;`,
		info.PoolID.String(), info.Asset, info.Controller)
	if err != nil {
		return fmt.Errorf("failed to save pool %s: %w", info.PoolID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return errorsmod.Wrapf(types.ErrPoolAlreadyRegistered, "pool %s", info.PoolID)
	}

	s.log.Info().Str("pool", info.PoolID.String()).Str("controller", info.Controller).Msg("Pool saved")
	return nil
}

const poolSelect = `
	SELECT c.pool_id, c.asset, c.controller,
		p.target_percentage, p.upper_critical_percentage,
		p.lower_critical_percentage, p.fee_percentage
	FROM pool_controllers c
	LEFT JOIN pool_configs p ON p.pool_id = c.pool_id AND p.is_active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPool(row rowScanner) (types.PoolInfo, error) {
	var (
		info                          types.PoolInfo
		poolID                        string
		target, upper, lower, feePerc sql.NullString
	)
	if err := row.Scan(&poolID, &info.Asset, &info.Controller, &target, &upper, &lower, &feePerc); err != nil {
		return types.PoolInfo{}, err
	}
	info.PoolID = types.PoolID(poolID)
	if !target.Valid {
		return info, nil
	}

	var cfg types.PoolConfig
	var err error
	if cfg.TargetPercentage, err = utils.ParseDec(target.String); err != nil {
		return types.PoolInfo{}, fmt.Errorf("pool %s target: %w", poolID, err)
	}
	if cfg.UpperCriticalPercentage, err = utils.ParseDec(upper.String); err != nil {
		return types.PoolInfo{}, fmt.Errorf("pool %s upper critical: %w", poolID, err)
	}
	if cfg.LowerCriticalPercentage, err = utils.ParseDec(lower.String); err != nil {
		return types.PoolInfo{}, fmt.Errorf("pool %s lower critical: %w", poolID, err)
	}
	if cfg.FeePercentage, err = utils.ParseDec(feePerc.String); err != nil {
		return types.PoolInfo{}, fmt.Errorf("pool %s fee: %w", poolID, err)
	}
	info.Config = &cfg
	return info, nil
}

// GetPool returns the registration and the active config, if any.
func (s *PostgresStore) GetPool(ctx context.Context, poolID types.PoolID) (types.PoolInfo, error) {
	row := s.db.QueryRowContext(ctx, poolSelect+` WHERE c.pool_id = $1;`, poolID.String())
	info, err := scanPool(row)
	if err == sql.ErrNoRows {
		return types.PoolInfo{}, errorsmod.Wrapf(types.ErrPoolNotFound, "pool %s", poolID)
	}
	if err != nil {
		return types.PoolInfo{}, fmt.Errorf("failed to load pool %s: %w", poolID, err)
	}
	return info, nil
}

// ListPools returns every registered pool ordered by id.
func (s *PostgresStore) ListPools(ctx context.Context) ([]types.PoolInfo, error) {
	rows, err := s.db.QueryContext(ctx, poolSelect+` ORDER BY c.pool_id;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pools: %w", err)
	}
	defer rows.Close()

	var pools []types.PoolInfo
	for rows.Next() {
		info, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool row: %w", err)
		}
		pools = append(pools, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return pools, nil
}

// SavePoolConfig deactivates the current config and inserts the next version as active,
// in one transaction.
func (s *PostgresStore) SavePoolConfig(ctx context.Context, poolID types.PoolID, config types.PoolConfig, setBy string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackUnlessCommitted(tx)

	var version int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(p.version), 0)
		FROM pool_controllers c
		LEFT JOIN pool_configs p ON p.pool_id = c.pool_id
		WHERE c.pool_id = $1
		GROUP BY c.pool_id;`, poolID.String()).Scan(&version)
	if err == sql.ErrNoRows {
		return errorsmod.Wrapf(types.ErrPoolNotFound, "pool %s", poolID)
	}
	if err != nil {
		return fmt.Errorf("failed to read config version of %s: %w", poolID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pool_configs SET is_active = FALSE WHERE pool_id = $1 AND is_active = TRUE;`,
		poolID.String()); err != nil {
		return fmt.Errorf("failed to deactivate config of %s: %w", poolID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pool_configs (
			pool_id, version, is_active,
			target_percentage, upper_critical_percentage, lower_critical_percentage, fee_percentage,
			set_by
		) VALUES ($1, $2, TRUE, $3, $4, $5, $6, $7);`,
		poolID.String(), version+1,
		config.TargetPercentage.String(), config.UpperCriticalPercentage.String(),
		config.LowerCriticalPercentage.String(), config.FeePercentage.String(),
		setBy); err != nil {
		return fmt.Errorf("failed to insert config of %s: %w", poolID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit config of %s: %w", poolID, err)
	}

	s.log.Info().Str("pool", poolID.String()).Int("version", version+1).Str("setBy", setBy).Msg("Pool config saved")
	return nil
}
