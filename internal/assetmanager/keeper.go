package assetmanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/elys-network/assetmanager/internal/calculator"
	"github.com/elys-network/assetmanager/internal/logger"
	"github.com/elys-network/assetmanager/internal/types"
)

// Keeper periodically rebalances every configured pool that is off target,
// collecting the fee into its own account.
type Keeper struct {
	manager *AssetManager
	account string
	cron    *cron.Cron
	logger  zerolog.Logger

	mu     sync.Mutex
	cycles int
	ctx    context.Context
	cancel context.CancelFunc

	done     chan struct{}
	stopOnce sync.Once
}

// NewKeeper schedules RunOnce on the given cron spec ("@every 10m", "*/5 * * * *", ...).
func NewKeeper(manager *AssetManager, account, schedule string) (*Keeper, error) {
	if manager == nil {
		return nil, fmt.Errorf("asset manager cannot be nil")
	}
	if strings.TrimSpace(account) == "" {
		return nil, fmt.Errorf("keeper account cannot be empty")
	}

	k := &Keeper{
		manager: manager,
		account: account,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger.GetForComponent("keeper"),
		done:    make(chan struct{}),
	}
	if _, err := k.cron.AddFunc(schedule, k.tick); err != nil {
		return nil, fmt.Errorf("register keeper schedule %q: %w", schedule, err)
	}
	return k, nil
}

// Start runs the schedule until ctx is canceled or Stop is called. Scheduled
// cycles run with a context derived from ctx.
func (k *Keeper) Start(ctx context.Context) {
	k.mu.Lock()
	if k.cancel != nil {
		k.mu.Unlock()
		return
	}
	k.ctx, k.cancel = context.WithCancel(ctx)
	runCtx := k.ctx
	k.mu.Unlock()

	k.cron.Start()
	k.logger.Info().Str("account", k.account).Msg("Keeper started")

	go func() {
		defer close(k.done)
		<-runCtx.Done()
		k.stopSchedule()
	}()
}

// Stop cancels a running cycle and waits for it and the schedule to wind down.
func (k *Keeper) Stop() {
	k.mu.Lock()
	cancel := k.cancel
	k.mu.Unlock()

	if cancel == nil {
		k.stopSchedule()
		return
	}
	cancel()
	<-k.done
}

// Done is closed once a started keeper has fully stopped.
func (k *Keeper) Done() <-chan struct{} { return k.done }

func (k *Keeper) stopSchedule() {
	k.stopOnce.Do(func() {
		<-k.cron.Stop().Done()
		k.logger.Info().Msg("Keeper stopped")
	})
}

func (k *Keeper) tick() {
	k.mu.Lock()
	ctx := k.ctx
	k.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := k.RunOnce(ctx); err != nil {
		k.logger.Error().Err(err).Msg("Keeper cycle finished with errors")
	}
}

// RunOnce rebalances every configured pool that pays a fee or sits more than one
// unit away from its target. Failures on one pool do not stop the others.
func (k *Keeper) RunOnce(ctx context.Context) ([]types.RebalanceResult, error) {
	k.mu.Lock()
	k.cycles++
	cycle := k.cycles
	k.mu.Unlock()

	log := k.logger.With().Int("cycle", cycle).Logger()
	log.Info().Msg("--- Starting keeper cycle ---")

	pools, err := k.manager.ListPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}

	var results []types.RebalanceResult
	var errs []error
	for _, pool := range pools {
		if pool.Config == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		status, err := k.manager.GetPoolStatus(ctx, pool.PoolID)
		if err != nil {
			errs = append(errs, fmt.Errorf("pool %s: %w", pool.PoolID, err))
			continue
		}
		k.manager.metrics.ObservePool(pool.PoolID, status.Balances)

		if !status.RebalanceFee.IsPositive() && calculator.IsBalanced(status.MaxInvestable) {
			log.Debug().Str("pool", pool.PoolID.String()).Msg("Pool on target, skipping")
			continue
		}

		result, err := k.manager.Rebalance(ctx, pool.PoolID, k.account)
		if err != nil {
			errs = append(errs, fmt.Errorf("pool %s: %w", pool.PoolID, err))
			continue
		}
		results = append(results, *result)
	}

	log.Info().
		Int("pools", len(pools)).
		Int("rebalanced", len(results)).
		Int("failed", len(errs)).
		Msg("--- Keeper cycle complete ---")
	return results, errors.Join(errs...)
}
