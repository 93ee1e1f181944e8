package assetmanager

import (
	"context"
	"sort"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"

	"github.com/elys-network/assetmanager/internal/types"
)

// Store persists pool registrations, configs and rebalance history.
type Store interface {
	// SavePool registers a pool with its controller. Registering twice fails.
	SavePool(ctx context.Context, info types.PoolInfo) error

	// GetPool returns the registration and the active config, if any.
	GetPool(ctx context.Context, poolID types.PoolID) (types.PoolInfo, error)

	// ListPools returns every registered pool ordered by id.
	ListPools(ctx context.Context) ([]types.PoolInfo, error)

	// SavePoolConfig replaces the active config of a pool.
	SavePoolConfig(ctx context.Context, poolID types.PoolID, config types.PoolConfig, setBy string) error

	// RecordRebalance stores the receipt. The last rebalance time lives in the ledger.
	RecordRebalance(ctx context.Context, receipt types.RebalanceReceipt) error

	// GetRecentReceipts returns the latest receipts, newest first.
	GetRecentReceipts(ctx context.Context, limit int) ([]types.RebalanceReceipt, error)

	// GetFeeSummary aggregates receipts per pool, ordered by pool id.
	GetFeeSummary(ctx context.Context) ([]types.PoolFeeSummary, error)
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	pools    map[types.PoolID]types.PoolInfo
	receipts []types.RebalanceReceipt
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools: make(map[types.PoolID]types.PoolInfo),
	}
}

func (s *MemoryStore) SavePool(_ context.Context, info types.PoolInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[info.PoolID]; ok {
		return errorsmod.Wrapf(types.ErrPoolAlreadyRegistered, "pool %s", info.PoolID)
	}
	s.pools[info.PoolID] = info
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, poolID types.PoolID) (types.PoolInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.pools[poolID]
	if !ok {
		return types.PoolInfo{}, errorsmod.Wrapf(types.ErrPoolNotFound, "pool %s", poolID)
	}
	return info, nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]types.PoolInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.PoolInfo, 0, len(s.pools))
	for _, info := range s.pools {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out, nil
}

func (s *MemoryStore) SavePoolConfig(_ context.Context, poolID types.PoolID, config types.PoolConfig, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.pools[poolID]
	if !ok {
		return errorsmod.Wrapf(types.ErrPoolNotFound, "pool %s", poolID)
	}
	cfg := config
	info.Config = &cfg
	s.pools[poolID] = info
	return nil
}

func (s *MemoryStore) RecordRebalance(_ context.Context, receipt types.RebalanceReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	receipt.ReceiptID = int64(len(s.receipts) + 1)
	s.receipts = append(s.receipts, receipt)
	return nil
}

func (s *MemoryStore) GetRecentReceipts(_ context.Context, limit int) ([]types.RebalanceReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.receipts) {
		limit = len(s.receipts)
	}
	out := make([]types.RebalanceReceipt, 0, limit)
	for i := len(s.receipts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.receipts[i])
	}
	return out, nil
}

func (s *MemoryStore) GetFeeSummary(_ context.Context) ([]types.PoolFeeSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKey := make(map[types.PoolKey]*types.PoolFeeSummary)
	for _, r := range s.receipts {
		key := types.PoolKey{PoolID: r.Result.PoolID, Asset: r.Result.Asset}
		sum, ok := byKey[key]
		if !ok {
			sum = &types.PoolFeeSummary{PoolID: key.PoolID, Asset: key.Asset, TotalFees: math.ZeroInt()}
			byKey[key] = sum
		}
		sum.Rebalances++
		if r.RecordedAt.After(sum.LastRecorded) {
			sum.LastRecorded = r.RecordedAt
		}
		if !r.Success {
			continue
		}
		sum.Successful++
		if r.Result.Swapped {
			sum.Swapped++
		}
		if !r.Result.Fee.IsNil() {
			sum.TotalFees = sum.TotalFees.Add(r.Result.Fee)
		}
	}

	out := make([]types.PoolFeeSummary, 0, len(byKey))
	for _, sum := range byKey {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PoolID != out[j].PoolID {
			return out[i].PoolID < out[j].PoolID
		}
		return out[i].Asset < out[j].Asset
	})
	return out, nil
}
