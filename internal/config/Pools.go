package config

import (
	"fmt"
	"os"
	"strings"

	"cosmossdk.io/math"
	"gopkg.in/yaml.v3"

	"github.com/elys-network/assetmanager/internal/types"
	"github.com/elys-network/assetmanager/internal/utils"
	"github.com/elys-network/assetmanager/internal/vault"
)

// PoolSeed is a pool registered at start-up together with its first config.
type PoolSeed struct {
	PoolID     types.PoolID
	Controller string
	Initial    types.PoolBalances
	Config     types.PoolConfig
}

// Seeds is the parsed content of POOLS_FILE.
type Seeds struct {
	Pools     []PoolSeed
	SwapPools []vault.SwapPool
}

type poolSeedYAML struct {
	PoolID        string `yaml:"pool_id"`
	Controller    string `yaml:"controller"`
	Cash          string `yaml:"cash"`
	Managed       string `yaml:"managed"`
	Target        string `yaml:"target"`
	UpperCritical string `yaml:"upper_critical"`
	LowerCritical string `yaml:"lower_critical"`
	Fee           string `yaml:"fee"`
}

type swapPoolYAML struct {
	PoolID   string `yaml:"pool_id"`
	TokenA   string `yaml:"token_a"`
	TokenB   string `yaml:"token_b"`
	Rate     string `yaml:"rate"`
	ReserveA string `yaml:"reserve_a"`
	ReserveB string `yaml:"reserve_b"`
}

type seedsYAML struct {
	Pools     []poolSeedYAML `yaml:"pools"`
	SwapPools []swapPoolYAML `yaml:"swap_pools"`
}

// LoadPoolSeeds reads and validates a seed file.
//
//	pools:
//	  - pool_id: "0x01"
//	    controller: treasury
//	    cash: "1000000"
//	    managed: "0"
//	    target: "50%"
//	    upper_critical: "0.9"
//	    lower_critical: "10%"
//	    fee: "1%"
//	swap_pools:
//	  - pool_id: "0xswap"
//	    token_a: DAI
//	    token_b: USDC
//	    rate: "1"
//	    reserve_a: "1000000"
//	    reserve_b: "1000000"
//
// Percentages accept fractions or "%" strings; blank ones fall back to DefaultPoolConfig.
func LoadPoolSeeds(path string) (Seeds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seeds{}, fmt.Errorf("failed to read pool seeds %s: %w", path, err)
	}
	return ParsePoolSeeds(data)
}

// ParsePoolSeeds is LoadPoolSeeds on an in-memory document.
func ParsePoolSeeds(data []byte) (Seeds, error) {
	var raw seedsYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Seeds{}, fmt.Errorf("failed to parse pool seeds: %w", err)
	}

	var seeds Seeds
	seen := make(map[types.PoolID]bool)
	for i, p := range raw.Pools {
		seed, err := p.toSeed()
		if err != nil {
			return Seeds{}, fmt.Errorf("pool seed %d: %w", i, err)
		}
		if seen[seed.PoolID] {
			return Seeds{}, fmt.Errorf("pool seed %d: duplicate pool %s", i, seed.PoolID)
		}
		seen[seed.PoolID] = true
		seeds.Pools = append(seeds.Pools, seed)
	}

	for i, s := range raw.SwapPools {
		pool, err := s.toSwapPool()
		if err != nil {
			return Seeds{}, fmt.Errorf("swap pool seed %d: %w", i, err)
		}
		seeds.SwapPools = append(seeds.SwapPools, pool)
	}
	return seeds, nil
}

func (p poolSeedYAML) toSeed() (PoolSeed, error) {
	poolID := types.PoolID(strings.TrimSpace(p.PoolID))
	if err := poolID.Validate(); err != nil {
		return PoolSeed{}, err
	}
	controller := strings.TrimSpace(p.Controller)
	if controller == "" {
		return PoolSeed{}, fmt.Errorf("pool %s: controller is required", poolID)
	}

	cash, err := amountOrZero(p.Cash)
	if err != nil {
		return PoolSeed{}, fmt.Errorf("pool %s cash: %w", poolID, err)
	}
	managed, err := amountOrZero(p.Managed)
	if err != nil {
		return PoolSeed{}, fmt.Errorf("pool %s managed: %w", poolID, err)
	}

	cfg := DefaultPoolConfig
	for _, f := range []struct {
		raw string
		dst *math.LegacyDec
	}{
		{p.Target, &cfg.TargetPercentage},
		{p.UpperCritical, &cfg.UpperCriticalPercentage},
		{p.LowerCritical, &cfg.LowerCriticalPercentage},
		{p.Fee, &cfg.FeePercentage},
	} {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		d, err := utils.ParsePercentage(f.raw)
		if err != nil {
			return PoolSeed{}, fmt.Errorf("pool %s: %w", poolID, err)
		}
		*f.dst = d
	}
	if err := cfg.Validate(); err != nil {
		return PoolSeed{}, fmt.Errorf("pool %s: %w", poolID, err)
	}

	return PoolSeed{
		PoolID:     poolID,
		Controller: controller,
		Initial:    types.PoolBalances{Cash: cash, Managed: managed},
		Config:     cfg,
	}, nil
}

func (s swapPoolYAML) toSwapPool() (vault.SwapPool, error) {
	rate, err := utils.ParseDec(s.Rate)
	if err != nil {
		return vault.SwapPool{}, fmt.Errorf("swap pool %s rate: %w", s.PoolID, err)
	}
	reserveA, err := amountOrZero(s.ReserveA)
	if err != nil {
		return vault.SwapPool{}, fmt.Errorf("swap pool %s reserve_a: %w", s.PoolID, err)
	}
	reserveB, err := amountOrZero(s.ReserveB)
	if err != nil {
		return vault.SwapPool{}, fmt.Errorf("swap pool %s reserve_b: %w", s.PoolID, err)
	}

	pool := vault.SwapPool{
		PoolID:   types.PoolID(strings.TrimSpace(s.PoolID)),
		TokenA:   strings.TrimSpace(s.TokenA),
		TokenB:   strings.TrimSpace(s.TokenB),
		RateAB:   rate,
		ReserveA: reserveA,
		ReserveB: reserveB,
	}
	if err := pool.Validate(); err != nil {
		return vault.SwapPool{}, err
	}
	return pool, nil
}

func amountOrZero(s string) (math.Int, error) {
	if strings.TrimSpace(s) == "" {
		return math.ZeroInt(), nil
	}
	return utils.ParseNonNegativeInt(s)
}
