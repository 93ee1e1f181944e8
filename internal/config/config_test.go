package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for _, key := range []string{
		"AM_ASSET", "AM_IDENTITY", "LEDGER_MODE", "REBALANCE_FEE_COOLDOWN",
		"KEEPER_ENABLED", "KEEPER_SCHEDULE", "KEEPER_ACCOUNT", "POOLS_FILE",
		"DB_HOST", "DB_PORT", "DB_USER", "DB_NAME", "WEB_PORT", "GRPC_PORT",
	} {
		t.Setenv(key, "")
	}
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	setEnv(t, map[string]string{"AM_ASSET": "DAI", "AM_IDENTITY": "asset-manager"})

	require.NoError(t, LoadConfig())
	assert.Equal(t, "DAI", Asset)
	assert.Equal(t, "asset-manager", Identity)
	assert.Equal(t, LedgerModeMemory, LedgerMode)
	assert.Equal(t, DefaultRebalanceCooldown, RebalanceFeeCooldown)
	assert.False(t, KeeperEnabled)
	assert.Equal(t, DefaultKeeperSchedule, KeeperSchedule)
	assert.Equal(t, uint64(5432), DBPort)
	assert.Equal(t, "8080", WebPort)
	assert.Equal(t, "9090", GRPCPort)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setEnv(t, map[string]string{
		"AM_ASSET":               "DAI",
		"AM_IDENTITY":            "asset-manager",
		"LEDGER_MODE":            "Postgres",
		"REBALANCE_FEE_COOLDOWN": "0s",
		"KEEPER_ENABLED":         "true",
		"KEEPER_ACCOUNT":         "keeper",
		"DB_USER":                "am",
		"DB_NAME":                "am",
		"DB_PORT":                "6543",
		"WEB_PORT":               "8081",
	})

	require.NoError(t, LoadConfig())
	assert.Equal(t, LedgerModePostgres, LedgerMode)
	assert.Equal(t, time.Duration(0), RebalanceFeeCooldown)
	assert.True(t, KeeperEnabled)
	assert.Equal(t, "keeper", KeeperAccount)
	assert.Equal(t, uint64(6543), DBPort)
	assert.Equal(t, "8081", WebPort)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing asset", map[string]string{"AM_IDENTITY": "am"}},
		{"missing identity", map[string]string{"AM_ASSET": "DAI"}},
		{"bad ledger mode", map[string]string{"AM_ASSET": "DAI", "AM_IDENTITY": "am", "LEDGER_MODE": "redis"}},
		{"bad cooldown", map[string]string{"AM_ASSET": "DAI", "AM_IDENTITY": "am", "REBALANCE_FEE_COOLDOWN": "soon"}},
		{"negative cooldown", map[string]string{"AM_ASSET": "DAI", "AM_IDENTITY": "am", "REBALANCE_FEE_COOLDOWN": "-1m"}},
		{"keeper without account", map[string]string{"AM_ASSET": "DAI", "AM_IDENTITY": "am", "KEEPER_ENABLED": "1"}},
		{"postgres without user", map[string]string{"AM_ASSET": "DAI", "AM_IDENTITY": "am", "LEDGER_MODE": "postgres", "DB_NAME": "am"}},
		{"bad port", map[string]string{"AM_ASSET": "DAI", "AM_IDENTITY": "am", "WEB_PORT": "http"}},
		{"same ports", map[string]string{"AM_ASSET": "DAI", "AM_IDENTITY": "am", "WEB_PORT": "9090"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)
			assert.Error(t, LoadConfig())
		})
	}
}

const seedFile = `
pools:
  - pool_id: "0x01"
    controller: treasury
    cash: "1000"
    managed: "0"
    target: "50%"
    upper_critical: "0.9"
    lower_critical: "10%"
    fee: "0.1"
  - pool_id: "0x02"
    controller: treasury
    cash: "500"
swap_pools:
  - pool_id: "0xswap"
    token_a: DAI
    token_b: USDC
    rate: "1.5"
    reserve_a: "100"
    reserve_b: "150"
`

func TestLoadPoolSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedFile), 0o600))

	seeds, err := LoadPoolSeeds(path)
	require.NoError(t, err)
	require.Len(t, seeds.Pools, 2)
	require.Len(t, seeds.SwapPools, 1)

	first := seeds.Pools[0]
	assert.Equal(t, "0x01", first.PoolID.String())
	assert.Equal(t, "treasury", first.Controller)
	assert.Equal(t, "1000", first.Initial.Cash.String())
	assert.Equal(t, "0.500000000000000000", first.Config.TargetPercentage.String())
	assert.Equal(t, "0.900000000000000000", first.Config.UpperCriticalPercentage.String())
	assert.Equal(t, "0.100000000000000000", first.Config.FeePercentage.String())

	second := seeds.Pools[1]
	assert.Equal(t, "0", second.Initial.Managed.String())
	assert.True(t, second.Config.TargetPercentage.Equal(DefaultPoolConfig.TargetPercentage))
	assert.True(t, second.Config.FeePercentage.Equal(DefaultPoolConfig.FeePercentage))

	swap := seeds.SwapPools[0]
	assert.Equal(t, "1.500000000000000000", swap.RateAB.String())
	assert.Equal(t, "150", swap.ReserveB.String())
}

func TestParsePoolSeeds_Errors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":        "pools: [",
		"missing id":      "pools:\n  - controller: c\n",
		"no controller":   "pools:\n  - pool_id: \"0x01\"\n",
		"negative cash":   "pools:\n  - pool_id: \"0x01\"\n    controller: c\n    cash: \"-5\"\n",
		"percent range":   "pools:\n  - pool_id: \"0x01\"\n    controller: c\n    fee: \"150%\"\n",
		"target above up": "pools:\n  - pool_id: \"0x01\"\n    controller: c\n    target: \"0.95\"\n",
		"duplicate":       "pools:\n  - pool_id: \"0x01\"\n    controller: c\n  - pool_id: \"0x01\"\n    controller: c\n",
		"swap same token": "swap_pools:\n  - pool_id: s\n    token_a: DAI\n    token_b: DAI\n    rate: \"1\"\n",
		"swap no rate":    "swap_pools:\n  - pool_id: s\n    token_a: DAI\n    token_b: USDC\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePoolSeeds([]byte(doc))
			assert.Error(t, err)
		})
	}

	_, err := LoadPoolSeeds(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
