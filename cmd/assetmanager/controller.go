package main

import (
	"context"
	"fmt"

	"cosmossdk.io/math"
	"github.com/spf13/cobra"

	"github.com/elys-network/assetmanager/internal/types"
	"github.com/elys-network/assetmanager/internal/utils"
)

var (
	amountFlag        string
	targetFlag        string
	upperCriticalFlag string
	lowerCriticalFlag string
	feeFlag           string
)

var setConfigCmd = &cobra.Command{
	Use:   "set-config",
	Short: "Replace the config of --pool as its controller",
	Long: `Replace every field of the pool config. Percentages accept a fraction or a
percent string.

Example usage:
  assetmanager set-config --pool 0x01 --caller treasury --target 50% --upper 0.9 --lower 10% --fee 0.1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := parseConfigFlags()
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.manager.SetPoolConfig(cmd.Context(), callerFlag, types.PoolID(poolFlag), cfg); err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"pool_id": poolFlag, "config": cfg})
	},
}

type capitalFunc func(ctx context.Context, caller string, poolID types.PoolID, amount math.Int) (types.PoolBalances, error)

// capitalCommand builds a controller command that moves or reports --amount.
func capitalCommand(use, short string, pick func(a *app) capitalFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := utils.ParseInt(amountFlag)
			if err != nil {
				return fmt.Errorf("invalid --amount: %w", err)
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			balances, err := pick(a)(cmd.Context(), callerFlag, types.PoolID(poolFlag), amount)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"pool_id": poolFlag,
				"asset":   a.manager.Asset(),
				"cash":    balances.Cash,
				"managed": balances.Managed,
				"tvl":     balances.TVL(),
			})
		},
	}
}

var (
	capitalInCmd = capitalCommand("capital-in", "Move --amount of pool cash into the managed balance",
		func(a *app) capitalFunc { return a.manager.CapitalIn })
	capitalOutCmd = capitalCommand("capital-out", "Move --amount of the managed balance back to pool cash",
		func(a *app) capitalFunc { return a.manager.CapitalOut })
	setManagedCmd = capitalCommand("set-managed", "Report what the managed balance is worth now",
		func(a *app) capitalFunc { return a.manager.UpdateBalanceOfPool })
)

func parseConfigFlags() (types.PoolConfig, error) {
	var cfg types.PoolConfig
	for _, f := range []struct {
		name string
		raw  string
		dst  *math.LegacyDec
	}{
		{"target", targetFlag, &cfg.TargetPercentage},
		{"upper", upperCriticalFlag, &cfg.UpperCriticalPercentage},
		{"lower", lowerCriticalFlag, &cfg.LowerCriticalPercentage},
		{"fee", feeFlag, &cfg.FeePercentage},
	} {
		d, err := utils.ParsePercentage(f.raw)
		if err != nil {
			return types.PoolConfig{}, fmt.Errorf("invalid --%s: %w", f.name, err)
		}
		*f.dst = d
	}
	return cfg, cfg.Validate()
}

func init() {
	rootCmd.AddCommand(setConfigCmd, capitalInCmd, capitalOutCmd, setManagedCmd)

	for _, cmd := range []*cobra.Command{setConfigCmd, capitalInCmd, capitalOutCmd, setManagedCmd} {
		cmd.Flags().StringVar(&poolFlag, "pool", "", "Pool id")
		cmd.Flags().StringVar(&callerFlag, "caller", "", "Pool controller account")
		_ = cmd.MarkFlagRequired("pool")
		_ = cmd.MarkFlagRequired("caller")
	}

	for _, cmd := range []*cobra.Command{capitalInCmd, capitalOutCmd, setManagedCmd} {
		cmd.Flags().StringVar(&amountFlag, "amount", "", "Amount in pool asset units")
		_ = cmd.MarkFlagRequired("amount")
	}

	setConfigCmd.Flags().StringVar(&targetFlag, "target", "", "Target invested percentage")
	setConfigCmd.Flags().StringVar(&upperCriticalFlag, "upper", "", "Upper critical percentage")
	setConfigCmd.Flags().StringVar(&lowerCriticalFlag, "lower", "", "Lower critical percentage")
	setConfigCmd.Flags().StringVar(&feeFlag, "fee", "", "Rebalance fee percentage")
	for _, name := range []string{"target", "upper", "lower", "fee"} {
		_ = setConfigCmd.MarkFlagRequired(name)
	}
}
