package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/elys-network/assetmanager/internal/types"
)

var (
	poolFlag   string
	callerFlag string
)

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Rebalance one pool and print the result",
	Long: `Run a single rebalance of --pool on behalf of --caller, who receives the
rebalance fee if one is due.

Example usage:
  assetmanager rebalance --pool 0x01 --caller keeper`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.manager.Rebalance(cmd.Context(), types.PoolID(poolFlag), callerFlag)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var feeCmd = &cobra.Command{
	Use:   "fee",
	Short: "Print the fee a rebalance of --pool would pay right now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		status, err := a.manager.GetPoolStatus(cmd.Context(), types.PoolID(poolFlag))
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{
			"pool_id":             poolFlag,
			"asset":               a.manager.Asset(),
			"rebalance_fee":       status.RebalanceFee,
			"max_investable":      status.MaxInvestable,
			"invested_percentage": status.InvestedPercentage,
			"critical":            status.Critical,
		})
	},
}

func init() {
	rootCmd.AddCommand(rebalanceCmd, feeCmd)

	rebalanceCmd.Flags().StringVar(&poolFlag, "pool", "", "Pool id to rebalance")
	rebalanceCmd.Flags().StringVar(&callerFlag, "caller", "", "Account that receives the rebalance fee")
	_ = rebalanceCmd.MarkFlagRequired("pool")
	_ = rebalanceCmd.MarkFlagRequired("caller")

	feeCmd.Flags().StringVar(&poolFlag, "pool", "", "Pool id to query")
	_ = feeCmd.MarkFlagRequired("pool")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
