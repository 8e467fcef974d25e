// thriftctl 运维命令行：手工跑批、手工结清、核对余额
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"thriftledger/internal/config"
	"thriftledger/internal/infrastructure/database"
	"thriftledger/internal/service"
	"thriftledger/pkg/dateutil"
	"thriftledger/pkg/idgen"
	"thriftledger/pkg/logger"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "thriftctl",
	Short:         "Thrift ledger operations tool",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "Path to config file")

	runContributionsCmd.Flags().String("date", "", "Contribution date (YYYY-MM-DD), defaults to today in the business timezone")
	reconcileCmd.Flags().Int64("user-id", 0, "User whose pending defaults should be settled")
	verifyCmd.Flags().Int64("user-id", 0, "User whose wallet balance should be verified")
	_ = reconcileCmd.MarkFlagRequired("user-id")
	_ = verifyCmd.MarkFlagRequired("user-id")

	rootCmd.AddCommand(runContributionsCmd, reconcileCmd, verifyCmd)
}

func setup() (*config.Config, *service.Services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevel(cfg.Server.LogLevel)
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return nil, nil, err
	}

	db := database.InitMySQL(&cfg.MySQL)
	return cfg, service.NewServices(db, cfg), nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}

var runContributionsCmd = &cobra.Command{
	Use:   "run-contributions",
	Short: "Run the daily contribution batch for one date",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, svcs, err := setup()
		if err != nil {
			return err
		}

		date, _ := cmd.Flags().GetString("date")
		if date == "" {
			date = dateutil.Today(cfg.Business.Location())
		}

		result, err := svcs.Contribution.ProcessDate(cmd.Context(), date)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Settle pending defaults for a user from the wallet balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, svcs, err := setup()
		if err != nil {
			return err
		}

		userID, _ := cmd.Flags().GetInt64("user-id")
		result, err := svcs.Settlement.Reconcile(cmd.Context(), userID)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute a wallet balance from completed transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, svcs, err := setup()
		if err != nil {
			return err
		}

		userID, _ := cmd.Flags().GetInt64("user-id")
		check, err := svcs.Ledger.VerifyBalance(cmd.Context(), userID)
		if err != nil {
			return err
		}
		if err := printJSON(check); err != nil {
			return err
		}
		if !check.Consistent {
			return fmt.Errorf("wallet %d is inconsistent: balance=%d computed=%d", userID, check.Balance, check.Computed)
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
