package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"trading-edu-billing/internal/application"
	"trading-edu-billing/internal/config"
	"trading-edu-billing/internal/infra/api"
	"trading-edu-billing/internal/infra/logging"
	"trading-edu-billing/internal/infra/sched"
)

var (
	cfgPath string
	devMode bool

	cfg *config.Config
	app *application.App
)

var rootCmd = &cobra.Command{
	Use:           "billingctl",
	Short:         "Operate the subscription billing service",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(cfgPath, devMode)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app != nil {
			app.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "console logs")

	for _, job := range sched.AllJobs {
		rootCmd.AddCommand(jobCmd(job))
	}
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "cancellation reason (default user_request)")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "ops", "token subject (user id)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", api.RoleAdmin, "role claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	rootCmd.AddCommand(billCmd, cancelCmd, statusCmd, tokenCmd)
}

// connect wires the service on first use; token minting needs no stores.
func connect(cmd *cobra.Command) (*application.App, error) {
	if app != nil {
		return app, nil
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	a, err := application.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	app = a
	return app, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jobCmd(job sched.Job) *cobra.Command {
	short := map[sched.Job]string{
		sched.JobDue:       "Bill every subscription whose period has ended",
		sched.JobRetry:     "Retry failed payments whose retry time has come",
		sched.JobGrace:     "Cancel past-due subscriptions whose grace period expired",
		sched.JobReconcile: "Settle charges left PENDING against the payment provider",
	}[job]
	return &cobra.Command{
		Use:   string(job),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect(cmd)
			if err != nil {
				return err
			}
			res, err := a.Jobs.Run(cmd.Context(), job)
			if errors.Is(err, sched.ErrJobRunning) {
				return fmt.Errorf("%s: another instance is running it", job)
			}
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}
