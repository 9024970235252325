package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trading-edu-billing/internal/infra/api"
)

var (
	cancelReason string

	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
)

var billCmd = &cobra.Command{
	Use:   "bill <subscription-id>",
	Short: "Charge one subscription now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connect(cmd)
		if err != nil {
			return err
		}
		out, err := a.Billing.ProcessBilling(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <subscription-id>",
	Short: "Cancel a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connect(cmd)
		if err != nil {
			return err
		}
		sub, err := a.Billing.CancelSubscription(cmd.Context(), args[0], cancelReason)
		if err != nil {
			return err
		}
		fmt.Printf("subscription %s is %s (reason: %s)\n", sub.ID, sub.Status, sub.CancelReason)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <user-id>",
	Short: "Show a user's current subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connect(cmd)
		if err != nil {
			return err
		}
		view, err := a.Billing.GetUserSubscriptionStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !view.HasActiveSubscription {
			fmt.Println("no live subscription")
			return nil
		}
		s := view.Subscription
		fmt.Printf("%s  plan=%s  status=%s  next billing %s\n", s.ID, s.Plan, s.Status, view.NextBillingDate.Format(time.RFC3339))
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API bearer token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.HTTP.JWTSecret == "" {
			return fmt.Errorf("http.jwt_secret is not configured")
		}
		tok, err := api.NewAuthManager(cfg.HTTP.JWTSecret, tokenTTL).Mint(tokenSubject, tokenRole)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}
