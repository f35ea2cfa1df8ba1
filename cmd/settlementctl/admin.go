package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/app/bootstrap"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/application"
)

func referralsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "referrals", Short: "Referral code utilities"}
	cmd.AddCommand(&cobra.Command{
		Use:   "resolve [code]",
		Short: "Resolve a referral code to its affiliate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			affiliateID, err := rt.Service().ResolveAffiliate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), affiliateID)
			return nil
		},
	})
	return cmd
}

func affiliatesCmd() *cobra.Command {
	var in application.UpsertAffiliateInput
	var parent string
	upsert := &cobra.Command{
		Use:   "upsert [affiliate-id]",
		Short: "Create or update an affiliate record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.AffiliateID = args[0]
			if parent != "" {
				in.ParentAffiliateID = &parent
			}
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			row, err := rt.Service().UpsertAffiliate(cmd.Context(), operatorActor(), in)
			if err != nil {
				return err
			}
			_, _ = rt.FlushOutbox(cmd.Context())
			return printJSON(cmd, row)
		},
	}
	upsert.Flags().StringVar(&in.UserID, "user", "", "owning user id")
	upsert.Flags().StringVar(&in.Status, "status", "ACTIVE", "PENDING, ACTIVE or SUSPENDED")
	upsert.Flags().StringVar(&parent, "parent", "", "parent affiliate id for sub-affiliates")
	upsert.Flags().StringVar(&in.ReferralCode, "referral-code", "", "referral code")
	upsert.Flags().StringVar(&in.PayoutAccountRef, "payout-account", "", "connected account reference")
	upsert.Flags().BoolVar(&in.PayoutAccountReady, "payout-ready", false, "payout account can receive transfers")
	_ = upsert.MarkFlagRequired("user")
	_ = upsert.MarkFlagRequired("referral-code")

	cmd := &cobra.Command{Use: "affiliates", Short: "Affiliate administration"}
	cmd.AddCommand(upsert)
	return cmd
}

func ledgerCmd() *cobra.Command {
	var in application.AccrueInput
	var holdback int
	accrue := &cobra.Command{
		Use:   "accrue",
		Short: "Record a commission accrual",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("holdback-days") {
				in.HoldbackDays = &holdback
			}
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			row, created, err := rt.Service().AccrueAsOperator(cmd.Context(), operatorActor(), in)
			if err != nil {
				return err
			}
			_, _ = rt.FlushOutbox(cmd.Context())
			if !created {
				fmt.Fprintln(cmd.ErrOrStderr(), "accrual already recorded for this source")
			}
			return printJSON(cmd, row)
		},
	}
	accrue.Flags().StringVar(&in.AffiliateID, "affiliate", "", "affiliate id")
	accrue.Flags().Int64Var(&in.AmountCents, "amount-cents", 0, "signed amount in cents")
	accrue.Flags().StringVar(&in.SourceRef, "source", "", "source reference, unique per affiliate")
	accrue.Flags().StringVar(&in.AttributionID, "attribution", "", "attribution id")
	accrue.Flags().IntVar(&holdback, "holdback-days", 0, "override the configured holdback")
	_ = accrue.MarkFlagRequired("affiliate")
	_ = accrue.MarkFlagRequired("amount-cents")
	_ = accrue.MarkFlagRequired("source")

	cmd := &cobra.Command{Use: "ledger", Short: "Commission ledger operations"}
	cmd.AddCommand(accrue)
	return cmd
}

func secretsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "secrets", Short: "Credential helpers"}
	cmd.AddCommand(&cobra.Command{
		Use:   "hash-scheduler [secret]",
		Short: "Print the bcrypt hash to use as SCHEDULER_SECRET_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hashed, err := security.HashSecret(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hashed)
			return nil
		},
	})

	var userID, role string
	var ttl time.Duration
	mint := &cobra.Command{
		Use:   "mint-token",
		Short: "Mint a bearer token signed with JWT_SECRET (local environments)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := bootstrap.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			token, err := security.SignHS256(cfg.JWTSecret, cfg.JWTIssuer, userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	mint.Flags().StringVar(&userID, "user", "", "subject user id")
	mint.Flags().StringVar(&role, "role", "affiliate", "role claim")
	mint.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = mint.MarkFlagRequired("user")
	cmd.AddCommand(mint)
	return cmd
}
