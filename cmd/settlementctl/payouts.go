package main

import (
	"time"

	"github.com/spf13/cobra"
)

func payoutsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payouts",
		Short: "Inspect and run affiliate payouts",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run one payout batch now",
		Long: `Run one payout batch now.

The batch shares the single-flight lock with the scheduler and the admin
endpoint, so a concurrent run makes this command fail with
"payout run already in progress".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			result, err := rt.Service().RunPayoutBatch(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = rt.FlushOutbox(cmd.Context())
			return printJSON(cmd, result)
		},
	}

	var affiliateID string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent payouts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			rows, err := rt.Service().ListPayouts(cmd.Context(), operatorActor(), affiliateID, limit)
			if err != nil {
				return err
			}
			for _, row := range rows {
				cmd.Printf("%s\t%s\t%s\t%d %s\t%s\t%s..%s\n", row.PayoutID, row.AffiliateID, row.Status, row.AmountCents, row.Currency,
					row.TransferRef, row.PeriodStart.Format(time.RFC3339), row.PeriodEnd.Format(time.RFC3339))
			}
			return nil
		},
	}
	list.Flags().StringVar(&affiliateID, "affiliate", "", "filter by affiliate id")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")

	release := &cobra.Command{
		Use:   "release <payout-id>",
		Short: "Fail a pending payout so its entries become payable again",
		Long: `Fail a pending payout so its entries become payable again.

Only release a payout after confirming with the transfer provider that no
transfer exists for its idempotency key. Until then the next run retries it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			row, err := rt.Service().ReleasePendingPayout(cmd.Context(), operatorActor(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, row)
		},
	}

	cmd.AddCommand(run, list, release)
	return cmd
}
