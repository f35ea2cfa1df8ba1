package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/app/bootstrap"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/application"
)

var Version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "settlementctl",
		Short:         "Operator tooling for the affiliate settlement service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/default.yaml", "path to the service config file")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(payoutsCmd())
	rootCmd.AddCommand(referralsCmd())
	rootCmd.AddCommand(affiliatesCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(secretsCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openRuntime builds the full runtime for commands that act through the
// application service. Callers must Close it.
func openRuntime(ctx context.Context) (*bootstrap.Runtime, error) {
	return bootstrap.NewRuntime(ctx, configPath)
}

// operatorActor is the identity settlementctl acts as. Shell access to the
// deployment is the authorization boundary.
func operatorActor() application.Actor {
	return application.Actor{SubjectID: "settlementctl", Role: "admin", RequestID: "settlementctl"}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
