package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newLedgerCmd creates the 'ledger' subcommand, which prints archived ids.
func newLedgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ledger",
		Short: "Prints the ids of archived stories, one per line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range appInstance.LedgerIDs() {
				if _, err := fmt.Fprintln(out, id); err != nil {
					return fmt.Errorf("write ledger: %w", err)
				}
			}
			return nil
		},
	}
}
