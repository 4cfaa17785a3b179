package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/elys-network/pegvault/internal/state"
)

func exportCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the latest persisted ledger snapshot as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvironment(); err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := state.Open(ctx, dbConfig())
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}

			record, err := store.LoadLatestLedger(ctx)
			if err != nil {
				return fmt.Errorf("failed to load ledger snapshot: %w", err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(record.Genesis)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write instead of stdout")
	return cmd
}
