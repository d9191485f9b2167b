package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <barcode>...",
		Short: "Resolve barcodes and print the results as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := initApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			results := app.Resolver.ResolveMany(cmd.Context(), args)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			failed := 0
			for _, r := range results {
				if !r.OK {
					failed++
				}
				if err := enc.Encode(r); err != nil {
					return fmt.Errorf("failed to write result: %w", err)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d resolutions failed", failed, len(results))
			}
			return nil
		},
	}
}
