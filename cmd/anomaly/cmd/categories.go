package cmd

import (
	"fmt"
	"io"
	"strings"

	"transaction-anomaly-service/internal/normalizer"

	"github.com/spf13/cobra"
)

// categoriesCmd prints the field map of every category
var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the source tables and field maps of every category",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printCategories(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(categoriesCmd)
}

func printCategories(w io.Writer) {
	for i, spec := range normalizer.Specs() {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s\n", spec.Category)
		fmt.Fprintf(w, "  Table:     %s\n", spec.Table)
		fmt.Fprintf(w, "  Dedup key: %s\n", spec.KeyDesc)
		fmt.Fprintf(w, "  Measures:  %s\n", strings.Join(spec.MeasureColumns(), ", "))
		if spec.Level2 != "" {
			fmt.Fprintf(w, "  Level 2:   %s\n", spec.Level2)
		}
		if spec.MarketType != "" {
			fmt.Fprintf(w, "  Market:    %s (%s)\n", spec.MarketType, spec.MarketTypeColumn)
		}
		if renames := spec.RenameList(); len(renames) > 0 {
			fmt.Fprintf(w, "  Renames:   %s\n", strings.Join(renames, ", "))
		}
	}
}
