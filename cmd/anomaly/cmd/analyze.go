package cmd

import (
	"transaction-anomaly-service/cmd/anomaly/config"
	"transaction-anomaly-service/pkg/errors"
	"transaction-anomaly-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze [directory]",
	Short: "Detect anomalies in a folder of spreadsheet exports",
	Long: `Analyze opens every file of a directory as an Excel workbook, concatenates
the rows of their first sheets and flags users' transactions whose summed
USD net amount has |z| above the threshold. The files need the columns User, Date of
Transaction, Transaction ID and USD Net Amount; the Ledger sheet written by
"anomaly etl --format xlsx --include-ledger" qualifies.

Examples:
  anomaly analyze ./exports
  anomaly analyze --source ./exports --format json --output anomalies.json
  anomaly analyze ./exports --threshold 2 --include-aggregates`,

	Args:    cobra.MaximumNArgs(1),
	PreRunE: validateAnalyzeArgs,
	RunE:    runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringP("source", "s", "", "directory of spreadsheet exports")
	bindFlags(analyzeCmd.Flags().Lookup, map[string]string{
		config.KeySourceDirectory: "source",
	})
}

func validateAnalyzeArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if err := cmd.Flags().Set("source", args[0]); err != nil {
			return err
		}
	}
	if viper.GetString(config.KeySourceDirectory) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "source", nil, nil).
			WithSuggestion("pass the export folder as an argument or with --source")
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	log := logger.GetGlobalLogger().WithComponent("cli")

	generator, err := newReporter(v, log)
	if err != nil {
		return err
	}

	p, err := newPipeline(v, nil, log)
	if err != nil {
		return err
	}
	attachProgress(p, cmd.ErrOrStderr())

	dir := v.GetString(config.KeySourceDirectory)
	log.WithField("directory", dir).Info("Starting directory analysis")
	result, err := p.RunDirectory(cmd.Context(), dir)
	if err != nil {
		return err
	}

	if err := writeReport(cmd, v, generator, result); err != nil {
		return err
	}
	printCompletion(cmd.ErrOrStderr(), result)
	return nil
}
