package cmd

import (
	"transaction-anomaly-service/cmd/anomaly/config"
	"transaction-anomaly-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// etlCmd represents the etl command
var etlCmd = &cobra.Command{
	Use:   "etl",
	Short: "Build the ledger from the database and detect anomalies",
	Long: `ETL extracts the six category tables (sale, purchase, machine rent,
processing, expense and machine purchase), normalizes each into the common
ledger schema, keeps the highest version of every record, merges them and
runs the z-score detector over the ledger's USD net amounts.

Connection settings come from flags, ANOMALY_DATABASE_* variables or the
USERNAME, PASSWORD, HOSTNAME, PORT and DATABASE variables of a .env file.

Examples:
  # MySQL with credentials from .env
  anomaly etl

  # Postgres, two categories, extracted in parallel
  anomaly etl --driver postgres --host db --user etl --database gds \
    --categories sale,expense --parallel

  # Full ledger and every aggregate as a workbook
  anomaly etl --format xlsx --output ledger.xlsx --include-ledger --include-aggregates

  # Local sqlite snapshot
  anomaly etl --driver sqlite --database ./snapshot.db`,

	RunE: runETL,
}

func init() {
	rootCmd.AddCommand(etlCmd)

	addSourceFlags(etlCmd)

	flags := etlCmd.Flags()
	flags.Bool("parallel", false, "extract categories concurrently")
	flags.Int("max-concurrency", 4, "concurrent extractions with --parallel")

	bindFlags(flags.Lookup, map[string]string{
		config.KeyParallel:       "parallel",
		config.KeyMaxConcurrency: "max-concurrency",
	})
}

func runETL(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	log := logger.GetGlobalLogger().WithComponent("cli")

	generator, err := newReporter(v, log)
	if err != nil {
		return err
	}

	source, err := newSource(v, log)
	if err != nil {
		return err
	}

	p, err := newPipeline(v, source, log)
	if err != nil {
		return err
	}
	attachProgress(p, cmd.ErrOrStderr())

	log.WithField("source", source.Target()).Info("Starting ETL run")
	result, err := p.RunDatabase(cmd.Context())
	if err != nil {
		return err
	}

	if err := writeReport(cmd, v, generator, result); err != nil {
		return err
	}
	printCompletion(cmd.ErrOrStderr(), result)
	return nil
}
