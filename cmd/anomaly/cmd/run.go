package cmd

import (
	"fmt"
	"io"
	"time"

	"transaction-anomaly-service/cmd/anomaly/config"
	"transaction-anomaly-service/internal/anomaly"
	"transaction-anomaly-service/internal/extractor"
	"transaction-anomaly-service/internal/normalizer"
	"transaction-anomaly-service/internal/pipeline"
	"transaction-anomaly-service/internal/reporter"
	"transaction-anomaly-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var showProgress bool

// sourceFlags maps the database settings to the flags of every command that
// talks to the source database. Several commands define them, so they are
// bound to viper only for the command being run.
var sourceFlags = map[string]string{
	config.KeyDBDriver:         "driver",
	config.KeyDBHost:           "host",
	config.KeyDBPort:           "port",
	config.KeyDBUser:           "user",
	config.KeyDBPassword:       "password",
	config.KeyDBName:           "database",
	config.KeyDBSSLMode:        "ssl-mode",
	config.KeyDBConnectTimeout: "connect-timeout",
	config.KeyLegacyEnv:        "legacy-env",
	config.KeyCategories:       "categories",
}

func addSourceFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("driver", "mysql", "database driver: mysql, postgres, sqlite")
	flags.String("host", "localhost", "database host")
	flags.Int("port", 0, "database port (default: the driver's port)")
	flags.String("user", "", "database user")
	flags.String("password", "", "database password")
	flags.String("database", "", "database name, or file path for sqlite")
	flags.String("ssl-mode", "disable", "postgres sslmode")
	flags.Duration("connect-timeout", 5*time.Second, "connection timeout")
	flags.Bool("legacy-env", true, "read USERNAME, PASSWORD, HOSTNAME, PORT and DATABASE")
	flags.StringSlice("categories", nil, "categories to use (default: all)")
}

func bindSourceFlags(cmd *cobra.Command) {
	if cmd.Flags().Lookup("driver") == nil {
		return
	}
	bindFlags(cmd.Flags().Lookup, sourceFlags)
}

// newSource builds the SQL source from the resolved database settings
func newSource(v *viper.Viper, log logger.Logger) (*extractor.SQLSource, error) {
	dbConfig, err := config.CreateDatabaseConfig(v)
	if err != nil {
		return nil, err
	}
	return extractor.NewSQLSource(dbConfig, log)
}

// newPipeline wires the stages from the resolved settings. source may be nil
// for directory runs.
func newPipeline(v *viper.Viper, source extractor.Source, log logger.Logger) (*pipeline.Pipeline, error) {
	detectorConfig, err := config.CreateAnomalyConfig(v)
	if err != nil {
		return nil, err
	}
	detector, err := anomaly.NewDetector(detectorConfig, log)
	if err != nil {
		return nil, err
	}

	options, err := config.CreatePipelineOptions(v)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Components{
		Source:     source,
		Normalizer: normalizer.New(config.CreateNormalizerOptions(v), log),
		Detector:   detector,
	}, options, log)
}

func attachProgress(p *pipeline.Pipeline, w io.Writer) {
	if !showProgress {
		return
	}
	p.AddProgressCallback(func(progress *pipeline.Progress) {
		fmt.Fprintf(w, "\r[%d/%d] %s (%.1f%% complete)",
			progress.CompletedSteps, progress.TotalSteps,
			progress.CurrentStep, progress.PercentComplete)
		if progress.CompletedSteps == progress.TotalSteps {
			fmt.Fprintln(w)
		}
	})
}

// newReporter validates the report settings before any work is done
func newReporter(v *viper.Viper, log logger.Logger) (*reporter.ReportGenerator, error) {
	reportConfig, err := config.CreateReportConfig(v)
	if err != nil {
		return nil, err
	}
	return reporter.NewReportGenerator(reportConfig, log)
}

// writeReport renders the result to --output, or to the command's stdout
func writeReport(cmd *cobra.Command, v *viper.Viper, generator *reporter.ReportGenerator, result *pipeline.RunResult) error {
	if path := v.GetString(config.KeyReportOutput); path != "" {
		return generator.WriteToFile(result, path)
	}
	return generator.GenerateReport(result, cmd.OutOrStdout())
}

func printCompletion(w io.Writer, result *pipeline.RunResult) {
	if !viper.GetBool(config.KeyVerbose) {
		return
	}
	fmt.Fprintf(w, "\nRun %s completed in %v.\n", result.RunID, result.Duration)
	if result.Summary != nil {
		fmt.Fprintf(w, "Merged %d ledger records from %d categories.\n",
			result.Summary.Records, len(result.Summary.Categories))
	}
	fmt.Fprintf(w, "Scored %d aggregates from %d observations, %d skipped.\n",
		len(result.Aggregates), result.Observations, result.SkippedObservations)
	fmt.Fprintf(w, "Found %d anomalies above |z| > %v.\n", len(result.Anomalies), result.Threshold)
}
