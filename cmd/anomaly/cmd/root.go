package cmd

import (
	"context"
	"fmt"

	"transaction-anomaly-service/cmd/anomaly/config"
	"transaction-anomaly-service/pkg/errors"
	"transaction-anomaly-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	envFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// configErr holds a failure of initConfig until a command runs
	configErr error
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "anomaly",
	Short: "Transaction ledger ETL and anomaly detection",
	Long: `Anomaly builds a unified transaction ledger from the six category tables
of the source database and flags transactions whose USD net amount deviates
strongly from the user's usual spending.

Examples:
  anomaly etl --database gds --user etl --password secret
  anomaly etl --categories sale,expense --format xlsx --output ledger.xlsx --include-ledger
  anomaly analyze --source ./exports --threshold 2.5
  anomaly categories`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

// Execute adds all child commands to the root command and runs it with ctx
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()

	// Global flags
	flags.StringVar(&cfgFile, "config", "", "config file (optional)")
	flags.StringVar(&envFile, "env-file", ".env", "env file loaded into the environment when present")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text, json")
	flags.String("log-output", "stderr", "log destination: stdout, stderr, file")
	flags.String("log-file", logger.DefaultLogFile, "log file used with --log-output file")

	// Detection flags
	flags.Float64("threshold", 3, "flag aggregates with |z| above this value")
	flags.Int("min-observations", 2, "aggregates a user needs before a z-score is computed")
	flags.Bool("strict-statistics", false, "fail instead of skipping users with too few aggregates")
	flags.Bool("fix-market-type-key", false, "write the machine rent market type to market_type instead of market_type'")

	// Output flags
	flags.StringP("format", "f", "console", "report format: console, json, csv, xlsx")
	flags.StringP("output", "o", "", "report file path (default: stdout)")
	flags.Bool("include-aggregates", false, "list every aggregate, not only anomalies")
	flags.Bool("include-ledger", false, "add the merged ledger to json and xlsx reports")
	flags.Int("max-items", 20, "rows listed per console section, 0 for no limit")
	flags.Bool("no-color", false, "disable colored console output")
	flags.BoolVar(&showProgress, "progress", false, "show progress indicators")

	// Bind flags to viper
	bindFlags(flags.Lookup, map[string]string{
		config.KeyVerbose:           "verbose",
		config.KeyLogLevel:          "log-level",
		config.KeyLogFormat:         "log-format",
		config.KeyLogOutput:         "log-output",
		config.KeyLogFile:           "log-file",
		config.KeyThreshold:         "threshold",
		config.KeyMinObservations:   "min-observations",
		config.KeyStrict:            "strict-statistics",
		config.KeyCorrectMarketType: "fix-market-type-key",
		config.KeyReportFormat:      "format",
		config.KeyReportOutput:      "output",
		config.KeyReportAggregates:  "include-aggregates",
		config.KeyReportLedger:      "include-ledger",
		config.KeyReportMaxItems:    "max-items",
	})
}

// initConfig reads the env file and the config file. Environment variables
// are bound in setupLogging, once the command being run is known.
func initConfig() {
	configErr = loadConfig(viper.GetViper())
}

func loadConfig(v *viper.Viper) error {
	if _, err := config.LoadDotEnv(envFile); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "env-file", envFile, err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err)
		}
	}

	return nil
}

// setupLogging builds the global logger once flags and config are resolved
func setupLogging(cmd *cobra.Command, args []string) error {
	if configErr != nil {
		return configErr
	}

	v := viper.GetViper()
	bindSourceFlags(cmd)
	if err := config.BindEnvironment(v); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "environment", config.EnvPrefix, err)
	}

	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		v.Set(config.KeyReportColors, false)
	}

	logConfig, err := config.CreateLoggerConfig(v)
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", logConfig.Output, err)
	}
	logger.SetGlobalLogger(log)

	if used := v.ConfigFileUsed(); used != "" {
		log.WithField("file", used).Debug("Using config file")
	}
	return nil
}

type lookupFunc func(name string) *pflag.Flag

func bindFlags(lookup lookupFunc, keys map[string]string) {
	for key, name := range keys {
		if err := viper.BindPFlag(key, lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
