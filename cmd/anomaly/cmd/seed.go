package cmd

import (
	"fmt"
	"io"
	"time"

	"transaction-anomaly-service/cmd/anomaly/config"
	"transaction-anomaly-service/internal/seed"
	"transaction-anomaly-service/pkg/errors"
	"transaction-anomaly-service/pkg/logger"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the seed command
var (
	seedUsers         int
	seedTransactions  int
	seedOutliers      int
	seedOutlierFactor int64
	seedDuplicateRate float64
	seedStartDate     string
	seedDays          int
	seedMinAmount     float64
	seedMaxAmount     float64
	seedValue         int64
)

// seedCmd represents the seed command
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill a database with synthetic category tables",
	Long: `Seed generates the six category tables for a set of synthetic users,
plants outlier transactions the detector should flag and stores the tables
in the configured database. Existing tables are appended to.

Examples:
  # Demo database, then detect the planted outliers
  anomaly seed --driver sqlite --database demo.db --seed 7
  anomaly etl --driver sqlite --database demo.db

  # Many users, no duplicates, two outliers each
  anomaly seed --driver sqlite --database big.db --users 200 --outliers 2 --duplicate-rate 0`,

	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	addSourceFlags(seedCmd)

	defaults := seed.DefaultConfig()
	flags := seedCmd.Flags()
	flags.IntVar(&seedUsers, "users", defaults.Users, "number of users")
	flags.IntVar(&seedTransactions, "transactions", defaults.Transactions, "ordinary transactions per user and category")
	flags.IntVar(&seedOutliers, "outliers", defaults.Outliers, "planted outliers per user")
	flags.Int64Var(&seedOutlierFactor, "outlier-factor", defaults.OutlierFactor, "outlier amount as a multiple of --max-amount")
	flags.Float64Var(&seedDuplicateRate, "duplicate-rate", defaults.DuplicateRate, "share of records also emitted as version 2")
	flags.StringVar(&seedStartDate, "start-date", defaults.StartDate.Format("2006-01-02"), "first transaction date (YYYY-MM-DD)")
	flags.IntVar(&seedDays, "days", defaults.Days, "days transactions are spread over")
	flags.Float64Var(&seedMinAmount, "min-amount", defaults.MinAmount.InexactFloat64(), "smallest ordinary amount in USD")
	flags.Float64Var(&seedMaxAmount, "max-amount", defaults.MaxAmount.InexactFloat64(), "largest ordinary amount in USD")
	flags.Int64Var(&seedValue, "seed", defaults.Seed, "random seed for reproducible data")
}

func seedConfig(v *viper.Viper) (*seed.Config, error) {
	start, err := time.Parse("2006-01-02", seedStartDate)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "start-date", seedStartDate, err)
	}
	options, err := config.CreatePipelineOptions(v)
	if err != nil {
		return nil, err
	}

	return &seed.Config{
		Users:         seedUsers,
		Transactions:  seedTransactions,
		Outliers:      seedOutliers,
		OutlierFactor: seedOutlierFactor,
		DuplicateRate: seedDuplicateRate,
		Categories:    options.Categories,
		StartDate:     start,
		Days:          seedDays,
		MinAmount:     decimal.NewFromFloat(seedMinAmount),
		MaxAmount:     decimal.NewFromFloat(seedMaxAmount),
		Seed:          seedValue,
	}, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	log := logger.GetGlobalLogger().WithComponent("cli")

	seedCfg, err := seedConfig(v)
	if err != nil {
		return err
	}
	generator, err := seed.New(seedCfg, log)
	if err != nil {
		return err
	}
	source, err := newSource(v, log)
	if err != nil {
		return err
	}

	dataset := generator.Generate()
	if err := dataset.Store(cmd.Context(), source); err != nil {
		return err
	}

	printSeedSummary(cmd.OutOrStdout(), source.Target(), dataset, v.GetBool(config.KeyReportColors))
	return nil
}

func printSeedSummary(w io.Writer, target string, dataset *seed.Dataset, useColors bool) {
	highlight := color.New(color.FgYellow)
	if !useColors {
		highlight.DisableColor()
	}

	fmt.Fprintf(w, "Seeded %s with %d rows (%d revised records) in %d tables\n",
		target, dataset.Rows, dataset.Duplicates, len(dataset.Tables))
	if len(dataset.Outliers) == 0 {
		return
	}
	fmt.Fprintf(w, "Planted outliers:\n")
	for _, o := range dataset.Outliers {
		highlight.Fprintf(w, "  %s %s %s %s USD\n", o.User, o.Category, o.TransactionID, o.AmountUSD.StringFixed(2))
	}
}
