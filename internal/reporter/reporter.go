// Package reporter renders pipeline run results.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per aggregate for spreadsheet applications
//   - XLSX: a workbook with summary, anomaly and optional ledger sheets
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig(), log)
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"transaction-anomaly-service/internal/ledger"
	"transaction-anomaly-service/internal/models"
	"transaction-anomaly-service/internal/pipeline"
	"transaction-anomaly-service/pkg/errors"
	"transaction-anomaly-service/pkg/logger"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// IsBinary reports whether the format cannot be written to a terminal
func (f OutputFormat) IsBinary() bool {
	return f == FormatXLSX
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// IncludeAggregates lists every aggregate, not only anomalies
	IncludeAggregates bool `json:"include_aggregates" mapstructure:"include_aggregates"`
	// IncludeLedger adds the merged ledger (json and xlsx only)
	IncludeLedger bool `json:"include_ledger" mapstructure:"include_ledger"`

	UseColors bool `json:"use_colors" mapstructure:"use_colors"`
	// MaxItems caps the rows listed per console section, 0 for no limit
	MaxItems int `json:"max_items" mapstructure:"max_items"`

	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:       FormatConsole,
		UseColors:    true,
		MaxItems:     20,
		CSVDelimiter: ',',
		CSVHeaders:   true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max items cannot be negative, got %d", c.MaxItems)
	}
	if c.IncludeLedger && (c.Format == FormatConsole || c.Format == FormatCSV) {
		return fmt.Errorf("ledger output is only available for json and xlsx, not %s", c.Format)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid csv delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates run reports in various formats
type ReportGenerator struct {
	config *ReportConfig
	logger logger.Logger
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig, log logger.Logger) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report", config.Format, err).
			WithSuggestion("Check the report format and options")
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &ReportGenerator{
		config: config,
		logger: log.WithComponent("reporter"),
	}, nil
}

// Config returns the active configuration
func (rg *ReportGenerator) Config() *ReportConfig {
	return rg.config
}

// GenerateReport renders the result and writes it to writer
func (rg *ReportGenerator) GenerateReport(result *pipeline.RunResult, writer io.Writer) error {
	if result == nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report", fmt.Errorf("run result cannot be nil"))
	}

	var err error
	switch rg.config.Format {
	case FormatConsole:
		err = rg.generateConsoleReport(result, writer)
	case FormatJSON:
		err = rg.generateJSONReport(result, writer)
	case FormatCSV:
		err = rg.generateCSVReport(result, writer)
	case FormatXLSX:
		err = rg.generateXLSXReport(result, writer)
	default:
		err = fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
	if err != nil {
		return errors.WrapIfNeeded(err, errors.CategoryFile, errors.CodeWriteFailed, "failed to write report")
	}

	rg.logger.WithFields(logger.Fields{
		"format":    rg.config.Format,
		"run_id":    result.RunID,
		"anomalies": len(result.Anomalies),
	}).Debug("Report generated")
	return nil
}

func (rg *ReportGenerator) paint(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if !rg.config.UseColors {
		c.DisableColor()
	}
	return c
}

func (rg *ReportGenerator) generateConsoleReport(result *pipeline.RunResult, writer io.Writer) error {
	heading := rg.paint(color.Bold)
	alert := rg.paint(color.FgRed, color.Bold)
	ok := rg.paint(color.FgGreen)

	heading.Fprintf(writer, "TRANSACTION ANOMALY REPORT\n")
	fmt.Fprintf(writer, "Run ID:    %s\n", result.RunID)
	fmt.Fprintf(writer, "Mode:      %s\n", result.Mode)
	fmt.Fprintf(writer, "Source:    %s\n", result.Source)
	fmt.Fprintf(writer, "Generated: %s\n", result.StartTime.Format(time.RFC3339))
	fmt.Fprintf(writer, "Duration:  %v\n\n", result.Duration.Round(time.Millisecond))

	if result.Mode == pipeline.ModeDatabase {
		heading.Fprintf(writer, "=== LEDGER SUMMARY ===\n")
		rg.printLedgerSummary(result, writer)
		fmt.Fprintf(writer, "\n")
	}

	if result.LoaderStats != nil {
		heading.Fprintf(writer, "=== SPREADSHEETS ===\n")
		for _, f := range result.LoaderStats.Files {
			fmt.Fprintf(writer, "  %s (%s): %d rows, %d columns\n", f.Name, f.Sheet, f.Rows, len(f.Columns))
		}
		fmt.Fprintf(writer, "Total Rows: %d\n\n", result.LoaderStats.TotalRows)
	}

	heading.Fprintf(writer, "=== DETECTION ===\n")
	fmt.Fprintf(writer, "Observations: %d", result.Observations)
	if result.SkippedObservations > 0 {
		fmt.Fprintf(writer, " (%d skipped without user, date or transaction id)", result.SkippedObservations)
	}
	fmt.Fprintf(writer, "\n")
	fmt.Fprintf(writer, "Aggregates:   %d (%d without a defined z-score)\n", len(result.Aggregates), undefinedCount(result.Aggregates))
	fmt.Fprintf(writer, "Threshold:    |z| > %s\n", formatFloat(result.Threshold))
	if len(result.Anomalies) == 0 {
		ok.Fprintf(writer, "Anomalies:    0\n")
		return nil
	}
	alert.Fprintf(writer, "Anomalies:    %d\n\n", len(result.Anomalies))

	heading.Fprintf(writer, "=== ANOMALIES ===\n")
	rg.printAggregates(result.Anomalies, writer)

	if rg.config.IncludeAggregates {
		fmt.Fprintf(writer, "\n")
		heading.Fprintf(writer, "=== ALL AGGREGATES ===\n")
		rg.printAggregates(result.Aggregates, writer)
	}
	return nil
}

func (rg *ReportGenerator) printLedgerSummary(result *pipeline.RunResult, writer io.Writer) {
	totals := make(map[models.Category]ledger.CategorySummary)
	if result.Summary != nil {
		for _, cs := range result.Summary.Categories {
			totals[cs.Category] = cs
		}
	}

	fmt.Fprintf(writer, "%-18s %8s %8s %10s %18s\n", "Category", "Rows", "Records", "Duplicates", "USD Net Amount")
	for _, stats := range result.CategoryStats {
		net := totals[stats.Category].NetAmount
		fmt.Fprintf(writer, "%-18s %8d %8d %10d %18s\n",
			stats.Category, stats.InputRows, stats.OutputRows, stats.DuplicatesRemoved, net.StringFixed(2))
	}
	if result.Summary != nil {
		fmt.Fprintf(writer, "%-18s %8s %8d %10s %18s\n", "Total", "", result.Summary.Records, "", result.Summary.NetAmount.StringFixed(2))
	}
}

func (rg *ReportGenerator) printAggregates(aggregates []*models.Aggregate, writer io.Writer) {
	for i, agg := range aggregates {
		if rg.config.MaxItems > 0 && i >= rg.config.MaxItems {
			fmt.Fprintf(writer, "  ... and %d more\n", len(aggregates)-i)
			break
		}
		fmt.Fprintf(writer, "  %d. User: %s, Date: %s, Transaction: %s, Items: %d, Sum: %s, Z: %s\n",
			i+1,
			agg.User,
			agg.Date,
			agg.TransactionID,
			agg.Count,
			agg.Sum.StringFixed(2),
			formatZ(agg.ZScore))
	}
}

func (rg *ReportGenerator) generateJSONReport(result *pipeline.RunResult, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterResultForOutput(result))
}

func (rg *ReportGenerator) filterResultForOutput(result *pipeline.RunResult) map[string]interface{} {
	anomalies := result.Anomalies
	if anomalies == nil {
		anomalies = []*models.Aggregate{}
	}

	output := map[string]interface{}{
		"run_id":               result.RunID,
		"mode":                 result.Mode,
		"source":               result.Source,
		"start_time":           result.StartTime,
		"duration":             result.Duration.String(),
		"observations":         result.Observations,
		"skipped_observations": result.SkippedObservations,
		"threshold":            result.Threshold,
		"anomalies":            anomalies,
	}

	if result.Summary != nil {
		output["summary"] = result.Summary
	}
	if len(result.CategoryStats) > 0 {
		output["category_stats"] = result.CategoryStats
	}
	if result.LoaderStats != nil {
		output["loader_stats"] = result.LoaderStats
	}
	if rg.config.IncludeAggregates {
		output["aggregates"] = result.Aggregates
	}
	if rg.config.IncludeLedger && result.Ledger != nil {
		output["ledger"] = result.Ledger
	}
	return output
}

// aggregateHeaders are shared by the csv and xlsx anomaly tables
var aggregateHeaders = []string{
	ledger.HeaderUser,
	ledger.HeaderDate,
	ledger.HeaderTransactionID,
	"Count",
	"Sum",
	"Z Score",
	"Anomaly",
}

func (rg *ReportGenerator) reportedAggregates(result *pipeline.RunResult) []*models.Aggregate {
	if rg.config.IncludeAggregates {
		return result.Aggregates
	}
	return result.Anomalies
}

func (rg *ReportGenerator) generateCSVReport(result *pipeline.RunResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(aggregateHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	anomalous := anomalySet(result.Anomalies)
	for _, agg := range rg.reportedAggregates(result) {
		record := []string{
			agg.User,
			agg.Date,
			agg.TransactionID,
			strconv.Itoa(agg.Count),
			agg.Sum.String(),
			formatZ(agg.ZScore),
			strconv.FormatBool(anomalous[agg.GroupKey]),
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write aggregate record: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func anomalySet(anomalies []*models.Aggregate) map[models.GroupKey]bool {
	set := make(map[models.GroupKey]bool, len(anomalies))
	for _, a := range anomalies {
		set[a.GroupKey] = true
	}
	return set
}

func undefinedCount(aggregates []*models.Aggregate) int {
	n := 0
	for _, a := range aggregates {
		if !a.HasZScore() {
			n++
		}
	}
	return n
}

func formatZ(z *float64) string {
	if z == nil {
		return ""
	}
	return strconv.FormatFloat(math.Round(*z*10000)/10000, 'f', -1, 64)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatAmount(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}
