package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"transaction-anomaly-service/cmd/anomaly/config"
	"transaction-anomaly-service/pkg/errors"
	"transaction-anomaly-service/pkg/logger"

	"github.com/spf13/viper"
)

// CLIErrorHandler turns command errors into messages and exit codes
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
	out     io.Writer
}

// NewCLIErrorHandler creates a new CLI error handler writing to stderr
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool(config.KeyVerbose),
		out:     os.Stderr,
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if pipelineErr, ok := errors.As(err); ok {
		return h.handlePipelineError(pipelineErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handlePipelineError(err *errors.PipelineError) int {
	if h.verbose {
		fmt.Fprintf(h.out, "%s\n", err.Describe())
		fmt.Fprintf(h.out, "\n%s\n", categoryHelp(err.Category))
		return err.ExitCode()
	}

	fmt.Fprintf(h.out, "Error: %s\n", err.Message)
	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "Suggestion: %s\n", err.Suggestion)
	}
	fmt.Fprintf(h.out, "\n%s\n", categoryHelp(err.Category))

	return err.ExitCode()
}

// handleGenericError covers errors raised before the pipeline runs, such as
// unknown flags
func (h *CLIErrorHandler) handleGenericError(err error) int {
	fmt.Fprintf(h.out, "Error: %v\n", err)

	if strings.Contains(err.Error(), "flag") || strings.Contains(err.Error(), "command") {
		fmt.Fprintf(h.out, "Run 'anomaly --help' for usage.\n")
	}
	return 1
}

func categoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check that the source directory exists and holds only .xlsx workbooks
• Check that the output location is writable
• Use absolute paths if the command runs from another directory`

	case errors.CategoryParse:
		return `Parse error help:
• Transaction dates must look like 2024/01/31
• Amounts, prices and rates must be plain numbers
• The error context names the category, row and column to fix`

	case errors.CategoryDivision:
		return `Division error help:
• Every paid amount needs a non-zero currency_exchange_rate
• Fix the rate of the transaction named in the error context`

	case errors.CategoryConnection:
		return `Connection error help:
• Check --host, --port and --database, or the matching variables in .env
• Check that the user can read the category tables
• Run 'anomaly categories' to see the tables and columns each category reads`

	case errors.CategoryStatistic:
		return `Statistic error help:
• Users need at least --min-observations aggregates for a z-score
• Drop --strict-statistics to skip those users instead`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and the config file given with --config
• Environment variables use the ANOMALY_ prefix, e.g. ANOMALY_DATABASE_HOST
• Use 'anomaly <command> --help' to see all available options`

	default:
		return `For more help:
• Use 'anomaly --help' for general help
• Run again with --verbose for the full error context`
	}
}
