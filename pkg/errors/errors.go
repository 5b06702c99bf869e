package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups pipeline failures by the stage that raised them
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryParse         ErrorCategory = "parse"
	CategoryDivision      ErrorCategory = "division"
	CategoryConnection    ErrorCategory = "connection"
	CategoryStatistic     ErrorCategory = "statistic"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure within a category
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileUnreadable ErrorCode = "file_unreadable"
	CodeDirectoryError ErrorCode = "directory_error"
	CodeWriteFailed    ErrorCode = "write_failed"

	// Parse errors
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeInvalidNumber ErrorCode = "invalid_number"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeInvalidData   ErrorCode = "invalid_data"

	// Division errors
	CodeZeroExchangeRate ErrorCode = "zero_exchange_rate"

	// Connection errors
	CodeConnectionFailed ErrorCode = "connection_failed"
	CodeQueryFailed      ErrorCode = "query_failed"
	CodeScanFailed       ErrorCode = "scan_failed"

	// Statistic errors
	CodeInsufficientSamples ErrorCode = "insufficient_samples"

	// Configuration errors
	CodeInvalidConfig  ErrorCode = "invalid_config"
	CodeMissingConfig  ErrorCode = "missing_config"
	CodeConfigConflict ErrorCode = "config_conflict"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
	CodeCancelled       ErrorCode = "cancelled"
)

// PipelineError is the error type returned by every stage of the pipeline
type PipelineError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context carries structured details about where the failure happened
type Context map[string]interface{}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// ExitCode maps the error category to a process exit code
func (e *PipelineError) ExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryDivision:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryStatistic, CategoryInternal:
		return 5
	case CategoryConnection:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion replaces the suggestion for fixing the error
func (e *PipelineError) WithSuggestion(suggestion string) *PipelineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new PipelineError
func New(category ErrorCategory, code ErrorCode, message string) *PipelineError {
	return &PipelineError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with PipelineError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *PipelineError {
	if err == nil {
		return nil
	}

	return &PipelineError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *PipelineError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// IOError reports a missing, unreadable or unwritable file or directory
func IOError(code ErrorCode, path string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("path not found: %s", path)
		suggestion = "check that the path is correct and exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	case CodeFileUnreadable:
		message = fmt.Sprintf("file is not a readable spreadsheet: %s", path)
		suggestion = "remove non-spreadsheet files from the source directory"
	case CodeDirectoryError:
		message = fmt.Sprintf("directory error: %s", path)
		suggestion = "ensure the directory exists and contains only spreadsheet files"
	case CodeWriteFailed:
		message = fmt.Sprintf("failed to write: %s", path)
		suggestion = "check that the output location is writable"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return build(CategoryFile, code, message, err).
		WithSuggestion(suggestion).
		WithContext("path", path)
}

// ParseError reports a value that cannot be coerced to its declared type.
// source names the category or file, row is the zero-based record index.
func ParseError(code ErrorCode, source string, row int, column string, value string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in %s at row %d, column '%s': '%s'", source, row, column, value)
		suggestion = "dates must use the YYYY/MM/DD format"
	case CodeInvalidNumber:
		message = fmt.Sprintf("invalid number in %s at row %d, column '%s': '%s'", source, row, column, value)
		suggestion = "ensure numeric columns contain plain decimal numbers"
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in %s", column, source)
		suggestion = "verify the source has all required columns with correct headers"
	case CodeInvalidData:
		message = fmt.Sprintf("invalid data in %s at row %d, column '%s': '%s'", source, row, column, value)
		suggestion = "correct the value or remove the invalid row"
	default:
		message = fmt.Sprintf("parse error in %s at row %d", source, row)
		suggestion = "check the data format and integrity"
	}

	return build(CategoryParse, code, message, err).
		WithSuggestion(suggestion).
		WithContext("source", source).
		WithContext("row", row).
		WithContext("column", column).
		WithContext("value", value)
}

// DivisionError reports a USD conversion against a zero exchange rate
func DivisionError(source string, row int, transactionID string) *PipelineError {
	message := fmt.Sprintf("currency rate is zero in %s at row %d (transaction %s)", source, row, transactionID)

	return New(CategoryDivision, CodeZeroExchangeRate, message).
		WithSuggestion("fix the currency_exchange_rate of the source record").
		WithContext("source", source).
		WithContext("row", row).
		WithContext("transaction_id", transactionID)
}

// ConnectionError reports a failure to reach or query the source store
func ConnectionError(code ErrorCode, target string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeConnectionFailed:
		message = fmt.Sprintf("unable to connect to %s", target)
		suggestion = "check the database host, port and credentials"
	case CodeQueryFailed:
		message = fmt.Sprintf("query failed on %s", target)
		suggestion = "verify the table exists and has the expected columns"
	case CodeScanFailed:
		message = fmt.Sprintf("failed reading rows from %s", target)
		suggestion = "check the source table for unsupported column types"
	default:
		message = fmt.Sprintf("database error: %s", target)
		suggestion = "check the database connection and try again"
	}

	return build(CategoryConnection, code, message, err).
		WithSuggestion(suggestion).
		WithContext("target", target)
}

// StatisticError reports a z-score that cannot be computed for a user
func StatisticError(user string, observations int) *PipelineError {
	message := fmt.Sprintf("standard deviation undefined for user '%s' with %d observation(s)", user, observations)

	return New(CategoryStatistic, CodeInsufficientSamples, message).
		WithSuggestion("disable strict statistics to skip users with too few transactions").
		WithContext("user", user).
		WithContext("observations", observations)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting via flag, environment or config file"
	case CodeConfigConflict:
		message = fmt.Sprintf("configuration conflict with setting '%s': %v", setting, value)
		suggestion = "resolve the conflicting settings or use default values"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *PipelineError {
	var message, suggestion string

	switch code {
	case CodeCancelled:
		message = fmt.Sprintf("%s was cancelled", operation)
		suggestion = "rerun the command; no partial output was written"
	case CodeUnexpectedError:
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "this is likely a bug - please report it with the error details"
	default:
		message = fmt.Sprintf("internal error during %s", operation)
		suggestion = "try again or contact support if the problem persists"
	}

	return build(CategoryInternal, code, message, err).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// As extracts a PipelineError from an error chain
func As(err error) (*PipelineError, bool) {
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) {
		return pipelineErr, true
	}
	return nil, false
}

// IsCategory reports whether err carries a PipelineError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	pipelineErr, ok := As(err)
	return ok && pipelineErr.Category == category
}

// WrapIfNeeded wraps an error if it's not already a PipelineError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *PipelineError {
	if err == nil {
		return nil
	}

	if pipelineErr, ok := As(err); ok {
		return pipelineErr
	}

	return Wrap(err, category, code, message)
}

// Describe renders a multi-line description used by the CLI in verbose mode
func (e *PipelineError) Describe() string {
	var lines []string

	lines = append(lines, fmt.Sprintf("ERROR [%s/%s]: %s", e.Category, e.Code, e.Message))
	for _, key := range sortedKeys(e.Context) {
		lines = append(lines, fmt.Sprintf("  → %s: %v", key, e.Context[key]))
	}
	if e.Cause != nil {
		lines = append(lines, fmt.Sprintf("  → Cause: %v", e.Cause))
	}
	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  → Suggestion: %s", e.Suggestion))
	}

	return strings.Join(lines, "\n")
}

func sortedKeys(ctx Context) []string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
