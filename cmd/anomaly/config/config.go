// Package config turns viper settings into the typed configurations of the
// pipeline stages.
//
// Settings come, in decreasing precedence, from command-line flags, ANOMALY_*
// environment variables, the bare database variables USERNAME, PASSWORD,
// HOSTNAME, PORT and DATABASE, the optional config file and the defaults
// registered by SetDefaults. A .env file is loaded into the environment
// before any of them are read.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"transaction-anomaly-service/internal/anomaly"
	"transaction-anomaly-service/internal/extractor"
	"transaction-anomaly-service/internal/models"
	"transaction-anomaly-service/internal/normalizer"
	"transaction-anomaly-service/internal/pipeline"
	"transaction-anomaly-service/internal/reporter"
	"transaction-anomaly-service/pkg/errors"
	"transaction-anomaly-service/pkg/logger"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the service reads
const EnvPrefix = "ANOMALY"

// Setting keys
const (
	KeyVerbose   = "verbose"
	KeyLegacyEnv = "legacy_env"

	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"
	KeyLogOutput = "log.output"
	KeyLogFile   = "log.file"

	KeyDBDriver         = "database.driver"
	KeyDBHost           = "database.host"
	KeyDBPort           = "database.port"
	KeyDBUser           = "database.user"
	KeyDBPassword       = "database.password"
	KeyDBName           = "database.name"
	KeyDBSSLMode        = "database.ssl_mode"
	KeyDBConnectTimeout = "database.connect_timeout"

	KeyCorrectMarketType = "normalizer.correct_market_type_key"

	KeyThreshold       = "anomaly.threshold"
	KeyMinObservations = "anomaly.min_observations"
	KeyStrict          = "anomaly.strict"
	KeyColumnUser      = "anomaly.columns.user"
	KeyColumnDate      = "anomaly.columns.date"
	KeyColumnID        = "anomaly.columns.transaction_id"
	KeyColumnNetAmount = "anomaly.columns.net_amount"

	KeyCategories     = "pipeline.categories"
	KeyParallel       = "pipeline.parallel"
	KeyMaxConcurrency = "pipeline.max_concurrency"

	KeyReportFormat     = "report.format"
	KeyReportOutput     = "report.output"
	KeyReportAggregates = "report.include_aggregates"
	KeyReportLedger     = "report.include_ledger"
	KeyReportColors     = "report.use_colors"
	KeyReportMaxItems   = "report.max_items"

	KeySourceDirectory = "source.directory"
)

// legacyEnv maps database settings to the unprefixed variables older
// deployments export
var legacyEnv = map[string]string{
	KeyDBUser:     "USERNAME",
	KeyDBPassword: "PASSWORD",
	KeyDBHost:     "HOSTNAME",
	KeyDBPort:     "PORT",
	KeyDBName:     "DATABASE",
}

// SetDefaults registers the default value of every setting
func SetDefaults(v *viper.Viper) {
	logCfg := logger.DefaultConfig()
	v.SetDefault(KeyLogLevel, string(logCfg.Level))
	v.SetDefault(KeyLogFormat, string(logCfg.Format))
	v.SetDefault(KeyLogOutput, string(logCfg.Output))
	v.SetDefault(KeyLogFile, logCfg.File)
	v.SetDefault(KeyLegacyEnv, true)

	db := extractor.DefaultDatabaseConfig()
	v.SetDefault(KeyDBDriver, string(db.Driver))
	v.SetDefault(KeyDBHost, db.Host)
	v.SetDefault(KeyDBPort, 0)
	v.SetDefault(KeyDBSSLMode, db.SSLMode)
	v.SetDefault(KeyDBConnectTimeout, db.ConnectTimeout)

	det := anomaly.DefaultConfig()
	v.SetDefault(KeyThreshold, det.Threshold)
	v.SetDefault(KeyMinObservations, det.MinObservations)
	v.SetDefault(KeyStrict, false)
	v.SetDefault(KeyColumnUser, det.Columns.User)
	v.SetDefault(KeyColumnDate, det.Columns.Date)
	v.SetDefault(KeyColumnID, det.Columns.TransactionID)
	v.SetDefault(KeyColumnNetAmount, det.Columns.NetAmount)

	opts := pipeline.DefaultOptions()
	v.SetDefault(KeyParallel, opts.Parallel)
	v.SetDefault(KeyMaxConcurrency, opts.MaxConcurrency)

	report := reporter.DefaultReportConfig()
	v.SetDefault(KeyReportFormat, string(report.Format))
	v.SetDefault(KeyReportColors, report.UseColors)
	v.SetDefault(KeyReportMaxItems, report.MaxItems)
}

// BindEnvironment enables ANOMALY_* variables, with dots and dashes in keys
// written as underscores, and the legacy database variables when enabled
func BindEnvironment(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if !v.GetBool(KeyLegacyEnv) {
		return nil
	}
	for key, name := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}
	return nil
}

// LoadDotEnv copies the variables of an env file into the process
// environment without overriding variables that are already set. A missing
// file is not an error; the result reports whether it was read.
func LoadDotEnv(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}

	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return false, fmt.Errorf("failed to read env file %s: %w", path, err)
	}

	for key, value := range env.AllSettings() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, fmt.Sprint(value)); err != nil {
			return false, fmt.Errorf("failed to set %s: %w", name, err)
		}
	}
	return true, nil
}

// CreateLoggerConfig creates the logger configuration. Verbose mode forces
// the debug level.
func CreateLoggerConfig(v *viper.Viper) (*logger.Config, error) {
	config := &logger.Config{
		Level:  logger.Level(strings.ToLower(v.GetString(KeyLogLevel))),
		Format: logger.Format(strings.ToLower(v.GetString(KeyLogFormat))),
		Output: logger.Output(strings.ToLower(v.GetString(KeyLogOutput))),
		File:   v.GetString(KeyLogFile),
	}
	if v.GetBool(KeyVerbose) {
		config.Level = logger.DebugLevel
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", config.Level, err)
	}
	return config, nil
}

// CreateDatabaseConfig creates the source database configuration. A zero
// port takes the driver's conventional port.
func CreateDatabaseConfig(v *viper.Viper) (*extractor.DatabaseConfig, error) {
	config := &extractor.DatabaseConfig{
		Driver:         extractor.Driver(strings.ToLower(v.GetString(KeyDBDriver))),
		Host:           v.GetString(KeyDBHost),
		Port:           v.GetInt(KeyDBPort),
		User:           v.GetString(KeyDBUser),
		Password:       v.GetString(KeyDBPassword),
		Name:           v.GetString(KeyDBName),
		SSLMode:        v.GetString(KeyDBSSLMode),
		ConnectTimeout: v.GetDuration(KeyDBConnectTimeout),
	}
	if config.Port == 0 {
		config.Port = extractor.DefaultPort(config.Driver)
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 5 * time.Second
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "database", config.Target(), err)
	}
	return config, nil
}

// CreateNormalizerOptions creates the normalizer options
func CreateNormalizerOptions(v *viper.Viper) *normalizer.Options {
	options := normalizer.DefaultOptions()
	options.CorrectMarketTypeKey = v.GetBool(KeyCorrectMarketType)
	return options
}

// CreateAnomalyConfig creates the detector configuration
func CreateAnomalyConfig(v *viper.Viper) (*anomaly.Config, error) {
	config := anomaly.DefaultConfig()
	config.Threshold = v.GetFloat64(KeyThreshold)
	config.MinObservations = v.GetInt(KeyMinObservations)
	if v.GetBool(KeyStrict) {
		config.Policy = anomaly.PolicyFail
	}
	config.Columns = anomaly.Columns{
		User:          v.GetString(KeyColumnUser),
		Date:          v.GetString(KeyColumnDate),
		TransactionID: v.GetString(KeyColumnID),
		NetAmount:     v.GetString(KeyColumnNetAmount),
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "anomaly", config.Threshold, err)
	}
	return config, nil
}

// CreatePipelineOptions creates the pipeline options
func CreatePipelineOptions(v *viper.Viper) (*pipeline.Options, error) {
	options := pipeline.DefaultOptions()
	options.Parallel = v.GetBool(KeyParallel)
	options.MaxConcurrency = v.GetInt(KeyMaxConcurrency)

	// environment values arrive as one comma separated string
	var names []string
	for _, value := range v.GetStringSlice(KeyCategories) {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	if len(names) > 0 {
		options.Categories = make([]models.Category, 0, len(names))
		for _, name := range names {
			c, err := models.ParseCategory(name)
			if err != nil {
				return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyCategories, name, err)
			}
			options.Categories = append(options.Categories, c)
		}
	}

	if err := options.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "pipeline", joinCategories(options.Categories), err)
	}
	return options, nil
}

// CreateReportConfig creates the report configuration. Binary formats need
// an output file.
func CreateReportConfig(v *viper.Viper) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(v.GetString(KeyReportFormat)))
	config.IncludeAggregates = v.GetBool(KeyReportAggregates)
	config.IncludeLedger = v.GetBool(KeyReportLedger)
	config.UseColors = v.GetBool(KeyReportColors)
	config.MaxItems = v.GetInt(KeyReportMaxItems)

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report", config.Format, err)
	}
	if config.Format.IsBinary() && v.GetString(KeyReportOutput) == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, KeyReportOutput, nil,
			fmt.Errorf("%s reports cannot be written to the terminal", config.Format))
	}
	return config, nil
}

func joinCategories(categories []models.Category) string {
	s := make([]string, len(categories))
	for i, c := range categories {
		s[i] = c.String()
	}
	return strings.Join(s, ",")
}
