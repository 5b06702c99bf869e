package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"transaction-anomaly-service/internal/anomaly"
	"transaction-anomaly-service/internal/extractor"
	"transaction-anomaly-service/internal/models"
	"transaction-anomaly-service/internal/reporter"
	"transaction-anomaly-service/pkg/errors"
	"transaction-anomaly-service/pkg/logger"

	"github.com/spf13/viper"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if err := BindEnvironment(v); err != nil {
		t.Fatalf("failed to bind environment: %v", err)
	}
	return v
}

// clearDatabaseEnv keeps variables of the machine running the tests out of
// the database settings
func clearDatabaseEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"USERNAME", "PASSWORD", "HOSTNAME", "PORT", "DATABASE",
		"ANOMALY_DATABASE_USER", "ANOMALY_DATABASE_PASSWORD", "ANOMALY_DATABASE_HOST",
		"ANOMALY_DATABASE_PORT", "ANOMALY_DATABASE_NAME", "ANOMALY_DATABASE_DRIVER",
	} {
		t.Setenv(name, "")
	}
}

func TestCreateLoggerConfig(t *testing.T) {
	v := newViper(t)
	config, err := CreateLoggerConfig(v)
	if err != nil {
		t.Fatalf("failed to create logger config: %v", err)
	}
	if config.Level != logger.InfoLevel {
		t.Errorf("expected level info, got %s", config.Level)
	}
	if config.Output != logger.StderrOutput {
		t.Errorf("expected stderr output, got %s", config.Output)
	}

	v.Set(KeyVerbose, true)
	config, err = CreateLoggerConfig(v)
	if err != nil {
		t.Fatalf("failed to create verbose logger config: %v", err)
	}
	if config.Level != logger.DebugLevel {
		t.Errorf("expected verbose to force debug, got %s", config.Level)
	}

	v.Set(KeyLogFormat, "yaml")
	if _, err := CreateLoggerConfig(v); !errors.IsCategory(err, errors.CategoryConfiguration) {
		t.Errorf("expected configuration error for invalid format, got %v", err)
	}
}

func TestCreateDatabaseConfig(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		expected    extractor.DatabaseConfig
		expectError bool
	}{
		{
			name: "prefixed variables",
			env: map[string]string{
				"ANOMALY_DATABASE_USER":     "etl",
				"ANOMALY_DATABASE_PASSWORD": "secret",
				"ANOMALY_DATABASE_HOST":     "db",
				"ANOMALY_DATABASE_NAME":     "gds",
			},
			expected: extractor.DatabaseConfig{Driver: extractor.DriverMySQL, Host: "db", Port: 3306, User: "etl", Password: "secret", Name: "gds"},
		},
		{
			name: "legacy variables",
			env: map[string]string{
				"USERNAME": "legacy",
				"PASSWORD": "pw",
				"HOSTNAME": "old-db",
				"PORT":     "3307",
				"DATABASE": "gds",
			},
			expected: extractor.DatabaseConfig{Driver: extractor.DriverMySQL, Host: "old-db", Port: 3307, User: "legacy", Password: "pw", Name: "gds"},
		},
		{
			name: "prefixed variables win over legacy ones",
			env: map[string]string{
				"USERNAME":              "legacy",
				"ANOMALY_DATABASE_USER": "etl",
				"DATABASE":              "gds",
			},
			expected: extractor.DatabaseConfig{Driver: extractor.DriverMySQL, Host: "localhost", Port: 3306, User: "etl", Name: "gds"},
		},
		{
			name: "postgres takes its default port",
			env: map[string]string{
				"ANOMALY_DATABASE_DRIVER": "Postgres",
				"ANOMALY_DATABASE_USER":   "etl",
				"ANOMALY_DATABASE_NAME":   "gds",
			},
			expected: extractor.DatabaseConfig{Driver: extractor.DriverPostgres, Host: "localhost", Port: 5432, User: "etl", Name: "gds"},
		},
		{
			name:        "missing database name",
			env:         map[string]string{"ANOMALY_DATABASE_USER": "etl"},
			expectError: true,
		},
		{
			name: "unknown driver",
			env: map[string]string{
				"ANOMALY_DATABASE_DRIVER": "oracle",
				"ANOMALY_DATABASE_NAME":   "gds",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearDatabaseEnv(t)
			for k, val := range tt.env {
				t.Setenv(k, val)
			}

			config, err := CreateDatabaseConfig(newViper(t))
			if tt.expectError {
				if !errors.IsCategory(err, errors.CategoryConfiguration) {
					t.Errorf("expected configuration error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if config.Driver != tt.expected.Driver || config.Host != tt.expected.Host || config.Port != tt.expected.Port {
				t.Errorf("expected %s %s:%d, got %s %s:%d",
					tt.expected.Driver, tt.expected.Host, tt.expected.Port, config.Driver, config.Host, config.Port)
			}
			if config.User != tt.expected.User || config.Password != tt.expected.Password || config.Name != tt.expected.Name {
				t.Errorf("expected %s/%s/%s, got %s/%s/%s",
					tt.expected.User, tt.expected.Password, tt.expected.Name, config.User, config.Password, config.Name)
			}
			if config.ConnectTimeout != 5*time.Second {
				t.Errorf("expected 5s connect timeout, got %v", config.ConnectTimeout)
			}
		})
	}
}

func TestLegacyEnvironmentCanBeDisabled(t *testing.T) {
	clearDatabaseEnv(t)
	t.Setenv("HOSTNAME", "workstation")
	t.Setenv("ANOMALY_DATABASE_NAME", "gds")
	t.Setenv("ANOMALY_DATABASE_USER", "etl")

	v := viper.New()
	SetDefaults(v)
	v.Set(KeyLegacyEnv, false)
	if err := BindEnvironment(v); err != nil {
		t.Fatalf("failed to bind environment: %v", err)
	}

	config, err := CreateDatabaseConfig(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Host != "localhost" {
		t.Errorf("expected HOSTNAME to be ignored, got host %s", config.Host)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "ANOMALY_TEST_FROM_FILE=file\nANOMALY_TEST_ALREADY_SET=file\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	t.Setenv("ANOMALY_TEST_ALREADY_SET", "process")
	t.Setenv("ANOMALY_TEST_FROM_FILE", "")
	os.Unsetenv("ANOMALY_TEST_FROM_FILE")

	loaded, err := LoadDotEnv(path)
	if err != nil {
		t.Fatalf("failed to load env file: %v", err)
	}
	if !loaded {
		t.Error("expected env file to be reported as loaded")
	}
	if got := os.Getenv("ANOMALY_TEST_FROM_FILE"); got != "file" {
		t.Errorf("expected value from file, got %q", got)
	}
	if got := os.Getenv("ANOMALY_TEST_ALREADY_SET"); got != "process" {
		t.Errorf("expected process value to win, got %q", got)
	}

	loaded, err = LoadDotEnv(filepath.Join(dir, "missing.env"))
	if err != nil || loaded {
		t.Errorf("expected missing file to be skipped, got loaded=%v err=%v", loaded, err)
	}
}

func TestCreateAnomalyConfig(t *testing.T) {
	v := newViper(t)
	config, err := CreateAnomalyConfig(v)
	if err != nil {
		t.Fatalf("failed to create anomaly config: %v", err)
	}
	if config.Threshold != 3 || config.MinObservations != 2 || config.Policy != anomaly.PolicyExclude {
		t.Errorf("unexpected defaults: %+v", config)
	}
	if config.Columns != anomaly.DefaultColumns() {
		t.Errorf("expected default columns, got %+v", config.Columns)
	}

	v.Set(KeyStrict, true)
	v.Set(KeyThreshold, 2.5)
	v.Set(KeyColumnNetAmount, "Net")
	config, err = CreateAnomalyConfig(v)
	if err != nil {
		t.Fatalf("failed to create strict config: %v", err)
	}
	if config.Policy != anomaly.PolicyFail || config.Threshold != 2.5 || config.Columns.NetAmount != "Net" {
		t.Errorf("overrides not applied: %+v", config)
	}

	v.Set(KeyThreshold, 0)
	if _, err := CreateAnomalyConfig(v); !errors.IsCategory(err, errors.CategoryConfiguration) {
		t.Errorf("expected configuration error for zero threshold, got %v", err)
	}
}

func TestCreatePipelineOptions(t *testing.T) {
	tests := []struct {
		name        string
		categories  interface{}
		expected    []models.Category
		expectError bool
	}{
		{
			name:     "all categories by default",
			expected: models.AllCategories(),
		},
		{
			name:       "flag list",
			categories: []string{"sale", "Machine-Rent"},
			expected:   []models.Category{models.CategorySale, models.CategoryMachineRent},
		},
		{
			name:       "comma separated environment value",
			categories: "expense, purchase",
			expected:   []models.Category{models.CategoryExpense, models.CategoryPurchase},
		},
		{
			name:        "unknown category",
			categories:  []string{"refund"},
			expectError: true,
		},
		{
			name:        "duplicate category",
			categories:  []string{"sale", "sale"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper(t)
			if tt.categories != nil {
				v.Set(KeyCategories, tt.categories)
			}

			options, err := CreatePipelineOptions(v)
			if tt.expectError {
				if !errors.IsCategory(err, errors.CategoryConfiguration) {
					t.Errorf("expected configuration error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(options.Categories) != len(tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, options.Categories)
			}
			for i := range tt.expected {
				if options.Categories[i] != tt.expected[i] {
					t.Errorf("category %d: expected %s, got %s", i, tt.expected[i], options.Categories[i])
				}
			}
		})
	}
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		name        string
		settings    map[string]interface{}
		expected    reporter.OutputFormat
		expectError bool
	}{
		{
			name:     "console by default",
			expected: reporter.FormatConsole,
		},
		{
			name:     "json with ledger",
			settings: map[string]interface{}{KeyReportFormat: "JSON", KeyReportLedger: true},
			expected: reporter.FormatJSON,
		},
		{
			name:     "xlsx with output file",
			settings: map[string]interface{}{KeyReportFormat: "xlsx", KeyReportOutput: "report.xlsx"},
			expected: reporter.FormatXLSX,
		},
		{
			name:        "xlsx without output file",
			settings:    map[string]interface{}{KeyReportFormat: "xlsx"},
			expectError: true,
		},
		{
			name:        "ledger on console",
			settings:    map[string]interface{}{KeyReportLedger: true},
			expectError: true,
		},
		{
			name:        "unknown format",
			settings:    map[string]interface{}{KeyReportFormat: "pdf"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper(t)
			for k, val := range tt.settings {
				v.Set(k, val)
			}

			config, err := CreateReportConfig(v)
			if tt.expectError {
				if !errors.IsCategory(err, errors.CategoryConfiguration) {
					t.Errorf("expected configuration error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.Format != tt.expected {
				t.Errorf("expected format %s, got %s", tt.expected, config.Format)
			}
		})
	}
}

func TestCreateNormalizerOptions(t *testing.T) {
	v := newViper(t)
	if CreateNormalizerOptions(v).CorrectMarketTypeKey {
		t.Error("expected market type quirk to be preserved by default")
	}
	v.Set(KeyCorrectMarketType, true)
	if !CreateNormalizerOptions(v).CorrectMarketTypeKey {
		t.Error("expected market type key correction to be enabled")
	}
}
