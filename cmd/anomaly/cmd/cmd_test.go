package cmd

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"transaction-anomaly-service/internal/models"
	"transaction-anomaly-service/internal/normalizer"
	"transaction-anomaly-service/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/xuri/excelize/v2"
	_ "modernc.org/sqlite"
)

// resetFlags restores flag defaults between executions of the shared
// command tree
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if slice, ok := f.Value.(pflag.SliceValue); ok {
			_ = slice.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append(args, "--log-level", "error", "--env-file", ""))

	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestCategoriesCommand(t *testing.T) {
	output, err := executeCommand(t, "categories")
	if err != nil {
		t.Fatalf("categories failed: %v", err)
	}

	for _, spec := range normalizer.Specs() {
		if !strings.Contains(output, "Table:     "+spec.Table) {
			t.Errorf("expected table %s in output", spec.Table)
		}
	}
	expected := []string{
		"Dedup key: transaction_id, product_id",
		"Measures:  machine_purchase, machine_purchase_usd",
		"Market:    Farmers' Hub (market_type)",
		"total_amount→paid_amount",
	}
	for _, e := range expected {
		if !strings.Contains(output, e) {
			t.Errorf("expected %q in output:\n%s", e, output)
		}
	}
}

// seedExpenses writes alice's twenty 10 USD expenses and one of 1000 USD
// to a sqlite database
func seedExpenses(t *testing.T) string {
	t.Helper()
	spec, ok := normalizer.SpecFor(models.CategoryExpense)
	if !ok {
		t.Fatal("no expense spec")
	}

	path := filepath.Join(t.TempDir(), "gds.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cols := make([]string, len(spec.SourceColumns))
	marks := make([]string, len(spec.SourceColumns))
	for i, c := range spec.SourceColumns {
		cols[i] = c + " TEXT"
		marks[i] = "?"
	}
	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", spec.Table, strings.Join(cols, ", "))); err != nil {
		t.Fatal(err)
	}

	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", spec.Table, strings.Join(marks, ", "))
	addExpense := func(id, amount string) {
		args := make([]interface{}, len(spec.SourceColumns))
		for i, c := range spec.SourceColumns {
			switch c {
			case "user_name":
				args[i] = "alice"
			case "transaction_date":
				args[i] = "2023/01/05"
			case "transaction_id":
				args[i] = id
			case "currency_exchange_rate":
				args[i] = "1"
			case "total_amount":
				args[i] = amount
			case "version":
				args[i] = "1"
			default:
				args[i] = c
			}
		}
		if _, err := db.Exec(insert, args...); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 20; i++ {
		addExpense(fmt.Sprintf("E%02d", i), "10")
	}
	addExpense("E99", "1000")
	return path
}

func TestETLThenAnalyze(t *testing.T) {
	dbPath := seedExpenses(t)
	exports := filepath.Join(t.TempDir(), "exports")
	workbook := filepath.Join(exports, "ledger.xlsx")

	_, err := executeCommand(t, "etl",
		"--driver", "sqlite", "--database", dbPath, "--categories", "expense",
		"--format", "xlsx", "--output", workbook, "--include-ledger")
	if err != nil {
		t.Fatalf("etl failed: %v", err)
	}

	f, err := excelize.OpenFile(workbook)
	if err != nil {
		t.Fatalf("failed to open workbook: %v", err)
	}
	anomalies, err := f.GetRows("Anomalies")
	f.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(anomalies) != 2 || anomalies[1][2] != "E99" {
		t.Fatalf("expected E99 as the only anomaly, got %v", anomalies)
	}

	report := filepath.Join(t.TempDir(), "anomalies.json")
	if _, err := executeCommand(t, "analyze", exports, "--format", "json", "--output", report); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatal(err)
	}
	var result struct {
		Mode         string `json:"mode"`
		Observations int    `json:"observations"`
		Anomalies    []struct {
			User          string `json:"user"`
			TransactionID string `json:"transaction_id"`
		} `json:"anomalies"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("invalid json report: %v", err)
	}
	if result.Mode != "directory" || result.Observations != 21 {
		t.Errorf("unexpected run %+v", result)
	}
	if len(result.Anomalies) != 1 || result.Anomalies[0].TransactionID != "E99" || result.Anomalies[0].User != "alice" {
		t.Errorf("expected alice's E99 to be flagged, got %+v", result.Anomalies)
	}
}

func TestSeedThenETL(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "demo.db")

	output, err := executeCommand(t, "seed",
		"--driver", "sqlite", "--database", dbPath,
		"--users", "3", "--transactions", "10", "--seed", "7", "--no-color")
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if !strings.Contains(output, "Planted outliers:") || strings.Count(output, " USD\n") != 3 {
		t.Fatalf("unexpected seed output:\n%s", output)
	}

	report := filepath.Join(t.TempDir(), "report.json")
	if _, err := executeCommand(t, "etl", "--driver", "sqlite", "--database", dbPath,
		"--parallel", "--format", "json", "--output", report); err != nil {
		t.Fatalf("etl failed: %v", err)
	}

	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatal(err)
	}
	var result struct {
		Anomalies []struct {
			TransactionID string `json:"transaction_id"`
		} `json:"anomalies"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("invalid json report: %v", err)
	}
	if len(result.Anomalies) != 3 {
		t.Fatalf("expected the 3 planted outliers, got %+v", result.Anomalies)
	}
	for _, a := range result.Anomalies {
		if !strings.HasPrefix(a.TransactionID, "SAL-") {
			t.Errorf("unexpected anomaly %s", a.TransactionID)
		}
	}
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		category errors.ErrorCategory
	}{
		{
			name:     "analyze without a directory",
			args:     []string{"analyze"},
			category: errors.CategoryConfiguration,
		},
		{
			name:     "analyze a missing directory",
			args:     []string{"analyze", filepath.Join(t.TempDir(), "missing")},
			category: errors.CategoryFile,
		},
		{
			name:     "xlsx to the terminal",
			args:     []string{"analyze", t.TempDir(), "--format", "xlsx"},
			category: errors.CategoryConfiguration,
		},
		{
			name:     "unknown category",
			args:     []string{"etl", "--driver", "sqlite", "--database", "x.db", "--categories", "refund"},
			category: errors.CategoryConfiguration,
		},
		{
			name:     "missing table",
			args:     []string{"etl", "--driver", "sqlite", "--database", filepath.Join(t.TempDir(), "empty.db"), "--categories", "sale"},
			category: errors.CategoryConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, tt.args...)
			if !errors.IsCategory(err, tt.category) {
				t.Errorf("expected %s error, got %v", tt.category, err)
			}
		})
	}
}

func TestCLIErrorHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		verbose  bool
		exitCode int
		contains []string
	}{
		{
			name:     "no error",
			exitCode: 0,
		},
		{
			name:     "division error",
			err:      errors.DivisionError("sale", 3, "S1"),
			exitCode: 3,
			contains: []string{"Error: ", "Division error help"},
		},
		{
			name:     "statistic error in verbose mode",
			err:      errors.StatisticError("alice", 1),
			verbose:  true,
			exitCode: 5,
			contains: []string{"ERROR [statistic/insufficient_samples]", "user: alice"},
		},
		{
			name:     "wrapped connection error",
			err:      fmt.Errorf("etl: %w", errors.ConnectionError(errors.CodeQueryFailed, "sqlite:gds.db", fmt.Errorf("no such table"))),
			exitCode: 6,
			contains: []string{"Connection error help"},
		},
		{
			name:     "unknown flag",
			err:      fmt.Errorf("unknown flag: --bogus"),
			exitCode: 1,
			contains: []string{"Error: unknown flag: --bogus", "anomaly --help"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			h := NewCLIErrorHandler()
			h.verbose = tt.verbose
			h.out = &out

			if code := h.HandleError(tt.err); code != tt.exitCode {
				t.Errorf("expected exit code %d, got %d", tt.exitCode, code)
			}
			for _, c := range tt.contains {
				if !strings.Contains(out.String(), c) {
					t.Errorf("expected %q in output:\n%s", c, out.String())
				}
			}
		})
	}
}
