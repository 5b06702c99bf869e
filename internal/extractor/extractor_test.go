package extractor

import (
	"context"
	"database/sql"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"transaction-anomaly-service/pkg/errors"
)

func seedSQLite(t *testing.T, statements ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gds.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer db.Close()

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to execute %q: %v", stmt, err)
		}
	}
	return path
}

func TestSQLSourceFetch(t *testing.T) {
	path := seedSQLite(t,
		`CREATE TABLE gds_expense_transactions (
			transaction_id TEXT,
			user_id TEXT,
			total_amount REAL,
			transaction_date TEXT,
			version INTEGER,
			unused TEXT
		)`,
		`INSERT INTO gds_expense_transactions VALUES ('T1', '007', 120.5, '2023/01/05', 2, 'x')`,
		`INSERT INTO gds_expense_transactions VALUES ('T2', '008', NULL, '2023/01/06', 1, 'y')`,
	)

	src, err := NewSQLSource(&DatabaseConfig{Driver: DriverSQLite, Name: path}, nil)
	if err != nil {
		t.Fatalf("NewSQLSource() error = %v", err)
	}

	columns := []string{"transaction_id", "user_id", "total_amount", "transaction_date", "version"}
	table, err := src.Fetch(context.Background(), "gds_expense_transactions", columns)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if !reflect.DeepEqual(table.Columns, columns) {
		t.Errorf("expected columns %v, got %v", columns, table.Columns)
	}
	if table.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", table.Len())
	}

	first := table.Rows[0]
	if first["user_id"] != "007" {
		t.Errorf("expected user_id 007, got %q", first["user_id"])
	}
	if first["total_amount"] != "120.5" {
		t.Errorf("expected total_amount 120.5, got %q", first["total_amount"])
	}
	if first["version"] != "2" {
		t.Errorf("expected version 2, got %q", first["version"])
	}
	if _, ok := table.Rows[1].Get("total_amount"); ok {
		t.Error("expected NULL to be absent from the row")
	}
	if _, ok := first.Get("unused"); ok {
		t.Error("expected only requested columns")
	}
}

func TestSQLSourceFetchErrors(t *testing.T) {
	t.Run("missing table", func(t *testing.T) {
		path := seedSQLite(t, `CREATE TABLE other (id INTEGER)`)
		src, err := NewSQLSource(&DatabaseConfig{Driver: DriverSQLite, Name: path}, nil)
		if err != nil {
			t.Fatalf("NewSQLSource() error = %v", err)
		}

		table, err := src.Fetch(context.Background(), "gds_sale_transactions", []string{"transaction_id"})
		if table != nil {
			t.Error("expected no table on failure")
		}
		pErr, ok := errors.As(err)
		if !ok {
			t.Fatalf("expected PipelineError, got %v", err)
		}
		if pErr.Category != errors.CategoryConnection || pErr.Code != errors.CodeQueryFailed {
			t.Errorf("expected connection/query_failed, got %s/%s", pErr.Category, pErr.Code)
		}
	})

	t.Run("unreachable database", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing", "dir", "gds.db")
		src, err := NewSQLSource(&DatabaseConfig{Driver: DriverSQLite, Name: path}, nil)
		if err != nil {
			t.Fatalf("NewSQLSource() error = %v", err)
		}

		_, err = src.Fetch(context.Background(), "gds_sale_transactions", []string{"transaction_id"})
		if !errors.IsCategory(err, errors.CategoryConnection) {
			t.Fatalf("expected connection error, got %v", err)
		}
	})

	t.Run("invalid identifier", func(t *testing.T) {
		path := seedSQLite(t)
		src, _ := NewSQLSource(&DatabaseConfig{Driver: DriverSQLite, Name: path}, nil)

		_, err := src.Fetch(context.Background(), "t; DROP TABLE x", []string{"id"})
		if !errors.IsCategory(err, errors.CategoryConfiguration) {
			t.Fatalf("expected configuration error, got %v", err)
		}
	})
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		driver Driver
		want   string
	}{
		{DriverMySQL, "SELECT `a`, `b` FROM `gds_sale_transactions`"},
		{DriverPostgres, `SELECT "a", "b" FROM "gds_sale_transactions"`},
		{DriverSQLite, `SELECT "a", "b" FROM "gds_sale_transactions"`},
	}

	for _, tt := range tests {
		t.Run(string(tt.driver), func(t *testing.T) {
			got, err := buildQuery(tt.driver, "gds_sale_transactions", []string{"a", "b"})
			if err != nil {
				t.Fatalf("buildQuery() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("buildQuery() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := buildQuery(DriverMySQL, "t", nil); err == nil {
		t.Error("expected error for empty column list")
	}
}

func TestDatabaseConfigDSN(t *testing.T) {
	t.Run("mysql", func(t *testing.T) {
		c := &DatabaseConfig{Driver: DriverMySQL, Host: "db", Port: 3306, User: "etl", Password: "secret", Name: "gds", ConnectTimeout: 5 * time.Second}
		dsn, err := c.DSN()
		if err != nil {
			t.Fatalf("DSN() error = %v", err)
		}
		for _, want := range []string{"etl:secret@tcp(db:3306)/gds", "timeout=5s"} {
			if !strings.Contains(dsn, want) {
				t.Errorf("expected %q in %q", want, dsn)
			}
		}
	})

	t.Run("postgres", func(t *testing.T) {
		c := &DatabaseConfig{Driver: DriverPostgres, Host: "db", Port: 5432, User: "etl", Password: "p@ss", Name: "gds", ConnectTimeout: 5 * time.Second}
		dsn, err := c.DSN()
		if err != nil {
			t.Fatalf("DSN() error = %v", err)
		}
		want := "postgres://etl:p%40ss@db:5432/gds?connect_timeout=5&sslmode=disable"
		if dsn != want {
			t.Errorf("DSN() = %q, want %q", dsn, want)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		c := &DatabaseConfig{Driver: DriverSQLite, Name: "/tmp/gds.db"}
		if dsn, _ := c.DSN(); dsn != "/tmp/gds.db" {
			t.Errorf("unexpected sqlite dsn %q", dsn)
		}
	})
}

func TestDatabaseConfigValidate(t *testing.T) {
	valid := func() *DatabaseConfig {
		c := DefaultDatabaseConfig()
		c.User = "etl"
		c.Name = "gds"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *DatabaseConfig)
		wantErr bool
	}{
		{"valid", func(c *DatabaseConfig) {}, false},
		{"bad driver", func(c *DatabaseConfig) { c.Driver = "oracle" }, true},
		{"no host", func(c *DatabaseConfig) { c.Host = "" }, true},
		{"bad port", func(c *DatabaseConfig) { c.Port = 70000 }, true},
		{"no user", func(c *DatabaseConfig) { c.User = "" }, true},
		{"no name", func(c *DatabaseConfig) { c.Name = "" }, true},
		{"sqlite needs only a path", func(c *DatabaseConfig) { *c = DatabaseConfig{Driver: DriverSQLite, Name: "x.db"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTargetHidesPassword(t *testing.T) {
	c := &DatabaseConfig{Driver: DriverMySQL, Host: "db", Port: 3306, User: "etl", Password: "secret", Name: "gds"}
	if strings.Contains(c.Target(), "secret") {
		t.Errorf("target leaks password: %s", c.Target())
	}
	if c.Target() != "mysql://etl@db:3306/gds" {
		t.Errorf("unexpected target %s", c.Target())
	}
}
