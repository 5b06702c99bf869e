// Package extractor pulls raw category tables from the relational store.
//
// Each Fetch opens its own connection and closes it before returning, on
// success and on failure alike. Every column is read as nullable text; type
// coercion belongs to the normalizer.
package extractor

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"transaction-anomaly-service/internal/models"
	"transaction-anomaly-service/pkg/errors"
	"transaction-anomaly-service/pkg/logger"

	_ "github.com/lib/pq"
	"go.uber.org/multierr"
	_ "modernc.org/sqlite"
)

// Source provides raw tables to the pipeline
type Source interface {
	Fetch(ctx context.Context, table string, columns []string) (*models.Table, error)
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLSource reads tables through database/sql
type SQLSource struct {
	config *DatabaseConfig
	dsn    string
	logger logger.Logger
}

// NewSQLSource validates the configuration and creates a source
func NewSQLSource(config *DatabaseConfig, log logger.Logger) (*SQLSource, error) {
	if config == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "database", nil, nil)
	}
	dsn, err := config.DSN()
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "database", config.Target(), err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &SQLSource{
		config: config,
		dsn:    dsn,
		logger: log.WithComponent("extractor"),
	}, nil
}

// Target describes the source database without credentials
func (s *SQLSource) Target() string {
	return s.config.Target()
}

// Fetch selects the given columns of a table. Connection, query and scan
// failures are returned as ConnectionError.
func (s *SQLSource) Fetch(ctx context.Context, table string, columns []string) (result *models.Table, err error) {
	query, err := buildQuery(s.config.Driver, table, columns)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "table", table, err)
	}

	log := s.logger.WithFields(logger.Fields{
		"target": s.config.Target(),
		"table":  table,
	})
	start := time.Now()

	db, err := sql.Open(string(s.config.Driver), s.dsn)
	if err != nil {
		return nil, errors.ConnectionError(errors.CodeConnectionFailed, s.config.Target(), err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			err = multierr.Append(err, errors.ConnectionError(errors.CodeConnectionFailed, s.config.Target(), closeErr))
		}
		if err != nil {
			result = nil
			log.WithError(err).Error("Extraction failed")
		}
	}()
	db.SetMaxOpenConns(1)

	pingCtx := ctx
	if s.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, s.config.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		return nil, errors.ConnectionError(errors.CodeConnectionFailed, s.config.Target(), err)
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.ConnectionError(errors.CodeQueryFailed, table, err).
			WithContext("query", query)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(rows))

	names, err := rows.Columns()
	if err != nil {
		return nil, errors.ConnectionError(errors.CodeScanFailed, table, err)
	}

	result = models.NewTable(names...)
	values := make([]sql.NullString, len(names))
	dest := make([]interface{}, len(names))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.ConnectionError(errors.CodeScanFailed, table, err).
				WithContext("row", result.Len())
		}
		row := make(models.Row, len(names))
		for i, v := range values {
			if v.Valid {
				row[names[i]] = v.String
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ConnectionError(errors.CodeScanFailed, table, err)
	}

	log.WithFields(logger.Fields{
		"rows":     result.Len(),
		"duration": time.Since(start).String(),
	}).Debug("Table extracted")

	return result, nil
}

func buildQuery(driver Driver, table string, columns []string) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("no columns requested from %s", table)
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		q, err := quoteIdent(driver, c)
		if err != nil {
			return "", err
		}
		quoted[i] = q
	}
	t, err := quoteIdent(driver, table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), t), nil
}

func quoteIdent(driver Driver, name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	if driver == DriverMySQL {
		return "`" + name + "`", nil
	}
	return `"` + name + `"`, nil
}
