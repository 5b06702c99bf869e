package extractor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"transaction-anomaly-service/internal/models"
	"transaction-anomaly-service/pkg/errors"
	"transaction-anomaly-service/pkg/logger"

	"go.uber.org/multierr"
)

// Store writes a table into the database, creating it with TEXT columns when
// it does not exist. Rows are inserted in one transaction; null cells are
// stored as NULL.
func (s *SQLSource) Store(ctx context.Context, name string, data *models.Table) (err error) {
	create, err := buildCreate(s.config.Driver, name, data.Columns)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "table", name, err)
	}
	insert, err := buildInsert(s.config.Driver, name, data.Columns)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "table", name, err)
	}

	db, err := sql.Open(string(s.config.Driver), s.dsn)
	if err != nil {
		return errors.ConnectionError(errors.CodeConnectionFailed, s.config.Target(), err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(db))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.ConnectionError(errors.CodeConnectionFailed, s.config.Target(), err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, ignoreDone(tx.Rollback()))
		}
	}()

	if _, err := tx.ExecContext(ctx, create); err != nil {
		return errors.ConnectionError(errors.CodeQueryFailed, name, err).WithContext("query", create)
	}

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return errors.ConnectionError(errors.CodeQueryFailed, name, err).WithContext("query", insert)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(stmt))

	args := make([]interface{}, len(data.Columns))
	for i, row := range data.Rows {
		for j, c := range data.Columns {
			if v, ok := row.Get(c); ok {
				args[j] = v
			} else {
				args[j] = nil
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return errors.ConnectionError(errors.CodeQueryFailed, name, err).WithContext("row", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.ConnectionError(errors.CodeQueryFailed, name, err)
	}

	s.logger.WithFields(logger.Fields{
		"target": s.config.Target(),
		"table":  name,
		"rows":   data.Len(),
	}).Debug("Table stored")
	return nil
}

func ignoreDone(err error) error {
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

func buildCreate(driver Driver, table string, columns []string) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("no columns to create in %s", table)
	}

	defs := make([]string, len(columns))
	for i, c := range columns {
		q, err := quoteIdent(driver, c)
		if err != nil {
			return "", err
		}
		defs[i] = q + " TEXT"
	}
	t, err := quoteIdent(driver, table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t, strings.Join(defs, ", ")), nil
}

func buildInsert(driver Driver, table string, columns []string) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("no columns to insert into %s", table)
	}

	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		q, err := quoteIdent(driver, c)
		if err != nil {
			return "", err
		}
		quoted[i] = q
		if driver == DriverPostgres {
			marks[i] = fmt.Sprintf("$%d", i+1)
		} else {
			marks[i] = "?"
		}
	}
	t, err := quoteIdent(driver, table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t, strings.Join(quoted, ", "), strings.Join(marks, ", ")), nil
}
