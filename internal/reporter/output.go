package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"transaction-anomaly-service/internal/pipeline"
	"transaction-anomaly-service/pkg/errors"
	"transaction-anomaly-service/pkg/logger"

	"go.uber.org/multierr"
)

// WriteToFile renders the report into path, creating missing parent
// directories. An existing file is replaced.
func (rg *ReportGenerator) WriteToFile(result *pipeline.RunResult, path string) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fileError(path, err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fileError(path, err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(file))

	if err := rg.GenerateReport(result, file); err != nil {
		rg.logger.WithError(err).WithField("output", path).Error("Report generation failed")
		return err
	}

	rg.logger.WithFields(logger.Fields{
		"output": describeWriter(file),
		"format": rg.config.Format,
	}).Info("Report written")
	return nil
}

func fileError(path string, err error) error {
	if os.IsPermission(err) {
		return errors.IOError(errors.CodeFilePermission, path, err)
	}
	return errors.IOError(errors.CodeWriteFailed, path, err)
}

func describeWriter(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
