// Package loader reads a directory of spreadsheet exports into one table.
//
// Every file in the directory is opened as a workbook; the first sheet's
// first row is the header. Rows are concatenated and the result carries
// the union of all headers in the order they were first seen. A cell that
// is empty, or whose column the file does not have, is null.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"transaction-anomaly-service/internal/models"
	"transaction-anomaly-service/pkg/errors"
	"transaction-anomaly-service/pkg/logger"

	"github.com/xuri/excelize/v2"
	"go.uber.org/multierr"
)

// FileStats describes one loaded workbook
type FileStats struct {
	Name    string   `json:"name"`
	Sheet   string   `json:"sheet"`
	Rows    int      `json:"rows"`
	Columns []string `json:"columns"`
}

// Stats describes a directory load
type Stats struct {
	Directory string      `json:"directory"`
	Files     []FileStats `json:"files"`
	TotalRows int         `json:"total_rows"`
}

// Loader concatenates spreadsheet files
type Loader struct {
	logger logger.Logger
}

// New creates a loader
func New(log logger.Logger) *Loader {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Loader{logger: log.WithComponent("loader")}
}

// LoadDirectory reads every file in dir. Files are read in name order.
// A missing directory, a subdirectory or a file that is not a readable
// workbook fails the whole load.
func (l *Loader) LoadDirectory(ctx context.Context, dir string) (*models.Table, *Stats, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.IOError(errors.CodeFileNotFound, dir, err)
		}
		if os.IsPermission(err) {
			return nil, nil, errors.IOError(errors.CodeFilePermission, dir, err)
		}
		return nil, nil, errors.IOError(errors.CodeDirectoryError, dir, err)
	}
	if !info.IsDir() {
		return nil, nil, errors.IOError(errors.CodeDirectoryError, dir, fmt.Errorf("not a directory"))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, errors.IOError(errors.CodeDirectoryError, dir, err)
	}

	table := models.NewTable()
	stats := &Stats{Directory: dir}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, nil, errors.InternalError(errors.CodeCancelled, "load directory", err)
		}

		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			return nil, nil, errors.IOError(errors.CodeFileUnreadable, path, fmt.Errorf("is a directory"))
		}

		fileTable, fileStats, err := l.LoadFile(path)
		if err != nil {
			return nil, nil, err
		}

		table.Concat(fileTable)
		stats.Files = append(stats.Files, *fileStats)
		stats.TotalRows += fileStats.Rows
	}

	l.logger.WithFields(logger.Fields{
		"directory": dir,
		"files":     len(stats.Files),
		"rows":      stats.TotalRows,
		"columns":   len(table.Columns),
	}).Info("Spreadsheets loaded")

	return table, stats, nil
}

// LoadFile reads the first sheet of one workbook
func (l *Loader) LoadFile(path string) (table *models.Table, stats *FileStats, err error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, errors.IOError(errors.CodeFileUnreadable, path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			err = multierr.Append(err, errors.IOError(errors.CodeFileUnreadable, path, closeErr))
			table, stats = nil, nil
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.IOError(errors.CodeFileUnreadable, path, fmt.Errorf("workbook has no sheets"))
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, nil, errors.IOError(errors.CodeFileUnreadable, path, err)
	}
	dates := newDateCells(f, sheet)

	table = models.NewTable()
	stats = &FileStats{Name: filepath.Base(path), Sheet: sheet}
	if len(rows) == 0 {
		return table, stats, nil
	}

	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	header := buildHeader(rows[0], width)
	for _, h := range header {
		table.AddColumn(h)
	}

	for i, r := range rows[1:] {
		row := make(models.Row, len(r))
		for j, cell := range r {
			if cell == "" {
				continue
			}
			row[header[j]] = dates.value(j+1, i+2, cell)
		}
		if len(row) == 0 {
			continue
		}
		table.Rows = append(table.Rows, row)
	}

	stats.Rows = len(table.Rows)
	stats.Columns = header

	l.logger.WithFields(logger.Fields{
		"file":  stats.Name,
		"sheet": sheet,
		"rows":  stats.Rows,
	}).Debug("Workbook loaded")

	return table, stats, nil
}

// buildHeader names every column of the sheet. Blank headers become
// "Unnamed: <index>" and repeated names get a ".<n>" suffix.
func buildHeader(raw []string, width int) []string {
	header := make([]string, width)
	seen := make(map[string]int, width)

	for j := 0; j < width; j++ {
		name := ""
		if j < len(raw) {
			name = strings.TrimSpace(raw[j])
		}
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", j)
		}

		if _, dup := seen[name]; dup {
			base := name
			n := seen[base]
			for {
				n++
				name = fmt.Sprintf("%s.%d", base, n)
				if _, taken := seen[name]; !taken {
					break
				}
			}
			seen[base] = n
		}
		seen[name] = 0
		header[j] = name
	}

	return header
}
