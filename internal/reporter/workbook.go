package reporter

import (
	"fmt"
	"io"
	"time"

	"transaction-anomaly-service/internal/ledger"
	"transaction-anomaly-service/internal/models"
	"transaction-anomaly-service/internal/pipeline"

	"github.com/xuri/excelize/v2"
	"go.uber.org/multierr"
)

// Workbook sheet names
const (
	SheetSummary   = "Summary"
	SheetAnomalies = "Anomalies"
	SheetLedger    = "Ledger"
)

// generateXLSXReport writes one sheet per section. The ledger, when
// included, is the first sheet so the workbook can be fed back to the
// directory loader.
func (rg *ReportGenerator) generateXLSXReport(result *pipeline.RunResult, writer io.Writer) (err error) {
	f := excelize.NewFile()
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	type sheet struct {
		name string
		rows [][]interface{}
	}
	var sheets []sheet
	if rg.config.IncludeLedger {
		sheets = append(sheets, sheet{SheetLedger, tableRows(ledger.ToTable(result.Ledger))})
	}
	sheets = append(sheets,
		sheet{SheetSummary, summaryRows(result)},
		sheet{SheetAnomalies, rg.aggregateRows(result)},
	)

	for i, s := range sheets {
		if i == 0 {
			err = f.SetSheetName(f.GetSheetName(0), s.name)
		} else {
			_, err = f.NewSheet(s.name)
		}
		if err != nil {
			return err
		}
		if err := writeRows(f, s.name, s.rows); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(writer); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func summaryRows(result *pipeline.RunResult) [][]interface{} {
	rows := [][]interface{}{
		{"Run ID", result.RunID},
		{"Mode", string(result.Mode)},
		{"Source", result.Source},
		{"Generated", result.StartTime.Format(time.RFC3339)},
		{"Duration", result.Duration.String()},
		{"Observations", result.Observations},
		{"Skipped Observations", result.SkippedObservations},
		{"Aggregates", len(result.Aggregates)},
		{"Threshold", result.Threshold},
		{"Anomalies", len(result.Anomalies)},
	}

	if result.Summary != nil {
		rows = append(rows, []interface{}{}, []interface{}{"Category", "Records", "Null Amounts", ledger.HeaderNetAmount})
		for _, cs := range result.Summary.Categories {
			rows = append(rows, []interface{}{cs.Category.String(), cs.Records, cs.NullAmounts, formatAmount(cs.NetAmount)})
		}
		rows = append(rows, []interface{}{"Total", result.Summary.Records, "", formatAmount(result.Summary.NetAmount)})
	}
	return rows
}

func (rg *ReportGenerator) aggregateRows(result *pipeline.RunResult) [][]interface{} {
	header := make([]interface{}, len(aggregateHeaders))
	for i, h := range aggregateHeaders {
		header[i] = h
	}
	rows := [][]interface{}{header}

	anomalous := anomalySet(result.Anomalies)
	for _, agg := range rg.reportedAggregates(result) {
		var z interface{}
		if agg.ZScore != nil {
			z = *agg.ZScore
		}
		rows = append(rows, []interface{}{
			agg.User,
			agg.Date,
			agg.TransactionID,
			agg.Count,
			formatAmount(agg.Sum),
			z,
			anomalous[agg.GroupKey],
		})
	}
	return rows
}

func tableRows(table *models.Table) [][]interface{} {
	header := make([]interface{}, len(table.Columns))
	for i, c := range table.Columns {
		header[i] = c
	}
	rows := [][]interface{}{header}

	for _, r := range table.Rows {
		row := make([]interface{}, len(table.Columns))
		for i, c := range table.Columns {
			if v, ok := r.Get(c); ok {
				row[i] = v
			}
		}
		rows = append(rows, row)
	}
	return rows
}
