// Package ledger merges normalized category batches and turns the merged
// ledger into detector input and tabular exports.
package ledger

import (
	"sort"
	"strconv"

	"transaction-anomaly-service/internal/models"

	"github.com/shopspring/decimal"
)

// Export headers of the columns the anomaly detector reads. They match the
// dashboard spreadsheets so an exported ledger can be analyzed directly.
const (
	HeaderUser          = "User"
	HeaderDate          = "Date of Transaction"
	HeaderTransactionID = "Transaction ID"
	HeaderNetAmount     = "USD Net Amount"
)

// ObservationDateLayout is the date text used for grouping and export
const ObservationDateLayout = "2006-01-02"

// Merge unions category batches into one ledger. Records keep the order of
// their batch and batches keep argument order.
func Merge(batches ...[]*models.Transaction) []*models.Transaction {
	total := 0
	for _, b := range batches {
		total += len(b)
	}

	merged := make([]*models.Transaction, 0, total)
	for _, b := range batches {
		merged = append(merged, b...)
	}
	return merged
}

// Observations converts ledger records into detector input. Records with no
// user or transaction id cannot be grouped and are counted as skipped.
func Observations(ledger []*models.Transaction) ([]models.Observation, int) {
	observations := make([]models.Observation, 0, len(ledger))
	skipped := 0
	for _, t := range ledger {
		if t.User == "" || t.TransactionID == "" {
			skipped++
			continue
		}
		observations = append(observations, models.Observation{
			User:          t.User,
			Date:          t.DateOfTransaction.Format(ObservationDateLayout),
			TransactionID: t.TransactionID,
			NetAmount:     t.NetAmountUSD(),
		})
	}
	return observations, skipped
}

type column struct {
	name  string
	value func(t *models.Transaction) (string, bool)
}

func text(get func(t *models.Transaction) string) func(t *models.Transaction) (string, bool) {
	return func(t *models.Transaction) (string, bool) {
		v := get(t)
		return v, v != ""
	}
}

func amount(get func(t *models.Transaction) decimal.NullDecimal) func(t *models.Transaction) (string, bool) {
	return func(t *models.Transaction) (string, bool) {
		d := get(t)
		return models.FormatNullDecimal(d), d.Valid
	}
}

var columns = []column{
	{"category", text(func(t *models.Transaction) string { return t.Category.String() })},
	{"country", text(func(t *models.Transaction) string { return t.Country })},
	{"franchisee", text(func(t *models.Transaction) string { return t.Franchisee })},
	{"region", text(func(t *models.Transaction) string { return t.Region })},
	{HeaderUser, text(func(t *models.Transaction) string { return t.User })},
	{"user_id", text(func(t *models.Transaction) string { return t.UserID })},
	{"user_type", text(func(t *models.Transaction) string { return t.UserType })},
	{"customer_id", text(func(t *models.Transaction) string { return t.CustomerID })},
	{"customer_name", text(func(t *models.Transaction) string { return t.CustomerName })},
	{"phone_number", text(func(t *models.Transaction) string { return t.PhoneNumber })},
	{"market_type", text(func(t *models.Transaction) string { return t.MarketType })},
	{"transaction_type", text(func(t *models.Transaction) string { return t.TransactionType })},
	{"transaction_type_level_2", text(func(t *models.Transaction) string { return t.TransactionTypeLevel2 })},
	{"product", text(func(t *models.Transaction) string { return t.Product })},
	{"product_category", text(func(t *models.Transaction) string { return t.ProductCategory })},
	{"product_id", text(func(t *models.Transaction) string { return t.ProductID })},
	{HeaderDate, func(t *models.Transaction) (string, bool) {
		if t.DateOfTransaction.IsZero() {
			return "", false
		}
		return t.DateOfTransaction.Format(ObservationDateLayout), true
	}},
	{HeaderTransactionID, text(func(t *models.Transaction) string { return t.TransactionID })},
	{"quantity", func(t *models.Transaction) (string, bool) {
		if t.Quantity == nil {
			return "", false
		}
		return strconv.FormatInt(*t.Quantity, 10), true
	}},
	{"unit_type", text(func(t *models.Transaction) string { return t.UnitType })},
	{"unit_price", amount(func(t *models.Transaction) decimal.NullDecimal { return t.UnitPrice })},
	{"currency_rate", amount(func(t *models.Transaction) decimal.NullDecimal { return t.CurrencyRate })},
	{"paid_amount", amount(func(t *models.Transaction) decimal.NullDecimal { return t.PaidAmount })},
	{HeaderNetAmount, amount(func(t *models.Transaction) decimal.NullDecimal { return t.PaidAmountUSD })},
	{"product_amount", amount(func(t *models.Transaction) decimal.NullDecimal { return t.ProductAmount })},
	{"cogs", amount(func(t *models.Transaction) decimal.NullDecimal { return t.COGS })},
	{"revenue", amount(func(t *models.Transaction) decimal.NullDecimal { return t.Revenue })},
	{"revenue_usd", amount(func(t *models.Transaction) decimal.NullDecimal { return t.RevenueUSD })},
	{"profit", amount(func(t *models.Transaction) decimal.NullDecimal { return t.Profit })},
	{"profit_usd", amount(func(t *models.Transaction) decimal.NullDecimal { return t.ProfitUSD })},
	{"purchase", amount(func(t *models.Transaction) decimal.NullDecimal { return t.Purchase })},
	{"purchase_usd", amount(func(t *models.Transaction) decimal.NullDecimal { return t.PurchaseUSD })},
	{"processing", amount(func(t *models.Transaction) decimal.NullDecimal { return t.Processing })},
	{"processing_usd", amount(func(t *models.Transaction) decimal.NullDecimal { return t.ProcessingUSD })},
	{"expenses", amount(func(t *models.Transaction) decimal.NullDecimal { return t.Expenses })},
	{"expenses_usd", amount(func(t *models.Transaction) decimal.NullDecimal { return t.ExpensesUSD })},
	{"machine_purchase", amount(func(t *models.Transaction) decimal.NullDecimal { return t.MachinePurchase })},
	{"machine_purchase_usd", amount(func(t *models.Transaction) decimal.NullDecimal { return t.MachinePurchaseUSD })},
	{"version", func(t *models.Transaction) (string, bool) {
		return strconv.FormatInt(t.Version, 10), true
	}},
}

// Columns returns the fixed export columns in order
func Columns() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.name
	}
	return out
}

// ToTable renders the ledger as a table. Fixed columns come first, then
// every non-canonical source column found in any record, sorted. Values a
// category does not populate are null.
func ToTable(ledger []*models.Transaction) *models.Table {
	table := models.NewTable(Columns()...)

	extra := make(map[string]struct{})
	for _, t := range ledger {
		for k := range t.Extra {
			extra[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(extra))
	for k := range extra {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		table.AddColumn(k)
	}

	for _, t := range ledger {
		row := make(models.Row, len(columns)+len(t.Extra))
		for _, c := range columns {
			if v, ok := c.value(t); ok {
				row[c.name] = v
			}
		}
		for k, v := range t.Extra {
			row[k] = v
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

// CategorySummary totals the records of one category
type CategorySummary struct {
	Category    models.Category `json:"category"`
	Records     int             `json:"records"`
	NetAmount   decimal.Decimal `json:"usd_net_amount"`
	NullAmounts int             `json:"null_amounts"`
}

// Summary totals a ledger
type Summary struct {
	Records    int               `json:"records"`
	NetAmount  decimal.Decimal   `json:"usd_net_amount"`
	Categories []CategorySummary `json:"categories"`
}

// Summarize counts records and sums USD net amounts per category. Categories
// are listed in extraction order and only when present.
func Summarize(ledger []*models.Transaction) *Summary {
	byCategory := make(map[models.Category]*CategorySummary)
	summary := &Summary{NetAmount: decimal.Zero}

	for _, t := range ledger {
		cs, ok := byCategory[t.Category]
		if !ok {
			cs = &CategorySummary{Category: t.Category, NetAmount: decimal.Zero}
			byCategory[t.Category] = cs
		}
		cs.Records++
		summary.Records++

		net := t.NetAmountUSD()
		if !net.Valid {
			cs.NullAmounts++
			continue
		}
		cs.NetAmount = cs.NetAmount.Add(net.Decimal)
		summary.NetAmount = summary.NetAmount.Add(net.Decimal)
	}

	for _, c := range models.AllCategories() {
		if cs, ok := byCategory[c]; ok {
			summary.Categories = append(summary.Categories, *cs)
			delete(byCategory, c)
		}
	}
	var unknown []CategorySummary
	for _, cs := range byCategory {
		unknown = append(unknown, *cs)
	}
	sort.Slice(unknown, func(i, j int) bool { return unknown[i].Category < unknown[j].Category })
	summary.Categories = append(summary.Categories, unknown...)

	return summary
}
