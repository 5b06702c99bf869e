// Package normalizer converts raw category tables into canonical transactions.
//
// Every category runs the same steps: rename source columns, parse the
// transaction date, coerce numeric columns, convert the paid amount to USD,
// derive the category measures and constant tags, then sort and keep the
// highest version of each record. The per-category differences live in the
// CategorySpec table in spec.go.
package normalizer

import (
	"fmt"
	"sort"

	"transaction-anomaly-service/internal/models"
	"transaction-anomaly-service/pkg/errors"
	"transaction-anomaly-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Options controls optional normalization behaviour
type Options struct {
	// CorrectMarketTypeKey writes the machine rent market type to
	// market_type instead of the misspelled market_type' column
	CorrectMarketTypeKey bool `json:"correct_market_type_key" mapstructure:"correct_market_type_key"`
}

// DefaultOptions returns options that reproduce the source transforms exactly
func DefaultOptions() *Options {
	return &Options{}
}

// Stats describes one normalization batch
type Stats struct {
	Category          models.Category `json:"category"`
	InputRows         int             `json:"input_rows"`
	OutputRows        int             `json:"output_rows"`
	DuplicatesRemoved int             `json:"duplicates_removed"`
}

// Normalizer applies a CategorySpec to raw tables
type Normalizer struct {
	options *Options
	logger  logger.Logger
}

// New creates a normalizer
func New(options *Options, log logger.Logger) *Normalizer {
	if options == nil {
		options = DefaultOptions()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Normalizer{
		options: options,
		logger:  log.WithComponent("normalizer"),
	}
}

// Normalize converts one category table. Any malformed record fails the
// whole batch; nothing is returned alongside an error.
func (n *Normalizer) Normalize(spec *CategorySpec, table *models.Table) ([]*models.Transaction, *Stats, error) {
	if spec == nil {
		return nil, nil, errors.InternalError(errors.CodeUnexpectedError, "normalize", fmt.Errorf("nil category spec"))
	}
	if table == nil {
		table = models.NewTable(spec.SourceColumns...)
	}

	source := spec.Category.String()
	for _, col := range spec.SourceColumns {
		if !table.HasColumn(col) {
			return nil, nil, errors.ParseError(errors.CodeMissingColumn, source, 0, col, "", nil)
		}
	}

	records := make([]*models.Transaction, 0, len(table.Rows))
	for i, row := range table.Rows {
		t, err := n.convert(spec, i, row)
		if err != nil {
			n.logger.WithError(err).WithFields(logger.Fields{
				"category": source,
				"row":      i,
			}).Error("Normalization failed")
			return nil, nil, err
		}
		records = append(records, t)
	}

	deduped := Deduplicate(records, spec.DedupKey)

	stats := &Stats{
		Category:          spec.Category,
		InputRows:         len(records),
		OutputRows:        len(deduped),
		DuplicatesRemoved: len(records) - len(deduped),
	}

	n.logger.WithFields(logger.Fields{
		"category":   source,
		"input":      stats.InputRows,
		"output":     stats.OutputRows,
		"duplicates": stats.DuplicatesRemoved,
	}).Debug("Category normalized")

	return deduped, stats, nil
}

func (n *Normalizer) convert(spec *CategorySpec, index int, row models.Row) (*models.Transaction, error) {
	source := spec.Category.String()
	t := &models.Transaction{Category: spec.Category}

	values := make(map[string]*string, len(row))
	for col, raw := range row {
		v := raw
		name := spec.CanonicalName(col)
		values[name] = &v
		if isTyped(spec, name) {
			continue
		}
		if !setText(t, name, v) {
			t.SetExtra(name, v)
		}
	}

	dateValue := values[ColDateOfTransaction]
	if dateValue == nil {
		return nil, errors.ParseError(errors.CodeInvalidDate, source, index, ColDateOfTransaction, "", nil)
	}
	date, err := models.ParseTransactionDate(*dateValue)
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidDate, source, index, ColDateOfTransaction, *dateValue, err)
	}
	t.DateOfTransaction = date

	if spec.HasQuantity {
		q, err := requiredInt(values[ColQuantity])
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidNumber, source, index, ColQuantity, display(values[ColQuantity]), err)
		}
		t.Quantity = &q
	}

	for _, col := range spec.Numeric {
		d, err := models.ParseNullDecimal(values[col])
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidNumber, source, index, col, display(values[col]), err)
		}
		setDecimal(t, col, d)
	}

	version, err := requiredInt(values[ColVersion])
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidNumber, source, index, ColVersion, display(values[ColVersion]), err)
	}
	t.Version = version

	if t.CurrencyRate.Valid && t.CurrencyRate.Decimal.IsZero() {
		return nil, errors.DivisionError(source, index, t.TransactionID)
	}
	t.PaidAmountUSD = models.DivNull(t.PaidAmount, t.CurrencyRate)

	if spec.Derive != nil {
		spec.Derive(t)
	}

	if spec.Level2 != "" {
		t.TransactionTypeLevel2 = spec.Level2
	}

	if spec.MarketType != "" {
		column := spec.MarketTypeColumn
		if column == "" || n.options.CorrectMarketTypeKey {
			column = ColMarketType
		}
		if column == ColMarketType {
			t.MarketType = spec.MarketType
		} else {
			t.SetExtra(column, spec.MarketType)
		}
	}

	return t, nil
}

// Deduplicate sorts records by (country, franchisee, user_id,
// transaction_id, version) and keeps one record per key: the one with the
// highest version, the later one in sort order on ties.
func Deduplicate(records []*models.Transaction, key KeyFunc) []*models.Transaction {
	sorted := make([]*models.Transaction, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(sorted[i], sorted[j])
	})

	winner := make(map[string]int, len(sorted))
	for i, r := range sorted {
		k := key(r)
		if prev, ok := winner[k]; !ok || sorted[prev].Version <= r.Version {
			winner[k] = i
		}
	}

	out := make([]*models.Transaction, 0, len(winner))
	for i, r := range sorted {
		if winner[key(r)] == i {
			out = append(out, r)
		}
	}
	return out
}

func less(a, b *models.Transaction) bool {
	if a.Country != b.Country {
		return a.Country < b.Country
	}
	if a.Franchisee != b.Franchisee {
		return a.Franchisee < b.Franchisee
	}
	if a.UserID != b.UserID {
		return a.UserID < b.UserID
	}
	if a.TransactionID != b.TransactionID {
		return a.TransactionID < b.TransactionID
	}
	return a.Version < b.Version
}

func requiredInt(v *string) (int64, error) {
	if v == nil {
		return 0, fmt.Errorf("value is null")
	}
	return models.ParseInteger(*v)
}

func display(v *string) string {
	if v == nil {
		return "<null>"
	}
	return *v
}

func isTyped(spec *CategorySpec, name string) bool {
	switch name {
	case ColDateOfTransaction, ColVersion:
		return true
	case ColQuantity:
		return spec.HasQuantity
	}
	for _, col := range spec.Numeric {
		if col == name {
			return true
		}
	}
	return false
}

func setText(t *models.Transaction, name, v string) bool {
	switch name {
	case ColCountry:
		t.Country = v
	case ColFranchisee:
		t.Franchisee = v
	case ColRegion:
		t.Region = v
	case ColUser:
		t.User = v
	case ColUserID:
		t.UserID = v
	case ColUserType:
		t.UserType = v
	case ColCustomerID:
		t.CustomerID = v
	case ColCustomerName:
		t.CustomerName = v
	case ColPhoneNumber:
		t.PhoneNumber = v
	case ColMarketType:
		t.MarketType = v
	case ColTransactionType:
		t.TransactionType = v
	case ColTransactionTypeLevel2:
		t.TransactionTypeLevel2 = v
	case ColProduct:
		t.Product = v
	case ColProductCategory:
		t.ProductCategory = v
	case ColProductID:
		t.ProductID = v
	case ColTransactionID:
		t.TransactionID = v
	case ColUnitType:
		t.UnitType = v
	default:
		return false
	}
	return true
}

func setDecimal(t *models.Transaction, name string, d decimal.NullDecimal) {
	switch name {
	case ColUnitPrice:
		t.UnitPrice = d
	case ColCurrencyRate:
		t.CurrencyRate = d
	case ColPaidAmount:
		t.PaidAmount = d
	case ColProductAmount:
		t.ProductAmount = d
	case ColCOGS:
		t.COGS = d
	}
}
