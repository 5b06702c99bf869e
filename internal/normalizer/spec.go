package normalizer

import (
	"sort"
	"strings"

	"transaction-anomaly-service/internal/models"
)

// Canonical column names shared by every category
const (
	ColCountry               = "country"
	ColFranchisee            = "franchisee"
	ColRegion                = "region"
	ColUser                  = "user"
	ColUserID                = "user_id"
	ColUserType              = "user_type"
	ColCustomerID            = "customer_id"
	ColCustomerName          = "customer_name"
	ColPhoneNumber           = "phone_number"
	ColMarketType            = "market_type"
	ColTransactionType       = "transaction_type"
	ColTransactionTypeLevel2 = "transaction_type_level_2"
	ColProduct               = "product"
	ColProductCategory       = "product_category"
	ColProductID             = "product_id"
	ColDateOfTransaction     = "date_of_transaction"
	ColTransactionID         = "transaction_id"
	ColQuantity              = "quantity"
	ColUnitType              = "unit_type"
	ColUnitPrice             = "unit_price"
	ColCurrencyRate          = "currency_rate"
	ColPaidAmount            = "paid_amount"
	ColProductAmount         = "product_amount"
	ColCOGS                  = "cogs"
	ColVersion               = "version"
)

// QuirkMarketTypeColumn is the misspelled column the machine rent
// transform writes its market type into
const QuirkMarketTypeColumn = "market_type'"

// DeriveFunc fills the category-specific measures of a converted record
type DeriveFunc func(t *models.Transaction)

// KeyFunc returns the deduplication key of a record
type KeyFunc func(t *models.Transaction) string

// CategorySpec is the complete field map of one source table
type CategorySpec struct {
	Category      models.Category
	Table         string
	SourceColumns []string

	// Renames maps source column names to canonical names. Columns not
	// listed keep their source name.
	Renames map[string]string

	// Numeric lists canonical decimal columns coerced for this category
	Numeric []string

	HasQuantity bool

	// Level2 is the constant transaction_type_level_2, empty when the
	// value comes from the source table
	Level2 string

	// MarketType is the constant market type, empty when it comes from
	// the source table. MarketTypeColumn names the column it is written to.
	MarketType       string
	MarketTypeColumn string

	Derive   DeriveFunc
	DedupKey KeyFunc
	KeyDesc  string
}

var commonRenames = map[string]string{
	"country_name":           ColCountry,
	"parent_name":            ColFranchisee,
	"user_region":            ColRegion,
	"user_name":              ColUser,
	"business_category":      ColTransactionType,
	"currency_exchange_rate": ColCurrencyRate,
	"transaction_date":       ColDateOfTransaction,
	"category":               ColProductCategory,
}

func renames(extra map[string]string) map[string]string {
	out := make(map[string]string, len(commonRenames)+len(extra))
	for k, v := range commonRenames {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// TransactionProductKey deduplicates on (transaction_id, product_id)
func TransactionProductKey(t *models.Transaction) string {
	return t.TransactionID + "\x00" + t.ProductID
}

// TransactionKey deduplicates on transaction_id alone
func TransactionKey(t *models.Transaction) string {
	return t.TransactionID
}

var baseNumeric = []string{ColUnitPrice, ColPaidAmount, ColCurrencyRate, ColProductAmount}

var specs = []*CategorySpec{
	{
		Category: models.CategorySale,
		Table:    "gds_sale_transactions",
		SourceColumns: []string{
			"country_name", "parent_name", "user_region", "user_type", "user_name", "user_id",
			"customer_name", "customer_id", "customer_mobile", "market_type", "business_category",
			"product", "category", "product_id", "transaction_date", "transaction_id", "quantity",
			"unit_type", "unit_price", "currency_exchange_rate", "paid_amount", "product_amount",
			"cogs_amount", "version",
		},
		Renames: renames(map[string]string{
			"customer_mobile": ColPhoneNumber,
			"cogs_amount":     ColCOGS,
		}),
		Numeric:     append(append([]string{}, baseNumeric...), ColCOGS),
		HasQuantity: true,
		Level2:      "Sale",
		Derive: func(t *models.Transaction) {
			t.Revenue = t.PaidAmount
			t.RevenueUSD = t.PaidAmountUSD
			t.Profit = models.SubNull(t.Revenue, t.COGS)
			t.ProfitUSD = models.DivNull(t.Profit, t.CurrencyRate)
		},
		DedupKey: TransactionProductKey,
		KeyDesc:  "transaction_id, product_id",
	},
	{
		Category: models.CategoryPurchase,
		Table:    "gds_purchase_transactions",
		SourceColumns: []string{
			"country_name", "parent_name", "user_region", "user_type", "user_name", "user_id",
			"supplier_name", "supplier_mobile", "supplier_id", "market_type", "business_category",
			"product", "category", "product_id", "transaction_date", "transaction_id", "quantity",
			"unit_type", "unit_price", "product_amount", "paid_amount", "currency_exchange_rate",
			"version",
		},
		Renames: renames(map[string]string{
			"supplier_id":     ColCustomerID,
			"supplier_name":   ColCustomerName,
			"supplier_mobile": ColPhoneNumber,
		}),
		Numeric:     baseNumeric,
		HasQuantity: true,
		Level2:      "Purchase",
		Derive: func(t *models.Transaction) {
			t.Purchase = t.PaidAmount
			t.PurchaseUSD = t.PaidAmountUSD
		},
		DedupKey: TransactionProductKey,
		KeyDesc:  "transaction_id, product_id",
	},
	{
		Category: models.CategoryMachineRent,
		Table:    "gds_machine_rent_transactions",
		SourceColumns: []string{
			"country_name", "parent_name", "user_region", "user_type", "user_name", "user_id",
			"customer_name", "customer_mobile", "customer_id", "business_category", "product",
			"category", "product_id", "transaction_date", "transaction_id", "quantity", "unit_type",
			"unit_price", "amount", "paid_amount", "currency_exchange_rate", "version",
		},
		Renames: renames(map[string]string{
			"customer_mobile": ColPhoneNumber,
			"amount":          ColProductAmount,
		}),
		Numeric:          baseNumeric,
		HasQuantity:      true,
		Level2:           "Machinery Rental",
		MarketType:       "Farmer",
		MarketTypeColumn: QuirkMarketTypeColumn,
		// profit mirrors revenue for rentals
		Derive: func(t *models.Transaction) {
			t.Revenue = t.PaidAmount
			t.Profit = t.PaidAmount
			t.RevenueUSD = t.PaidAmountUSD
			t.ProfitUSD = t.PaidAmountUSD
		},
		DedupKey: TransactionProductKey,
		KeyDesc:  "transaction_id, product_id",
	},
	{
		Category: models.CategoryProcessing,
		Table:    "gds_processing_transactions",
		SourceColumns: []string{
			"country_name", "parent_name", "user_region", "user_type", "user_name", "user_id",
			"business_category", "product", "category", "product_id", "transaction_date",
			"transaction_id", "quantity", "unit_type", "unit_price", "amount", "production_cost",
			"currency_exchange_rate", "version",
		},
		Renames: renames(map[string]string{
			"production_cost": ColPaidAmount,
			"amount":          ColProductAmount,
		}),
		Numeric:          baseNumeric,
		HasQuantity:      true,
		Level2:           "Processing",
		MarketType:       "Farmers' Hub",
		MarketTypeColumn: ColMarketType,
		Derive: func(t *models.Transaction) {
			t.Processing = t.PaidAmount
			t.ProcessingUSD = t.PaidAmountUSD
		},
		DedupKey: TransactionProductKey,
		KeyDesc:  "transaction_id, product_id",
	},
	{
		Category: models.CategoryExpense,
		Table:    "gds_expense_transactions",
		SourceColumns: []string{
			"country_name", "parent_name", "user_region", "user_type", "user_name", "user_id",
			"business_category", "expense_type", "expense_category", "product_category",
			"transaction_date", "transaction_id", "currency_exchange_rate", "total_amount", "version",
		},
		Renames: renames(map[string]string{
			"expense_category": ColTransactionTypeLevel2,
			"expense_type":     ColProduct,
			"total_amount":     ColPaidAmount,
		}),
		Numeric:          []string{ColPaidAmount, ColCurrencyRate},
		MarketType:       "Farmers' Hub",
		MarketTypeColumn: ColMarketType,
		Derive: func(t *models.Transaction) {
			t.ProductAmount = t.PaidAmount
			t.Expenses = t.PaidAmount
			t.ExpensesUSD = t.PaidAmountUSD
		},
		DedupKey: TransactionKey,
		KeyDesc:  "transaction_id",
	},
	{
		Category: models.CategoryMachinePurchase,
		Table:    "gds_machine_purchase_transactions",
		SourceColumns: []string{
			"country_name", "parent_name", "user_region", "user_type", "user_name", "user_id",
			"supplier_name", "supplier_mobile", "supplier_id", "business_category", "product",
			"category", "product_id", "transaction_date", "transaction_id", "quantity", "unit_price",
			"total_amount", "paid_amount", "currency_exchange_rate", "version",
		},
		Renames: renames(map[string]string{
			"supplier_id":     ColCustomerID,
			"supplier_name":   ColCustomerName,
			"supplier_mobile": ColPhoneNumber,
			"total_amount":    ColProductAmount,
		}),
		Numeric:          baseNumeric,
		HasQuantity:      true,
		Level2:           "Machinery",
		MarketType:       "Farmer",
		MarketTypeColumn: ColMarketType,
		Derive: func(t *models.Transaction) {
			t.MachinePurchase = t.PaidAmount
			t.MachinePurchaseUSD = t.PaidAmountUSD
		},
		DedupKey: TransactionProductKey,
		KeyDesc:  "transaction_id, product_id",
	},
}

// Specs returns the field maps of all six categories in extraction order
func Specs() []*CategorySpec {
	return specs
}

// SpecFor returns the field map of a category
func SpecFor(category models.Category) (*CategorySpec, bool) {
	for _, s := range specs {
		if s.Category == category {
			return s, true
		}
	}
	return nil, false
}

// CanonicalName returns the canonical column for a source column
func (s *CategorySpec) CanonicalName(source string) string {
	if c, ok := s.Renames[source]; ok {
		return c
	}
	return source
}

// RenameList returns "source→canonical" pairs for columns this category renames
func (s *CategorySpec) RenameList() []string {
	var out []string
	for _, src := range s.SourceColumns {
		if dst, ok := s.Renames[src]; ok {
			out = append(out, src+"→"+dst)
		}
	}
	return out
}

// MeasureColumns lists the category-specific derived measures
func (s *CategorySpec) MeasureColumns() []string {
	switch s.Category {
	case models.CategorySale, models.CategoryMachineRent:
		return []string{"revenue", "revenue_usd", "profit", "profit_usd"}
	case models.CategoryPurchase:
		return []string{"purchase", "purchase_usd"}
	case models.CategoryProcessing:
		return []string{"processing", "processing_usd"}
	case models.CategoryExpense:
		return []string{"expenses", "expenses_usd"}
	case models.CategoryMachinePurchase:
		return []string{"machine_purchase", "machine_purchase_usd"}
	}
	return nil
}

// Describe renders a one-line summary of the field map
func (s *CategorySpec) Describe() string {
	measures := append([]string{}, s.MeasureColumns()...)
	sort.Strings(measures)
	return s.Table + " [" + s.KeyDesc + "] " + strings.Join(measures, ", ")
}
