package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category identifies the source table family a transaction was extracted from
type Category string

const (
	CategorySale            Category = "sale"
	CategoryPurchase        Category = "purchase"
	CategoryMachineRent     Category = "machine_rent"
	CategoryProcessing      Category = "processing"
	CategoryExpense         Category = "expense"
	CategoryMachinePurchase Category = "machine_purchase"
)

// AllCategories returns every category in extraction order
func AllCategories() []Category {
	return []Category{
		CategorySale,
		CategoryPurchase,
		CategoryMachineRent,
		CategoryProcessing,
		CategoryExpense,
		CategoryMachinePurchase,
	}
}

// String returns the string representation of Category
func (c Category) String() string {
	return string(c)
}

// IsValid checks if the category is one of the known categories
func (c Category) IsValid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory parses a category name, accepting dashes and mixed case
func ParseCategory(s string) (Category, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	c := Category(normalized)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid category '%s'", s)
	}
	return c, nil
}

// DateLayout is the text layout of date_of_transaction in every source table
const DateLayout = "2006/01/02"

// Transaction is the canonical record every category is normalized into.
// Measures that a category does not populate stay null.
type Transaction struct {
	Category Category `json:"category"`

	Country               string    `json:"country"`
	Franchisee            string    `json:"franchisee"`
	Region                string    `json:"region"`
	User                  string    `json:"user"`
	UserID                string    `json:"user_id"`
	UserType              string    `json:"user_type"`
	CustomerID            string    `json:"customer_id,omitempty"`
	CustomerName          string    `json:"customer_name,omitempty"`
	PhoneNumber           string    `json:"phone_number,omitempty"`
	MarketType            string    `json:"market_type,omitempty"`
	TransactionType       string    `json:"transaction_type"`
	TransactionTypeLevel2 string    `json:"transaction_type_level_2"`
	Product               string    `json:"product"`
	ProductCategory       string    `json:"product_category"`
	ProductID             string    `json:"product_id,omitempty"`
	DateOfTransaction     time.Time `json:"date_of_transaction"`
	TransactionID         string    `json:"transaction_id"`
	Quantity              *int64    `json:"quantity,omitempty"`
	UnitType              string    `json:"unit_type,omitempty"`

	UnitPrice     decimal.NullDecimal `json:"unit_price"`
	CurrencyRate  decimal.NullDecimal `json:"currency_rate"`
	PaidAmount    decimal.NullDecimal `json:"paid_amount"`
	PaidAmountUSD decimal.NullDecimal `json:"paid_amount_usd"`
	ProductAmount decimal.NullDecimal `json:"product_amount"`
	COGS          decimal.NullDecimal `json:"cogs"`

	Revenue            decimal.NullDecimal `json:"revenue"`
	RevenueUSD         decimal.NullDecimal `json:"revenue_usd"`
	Profit             decimal.NullDecimal `json:"profit"`
	ProfitUSD          decimal.NullDecimal `json:"profit_usd"`
	Purchase           decimal.NullDecimal `json:"purchase"`
	PurchaseUSD        decimal.NullDecimal `json:"purchase_usd"`
	Processing         decimal.NullDecimal `json:"processing"`
	ProcessingUSD      decimal.NullDecimal `json:"processing_usd"`
	Expenses           decimal.NullDecimal `json:"expenses"`
	ExpensesUSD        decimal.NullDecimal `json:"expenses_usd"`
	MachinePurchase    decimal.NullDecimal `json:"machine_purchase"`
	MachinePurchaseUSD decimal.NullDecimal `json:"machine_purchase_usd"`

	Version int64 `json:"version"`

	// Extra holds source columns with no canonical field
	Extra map[string]string `json:"extra,omitempty"`
}

// SetExtra stores a non-canonical column value
func (t *Transaction) SetExtra(column, value string) {
	if t.Extra == nil {
		t.Extra = make(map[string]string)
	}
	t.Extra[column] = value
}

// NetAmountUSD is the anomaly signal for the transaction
func (t *Transaction) NetAmountUSD() decimal.NullDecimal {
	return t.PaidAmountUSD
}

// String returns a string representation of the Transaction
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{Category: %s, ID: %s, Product: %s, Version: %d, Date: %s}",
		t.Category, t.TransactionID, t.ProductID, t.Version, t.DateOfTransaction.Format("2006-01-02"))
}

// MarshalJSON renders the date without a time component
func (t *Transaction) MarshalJSON() ([]byte, error) {
	type Alias Transaction
	return json.Marshal(&struct {
		DateOfTransaction string `json:"date_of_transaction"`
		*Alias
	}{
		DateOfTransaction: t.DateOfTransaction.Format("2006-01-02"),
		Alias:             (*Alias)(t),
	})
}

// ParseDecimalFromString parses a decimal value from string
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseNullDecimal parses an optional decimal; a nil input yields a null value
func ParseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := ParseDecimalFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// ParseInteger parses an integer column. Fractional values are truncated
// toward zero, matching how the source tables store quantities as floats.
func ParseInteger(s string) (int64, error) {
	d, err := ParseDecimalFromString(s)
	if err != nil {
		return 0, err
	}
	return d.IntPart(), nil
}

// ParseTransactionDate parses date_of_transaction in the fixed source layout
func ParseTransactionDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unable to parse date '%s' as YYYY/MM/DD: %w", s, err)
	}
	return d, nil
}

// DivNull divides two nullable decimals; the result is null when either side is.
// The caller must guard against a zero divisor.
func DivNull(a, b decimal.NullDecimal) decimal.NullDecimal {
	if !a.Valid || !b.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(a.Decimal.Div(b.Decimal))
}

// SubNull subtracts two nullable decimals with null propagation
func SubNull(a, b decimal.NullDecimal) decimal.NullDecimal {
	if !a.Valid || !b.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(a.Decimal.Sub(b.Decimal))
}

// FormatNullDecimal renders a nullable decimal, or "" when null
func FormatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
