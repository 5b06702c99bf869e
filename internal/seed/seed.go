// Package seed generates synthetic category tables with known outliers.
//
// Every user gets a home country, and with it a currency rate, and the same
// number of transactions in each configured category with USD amounts drawn
// uniformly from [MinAmount, MaxAmount]. Each user then gets Outliers extra
// transactions of MaxAmount times OutlierFactor in the first category. A
// share of the ordinary records is emitted twice, the second time as
// version 2 with a new amount, so the normalizer's deduplication has work
// to do.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"transaction-anomaly-service/internal/models"
	"transaction-anomaly-service/internal/normalizer"
	"transaction-anomaly-service/pkg/errors"
	"transaction-anomaly-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Country is a market and the local currency units per USD
type Country struct {
	Name   string
	Region string
	Rate   decimal.Decimal
}

// DefaultCountries are the markets users are spread over
var DefaultCountries = []Country{
	{Name: "Kenya", Region: "Rift Valley", Rate: decimal.RequireFromString("129.5")},
	{Name: "Uganda", Region: "Central", Rate: decimal.RequireFromString("3700")},
	{Name: "Tanzania", Region: "Arusha", Rate: decimal.RequireFromString("2500")},
}

var products = []string{"Maize", "Beans", "Fertilizer", "Seedlings", "Tractor Hours", "Milling"}

var idPrefix = map[models.Category]string{
	models.CategorySale:            "SAL",
	models.CategoryPurchase:        "PUR",
	models.CategoryMachineRent:     "MRT",
	models.CategoryProcessing:      "PRC",
	models.CategoryExpense:         "EXP",
	models.CategoryMachinePurchase: "MPU",
}

// Config controls the generated dataset
type Config struct {
	Users         int               `json:"users"`
	Transactions  int               `json:"transactions"`
	Outliers      int               `json:"outliers"`
	OutlierFactor int64             `json:"outlier_factor"`
	DuplicateRate float64           `json:"duplicate_rate"`
	Categories    []models.Category `json:"categories"`
	StartDate     time.Time         `json:"start_date"`
	Days          int               `json:"days"`
	MinAmount     decimal.Decimal   `json:"min_amount"`
	MaxAmount     decimal.Decimal   `json:"max_amount"`
	Seed          int64             `json:"seed"`
}

// DefaultConfig returns ten users with twenty transactions per category and
// one outlier each
func DefaultConfig() *Config {
	return &Config{
		Users:         10,
		Transactions:  20,
		Outliers:      1,
		OutlierFactor: 50,
		DuplicateRate: 0.05,
		Categories:    models.AllCategories(),
		StartDate:     time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		Days:          365,
		MinAmount:     decimal.NewFromInt(10),
		MaxAmount:     decimal.NewFromInt(500),
		Seed:          1,
	}
}

// Validate validates the generator configuration
func (c *Config) Validate() error {
	switch {
	case c.Users <= 0:
		return fmt.Errorf("users must be positive, got %d", c.Users)
	case c.Transactions <= 0:
		return fmt.Errorf("transactions must be positive, got %d", c.Transactions)
	case c.Outliers < 0:
		return fmt.Errorf("outliers cannot be negative, got %d", c.Outliers)
	case c.OutlierFactor <= 1:
		return fmt.Errorf("outlier factor must be greater than 1, got %d", c.OutlierFactor)
	case c.DuplicateRate < 0 || c.DuplicateRate > 1:
		return fmt.Errorf("duplicate rate must be between 0 and 1, got %v", c.DuplicateRate)
	case c.Days <= 0:
		return fmt.Errorf("days must be positive, got %d", c.Days)
	case !c.MinAmount.IsPositive() || c.MaxAmount.LessThan(c.MinAmount):
		return fmt.Errorf("amount range [%s, %s] is invalid", c.MinAmount, c.MaxAmount)
	case len(c.Categories) == 0:
		return fmt.Errorf("at least one category is required")
	}
	for _, category := range c.Categories {
		if _, ok := normalizer.SpecFor(category); !ok {
			return fmt.Errorf("unknown category: %s", category)
		}
	}
	return nil
}

// Outlier is one planted transaction the detector should flag
type Outlier struct {
	Category      models.Category `json:"category"`
	User          string          `json:"user"`
	TransactionID string          `json:"transaction_id"`
	AmountUSD     decimal.Decimal `json:"amount_usd"`
}

// Dataset is the generated source tables
type Dataset struct {
	Tables     map[models.Category]*models.Table `json:"-"`
	Outliers   []Outlier                         `json:"outliers"`
	Rows       int                               `json:"rows"`
	Duplicates int                               `json:"duplicates"`
}

// Sink receives generated tables
type Sink interface {
	Store(ctx context.Context, table string, data *models.Table) error
}

// Generator builds datasets from a Config
type Generator struct {
	config *Config
	logger logger.Logger
}

// New validates the configuration and creates a generator
func New(config *Config, log logger.Logger) (*Generator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "seed", config.Seed, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Generator{config: config, logger: log.WithComponent("seed")}, nil
}

type user struct {
	index   int
	name    string
	country Country
}

// Generate builds the dataset. The same Config always yields the same rows.
func (g *Generator) Generate() *Dataset {
	rng := rand.New(rand.NewSource(g.config.Seed))
	dataset := &Dataset{Tables: make(map[models.Category]*models.Table, len(g.config.Categories))}

	users := make([]user, g.config.Users)
	for i := range users {
		users[i] = user{
			index:   i,
			name:    fmt.Sprintf("user%03d", i+1),
			country: DefaultCountries[i%len(DefaultCountries)],
		}
	}

	for ci, category := range g.config.Categories {
		spec, _ := normalizer.SpecFor(category)
		table := models.NewTable(spec.SourceColumns...)

		for _, u := range users {
			n := 0
			for ; n < g.config.Transactions; n++ {
				usd := g.amount(rng)
				row := g.row(rng, spec, u, n, usd)
				table.Rows = append(table.Rows, row)

				if rng.Float64() < g.config.DuplicateRate {
					revised := make(models.Row, len(row))
					for k, v := range row {
						revised[k] = v
					}
					setAmounts(spec, revised, u.country, g.amount(rng))
					revised["version"] = "2"
					table.Rows = append(table.Rows, revised)
					dataset.Duplicates++
				}
			}

			if ci != 0 {
				continue
			}
			for o := 0; o < g.config.Outliers; o++ {
				usd := g.config.MaxAmount.Mul(decimal.NewFromInt(g.config.OutlierFactor))
				row := g.row(rng, spec, u, n+o, usd)
				table.Rows = append(table.Rows, row)
				dataset.Outliers = append(dataset.Outliers, Outlier{
					Category:      category,
					User:          u.name,
					TransactionID: row["transaction_id"],
					AmountUSD:     usd,
				})
			}
		}

		dataset.Tables[category] = table
		dataset.Rows += table.Len()
	}

	g.logger.WithFields(logger.Fields{
		"categories": len(dataset.Tables),
		"rows":       dataset.Rows,
		"outliers":   len(dataset.Outliers),
		"duplicates": dataset.Duplicates,
	}).Info("Dataset generated")

	return dataset
}

// amount draws a USD amount in cents from the configured range
func (g *Generator) amount(rng *rand.Rand) decimal.Decimal {
	spread := g.config.MaxAmount.Sub(g.config.MinAmount)
	return g.config.MinAmount.Add(spread.Mul(decimal.NewFromFloat(rng.Float64()))).Round(2)
}

func (g *Generator) row(rng *rand.Rand, spec *normalizer.CategorySpec, u user, n int, usd decimal.Decimal) models.Row {
	date := g.config.StartDate.AddDate(0, 0, rng.Intn(g.config.Days))
	quantity := rng.Intn(5) + 1
	product := rng.Intn(len(products))

	row := make(models.Row, len(spec.SourceColumns))
	for _, col := range spec.SourceColumns {
		var v string
		switch spec.CanonicalName(col) {
		case normalizer.ColCountry:
			v = u.country.Name
		case normalizer.ColFranchisee:
			v = u.country.Name + " Hub " + strconv.Itoa(u.index%2+1)
		case normalizer.ColRegion:
			v = u.country.Region
		case normalizer.ColUser:
			v = u.name
		case normalizer.ColUserID:
			v = strconv.Itoa(1000 + u.index)
		case normalizer.ColUserType:
			v = "Agent"
		case normalizer.ColCustomerName:
			v = fmt.Sprintf("Partner %02d", rng.Intn(20)+1)
		case normalizer.ColCustomerID:
			v = fmt.Sprintf("C%04d", rng.Intn(9000)+1000)
		case normalizer.ColPhoneNumber:
			v = fmt.Sprintf("07%08d", rng.Intn(100000000))
		case normalizer.ColMarketType:
			v = "Farmer"
		case normalizer.ColTransactionType:
			v = "Agriculture"
		case normalizer.ColTransactionTypeLevel2:
			v = "Operations"
		case normalizer.ColProduct:
			v = products[product]
		case normalizer.ColProductCategory:
			v = "Inputs"
		case normalizer.ColProductID:
			v = fmt.Sprintf("P%03d", product+1)
		case normalizer.ColDateOfTransaction:
			v = date.Format(models.DateLayout)
		case normalizer.ColTransactionID:
			v = fmt.Sprintf("%s-%03d-%05d", idPrefix[spec.Category], u.index+1, n+1)
		case normalizer.ColQuantity:
			v = strconv.Itoa(quantity)
		case normalizer.ColUnitType:
			v = "kg"
		case normalizer.ColVersion:
			v = "1"
		default:
			v = col
		}
		row[col] = v
	}

	setAmounts(spec, row, u.country, usd)
	return row
}

// setAmounts writes the local currency columns for a USD amount
func setAmounts(spec *normalizer.CategorySpec, row models.Row, country Country, usd decimal.Decimal) {
	local := usd.Mul(country.Rate).Round(2)
	quantity := decimal.NewFromInt(1)
	if q, err := decimal.NewFromString(row["quantity"]); err == nil && q.IsPositive() {
		quantity = q
	}

	for _, col := range spec.SourceColumns {
		switch spec.CanonicalName(col) {
		case normalizer.ColCurrencyRate:
			row[col] = country.Rate.String()
		case normalizer.ColPaidAmount, normalizer.ColProductAmount:
			row[col] = local.StringFixed(2)
		case normalizer.ColUnitPrice:
			row[col] = local.Div(quantity).StringFixed(2)
		case normalizer.ColCOGS:
			row[col] = local.Mul(decimal.NewFromFloat(0.6)).StringFixed(2)
		}
	}
}

// Store writes every table of the dataset to the sink in extraction order
func (d *Dataset) Store(ctx context.Context, sink Sink) error {
	for _, spec := range normalizer.Specs() {
		table, ok := d.Tables[spec.Category]
		if !ok {
			continue
		}
		if err := sink.Store(ctx, spec.Table, table); err != nil {
			return err
		}
	}
	return nil
}
