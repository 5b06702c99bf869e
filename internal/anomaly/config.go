package anomaly

import (
	"fmt"
	"strings"
)

// Policy decides what happens to users whose z-score is undefined
type Policy string

const (
	// PolicyExclude leaves the z-score null so the user never matches
	PolicyExclude Policy = "exclude"
	// PolicyFail aborts detection with an UndefinedStatistic error when a
	// user has fewer than MinObservations aggregates
	PolicyFail Policy = "fail"
)

// IsValid checks if the policy is supported
func (p Policy) IsValid() bool {
	return p == PolicyExclude || p == PolicyFail
}

// Columns names the spreadsheet headers the detector reads
type Columns struct {
	User          string `json:"user" mapstructure:"user"`
	Date          string `json:"date" mapstructure:"date"`
	TransactionID string `json:"transaction_id" mapstructure:"transaction_id"`
	NetAmount     string `json:"net_amount" mapstructure:"net_amount"`
}

// DefaultColumns returns the headers used by the dashboard exports
func DefaultColumns() Columns {
	return Columns{
		User:          "User",
		Date:          "Date of Transaction",
		TransactionID: "Transaction ID",
		NetAmount:     "USD Net Amount",
	}
}

// Config holds the detector settings
type Config struct {
	Threshold       float64 `json:"threshold" mapstructure:"threshold"`
	MinObservations int     `json:"min_observations" mapstructure:"min_observations"`
	Policy          Policy  `json:"policy" mapstructure:"policy"`
	Columns         Columns `json:"columns" mapstructure:"columns"`
}

// DefaultConfig returns |z| > 3 with undefined users excluded
func DefaultConfig() *Config {
	return &Config{
		Threshold:       3,
		MinObservations: 2,
		Policy:          PolicyExclude,
		Columns:         DefaultColumns(),
	}
}

// Validate validates the detector configuration
func (c *Config) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %v", c.Threshold)
	}
	// the sample standard deviation needs two values
	if c.MinObservations < 2 {
		return fmt.Errorf("min observations must be at least 2, got %d", c.MinObservations)
	}
	if !c.Policy.IsValid() {
		return fmt.Errorf("invalid policy: %s", c.Policy)
	}
	for name, v := range map[string]string{
		"user":           c.Columns.User,
		"date":           c.Columns.Date,
		"transaction_id": c.Columns.TransactionID,
		"net_amount":     c.Columns.NetAmount,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("column name for %s cannot be empty", name)
		}
	}
	return nil
}
