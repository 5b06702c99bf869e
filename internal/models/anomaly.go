package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Observation is one ledger line as seen by the anomaly detector
type Observation struct {
	User          string              `json:"user"`
	Date          string              `json:"date_of_transaction"`
	TransactionID string              `json:"transaction_id"`
	NetAmount     decimal.NullDecimal `json:"usd_net_amount"`
}

// GroupKey identifies an aggregate: one transaction of one user on one day
type GroupKey struct {
	User          string `json:"user"`
	Date          string `json:"date_of_transaction"`
	TransactionID string `json:"transaction_id"`
}

// Key returns the aggregation key of the observation
func (o Observation) Key() GroupKey {
	return GroupKey{User: o.User, Date: o.Date, TransactionID: o.TransactionID}
}

// Aggregate summarizes the line items of one transaction. Count covers
// non-null net amounts only and Sum skips nulls. ZScore is nil when the
// user's distribution has no defined spread.
type Aggregate struct {
	GroupKey
	Count  int             `json:"count"`
	Sum    decimal.Decimal `json:"sum"`
	ZScore *float64        `json:"z_score"`
}

// HasZScore reports whether a z-score was computed
func (a *Aggregate) HasZScore() bool {
	return a.ZScore != nil
}

// String returns a string representation of the Aggregate
func (a *Aggregate) String() string {
	z := "undefined"
	if a.ZScore != nil {
		z = fmt.Sprintf("%.4f", *a.ZScore)
	}
	return fmt.Sprintf("Aggregate{User: %s, Date: %s, ID: %s, Count: %d, Sum: %s, Z: %s}",
		a.User, a.Date, a.TransactionID, a.Count, a.Sum.String(), z)
}
