// Package anomaly flags transactions whose total is an outlier within the
// user's own history.
//
// Line items are grouped by (user, date, transaction id) into count and sum.
// Each user's sums are standardized with the sample standard deviation
// (divisor n-1) and aggregates with |z| above the threshold are reported.
package anomaly

import (
	"math"
	"sort"

	"transaction-anomaly-service/internal/models"
	"transaction-anomaly-service/pkg/errors"
	"transaction-anomaly-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Detector computes per-user z-scores over aggregated transactions
type Detector struct {
	config *Config
	logger logger.Logger
}

// NewDetector creates a detector
func NewDetector(config *Config, log logger.Logger) (*Detector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "anomaly", config, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Detector{
		config: config,
		logger: log.WithComponent("anomaly"),
	}, nil
}

// Config returns the active configuration
func (d *Detector) Config() *Config {
	return d.config
}

// Aggregate groups observations and attaches a z-score to every group.
// The result is ordered by user, date and transaction id.
func (d *Detector) Aggregate(observations []models.Observation) ([]*models.Aggregate, error) {
	groups := make(map[models.GroupKey]*models.Aggregate)
	for _, o := range observations {
		key := o.Key()
		agg, ok := groups[key]
		if !ok {
			agg = &models.Aggregate{GroupKey: key, Sum: decimal.Zero}
			groups[key] = agg
		}
		if o.NetAmount.Valid {
			agg.Count++
			agg.Sum = agg.Sum.Add(o.NetAmount.Decimal)
		}
	}

	aggregates := make([]*models.Aggregate, 0, len(groups))
	for _, agg := range groups {
		aggregates = append(aggregates, agg)
	}
	sort.Slice(aggregates, func(i, j int) bool {
		a, b := aggregates[i], aggregates[j]
		if a.User != b.User {
			return a.User < b.User
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.TransactionID < b.TransactionID
	})

	undefined := 0
	for start := 0; start < len(aggregates); {
		end := start
		for end < len(aggregates) && aggregates[end].User == aggregates[start].User {
			end++
		}
		user := aggregates[start:end]

		if len(user) < d.config.MinObservations && d.config.Policy == PolicyFail {
			return nil, errors.StatisticError(user[0].User, len(user))
		}
		if !scoreUser(user, d.config.MinObservations) {
			undefined++
		}
		start = end
	}

	d.logger.WithFields(logger.Fields{
		"observations":    len(observations),
		"aggregates":      len(aggregates),
		"undefined_users": undefined,
	}).Debug("Aggregated observations")

	return aggregates, nil
}

// scoreUser sets the z-score of each aggregate of one user. It returns false
// when the z-score is undefined.
func scoreUser(user []*models.Aggregate, minObservations int) bool {
	n := len(user)
	if n < minObservations || n < 2 {
		return false
	}

	values := make([]float64, n)
	var mean float64
	for i, agg := range user {
		values[i] = agg.Sum.InexactFloat64()
		mean += values[i]
	}
	mean /= float64(n)

	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(n-1))
	if std == 0 || math.IsNaN(std) || math.IsInf(std, 0) {
		return false
	}

	for i, agg := range user {
		z := (values[i] - mean) / std
		agg.ZScore = &z
	}
	return true
}

// Select keeps aggregates whose z-score magnitude exceeds the threshold
func (d *Detector) Select(aggregates []*models.Aggregate) []*models.Aggregate {
	var out []*models.Aggregate
	for _, agg := range aggregates {
		if agg.ZScore != nil && math.Abs(*agg.ZScore) > d.config.Threshold {
			out = append(out, agg)
		}
	}
	return out
}

// Detect aggregates the observations and returns every aggregate together
// with the anomalous ones
func (d *Detector) Detect(observations []models.Observation) (aggregates, anomalies []*models.Aggregate, err error) {
	aggregates, err = d.Aggregate(observations)
	if err != nil {
		return nil, nil, err
	}

	anomalies = d.Select(aggregates)
	d.logger.WithFields(logger.Fields{
		"aggregates": len(aggregates),
		"anomalies":  len(anomalies),
		"threshold":  d.config.Threshold,
	}).Info("Anomaly detection completed")

	return aggregates, anomalies, nil
}

// ObservationsFromTable reads observations from a loaded spreadsheet table.
// Rows with a null user, date or transaction id are skipped; a null net
// amount is kept and ignored by the aggregation.
func ObservationsFromTable(table *models.Table, columns Columns) ([]models.Observation, int, error) {
	const source = "spreadsheet"

	if table == nil {
		return nil, 0, nil
	}
	for _, col := range []string{columns.User, columns.Date, columns.TransactionID, columns.NetAmount} {
		if !table.HasColumn(col) {
			return nil, 0, errors.ParseError(errors.CodeMissingColumn, source, 0, col, "", nil)
		}
	}

	observations := make([]models.Observation, 0, len(table.Rows))
	skipped := 0
	for i, row := range table.Rows {
		user, okUser := row.Get(columns.User)
		date, okDate := row.Get(columns.Date)
		id, okID := row.Get(columns.TransactionID)
		if !okUser || !okDate || !okID {
			skipped++
			continue
		}

		amount, err := models.ParseNullDecimal(row.Ptr(columns.NetAmount))
		if err != nil {
			return nil, 0, errors.ParseError(errors.CodeInvalidNumber, source, i,
				columns.NetAmount, row[columns.NetAmount], err)
		}

		observations = append(observations, models.Observation{
			User:          user,
			Date:          date,
			TransactionID: id,
			NetAmount:     amount,
		})
	}

	return observations, skipped, nil
}
