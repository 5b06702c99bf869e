package anomaly

import (
	"fmt"
	"math"
	"testing"

	"transaction-anomaly-service/internal/models"
	"transaction-anomaly-service/pkg/errors"

	"github.com/shopspring/decimal"
)

func obs(user, date, id, amount string) models.Observation {
	o := models.Observation{User: user, Date: date, TransactionID: id}
	if amount != "" {
		o.NetAmount = decimal.NewNullDecimal(decimal.RequireFromString(amount))
	}
	return o
}

// userSums builds one single-line transaction per sum, on distinct dates
func userSums(user string, sums ...string) []models.Observation {
	var out []models.Observation
	for i, s := range sums {
		out = append(out, obs(user, fmt.Sprintf("2023-01-%02d", i+1), fmt.Sprintf("%s-T%02d", user, i), s))
	}
	return out
}

func repeat(value string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func newDetector(t *testing.T, config *Config) *Detector {
	t.Helper()
	d, err := NewDetector(config, nil)
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}
	return d
}

func anomaliesFor(anomalies []*models.Aggregate, user string) []*models.Aggregate {
	var out []*models.Aggregate
	for _, a := range anomalies {
		if a.User == user {
			out = append(out, a)
		}
	}
	return out
}

func TestDetectSingleOutlier(t *testing.T) {
	d := newDetector(t, nil)

	sums := append(repeat("10", 20), "1000")
	_, anomalies, err := d.Detect(userSums("U", sums...))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	if len(anomalies) != 1 {
		t.Fatalf("expected exactly one anomaly, got %d", len(anomalies))
	}
	got := anomalies[0]
	if !got.Sum.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected the 1000 transaction, got sum %s", got.Sum)
	}

	// a single outlier among n values has z = (n-1)/sqrt(n)
	want := 20 / math.Sqrt(21)
	if math.Abs(*got.ZScore-want) > 1e-9 {
		t.Errorf("expected z %.6f, got %.6f", want, *got.ZScore)
	}
}

func TestFiveValueOutlierIsBoundedBelowThreshold(t *testing.T) {
	d := newDetector(t, nil)

	aggregates, err := d.Aggregate(userSums("U", "10", "10", "10", "10", "1000"))
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	var top *models.Aggregate
	for _, a := range aggregates {
		if a.Sum.Equal(decimal.NewFromInt(1000)) {
			top = a
		}
	}
	if top == nil || top.ZScore == nil {
		t.Fatal("expected a z-score for the 1000 transaction")
	}
	if want := 4 / math.Sqrt(5); math.Abs(*top.ZScore-want) > 1e-9 {
		t.Errorf("expected z %.6f, got %.6f", want, *top.ZScore)
	}
	if len(d.Select(aggregates)) != 0 {
		t.Error("five samples cannot reach |z| > 3")
	}
}

func TestDetectNoOutlier(t *testing.T) {
	d := newDetector(t, nil)

	_, anomalies, err := d.Detect(userSums("V", "10", "11", "9", "10"))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(anomaliesFor(anomalies, "V")) != 0 {
		t.Errorf("expected no anomalies for V, got %v", anomalies)
	}
}

func TestDetectNegativeOutlier(t *testing.T) {
	d := newDetector(t, nil)

	sums := append(repeat("500", 15), "-2000")
	_, anomalies, err := d.Detect(userSums("W", sums...))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(anomalies) != 1 || *anomalies[0].ZScore > -3 {
		t.Fatalf("expected one negative outlier, got %v", anomalies)
	}
}

func TestUsersAreScoredIndependently(t *testing.T) {
	d := newDetector(t, nil)

	var observations []models.Observation
	observations = append(observations, userSums("U", append(repeat("10", 20), "1000")...)...)
	observations = append(observations, userSums("V", "10", "11", "9", "10")...)
	// V's values would be outliers in U's distribution
	observations = append(observations, userSums("X", append(repeat("1000", 20), "1010")...)...)

	_, anomalies, err := d.Detect(observations)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(anomaliesFor(anomalies, "U")) != 1 {
		t.Errorf("expected one anomaly for U, got %d", len(anomaliesFor(anomalies, "U")))
	}
	if len(anomaliesFor(anomalies, "V")) != 0 {
		t.Errorf("expected no anomaly for V")
	}
	if len(anomaliesFor(anomalies, "X")) != 1 {
		t.Errorf("expected one anomaly for X, got %d", len(anomaliesFor(anomalies, "X")))
	}
}

func TestSingleObservationUser(t *testing.T) {
	observations := append(userSums("solo", "999"), userSums("V", "10", "11", "9", "10")...)

	t.Run("excluded by default", func(t *testing.T) {
		d := newDetector(t, nil)
		aggregates, err := d.Aggregate(observations)
		if err != nil {
			t.Fatalf("Aggregate() error = %v", err)
		}
		for _, a := range aggregates {
			if a.User == "solo" && a.ZScore != nil {
				t.Errorf("expected undefined z-score for single observation, got %v", *a.ZScore)
			}
		}
		if len(anomaliesFor(d.Select(aggregates), "solo")) != 0 {
			t.Error("single observation user must not be reported")
		}
	})

	t.Run("fails under strict policy", func(t *testing.T) {
		config := DefaultConfig()
		config.Policy = PolicyFail
		d := newDetector(t, config)

		_, _, err := d.Detect(observations)
		if err == nil {
			t.Fatal("expected UndefinedStatistic error")
		}
		if !errors.IsCategory(err, errors.CategoryStatistic) {
			t.Errorf("expected statistic error, got %v", err)
		}
		pErr, _ := errors.As(err)
		if pErr.Context["user"] != "solo" || pErr.Context["observations"] != 1 {
			t.Errorf("unexpected context %v", pErr.Context)
		}
	})
}

func TestZeroSpreadIsExcluded(t *testing.T) {
	config := DefaultConfig()
	config.Policy = PolicyFail
	d := newDetector(t, config)

	aggregates, err := d.Aggregate(userSums("flat", "5", "5", "5"))
	if err != nil {
		t.Fatalf("zero spread should not fail, got %v", err)
	}
	for _, a := range aggregates {
		if a.ZScore != nil {
			t.Errorf("expected undefined z-score for constant sums, got %v", *a.ZScore)
		}
	}
}

func TestMinObservations(t *testing.T) {
	config := DefaultConfig()
	config.MinObservations = 5
	d := newDetector(t, config)

	aggregates, err := d.Aggregate(userSums("U", "1", "2", "3", "4"))
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	for _, a := range aggregates {
		if a.ZScore != nil {
			t.Error("expected users below the minimum to stay unscored")
		}
	}
}

func TestAggregateCountAndSum(t *testing.T) {
	d := newDetector(t, nil)

	observations := []models.Observation{
		obs("U", "2023-01-01", "T1", "10.5"),
		obs("U", "2023-01-01", "T1", "4.5"),
		obs("U", "2023-01-01", "T1", ""),
		obs("U", "2023-01-02", "T1", "7"),
		obs("U", "2023-01-01", "T2", "1"),
	}

	aggregates, err := d.Aggregate(observations)
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if len(aggregates) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(aggregates))
	}

	first := aggregates[0]
	if first.Date != "2023-01-01" || first.TransactionID != "T1" {
		t.Fatalf("expected ordered groups, first is %v", first)
	}
	if first.Count != 2 {
		t.Errorf("expected null amounts to be left out of count, got %d", first.Count)
	}
	if !first.Sum.Equal(decimal.NewFromInt(15)) {
		t.Errorf("expected sum 15, got %s", first.Sum)
	}
}

func TestObservationsFromTable(t *testing.T) {
	cols := DefaultColumns()

	t.Run("reads rows", func(t *testing.T) {
		table := models.NewTable(cols.User, cols.Date, cols.TransactionID, cols.NetAmount, "Region")
		table.Append(models.Row{cols.User: "alice", cols.Date: "2023-01-01", cols.TransactionID: "T1", cols.NetAmount: "12.5"})
		table.Append(models.Row{cols.User: "alice", cols.Date: "2023-01-01", cols.TransactionID: "T2"})
		table.Append(models.Row{cols.Date: "2023-01-01", cols.TransactionID: "T3", cols.NetAmount: "1"})

		observations, skipped, err := ObservationsFromTable(table, cols)
		if err != nil {
			t.Fatalf("ObservationsFromTable() error = %v", err)
		}
		if len(observations) != 2 || skipped != 1 {
			t.Fatalf("expected 2 observations and 1 skipped, got %d and %d", len(observations), skipped)
		}
		if !observations[0].NetAmount.Decimal.Equal(decimal.RequireFromString("12.5")) {
			t.Errorf("unexpected amount %v", observations[0].NetAmount)
		}
		if observations[1].NetAmount.Valid {
			t.Error("expected null amount for empty cell")
		}
	})

	t.Run("missing column", func(t *testing.T) {
		table := models.NewTable(cols.User, cols.Date, cols.TransactionID)
		_, _, err := ObservationsFromTable(table, cols)
		if !errors.IsCategory(err, errors.CategoryParse) {
			t.Fatalf("expected parse error, got %v", err)
		}
		pErr, _ := errors.As(err)
		if pErr.Code != errors.CodeMissingColumn {
			t.Errorf("expected missing column code, got %s", pErr.Code)
		}
	})

	t.Run("non numeric amount", func(t *testing.T) {
		table := models.NewTable(cols.User, cols.Date, cols.TransactionID, cols.NetAmount)
		table.Append(models.Row{cols.User: "a", cols.Date: "d", cols.TransactionID: "t", cols.NetAmount: "n/a"})
		_, _, err := ObservationsFromTable(table, cols)
		if !errors.IsCategory(err, errors.CategoryParse) {
			t.Fatalf("expected parse error, got %v", err)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"zero threshold", func(c *Config) { c.Threshold = 0 }, true},
		{"one observation", func(c *Config) { c.MinObservations = 1 }, true},
		{"bad policy", func(c *Config) { c.Policy = "ignore" }, true},
		{"empty column", func(c *Config) { c.Columns.NetAmount = " " }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if _, err := NewDetector(c, nil); (err != nil) != tt.wantErr {
				t.Errorf("NewDetector() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
