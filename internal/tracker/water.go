package tracker

import (
	"time"

	"github.com/smukkama/weather-tracker/internal/analysis"
	"github.com/smukkama/weather-tracker/internal/metrics"
	"github.com/smukkama/weather-tracker/internal/schema"
)

// QuotaReport is one household's usage for a day measured against the quota
type QuotaReport struct {
	Household string
	Day       time.Time
	Total     float64
	Quota     float64
	Ratio     float64
	Limit     float64
	Usage     float64
	Status    analysis.ThresholdStatus
}

// Quota totals a household's usage on day and evaluates it against the daily
// quota. An empty household covers every household.
func (t *Tracker) Quota(day time.Time, household string) (QuotaReport, error) {
	_, rows, err := t.rows(schema.NameWater)
	if err != nil {
		return QuotaReport{}, err
	}
	if household != "" {
		rows = analysis.Where(rows, schema.FieldHousehold, household)
	}

	total := analysis.TotalOn(rows, schema.FieldUsageLiters, day)
	status := analysis.EvaluateThreshold(total, t.opts.DailyQuota, t.opts.WarningRatio)
	metrics.ThresholdEvaluations.WithLabelValues(status.String()).Inc()

	return QuotaReport{
		Household: household,
		Day:       day,
		Total:     total,
		Quota:     t.opts.DailyQuota,
		Ratio:     t.opts.WarningRatio,
		Limit:     t.opts.DailyQuota * t.opts.WarningRatio,
		Usage:     analysis.UsageRatio(total, t.opts.DailyQuota),
		Status:    status,
	}, nil
}

// Today is Quota for the current day
func (t *Tracker) Today(household string) (QuotaReport, error) {
	return t.Quota(t.now(), household)
}
