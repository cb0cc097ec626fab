// Package anomaly provides the outlier scorers the analysis engine can be
// configured with. Each one labels a whole series at once.
package anomaly

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/smukkama/weather-tracker/pkg/config"
)

// ErrInsufficientData is returned when a series is too short or too flat to fit
var ErrInsufficientData = errors.New("not enough distinct values to score")

// Defaults used when a scorer is built without an explicit parameter
const (
	DefaultZThreshold        = 3.0
	DefaultRobustThreshold   = 3.5
	DefaultContaminationRate = 0.1
)

// Scorer is a named outlier classifier
type Scorer interface {
	Name() string
	Score(series []float64) ([]bool, error)
}

// ZScore flags values whose standard score is at least Threshold
type ZScore struct {
	Threshold float64
}

func (z ZScore) Name() string { return "zscore" }

func (z ZScore) Score(series []float64) ([]bool, error) {
	if err := checkSeries(series); err != nil {
		return nil, err
	}

	threshold := z.Threshold
	if threshold <= 0 {
		threshold = DefaultZThreshold
	}

	mean, std := stat.MeanStdDev(series, nil)
	labels := make([]bool, len(series))
	for i, v := range series {
		labels[i] = math.Abs(v-mean)/std >= threshold
	}
	return labels, nil
}

// RobustZScore flags values by the modified z-score built from the median
// and the median absolute deviation, which a single extreme value cannot drag.
type RobustZScore struct {
	Threshold float64
}

func (r RobustZScore) Name() string { return "robust" }

func (r RobustZScore) Score(series []float64) ([]bool, error) {
	if err := checkSeries(series); err != nil {
		return nil, err
	}

	threshold := r.Threshold
	if threshold <= 0 {
		threshold = DefaultRobustThreshold
	}

	med := median(series)
	dev := deviations(series, med)

	// 0.6745 scales MAD to the standard deviation of a normal distribution
	scale := median(dev) / 0.6745
	if scale == 0 {
		// More than half the values sit on the median; fall back to the mean
		// absolute deviation so the rest are still scored.
		scale = stat.Mean(dev, nil) * 1.253314
	}

	labels := make([]bool, len(series))
	for i, d := range dev {
		labels[i] = d/scale >= threshold
	}
	return labels, nil
}

// Contamination labels a fixed share of the series as outliers: the
// ceil(Rate*n) values farthest from the median.
type Contamination struct {
	Rate float64
}

func (c Contamination) Name() string { return "contamination" }

func (c Contamination) Score(series []float64) ([]bool, error) {
	if err := checkSeries(series); err != nil {
		return nil, err
	}

	rate := c.Rate
	if rate == 0 {
		rate = DefaultContaminationRate
	}
	if rate < 0 || rate > 0.5 {
		return nil, fmt.Errorf("contamination rate must be in (0, 0.5], got %v", rate)
	}

	dev := deviations(series, median(series))
	order := make([]int, len(series))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dev[order[a]] > dev[order[b]]
	})

	k := int(math.Ceil(rate * float64(len(series))))
	labels := make([]bool, len(series))
	for _, i := range order[:k] {
		if dev[i] > 0 {
			labels[i] = true
		}
	}
	return labels, nil
}

// Range flags values outside the closed interval [Min, Max]
type Range struct {
	Min float64
	Max float64
}

func (r Range) Name() string { return "range" }

func (r Range) Score(series []float64) ([]bool, error) {
	if r.Min > r.Max {
		return nil, fmt.Errorf("range min %v is above max %v", r.Min, r.Max)
	}
	labels := make([]bool, len(series))
	for i, v := range series {
		labels[i] = v < r.Min || v > r.Max
	}
	return labels, nil
}

// New builds a scorer by name. param is the scorer's threshold or rate; zero
// selects the default. The range scorer takes its bounds from bounds.
func New(name string, param float64, bounds ...float64) (Scorer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zscore", "z":
		return ZScore{Threshold: param}, nil
	case "robust", "mad":
		return RobustZScore{Threshold: param}, nil
	case "contamination", "iforest":
		return Contamination{Rate: param}, nil
	case "range":
		if len(bounds) != 2 {
			return nil, fmt.Errorf("range scorer needs min and max bounds")
		}
		return Range{Min: bounds[0], Max: bounds[1]}, nil
	default:
		return nil, fmt.Errorf("unknown scorer: %s", name)
	}
}

// Configured builds the scorer named in the alert settings. Each scorer takes
// its own setting: the z threshold, the robust threshold or the contamination rate.
func Configured(cfg config.AlertsConfig) (Scorer, error) {
	scorer, err := New(cfg.Scorer, cfg.ZThreshold)
	if err != nil {
		return nil, err
	}
	switch s := scorer.(type) {
	case RobustZScore:
		s.Threshold = cfg.RobustThreshold
		return s, nil
	case Contamination:
		s.Rate = cfg.ContaminationRate
		return s, nil
	}
	return scorer, nil
}

func checkSeries(series []float64) error {
	if len(series) < 2 {
		return fmt.Errorf("%w: got %d values", ErrInsufficientData, len(series))
	}
	for _, v := range series[1:] {
		if v != series[0] {
			return nil
		}
	}
	return fmt.Errorf("%w: all %d values are equal", ErrInsufficientData, len(series))
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func deviations(values []float64, center float64) []float64 {
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - center)
	}
	return dev
}
