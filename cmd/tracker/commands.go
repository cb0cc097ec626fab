package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smukkama/weather-tracker/internal/analysis"
	"github.com/smukkama/weather-tracker/internal/anomaly"
	"github.com/smukkama/weather-tracker/internal/schema"
	"github.com/smukkama/weather-tracker/internal/tracker"
)

func runInit(_ context.Context, a *app, _ []string) error {
	if err := a.tracker.Init(); err != nil {
		return err
	}
	for _, kind := range tracker.Kinds {
		table, _ := a.tracker.Table(kind)
		fmt.Fprintf(a.out, "%-9s %s\n", kind, table.Path())
	}
	return nil
}

func runRecord(ctx context.Context, a *app, args []string) error {
	kind, rest, err := tableArg(args)
	if err != nil {
		return err
	}

	fields := make(map[string]string, len(rest))
	for _, kv := range rest {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("expected key=value, got %q", kv)
		}
		fields[key] = value
	}

	obs, err := a.tracker.Record(ctx, kind, fields)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "recorded %s row %s\n", kind, obs.ID)
	return nil
}

func runList(_ context.Context, a *app, args []string) error {
	kind, _, err := tableArg(args)
	if err != nil {
		return err
	}
	table, err := a.tracker.Table(kind)
	if err != nil {
		return err
	}

	result, err := a.tracker.List(kind)
	if err != nil {
		return err
	}
	if result.Skipped > 0 {
		fmt.Fprintf(os.Stderr, "skipped %d unreadable rows\n", result.Skipped)
	}
	return table.Export(a.out, result.Rows)
}

func runSummary(_ context.Context, a *app, args []string) error {
	kind, _, err := tableArg(args)
	if err != nil {
		return err
	}
	summary, err := a.tracker.Summary(kind)
	if err != nil {
		return err
	}
	return analysis.WriteSummaryCSV(a.out, summary)
}

func runGroup(_ context.Context, a *app, args []string) error {
	kind, rest, err := tableArg(args)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("group", flag.ContinueOnError)
	field := fs.String("field", "", "numeric column to aggregate")
	period := fs.String("period", "month", "day, month or year")
	agg := fs.String("agg", "sum", "sum or mean")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	p, err := analysis.ParsePeriod(*period)
	if err != nil {
		return err
	}
	ag, err := analysis.ParseAggregation(*agg)
	if err != nil {
		return err
	}

	buckets, err := a.tracker.Group(kind, p, *field, ag)
	if err != nil {
		return err
	}
	return analysis.WriteBucketsCSV(a.out, buckets)
}

func runAnomalies(_ context.Context, a *app, args []string) error {
	kind, rest, err := tableArg(args)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("anomalies", flag.ContinueOnError)
	field := fs.String("field", "", "numeric column to score")
	scorerName := fs.String("scorer", a.cfg.Alerts.Scorer, "zscore, robust, contamination or range")
	param := fs.Float64("param", 0, "threshold or contamination rate (0 uses the configured value)")
	lo := fs.Float64("min", 0, "lower bound for the range scorer")
	hi := fs.Float64("max", 0, "upper bound for the range scorer")
	all := fs.Bool("all", false, "print normal rows too")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	settings := a.cfg.Alerts
	settings.Scorer = *scorerName
	if *param > 0 {
		settings.ZThreshold = *param
		settings.RobustThreshold = *param
		settings.ContaminationRate = *param
	}

	var scorer anomaly.Scorer
	if strings.EqualFold(*scorerName, "range") {
		scorer, err = anomaly.New("range", 0, *lo, *hi)
	} else {
		scorer, err = anomaly.Configured(settings)
	}
	if err != nil {
		return err
	}

	flags, err := a.tracker.Anomalies(kind, *field, scorer)
	if err != nil {
		return err
	}
	if !*all {
		flags = analysis.Anomalies(flags)
	}

	table, err := a.tracker.Table(kind)
	if err != nil {
		return err
	}
	return analysis.WriteFlagsCSV(a.out, flags, table.Schema().Layout)
}

func runQuota(_ context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("quota", flag.ContinueOnError)
	household := fs.String("household", "", "household to check (empty for all)")
	day := fs.String("day", "", "day to check (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var report tracker.QuotaReport
	var err error
	if *day == "" {
		report, err = a.tracker.Today(*household)
	} else {
		var d time.Time
		if d, err = a.parseDate(*day); err != nil {
			return err
		}
		report, err = a.tracker.Quota(d, *household)
	}
	if err != nil {
		return err
	}

	who := report.Household
	if who == "" {
		who = "all households"
	}
	fmt.Fprintf(a.out, "%s on %s: %.1f L of %.1f L (%.0f%%), warning limit %.1f L: %s\n",
		who, report.Day.Format(a.dateLayout()), report.Total, report.Quota,
		report.Usage*100, report.Limit, report.Status)
	return nil
}

func runForecast(_ context.Context, a *app, args []string) error {
	kind, rest, err := tableArg(args)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("forecast", flag.ContinueOnError)
	field := fs.String("field", "", "numeric column to forecast")
	window := fs.Int("window", 7, "days in the moving average")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	next, ok, err := a.tracker.Forecast(kind, *field, *window)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("need at least %d days of %s data", *window, *field)
	}
	fmt.Fprintf(a.out, "next daily %s: %.2f\n", *field, next)
	return nil
}

func runExport(_ context.Context, a *app, args []string) error {
	kind, rest, err := tableArg(args)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	from := fs.String("from", "", "first day to include")
	to := fs.String("to", "", "last day to include")
	out := fs.String("o", "", "output file (default stdout)")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	table, err := a.tracker.Table(kind)
	if err != nil {
		return err
	}
	var bounds [2]time.Time
	for i, s := range []string{*from, *to} {
		if s == "" {
			continue
		}
		if bounds[i], err = table.Schema().ParseTime(s); err != nil {
			return fmt.Errorf("invalid date %q: %w", s, err)
		}
	}

	var w io.Writer = a.out
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *out, err)
		}
		defer f.Close()
		w = f
	}
	return a.tracker.Export(kind, w, bounds[0], bounds[1])
}

func runSeed(ctx context.Context, a *app, args []string) error {
	kind, rest, err := tableArg(args)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	year := fs.Int("year", time.Now().Year(), "year to generate")
	seed := fs.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	households := fs.String("households", strings.Join(a.cfg.Alerts.Households, ","), "comma separated households (water only)")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	var names []string
	for _, h := range strings.Split(*households, ",") {
		if h = strings.TrimSpace(h); h != "" {
			names = append(names, h)
		}
	}

	if err := a.tracker.Init(); err != nil {
		return err
	}
	n, err := a.tracker.Seed(ctx, kind, *year, *seed, names...)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "seeded %d %s rows for %d\n", n, kind, *year)
	return nil
}

func runPlant(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errors.New("expected add, water, last, due or freq")
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "add":
		return plantAdd(ctx, a, rest)
	case "water":
		return plantWater(ctx, a, rest)
	case "last":
		return plantLast(a, rest)
	case "due":
		return plantDue(a, rest)
	case "freq":
		return plantFreq(ctx, a, rest)
	default:
		return fmt.Errorf("unknown plant command %q", sub)
	}
}

func plantAdd(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("plant add", flag.ContinueOnError)
	name := fs.String("name", "", "plant name")
	location := fs.String("location", "", "where the plant lives")
	acquired := fs.String("acquired", "", "day acquired (default today)")
	freq := fs.Int("freq", 7, "watering frequency in days")
	sunlight := fs.String("sunlight", "", "sunlight needs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	day, err := a.dateOrToday(*acquired)
	if err != nil {
		return err
	}
	plant, err := a.tracker.AddPlant(ctx, *name, *location, day, *freq, *sunlight)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "added plant %s (%s)\n", plant.ID, *name)
	return nil
}

func plantWater(ctx context.Context, a *app, args []string) error {
	id, rest, err := idArg(args)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("plant water", flag.ContinueOnError)
	ml := fs.Float64("ml", 0, "amount of water in millilitres")
	day := fs.String("day", "", "day watered (default today)")
	notes := fs.String("notes", "", "free text")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	d, err := a.dateOrToday(*day)
	if err != nil {
		return err
	}
	if _, err := a.tracker.LogWatering(ctx, id, d, *ml, *notes); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "watered plant %s with %.0f ml\n", id, *ml)
	return nil
}

func plantLast(a *app, args []string) error {
	id, _, err := idArg(args)
	if err != nil {
		return err
	}
	if _, err := a.tracker.Plant(id); err != nil {
		return err
	}

	last, err := a.tracker.LastWatered(id)
	if err != nil {
		return err
	}
	if last == nil {
		fmt.Fprintf(a.out, "plant %s has never been watered\n", id)
		return nil
	}
	ml, _ := last.Float(schema.FieldAmountML)
	fmt.Fprintf(a.out, "plant %s last watered on %s with %.0f ml\n", id, last.Timestamp.Format(a.dateLayout()), ml)
	return nil
}

func plantDue(a *app, args []string) error {
	id, _, err := idArg(args)
	if err != nil {
		return err
	}
	status, err := a.tracker.WateringDue(id, time.Now())
	if err != nil {
		return err
	}

	verdict := "not due"
	if status.Due {
		verdict = "due"
	}
	fmt.Fprintf(a.out, "%s (%s): watering %s, every %d days, next on %s\n",
		status.Name, status.PlantID, verdict, status.Frequency, status.NextDue.Format(a.dateLayout()))
	return nil
}

func plantFreq(ctx context.Context, a *app, args []string) error {
	id, rest, err := idArg(args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errors.New("expected a number of days")
	}
	days, err := strconv.Atoi(rest[0])
	if err != nil {
		return fmt.Errorf("invalid days %q: %w", rest[0], err)
	}
	if err := a.tracker.SetWateringFrequency(ctx, id, days); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "plant %s now watered every %d days\n", id, days)
	return nil
}

func tableArg(args []string) (string, []string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", nil, fmt.Errorf("expected a table: %s", strings.Join(tracker.Kinds, ", "))
	}
	return args[0], args[1:], nil
}

func idArg(args []string) (string, []string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", nil, errors.New("expected a plant id")
	}
	return args[0], args[1:], nil
}

func (a *app) dateLayout() string {
	if a.cfg.Store.DateLayout != "" {
		return a.cfg.Store.DateLayout
	}
	return schema.ISODateLayout
}

func (a *app) parseDate(s string) (time.Time, error) {
	t, err := time.Parse(a.dateLayout(), s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

func (a *app) dateOrToday(s string) (time.Time, error) {
	if s == "" {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return a.parseDate(s)
}
