package analysis

import (
	"encoding/csv"
	"io"
	"strconv"
)

// WriteSummaryCSV writes one line per field of a summary. Undefined
// statistics are written as empty cells.
func WriteSummaryCSV(w io.Writer, s Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"field", "count", "mean", "std", "min", "max", "mode"}); err != nil {
		return err
	}

	for _, f := range s.Numeric {
		line := []string{f.Field, strconv.Itoa(f.Count), optional(f.Mean), optional(f.StdDev), optional(f.Min), optional(f.Max), ""}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	for _, c := range s.Categorical {
		mode := ""
		if c.Mode != nil {
			mode = *c.Mode
		}
		if err := cw.Write([]string{c.Field, strconv.Itoa(c.Count), "", "", "", "", mode}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteBucketsCSV writes period buckets as period,value,count lines
func WriteBucketsCSV(w io.Writer, buckets []Bucket) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"period", "value", "count"}); err != nil {
		return err
	}
	for _, b := range buckets {
		if err := cw.Write([]string{b.Key, formatFloat(b.Value), strconv.Itoa(b.Count)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFlagsCSV writes anomaly flags with the given date layout
func WriteFlagsCSV(w io.Writer, flags []Flag, layout string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "date", "value", "label", "severity"}); err != nil {
		return err
	}
	for _, f := range flags {
		line := []string{f.ID, f.Timestamp.Format(layout), formatFloat(f.Value), f.Label.String(), f.Severity.String()}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func optional(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
