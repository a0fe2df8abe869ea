package timeseries

import (
	"fmt"
	"strings"
	"time"
)

// Selector picks the series of one entity inside a bucket over a trailing
// window.
type Selector struct {
	Bucket      string
	Measurement string
	Tag         string // tag carrying the entity identifier, e.g. device_id
	ID          string
	Range       time.Duration
}

// SumQuery builds a query returning one summed row per table for field
func SumQuery(sel Selector, field string) string {
	return selectFields(sel, field) + `
  |> sum()`
}

// MeanQuery builds a query returning the mean of every field, one row per
// field that has samples.
func MeanQuery(sel Selector, fields ...string) string {
	return selectFields(sel, fields...) + `
  |> group(columns: ["_field"])
  |> mean()`
}

func selectFields(sel Selector, fields ...string) string {
	preds := make([]string, 0, len(fields))
	for _, f := range fields {
		preds = append(preds, "r._field == "+quote(f))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", quote(sel.Bucket))
	fmt.Fprintf(&b, "  |> range(start: %s)\n", fluxDuration(-sel.Range))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %s)\n", quote(sel.Measurement))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r.%s == %s)\n", sel.Tag, quote(sel.ID))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)", strings.Join(preds, " or "))
	return b.String()
}

func fluxDuration(d time.Duration) string {
	return fmt.Sprintf("%ds", int64(d/time.Second))
}

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quote(s string) string {
	return `"` + quoter.Replace(s) + `"`
}
