// Package aggregate computes grade averages and template statistics.
// All functions are pure: they only look at the rows they are given.
package aggregate

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/volatiletech/null/v8"
)

// Row is one graded item: a template grade or a special assessment.
// Value and Weight are invalid when they were absent or not numeric.
type Row struct {
	Value   null.Float64
	Weight  null.Float64
	Subject string
}

// NewRow builds a Row from loosely typed input (decoded JSON, form values...).
// Anything that is not a finite number becomes invalid instead of failing.
func NewRow(value, weight interface{}, subject string) Row {
	return Row{Value: toFloat(value), Weight: toFloat(weight), Subject: subject}
}

func (r Row) included() bool {
	return finite(r.Value) && finite(r.Weight)
}

// Averages holds weighted averages per subject and across all subjects.
// An average is null when its total weight is zero.
type Averages struct {
	Subjects map[string]null.Float64 `json:"subjects"`
	Overall  null.Float64            `json:"overall"`
}

// WeightedAverages returns Σ(value·weight)/Σ(weight) per subject and overall, rounded to 2 decimals.
// Rows with an invalid value or weight are skipped.
func WeightedAverages(rows []Row) Averages {
	type acc struct{ sum, weight float64 }

	subjects := make(map[string]*acc)
	var total acc
	for _, r := range rows {
		a, ok := subjects[r.Subject]
		if !ok {
			a = new(acc)
			subjects[r.Subject] = a
		}
		if !r.included() {
			continue
		}
		a.sum += r.Value.Float64 * r.Weight.Float64
		a.weight += r.Weight.Float64
		total.sum += r.Value.Float64 * r.Weight.Float64
		total.weight += r.Weight.Float64
	}

	avgs := Averages{Subjects: make(map[string]null.Float64, len(subjects))}
	for subject, a := range subjects {
		avgs.Subjects[subject] = ratio(a.sum, a.weight)
	}
	avgs.Overall = ratio(total.sum, total.weight)
	return avgs
}

// ClassAverages returns the plain arithmetic mean of the values per subject, ignoring weights.
// It is used to compare a student against the whole class.
func ClassAverages(rows []Row) map[string]null.Float64 {
	type acc struct {
		sum   float64
		count int
	}

	subjects := make(map[string]*acc)
	for _, r := range rows {
		a, ok := subjects[r.Subject]
		if !ok {
			a = new(acc)
			subjects[r.Subject] = a
		}
		if !finite(r.Value) {
			continue
		}
		a.sum += r.Value.Float64
		a.count++
	}

	avgs := make(map[string]null.Float64, len(subjects))
	for subject, a := range subjects {
		avgs[subject] = ratio(a.sum, float64(a.count))
	}
	return avgs
}

func ratio(sum, weight float64) null.Float64 {
	if weight == 0 {
		return null.Float64{}
	}
	return null.Float64From(Round2(sum / weight))
}

// Round2 rounds x to 2 decimals, half away from zero, on its shortest decimal representation
// (so 2.675 rounds to 2.68 even though its binary value is slightly below).
func Round2(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	s := strconv.FormatFloat(math.Abs(x), 'f', -1, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	if len(frac) <= 2 {
		return x
	}
	if len(intPart) > 15 {
		return math.Round(x*100) / 100
	}

	n, err := strconv.ParseInt(intPart+frac[:2], 10, 64)
	if err != nil {
		return math.Round(x*100) / 100
	}
	if frac[2] >= '5' {
		n++
	}
	r := float64(n) / 100
	if x < 0 {
		r = -r
	}
	return r
}

func finite(f null.Float64) bool {
	return f.Valid && !math.IsNaN(f.Float64) && !math.IsInf(f.Float64, 0)
}

func toFloat(v interface{}) null.Float64 {
	var f float64
	switch n := v.(type) {
	case nil:
		return null.Float64{}
	case null.Float64:
		if !n.Valid {
			return n
		}
		f = n.Float64
	case *float64:
		if n == nil {
			return null.Float64{}
		}
		f = *n
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return null.Float64{}
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return null.Float64{}
		}
		f = parsed
	default:
		return null.Float64{}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return null.Float64{}
	}
	return null.Float64From(f)
}
