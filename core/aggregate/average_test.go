package aggregate

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/volatiletech/null/v8"
)

func TestWeightedAverages(t *testing.T) {
	f := null.Float64From

	tests := []struct {
		name        string
		rows        []Row
		wantSubject map[string]null.Float64
		wantOverall null.Float64
	}{
		{name: "no rows", rows: nil, wantSubject: map[string]null.Float64{}},
		{
			name: "math scenario",
			rows: []Row{
				NewRow(1.5, 40, "Math"),
				NewRow(3, 60, "Math"),
			},
			wantSubject: map[string]null.Float64{"Math": f(2.4)},
			wantOverall: f(2.4),
		},
		{
			name: "several subjects",
			rows: []Row{
				NewRow(1, 50, "Math"),
				NewRow(2, 50, "Math"),
				NewRow(4, 20, "German"),
			},
			wantSubject: map[string]null.Float64{"Math": f(1.5), "German": f(4)},
			wantOverall: f(1.92), // (50+100+80)/120
		},
		{
			name: "zero weights",
			rows: []Row{
				NewRow(2, 0, "Math"),
				NewRow(3, 0, "Math"),
			},
			wantSubject: map[string]null.Float64{"Math": {}},
		},
		{
			name: "malformed rows are skipped",
			rows: []Row{
				NewRow("abc", 50, "Math"),
				NewRow(2, "heavy", "Math"),
				NewRow(nil, 10, "Math"),
				NewRow(3, nil, "Math"),
				NewRow(math.NaN(), 10, "Math"),
				NewRow(2, math.Inf(1), "Math"),
				NewRow(json.Number("2"), "25", "Math"),
				NewRow(struct{}{}, 10, "Art"),
			},
			wantSubject: map[string]null.Float64{"Math": f(2), "Art": {}},
			wantOverall: f(2),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeightedAverages(tt.rows)
			assert.Equal(t, tt.wantSubject, got.Subjects)
			assert.Equal(t, tt.wantOverall, got.Overall)
		})
	}
}

func TestClassAverages(t *testing.T) {
	rows := []Row{
		NewRow(1, 10, "Math"),
		NewRow(2, 90, "Math"),
		NewRow(4, 0, "Math"),
		NewRow("n/a", 0, "Art"),
	}
	got := ClassAverages(rows)
	assert.Equal(t, null.Float64From(2.33), got["Math"])
	assert.False(t, got["Art"].Valid)
	assert.Len(t, got, 2)
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{2.4, 2.4},
		{2.675, 2.68},
		{1.005, 1.01},
		{8.0 / 3.0, 2.67},
		{1.0 / 3.0, 0.33},
		{2.5, 2.5},
		{-2.675, -2.68},
		{-1.004, -1},
		{4.999, 5},
		{0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Round2(tt.in), "Round2(%v)", tt.in)
	}
}
