package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"
)

func TestTemplateStatistics(t *testing.T) {
	templates := []TemplateRef{
		{ID: 1, Name: "Exam 1"},
		{ID: 2, Name: "Oral"},
		{ID: 3, Name: "Project"},
	}
	grade := func(tmplID int64, name, student string, value float64) GradeRef {
		g := GradeRef{Name: name, StudentName: student, Value: null.Float64From(value)}
		if tmplID > 0 {
			g.TemplateID = null.Int64From(tmplID)
		}
		return g
	}
	grades := []GradeRef{
		grade(1, "Exam 1", "Lea", 2),
		grade(1, "renamed", "Ben", 2), // id wins over name
		grade(1, "Exam 1", "Ana", 4),
		grade(0, "Oral", "Lea", 1),   // legacy row, matched by name
		grade(0, "Oral", "Ben", 3),   // legacy row, matched by name
		grade(0, "Unknown", "Ana", 5), // legacy row, no match
		grade(9, "Oral", "Ana", 5),    // unknown id, never falls back to name
		{TemplateID: null.Int64From(2), Name: "Oral", StudentName: "Max"}, // no value
	}

	stats := TemplateStatistics(templates, grades)
	require.Len(t, stats, 3)

	exam := stats[0]
	assert.Equal(t, int64(1), exam.TemplateID)
	assert.Equal(t, 3, exam.Count)
	assert.Equal(t, null.Float64From(2.67), exam.Average)
	assert.Equal(t, null.Float64From(2), exam.Best)
	assert.Equal(t, null.Float64From(4), exam.Worst)
	assert.Equal(t, []string{"Ben", "Lea"}, exam.BestStudents)
	assert.Equal(t, []string{"Ana"}, exam.WorstStudents)

	oral := stats[1]
	assert.Equal(t, 2, oral.Count)
	assert.Equal(t, null.Float64From(2), oral.Average)
	assert.Equal(t, []string{"Lea"}, oral.BestStudents)
	assert.Equal(t, []string{"Ben"}, oral.WorstStudents)

	project := stats[2]
	assert.Equal(t, 0, project.Count)
	assert.False(t, project.Average.Valid)
	assert.False(t, project.Best.Valid)
	assert.False(t, project.Worst.Valid)
	assert.Empty(t, project.BestStudents)
	assert.Empty(t, project.WorstStudents)
}

func TestMatchTemplate(t *testing.T) {
	templates := []TemplateRef{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}

	tests := []struct {
		name   string
		grade  GradeRef
		wantID int64
		wantOk bool
	}{
		{name: "by id", grade: GradeRef{TemplateID: null.Int64From(2), Name: "A"}, wantID: 2, wantOk: true},
		{name: "by name", grade: GradeRef{Name: "A"}, wantID: 1, wantOk: true},
		{name: "unknown id", grade: GradeRef{TemplateID: null.Int64From(3), Name: "A"}},
		{name: "unknown name", grade: GradeRef{Name: "C"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchTemplate(templates, tt.grade)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}
