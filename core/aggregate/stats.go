package aggregate

import (
	"sort"

	"github.com/volatiletech/null/v8"
)

type (
	TemplateRef struct {
		ID   int64
		Name string
	}

	// GradeRef is a grade as seen by the template statistics.
	// Legacy grades have no TemplateID and are matched by Name.
	GradeRef struct {
		TemplateID  null.Int64
		Name        string
		StudentName string
		Value       null.Float64
	}

	TemplateStats struct {
		TemplateID    int64        `json:"template_id"`
		Name          string       `json:"name"`
		Count         int          `json:"count"`
		Average       null.Float64 `json:"average"`
		Best          null.Float64 `json:"best"`  // lowest value, lower is better
		Worst         null.Float64 `json:"worst"` // highest value
		BestStudents  []string     `json:"best_students"`
		WorstStudents []string     `json:"worst_students"`
	}
)

// MatchTemplate finds the template a grade belongs to: by ID when the grade records one,
// else by name equality.
func MatchTemplate(templates []TemplateRef, g GradeRef) (TemplateRef, bool) {
	if g.TemplateID.Valid {
		for _, t := range templates {
			if t.ID == g.TemplateID.Int64 {
				return t, true
			}
		}
		return TemplateRef{}, false
	}
	for _, t := range templates {
		if t.Name == g.Name {
			return t, true
		}
	}
	return TemplateRef{}, false
}

// TemplateStatistics computes count, mean, best & worst values (with the students holding them)
// for every template, in the order of templates.
func TemplateStatistics(templates []TemplateRef, grades []GradeRef) []TemplateStats {
	byTemplate := make(map[int64][]GradeRef, len(templates))
	for _, g := range grades {
		if !finite(g.Value) {
			continue
		}
		if t, ok := MatchTemplate(templates, g); ok {
			byTemplate[t.ID] = append(byTemplate[t.ID], g)
		}
	}

	stats := make([]TemplateStats, 0, len(templates))
	for _, t := range templates {
		st := TemplateStats{
			TemplateID:    t.ID,
			Name:          t.Name,
			BestStudents:  []string{},
			WorstStudents: []string{},
		}
		matched := byTemplate[t.ID]
		if len(matched) > 0 {
			best, worst := matched[0].Value.Float64, matched[0].Value.Float64
			var sum float64
			for _, g := range matched {
				v := g.Value.Float64
				sum += v
				if v < best {
					best = v
				}
				if v > worst {
					worst = v
				}
			}
			for _, g := range matched {
				if g.Value.Float64 == best {
					st.BestStudents = append(st.BestStudents, g.StudentName)
				}
				if g.Value.Float64 == worst {
					st.WorstStudents = append(st.WorstStudents, g.StudentName)
				}
			}
			sort.Strings(st.BestStudents)
			sort.Strings(st.WorstStudents)

			st.Count = len(matched)
			st.Average = null.Float64From(Round2(sum / float64(len(matched))))
			st.Best = null.Float64From(best)
			st.Worst = null.Float64From(worst)
		}
		stats = append(stats, st)
	}
	return stats
}
