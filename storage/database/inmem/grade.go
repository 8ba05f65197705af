package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/gradebook/core/grade"
)

type gradeRepository struct {
	db *DB
}

var _ grade.Repository = (*gradeRepository)(nil) // interface compliance check

func NewGradeRepository(db *DB) grade.Repository {
	return &gradeRepository{db: db}
}

// matches reports whether id passes an IN filter; an empty list does not filter.
func matches(ids []int64, id int64) bool {
	return len(ids) == 0 || contains(ids, id)
}

// Templates

func (repo *gradeRepository) CreateTemplate(_ context.Context, tmpl grade.Template) (grade.Template, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	tmpl.ID = repo.db.templates.nextID()
	repo.db.templates.rows[tmpl.ID] = tmpl
	return tmpl, nil
}

func (repo *gradeRepository) GetTemplateByID(_ context.Context, id int64) (grade.Template, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if tmpl, ok := repo.db.templates.rows[id]; ok {
		return tmpl, nil
	}
	return grade.Template{}, grade.ErrTemplateNotFound
}

func (repo *gradeRepository) QueryTemplates(_ context.Context, filter grade.TemplateFilter) ([]grade.Template, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	templates := make([]grade.Template, 0)
	for _, tmpl := range repo.db.templates.sorted() {
		if matches(filter.ClassIDs, tmpl.ClassID) {
			templates = append(templates, tmpl)
		}
	}
	return templates, nil
}

func (repo *gradeRepository) UpdateTemplate(_ context.Context, tmpl grade.Template) (grade.Template, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.templates.rows[tmpl.ID]
	if !ok {
		return grade.Template{}, grade.ErrTemplateNotFound
	}
	orig.Name = tmpl.Name
	orig.Category = tmpl.Category
	orig.Weight = tmpl.Weight
	orig.Date = tmpl.Date
	orig.Description = tmpl.Description
	repo.db.templates.rows[tmpl.ID] = orig
	return orig, nil
}

func (repo *gradeRepository) DeleteTemplate(_ context.Context, id int64) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if !repo.db.delete(tblTemplates, id) {
		return grade.ErrTemplateNotFound
	}
	return nil
}

// Grades

func (repo *gradeRepository) CreateGrade(_ context.Context, g grade.Grade) (grade.Grade, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if g.TemplateID.Valid {
		for _, other := range repo.db.grades.rows {
			if other.StudentID == g.StudentID && other.TemplateID == g.TemplateID {
				return grade.Grade{}, grade.ErrDuplicateGrade
			}
		}
	}
	g.ID = repo.db.grades.nextID()
	repo.db.grades.rows[g.ID] = g
	return g, nil
}

func (repo *gradeRepository) GetGradeByID(_ context.Context, id int64) (grade.Grade, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if g, ok := repo.db.grades.rows[id]; ok {
		return g, nil
	}
	return grade.Grade{}, grade.ErrGradeNotFound
}

func (repo *gradeRepository) QueryGrades(_ context.Context, filter grade.GradeFilter) ([]grade.Grade, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	grades := make([]grade.Grade, 0)
	for _, g := range repo.db.grades.sorted() {
		if !matches(filter.ClassIDs, g.ClassID) || !matches(filter.StudentIDs, g.StudentID) {
			continue
		}
		if filter.TemplateID != 0 && g.TemplateID != null.Int64From(filter.TemplateID) {
			continue
		}
		grades = append(grades, g)
	}
	return grades, nil
}

func (repo *gradeRepository) UpdateGrade(_ context.Context, g grade.Grade) (grade.Grade, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.grades.rows[g.ID]
	if !ok {
		return grade.Grade{}, grade.ErrGradeNotFound
	}
	orig.Value = g.Value
	orig.Note = g.Note
	orig.ExternalLink = g.ExternalLink
	orig.UpdatedAt = g.UpdatedAt
	repo.db.grades.rows[g.ID] = orig
	return orig, nil
}

func (repo *gradeRepository) DeleteGrade(_ context.Context, id int64) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if !repo.db.delete(tblGrades, id) {
		return grade.ErrGradeNotFound
	}
	return nil
}

// Special assessments

func (repo *gradeRepository) CreateSpecial(_ context.Context, sa grade.SpecialAssessment) (grade.SpecialAssessment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	sa.ID = repo.db.specials.nextID()
	repo.db.specials.rows[sa.ID] = sa
	return sa, nil
}

func (repo *gradeRepository) GetSpecialByID(_ context.Context, id int64) (grade.SpecialAssessment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if sa, ok := repo.db.specials.rows[id]; ok {
		return sa, nil
	}
	return grade.SpecialAssessment{}, grade.ErrSpecialNotFound
}

func (repo *gradeRepository) QuerySpecials(_ context.Context, filter grade.SpecialFilter) ([]grade.SpecialAssessment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	specials := make([]grade.SpecialAssessment, 0)
	for _, sa := range repo.db.specials.sorted() {
		if matches(filter.ClassIDs, sa.ClassID) && matches(filter.StudentIDs, sa.StudentID) {
			specials = append(specials, sa)
		}
	}
	return specials, nil
}

func (repo *gradeRepository) UpdateSpecial(_ context.Context, sa grade.SpecialAssessment) (grade.SpecialAssessment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.specials.rows[sa.ID]
	if !ok {
		return grade.SpecialAssessment{}, grade.ErrSpecialNotFound
	}
	orig.Type = sa.Type
	orig.Name = sa.Name
	orig.Description = sa.Description
	orig.Weight = sa.Weight
	orig.Value = sa.Value
	repo.db.specials.rows[sa.ID] = orig
	return orig, nil
}

func (repo *gradeRepository) DeleteSpecial(_ context.Context, id int64) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if !repo.db.delete(tblSpecials, id) {
		return grade.ErrSpecialNotFound
	}
	return nil
}

// Notifications

func (repo *gradeRepository) CreateNotification(_ context.Context, n grade.Notification) (grade.Notification, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	n.ID = repo.db.notifications.nextID()
	repo.db.notifications.rows[n.ID] = n
	return n, nil
}

func (repo *gradeRepository) GetNotificationByID(_ context.Context, id int64) (grade.Notification, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if n, ok := repo.db.notifications.rows[id]; ok {
		return n, nil
	}
	return grade.Notification{}, grade.ErrNotificationNotFound
}

func (repo *gradeRepository) QueryNotifications(_ context.Context, studentIDs []int64) ([]grade.Notification, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	notifs := make([]grade.Notification, 0)
	for _, n := range repo.db.notifications.sorted() {
		if matches(studentIDs, n.StudentID) {
			notifs = append(notifs, n)
		}
	}
	// newest first
	sort.SliceStable(notifs, func(i, j int) bool {
		if !notifs[i].CreatedAt.Equal(notifs[j].CreatedAt) {
			return notifs[i].CreatedAt.After(notifs[j].CreatedAt)
		}
		return notifs[i].ID > notifs[j].ID
	})
	return notifs, nil
}

func (repo *gradeRepository) MarkNotificationRead(_ context.Context, id int64, at time.Time) (grade.Notification, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	n, ok := repo.db.notifications.rows[id]
	if !ok {
		return grade.Notification{}, grade.ErrNotificationNotFound
	}
	if !n.ReadAt.Valid {
		n.ReadAt = null.TimeFrom(at.UTC())
		repo.db.notifications.rows[id] = n
	}
	return n, nil
}
