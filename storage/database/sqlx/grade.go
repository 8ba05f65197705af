package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/grade"
)

const (
	templateColumns     = "id, class_id, name, category, weight, date, description, created_at"
	gradeColumns        = "id, student_id, class_id, template_id, name, value, note, attachment_path, attachment_name, attachment_mime, attachment_size, external_link, created_at, updated_at"
	specialColumns      = "id, student_id, class_id, type, name, description, weight, value, created_at"
	notificationColumns = "id, student_id, message, type, created_at, read_at"
)

type gradeRepository struct {
	db *sqlx.DB
}

var _ grade.Repository = (*gradeRepository)(nil) // interface compliance check

func NewGradeRepository(db *sqlx.DB) grade.Repository {
	return &gradeRepository{db: db}
}

func (repo *gradeRepository) getByID(ctx context.Context, dest interface{}, table, columns string, id int64, notFound error, msg string) error {
	q := repo.db.Rebind("SELECT " + columns + " FROM " + table + " WHERE id = ?")
	if err := repo.db.GetContext(ctx, dest, q, id); err != nil {
		return trapErr(err, notFound, msg)
	}
	return nil
}

// Templates

func (repo *gradeRepository) CreateTemplate(ctx context.Context, tmpl grade.Template) (grade.Template, error) {
	id, err := insert(ctx, repo.db,
		`INSERT INTO grade_templates (class_id, name, category, weight, date, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tmpl.ClassID, tmpl.Name, tmpl.Category, tmpl.Weight, tmpl.Date, tmpl.Description, tmpl.CreatedAt.UTC(),
	)
	if err != nil {
		return grade.Template{}, trapErr(err, nil, "inserting template")
	}
	tmpl.ID = id
	return tmpl, nil
}

func (repo *gradeRepository) GetTemplateByID(ctx context.Context, id int64) (grade.Template, error) {
	var tmpl grade.Template
	err := repo.getByID(ctx, &tmpl, "grade_templates", templateColumns, id, grade.ErrTemplateNotFound, "finding template by ID")
	return tmpl, err
}

func (repo *gradeRepository) QueryTemplates(ctx context.Context, filter grade.TemplateFilter) ([]grade.Template, error) {
	w := new(where)
	w.in("class_id", filter.ClassIDs)

	templates := make([]grade.Template, 0)
	if err := selectWhere(ctx, repo.db, &templates, "SELECT "+templateColumns+" FROM grade_templates", w, " ORDER BY id"); err != nil {
		return nil, trapErr(err, nil, "querying templates")
	}
	return templates, nil
}

func (repo *gradeRepository) UpdateTemplate(ctx context.Context, tmpl grade.Template) (grade.Template, error) {
	err := execOne(ctx, repo.db, grade.ErrTemplateNotFound, "updating template",
		"UPDATE grade_templates SET name = ?, category = ?, weight = ?, date = ?, description = ? WHERE id = ?",
		tmpl.Name, tmpl.Category, tmpl.Weight, tmpl.Date, tmpl.Description, tmpl.ID,
	)
	if err != nil {
		return grade.Template{}, err
	}
	return repo.GetTemplateByID(ctx, tmpl.ID)
}

func (repo *gradeRepository) DeleteTemplate(ctx context.Context, id int64) error {
	return execOne(ctx, repo.db, grade.ErrTemplateNotFound, "deleting template", "DELETE FROM grade_templates WHERE id = ?", id)
}

// Grades

func (repo *gradeRepository) CreateGrade(ctx context.Context, g grade.Grade) (grade.Grade, error) {
	id, err := insert(ctx, repo.db,
		`INSERT INTO grades (student_id, class_id, template_id, name, value, note,
			attachment_path, attachment_name, attachment_mime, attachment_size, external_link, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.StudentID, g.ClassID, g.TemplateID, g.Name, g.Value, g.Note,
		g.AttachmentPath, g.AttachmentName, g.AttachmentMIME, g.AttachmentSize, g.ExternalLink,
		g.CreatedAt.UTC(), g.UpdatedAt.UTC(),
	)
	if err != nil {
		if err = trapErr(err, nil, "inserting grade"); core.IsConflict(err) {
			return grade.Grade{}, grade.ErrDuplicateGrade
		}
		return grade.Grade{}, err
	}
	g.ID = id
	return g, nil
}

func (repo *gradeRepository) GetGradeByID(ctx context.Context, id int64) (grade.Grade, error) {
	var g grade.Grade
	err := repo.getByID(ctx, &g, "grades", gradeColumns, id, grade.ErrGradeNotFound, "finding grade by ID")
	return g, err
}

func (repo *gradeRepository) QueryGrades(ctx context.Context, filter grade.GradeFilter) ([]grade.Grade, error) {
	w := new(where)
	w.in("class_id", filter.ClassIDs)
	w.in("student_id", filter.StudentIDs)
	if filter.TemplateID != 0 {
		w.add("template_id = ?", filter.TemplateID)
	}

	grades := make([]grade.Grade, 0)
	if err := selectWhere(ctx, repo.db, &grades, "SELECT "+gradeColumns+" FROM grades", w, " ORDER BY id"); err != nil {
		return nil, trapErr(err, nil, "querying grades")
	}
	return grades, nil
}

func (repo *gradeRepository) UpdateGrade(ctx context.Context, g grade.Grade) (grade.Grade, error) {
	err := execOne(ctx, repo.db, grade.ErrGradeNotFound, "updating grade",
		"UPDATE grades SET value = ?, note = ?, external_link = ?, updated_at = ? WHERE id = ?",
		g.Value, g.Note, g.ExternalLink, g.UpdatedAt.UTC(), g.ID,
	)
	if err != nil {
		return grade.Grade{}, err
	}
	return repo.GetGradeByID(ctx, g.ID)
}

func (repo *gradeRepository) DeleteGrade(ctx context.Context, id int64) error {
	return execOne(ctx, repo.db, grade.ErrGradeNotFound, "deleting grade", "DELETE FROM grades WHERE id = ?", id)
}

// Special assessments

func (repo *gradeRepository) CreateSpecial(ctx context.Context, sa grade.SpecialAssessment) (grade.SpecialAssessment, error) {
	id, err := insert(ctx, repo.db,
		`INSERT INTO special_assessments (student_id, class_id, type, name, description, weight, value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sa.StudentID, sa.ClassID, sa.Type, sa.Name, sa.Description, sa.Weight, sa.Value, sa.CreatedAt.UTC(),
	)
	if err != nil {
		return grade.SpecialAssessment{}, trapErr(err, nil, "inserting special assessment")
	}
	sa.ID = id
	return sa, nil
}

func (repo *gradeRepository) GetSpecialByID(ctx context.Context, id int64) (grade.SpecialAssessment, error) {
	var sa grade.SpecialAssessment
	err := repo.getByID(ctx, &sa, "special_assessments", specialColumns, id, grade.ErrSpecialNotFound, "finding special assessment by ID")
	return sa, err
}

func (repo *gradeRepository) QuerySpecials(ctx context.Context, filter grade.SpecialFilter) ([]grade.SpecialAssessment, error) {
	w := new(where)
	w.in("class_id", filter.ClassIDs)
	w.in("student_id", filter.StudentIDs)

	specials := make([]grade.SpecialAssessment, 0)
	if err := selectWhere(ctx, repo.db, &specials, "SELECT "+specialColumns+" FROM special_assessments", w, " ORDER BY id"); err != nil {
		return nil, trapErr(err, nil, "querying special assessments")
	}
	return specials, nil
}

func (repo *gradeRepository) UpdateSpecial(ctx context.Context, sa grade.SpecialAssessment) (grade.SpecialAssessment, error) {
	err := execOne(ctx, repo.db, grade.ErrSpecialNotFound, "updating special assessment",
		"UPDATE special_assessments SET type = ?, name = ?, description = ?, weight = ?, value = ? WHERE id = ?",
		sa.Type, sa.Name, sa.Description, sa.Weight, sa.Value, sa.ID,
	)
	if err != nil {
		return grade.SpecialAssessment{}, err
	}
	return repo.GetSpecialByID(ctx, sa.ID)
}

func (repo *gradeRepository) DeleteSpecial(ctx context.Context, id int64) error {
	return execOne(ctx, repo.db, grade.ErrSpecialNotFound, "deleting special assessment", "DELETE FROM special_assessments WHERE id = ?", id)
}

// Notifications

func (repo *gradeRepository) CreateNotification(ctx context.Context, n grade.Notification) (grade.Notification, error) {
	id, err := insert(ctx, repo.db,
		"INSERT INTO grade_notifications (student_id, message, type, created_at) VALUES (?, ?, ?, ?)",
		n.StudentID, n.Message, n.Type, n.CreatedAt.UTC(),
	)
	if err != nil {
		return grade.Notification{}, trapErr(err, nil, "inserting notification")
	}
	n.ID = id
	return n, nil
}

func (repo *gradeRepository) GetNotificationByID(ctx context.Context, id int64) (grade.Notification, error) {
	var n grade.Notification
	err := repo.getByID(ctx, &n, "grade_notifications", notificationColumns, id, grade.ErrNotificationNotFound, "finding notification by ID")
	return n, err
}

func (repo *gradeRepository) QueryNotifications(ctx context.Context, studentIDs []int64) ([]grade.Notification, error) {
	w := new(where)
	w.in("student_id", studentIDs)

	notifs := make([]grade.Notification, 0)
	if err := selectWhere(ctx, repo.db, &notifs, "SELECT "+notificationColumns+" FROM grade_notifications", w, " ORDER BY created_at DESC, id DESC"); err != nil {
		return nil, trapErr(err, nil, "querying notifications")
	}
	return notifs, nil
}

// MarkNotificationRead only writes read_at while it is NULL, so the first read time sticks.
func (repo *gradeRepository) MarkNotificationRead(ctx context.Context, id int64, at time.Time) (grade.Notification, error) {
	q := repo.db.Rebind("UPDATE grade_notifications SET read_at = ? WHERE id = ? AND read_at IS NULL")
	if _, err := repo.db.ExecContext(ctx, q, at.UTC(), id); err != nil {
		return grade.Notification{}, trapErr(err, nil, "marking notification read")
	}
	return repo.GetNotificationByID(ctx, id)
}
