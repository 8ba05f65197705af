package grade

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/aggregate"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/user"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrTemplateNotFound     = core.NewNotFoundError("grade template not found")
	ErrGradeNotFound        = core.NewNotFoundError("grade not found")
	ErrSpecialNotFound      = core.NewNotFoundError("special assessment not found")
	ErrNotificationNotFound = core.NewNotFoundError("notification not found")
	ErrDuplicateGrade       = core.NewConflictError("this student already has a grade for this template")
	errLinkAndFile          = core.NewValidationError(nil, core.FieldError{
		Field: "external_link",
		Error: "a grade has either an attachment or an external link, not both",
	})
)

type (
	Repository interface {
		CreateTemplate(ctx context.Context, tmpl Template) (Template, error)
		GetTemplateByID(ctx context.Context, id int64) (Template, error)
		QueryTemplates(ctx context.Context, filter TemplateFilter) ([]Template, error)
		UpdateTemplate(ctx context.Context, tmpl Template) (Template, error)
		// DeleteTemplate also removes the grades recorded for the template.
		DeleteTemplate(ctx context.Context, id int64) error

		// CreateGrade returns a conflict error when the student already has a grade for the template.
		CreateGrade(ctx context.Context, g Grade) (Grade, error)
		GetGradeByID(ctx context.Context, id int64) (Grade, error)
		QueryGrades(ctx context.Context, filter GradeFilter) ([]Grade, error)
		UpdateGrade(ctx context.Context, g Grade) (Grade, error)
		DeleteGrade(ctx context.Context, id int64) error

		CreateSpecial(ctx context.Context, sa SpecialAssessment) (SpecialAssessment, error)
		GetSpecialByID(ctx context.Context, id int64) (SpecialAssessment, error)
		QuerySpecials(ctx context.Context, filter SpecialFilter) ([]SpecialAssessment, error)
		UpdateSpecial(ctx context.Context, sa SpecialAssessment) (SpecialAssessment, error)
		DeleteSpecial(ctx context.Context, id int64) error

		CreateNotification(ctx context.Context, n Notification) (Notification, error)
		GetNotificationByID(ctx context.Context, id int64) (Notification, error)
		QueryNotifications(ctx context.Context, studentIDs []int64) ([]Notification, error)
		// MarkNotificationRead sets read_at to `at` unless it is already set, and returns the stored row.
		MarkNotificationRead(ctx context.Context, id int64, at time.Time) (Notification, error)
	}

	// FileStore removes stored attachments.
	FileStore interface {
		Remove(path string) error
	}

	Service struct {
		repo    Repository
		clsRepo classroom.Repository
		usrRepo user.Repository
		files   FileStore
		logger  core.Logger
	}
)

func NewService(repo Repository, clsRepo classroom.Repository, usrRepo user.Repository, files FileStore, logger core.Logger) *Service {
	return &Service{repo: repo, clsRepo: clsRepo, usrRepo: usrRepo, files: files, logger: logger}
}

func (svc *Service) removeFile(path string) {
	if path == "" {
		return
	}
	if err := svc.files.Remove(path); err != nil {
		svc.logger.Error(fmt.Sprintf("removing attachment %q", path), err)
	}
}

// Templates

func (svc *Service) CreateTemplate(ctx context.Context, classID int64, nt NewTemplate) (Template, error) {
	tmpl := Template{
		ClassID:     classID,
		Name:        nt.Name,
		Category:    nt.Category,
		Weight:      *nt.Weight,
		Date:        nt.Date,
		Description: null.NewString(nt.Description, nt.Description != ""),
		CreatedAt:   NowFunc().UTC(),
	}
	return svc.repo.CreateTemplate(ctx, tmpl)
}

func (svc *Service) QueryTemplates(ctx context.Context, classID int64) ([]Template, error) {
	return svc.repo.QueryTemplates(ctx, TemplateFilter{ClassIDs: []int64{classID}})
}

// GetTemplate returns the template if it belongs to classID.
func (svc *Service) GetTemplate(ctx context.Context, classID, id int64) (Template, error) {
	tmpl, err := svc.repo.GetTemplateByID(ctx, id)
	if err != nil {
		return Template{}, err
	}
	if tmpl.ClassID != classID {
		return Template{}, ErrTemplateNotFound
	}
	return tmpl, nil
}

func (svc *Service) UpdateTemplate(ctx context.Context, classID, id int64, ut UpdateTemplate) (Template, error) {
	tmpl, err := svc.GetTemplate(ctx, classID, id)
	if err != nil {
		return Template{}, errors.Wrap(err, "finding template")
	}
	if ut.Name != "" {
		tmpl.Name = ut.Name
	}
	if ut.Category != "" {
		tmpl.Category = ut.Category
	}
	if ut.Weight != nil {
		tmpl.Weight = *ut.Weight
	}
	if ut.Date.Valid {
		tmpl.Date = ut.Date
	}
	if ut.Description != nil {
		desc := core.CleanString(*ut.Description)
		tmpl.Description = null.NewString(desc, desc != "")
	}
	return svc.repo.UpdateTemplate(ctx, tmpl)
}

// DeleteTemplate deletes the template with its grades, then the attachments of those grades.
func (svc *Service) DeleteTemplate(ctx context.Context, classID, id int64) error {
	if _, err := svc.GetTemplate(ctx, classID, id); err != nil {
		return errors.Wrap(err, "finding template")
	}
	grades, err := svc.repo.QueryGrades(ctx, GradeFilter{TemplateID: id})
	if err != nil {
		return errors.Wrap(err, "querying grades")
	}
	if err = svc.repo.DeleteTemplate(ctx, id); err != nil {
		return err
	}
	for _, g := range grades {
		if g.HasAttachment() {
			svc.removeFile(g.AttachmentPath.String)
		}
	}
	return nil
}

// TemplateStats returns the statistics of every template of the class.
func (svc *Service) TemplateStats(ctx context.Context, classID int64) ([]aggregate.TemplateStats, error) {
	templates, err := svc.QueryTemplates(ctx, classID)
	if err != nil {
		return nil, errors.Wrap(err, "querying templates")
	}
	students, err := svc.clsRepo.QueryStudents(ctx, classroom.StudentFilter{ClassID: classID})
	if err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	grades, err := svc.repo.QueryGrades(ctx, GradeFilter{ClassIDs: []int64{classID}})
	if err != nil {
		return nil, errors.Wrap(err, "querying grades")
	}

	names := make(map[int64]string, len(students))
	for _, st := range students {
		names[st.ID] = st.Name
	}
	refs := make([]aggregate.TemplateRef, len(templates))
	for i, t := range templates {
		refs[i] = aggregate.TemplateRef{ID: t.ID, Name: t.Name}
	}
	grefs := make([]aggregate.GradeRef, len(grades))
	for i, g := range grades {
		grefs[i] = aggregate.GradeRef{
			TemplateID:  g.TemplateID,
			Name:        g.Name,
			StudentName: names[g.StudentID],
			Value:       null.Float64From(g.Value),
		}
	}
	return aggregate.TemplateStatistics(refs, grefs), nil
}

// Grades

func (svc *Service) QueryGrades(ctx context.Context, classID int64) ([]Grade, error) {
	return svc.repo.QueryGrades(ctx, GradeFilter{ClassIDs: []int64{classID}})
}

// GetGrade returns the grade if it belongs to classID.
func (svc *Service) GetGrade(ctx context.Context, classID, id int64) (Grade, error) {
	g, err := svc.repo.GetGradeByID(ctx, id)
	if err != nil {
		return Grade{}, err
	}
	if g.ClassID != classID {
		return Grade{}, ErrGradeNotFound
	}
	return g, nil
}

// RecordGrade stores a grade for a student of the class, with an optional stored attachment.
// The attachment file is removed on every failure path.
// The student is notified afterwards: a failing notification is logged, the grade is kept.
func (svc *Service) RecordGrade(ctx context.Context, classID int64, ng NewGrade, att *Attachment) (_ Grade, err error) {
	if att != nil {
		defer func() {
			if err != nil {
				svc.removeFile(att.Path)
			}
		}()
		if ng.ExternalLink != "" {
			return Grade{}, errLinkAndFile
		}
	}

	st, err := svc.clsRepo.GetStudentByID(ctx, ng.StudentID)
	if err != nil {
		if core.IsNotFound(err) {
			return Grade{}, classroom.ErrStudentNotFound
		}
		return Grade{}, errors.Wrap(err, "finding student")
	}
	if st.ClassID != classID {
		return Grade{}, classroom.ErrStudentNotFound
	}
	tmpl, err := svc.GetTemplate(ctx, classID, ng.TemplateID)
	if err != nil {
		if core.IsNotFound(err) {
			return Grade{}, ErrTemplateNotFound
		}
		return Grade{}, errors.Wrap(err, "finding template")
	}

	now := NowFunc().UTC()
	g := Grade{
		StudentID:    st.ID,
		ClassID:      classID,
		TemplateID:   null.Int64From(tmpl.ID),
		Name:         tmpl.Name,
		Value:        *ng.Value,
		Note:         null.NewString(ng.Note, ng.Note != ""),
		ExternalLink: null.NewString(ng.ExternalLink, ng.ExternalLink != ""),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if att != nil {
		g.AttachmentPath = null.StringFrom(att.Path)
		g.AttachmentName = null.StringFrom(att.Name)
		g.AttachmentMIME = null.StringFrom(att.MIME)
		g.AttachmentSize = null.Int64From(att.Size)
	}

	if g, err = svc.repo.CreateGrade(ctx, g); err != nil {
		if core.IsConflict(err) {
			return Grade{}, ErrDuplicateGrade
		}
		return Grade{}, errors.Wrap(err, "inserting grade")
	}

	svc.notify(ctx, st.ID, NotificationGradeAdded, fmt.Sprintf("New grade in %s: %s", tmpl.Name, formatValue(g.Value)))
	return g, nil
}

func (svc *Service) UpdateGrade(ctx context.Context, classID, id int64, ug UpdateGrade) (Grade, error) {
	g, err := svc.GetGrade(ctx, classID, id)
	if err != nil {
		return Grade{}, errors.Wrap(err, "finding grade")
	}
	if ug.Value != nil {
		g.Value = *ug.Value
	}
	if ug.Note != nil {
		note := core.CleanString(*ug.Note)
		g.Note = null.NewString(note, note != "")
	}
	if ug.ExternalLink != nil {
		link := *ug.ExternalLink
		if link != "" && g.HasAttachment() {
			return Grade{}, errLinkAndFile
		}
		g.ExternalLink = null.NewString(link, link != "")
	}
	g.UpdatedAt = NowFunc().UTC()

	if g, err = svc.repo.UpdateGrade(ctx, g); err != nil {
		return Grade{}, errors.Wrap(err, "updating grade")
	}
	svc.notify(ctx, g.StudentID, NotificationGradeUpdated, fmt.Sprintf("Grade updated in %s: %s", g.Name, formatValue(g.Value)))
	return g, nil
}

// DeleteGrade deletes the grade then its attachment file.
func (svc *Service) DeleteGrade(ctx context.Context, classID, id int64) error {
	g, err := svc.GetGrade(ctx, classID, id)
	if err != nil {
		return errors.Wrap(err, "finding grade")
	}
	if err = svc.repo.DeleteGrade(ctx, id); err != nil {
		return err
	}
	if g.HasAttachment() {
		svc.removeFile(g.AttachmentPath.String)
	}
	return nil
}

func (svc *Service) notify(ctx context.Context, studentID int64, typ, msg string) {
	n := Notification{
		StudentID: studentID,
		Message:   msg,
		Type:      typ,
		CreatedAt: NowFunc().UTC(),
	}
	if _, err := svc.repo.CreateNotification(ctx, n); err != nil {
		svc.logger.Error(fmt.Sprintf("notifying student %d", studentID), err)
	}
}

func formatValue(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// Special assessments

func (svc *Service) CreateSpecial(ctx context.Context, classID int64, ns NewSpecialAssessment) (SpecialAssessment, error) {
	st, err := svc.clsRepo.GetStudentByID(ctx, ns.StudentID)
	if err != nil {
		return SpecialAssessment{}, errors.Wrap(err, "finding student")
	}
	if st.ClassID != classID {
		return SpecialAssessment{}, classroom.ErrStudentNotFound
	}
	sa := SpecialAssessment{
		StudentID:   st.ID,
		ClassID:     classID,
		Type:        ns.Type,
		Name:        ns.Name,
		Description: null.NewString(ns.Description, ns.Description != ""),
		Weight:      *ns.Weight,
		Value:       *ns.Value,
		CreatedAt:   NowFunc().UTC(),
	}
	return svc.repo.CreateSpecial(ctx, sa)
}

func (svc *Service) QuerySpecials(ctx context.Context, classID int64) ([]SpecialAssessment, error) {
	return svc.repo.QuerySpecials(ctx, SpecialFilter{ClassIDs: []int64{classID}})
}

// GetSpecial returns the special assessment if it belongs to classID.
func (svc *Service) GetSpecial(ctx context.Context, classID, id int64) (SpecialAssessment, error) {
	sa, err := svc.repo.GetSpecialByID(ctx, id)
	if err != nil {
		return SpecialAssessment{}, err
	}
	if sa.ClassID != classID {
		return SpecialAssessment{}, ErrSpecialNotFound
	}
	return sa, nil
}

func (svc *Service) UpdateSpecial(ctx context.Context, classID, id int64, us UpdateSpecialAssessment) (SpecialAssessment, error) {
	sa, err := svc.GetSpecial(ctx, classID, id)
	if err != nil {
		return SpecialAssessment{}, errors.Wrap(err, "finding special assessment")
	}
	if us.Type != "" {
		sa.Type = us.Type
	}
	if us.Name != "" {
		sa.Name = us.Name
	}
	if sa.Type == SpecialCustom && sa.Name == "" {
		return SpecialAssessment{}, core.NewValidationError(nil, core.FieldError{Field: "name", Error: customNameText})
	}
	if us.Description != nil {
		desc := core.CleanString(*us.Description)
		sa.Description = null.NewString(desc, desc != "")
	}
	if us.Weight != nil {
		sa.Weight = *us.Weight
	}
	if us.Value != nil {
		sa.Value = *us.Value
	}
	return svc.repo.UpdateSpecial(ctx, sa)
}

func (svc *Service) DeleteSpecial(ctx context.Context, classID, id int64) error {
	if _, err := svc.GetSpecial(ctx, classID, id); err != nil {
		return errors.Wrap(err, "finding special assessment")
	}
	return svc.repo.DeleteSpecial(ctx, id)
}

// StudentAverages returns the weighted averages of one student of the class.
func (svc *Service) StudentAverages(ctx context.Context, classID, studentID int64) (aggregate.Averages, error) {
	st, err := svc.clsRepo.GetStudentByID(ctx, studentID)
	if err != nil {
		return aggregate.Averages{}, errors.Wrap(err, "finding student")
	}
	if st.ClassID != classID {
		return aggregate.Averages{}, classroom.ErrStudentNotFound
	}
	bk, err := svc.loadBook(ctx, []classroom.Student{st})
	if err != nil {
		return aggregate.Averages{}, err
	}
	return aggregate.WeightedAverages(bk.rows(st.ID)), nil
}

// TeacherAttachment returns a grade with an attachment, in a class owned by teacherID.
func (svc *Service) TeacherAttachment(ctx context.Context, teacherID, gradeID int64) (Grade, error) {
	g, err := svc.repo.GetGradeByID(ctx, gradeID)
	if err != nil {
		return Grade{}, err
	}
	cls, err := svc.clsRepo.GetClassByID(ctx, g.ClassID)
	if err != nil {
		return Grade{}, errors.Wrap(err, "finding class")
	}
	if cls.TeacherID != teacherID || !g.HasAttachment() {
		return Grade{}, ErrGradeNotFound
	}
	return g, nil
}
