package grade

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/aggregate"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/export"
)

// book gathers everything needed to build the grade book of one person across their enrolments.
type book struct {
	students  []classroom.Student
	classes   map[int64]classroom.Class
	teachers  map[int64]string // teacher ID -> email
	templates []Template
	grades    []Grade
	specials  []SpecialAssessment
}

func (svc *Service) loadBook(ctx context.Context, students []classroom.Student) (*book, error) {
	bk := &book{
		students: students,
		classes:  make(map[int64]classroom.Class, len(students)),
		teachers: make(map[int64]string),
	}
	if len(students) == 0 {
		return bk, nil
	}

	classIDs := make([]int64, 0, len(students))
	studentIDs := make([]int64, 0, len(students))
	for _, st := range students {
		classIDs = append(classIDs, st.ClassID)
		studentIDs = append(studentIDs, st.ID)
	}

	classes, err := svc.clsRepo.QueryClasses(ctx, classroom.ClassFilter{IDs: classIDs})
	if err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	for _, cls := range classes {
		bk.classes[cls.ID] = cls
		if _, ok := bk.teachers[cls.TeacherID]; !ok {
			teacher, err := svc.usrRepo.GetUserByID(ctx, cls.TeacherID)
			switch {
			case err == nil:
				bk.teachers[cls.TeacherID] = teacher.Email
			case core.IsNotFound(err):
				bk.teachers[cls.TeacherID] = ""
			default:
				return nil, errors.Wrap(err, "finding teacher")
			}
		}
	}

	if bk.templates, err = svc.repo.QueryTemplates(ctx, TemplateFilter{ClassIDs: classIDs}); err != nil {
		return nil, errors.Wrap(err, "querying templates")
	}
	if bk.grades, err = svc.repo.QueryGrades(ctx, GradeFilter{StudentIDs: studentIDs}); err != nil {
		return nil, errors.Wrap(err, "querying grades")
	}
	if bk.specials, err = svc.repo.QuerySpecials(ctx, SpecialFilter{StudentIDs: studentIDs}); err != nil {
		return nil, errors.Wrap(err, "querying special assessments")
	}
	return bk, nil
}

// classTemplates returns the aggregation refs of the templates of a class.
func (bk *book) classTemplates(classID int64) []aggregate.TemplateRef {
	var refs []aggregate.TemplateRef
	for _, t := range bk.templates {
		if t.ClassID == classID {
			refs = append(refs, aggregate.TemplateRef{ID: t.ID, Name: t.Name})
		}
	}
	return refs
}

func (bk *book) template(id int64) (Template, bool) {
	for _, t := range bk.templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

// gradeTemplate finds the template of a grade, falling back to the name for legacy grades.
func (bk *book) gradeTemplate(g Grade) (Template, bool) {
	ref, ok := aggregate.MatchTemplate(bk.classTemplates(g.ClassID), aggregate.GradeRef{TemplateID: g.TemplateID, Name: g.Name})
	if !ok {
		return Template{}, false
	}
	return bk.template(ref.ID)
}

// entries returns the grade book lines, template grades first then special assessments,
// each ordered by date. studentID 0 selects every student of the book.
func (bk *book) entries(studentID int64) []Entry {
	entries := make([]Entry, 0, len(bk.grades)+len(bk.specials))
	for _, g := range bk.grades {
		if studentID != 0 && g.StudentID != studentID {
			continue
		}
		cls := bk.classes[g.ClassID]
		e := Entry{
			Kind:         EntryGrade,
			ID:           g.ID,
			ClassID:      g.ClassID,
			ClassName:    cls.Name,
			Subject:      cls.Subject,
			Name:         g.Name,
			Value:        g.Value,
			Comment:      g.Note.String,
			Teacher:      bk.teachers[cls.TeacherID],
			GradedAt:     g.CreatedAt,
			Attachment:   g.AttachmentName,
			ExternalLink: g.ExternalLink,
		}
		if tmpl, ok := bk.gradeTemplate(g); ok {
			e.Name = tmpl.Name
			e.Category = tmpl.Category
			e.Weight = null.Float64From(tmpl.Weight)
			if tmpl.Date.Valid {
				e.GradedAt = tmpl.Date.Time
			}
		}
		entries = append(entries, e)
	}
	nGrades := len(entries)

	for _, sa := range bk.specials {
		if studentID != 0 && sa.StudentID != studentID {
			continue
		}
		cls := bk.classes[sa.ClassID]
		name := sa.Name
		if name == "" {
			name = sa.Type
		}
		entries = append(entries, Entry{
			Kind:      EntrySpecial,
			ID:        sa.ID,
			ClassID:   sa.ClassID,
			ClassName: cls.Name,
			Subject:   cls.Subject,
			Name:      name,
			Category:  sa.Type,
			Weight:    null.Float64From(sa.Weight),
			Value:     sa.Value,
			Comment:   sa.Description.String,
			Teacher:   bk.teachers[cls.TeacherID],
			GradedAt:  sa.CreatedAt,
		})
	}

	byDate := func(s []Entry) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].GradedAt.Before(s[j].GradedAt) })
	}
	byDate(entries[:nGrades])
	byDate(entries[nGrades:])
	return entries
}

// rows returns the aggregation rows of a student: template grades weighted by their template,
// special assessments by their own weight. Grades without a template keep an absent weight.
func (bk *book) rows(studentID int64) []aggregate.Row {
	entries := bk.entries(studentID)
	rows := make([]aggregate.Row, len(entries))
	for i, e := range entries {
		rows[i] = aggregate.Row{Value: null.Float64From(e.Value), Weight: e.Weight, Subject: e.Subject}
	}
	return rows
}

func (svc *Service) enrolments(ctx context.Context, email string) ([]classroom.Student, error) {
	students, err := svc.clsRepo.QueryStudents(ctx, classroom.StudentFilter{Email: core.CleanString(email, true /* lower */)})
	if err != nil {
		return nil, errors.Wrap(err, "querying enrolments")
	}
	return students, nil
}

func (svc *Service) studentBook(ctx context.Context, email string) (*book, error) {
	students, err := svc.enrolments(ctx, email)
	if err != nil {
		return nil, err
	}
	return svc.loadBook(ctx, students)
}

// StudentEntries returns the grade book of the person with the given email across all enrolments.
func (svc *Service) StudentEntries(ctx context.Context, email string) ([]Entry, error) {
	bk, err := svc.studentBook(ctx, email)
	if err != nil {
		return nil, err
	}
	return bk.entries(0), nil
}

// StudentOverview returns the weighted averages of a person and the class averages of their classes.
func (svc *Service) StudentOverview(ctx context.Context, email string) (Overview, error) {
	bk, err := svc.studentBook(ctx, email)
	if err != nil {
		return Overview{}, err
	}
	ov := Overview{
		Averages:      aggregate.WeightedAverages(bk.rows(0)),
		ClassAverages: map[string]null.Float64{},
	}
	if len(bk.students) == 0 {
		return ov, nil
	}

	classIDs := make([]int64, 0, len(bk.classes))
	for id := range bk.classes {
		classIDs = append(classIDs, id)
	}
	grades, err := svc.repo.QueryGrades(ctx, GradeFilter{ClassIDs: classIDs})
	if err != nil {
		return Overview{}, errors.Wrap(err, "querying class grades")
	}
	specials, err := svc.repo.QuerySpecials(ctx, SpecialFilter{ClassIDs: classIDs})
	if err != nil {
		return Overview{}, errors.Wrap(err, "querying class special assessments")
	}
	rows := make([]aggregate.Row, 0, len(grades)+len(specials))
	for _, g := range grades {
		rows = append(rows, aggregate.Row{Value: null.Float64From(g.Value), Subject: bk.classes[g.ClassID].Subject})
	}
	for _, sa := range specials {
		rows = append(rows, aggregate.Row{Value: null.Float64From(sa.Value), Subject: bk.classes[sa.ClassID].Subject})
	}
	ov.ClassAverages = aggregate.ClassAverages(rows)
	return ov, nil
}

// StudentTasks returns the dated templates of the person's classes which are due today or later, soonest first.
func (svc *Service) StudentTasks(ctx context.Context, email string) ([]Template, error) {
	students, err := svc.enrolments(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return []Template{}, nil
	}
	classIDs := make([]int64, len(students))
	for i, st := range students {
		classIDs[i] = st.ClassID
	}
	templates, err := svc.repo.QueryTemplates(ctx, TemplateFilter{ClassIDs: classIDs})
	if err != nil {
		return nil, errors.Wrap(err, "querying templates")
	}

	now := NowFunc().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	tasks := make([]Template, 0, len(templates))
	for _, t := range templates {
		if t.Date.Valid && !t.Date.Time.Before(today) {
			tasks = append(tasks, t)
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Date.Time.Before(tasks[j].Date.Time) })
	return tasks, nil
}

// StudentNotifications returns the notifications of the person, newest first.
func (svc *Service) StudentNotifications(ctx context.Context, email string) ([]Notification, error) {
	students, err := svc.enrolments(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return []Notification{}, nil
	}
	ids := make([]int64, len(students))
	for i, st := range students {
		ids[i] = st.ID
	}
	notifs, err := svc.repo.QueryNotifications(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	sort.SliceStable(notifs, func(i, j int) bool { return notifs[i].CreatedAt.After(notifs[j].CreatedAt) })
	return notifs, nil
}

// MarkNotificationRead sets the read time of one of the person's notifications. It is set only once.
func (svc *Service) MarkNotificationRead(ctx context.Context, email string, id int64) (Notification, error) {
	n, err := svc.repo.GetNotificationByID(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	students, err := svc.enrolments(ctx, email)
	if err != nil {
		return Notification{}, err
	}
	for _, st := range students {
		if st.ID == n.StudentID {
			return svc.repo.MarkNotificationRead(ctx, id, NowFunc().UTC())
		}
	}
	return Notification{}, ErrNotificationNotFound
}

// StudentAttachment returns one of the person's grades holding an attachment.
func (svc *Service) StudentAttachment(ctx context.Context, email string, gradeID int64) (Grade, error) {
	g, err := svc.repo.GetGradeByID(ctx, gradeID)
	if err != nil {
		return Grade{}, err
	}
	students, err := svc.enrolments(ctx, email)
	if err != nil {
		return Grade{}, err
	}
	for _, st := range students {
		if st.ID == g.StudentID && g.HasAttachment() {
			return g, nil
		}
	}
	return Grade{}, ErrGradeNotFound
}

// ExportRows returns the person's grade book in the shape the CSV and PDF renderers consume.
func (svc *Service) ExportRows(ctx context.Context, email string) ([]export.Row, error) {
	entries, err := svc.StudentEntries(ctx, email)
	if err != nil {
		return nil, err
	}
	rows := make([]export.Row, len(entries))
	for i, e := range entries {
		subject := e.Subject
		if e.Name != "" {
			subject += " - " + e.Name
		}
		rows[i] = export.Row{
			Subject:  subject,
			GradedAt: e.GradedAt,
			Value:    e.Value,
			Weight:   e.Weight.Float64,
			Teacher:  e.Teacher,
			Comment:  e.Comment,
		}
	}
	return rows, nil
}
