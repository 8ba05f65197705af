package echoapi

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/gradebook/core/grade"
	"github.com/trezcool/gradebook/core/user"
	"github.com/trezcool/gradebook/testutil"
)

type studentFixture struct {
	*classFixture
	student user.User
	sc      *client
}

func setupStudent(t *testing.T) *studentFixture {
	t.Helper()
	f := &studentFixture{classFixture: setupClass(t)}
	f.student = f.createUser(t, f.st.Email, user.RoleStudent)
	f.sc = f.loggedIn(t, f.student)
	return f
}

// recordGrade records a grade through the teacher API, which also notifies the student.
func (f *studentFixture) recordGrade(t *testing.T, tmpl grade.Template, value float64) grade.Grade {
	t.Helper()
	body := marshallObj(t, grade.NewGrade{StudentID: f.st.ID, TemplateID: tmpl.ID, Value: testutil.Float(value), Note: "Keep it up"})
	rec := f.c.request(http.MethodPost, f.path("/grades"), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var g grade.Grade
	unmarshall(t, rec, &g)
	return g
}

func Test_studentApi_grades(t *testing.T) {
	f := setupStudent(t)
	g := f.recordGrade(t, f.tmpl, 2)
	quiz := testutil.CreateTemplate(t, f.grdRepo, f.cls.ID, "Quiz 1", grade.CategoryQuiz, 1)
	f.recordGrade(t, quiz, 4)

	rec := f.sc.request(http.MethodGet, "/student/grades", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entries []grade.Entry
	unmarshall(t, rec, &entries)
	require.Len(t, entries, 2)
	ids := []int64{entries[0].ID, entries[1].ID}
	assert.Contains(t, ids, g.ID)
	for _, e := range entries {
		assert.Equal(t, grade.EntryGrade, e.Kind)
		assert.Equal(t, "Math", e.Subject)
		assert.Equal(t, f.teacher.Email, e.Teacher)
	}

	rec = f.sc.request(http.MethodGet, "/student/averages", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ov grade.Overview
	unmarshall(t, rec, &ov)
	// (2*2 + 4*1) / 3, rounded to 2 decimals
	assert.Equal(t, 2.67, ov.Averages.Overall.Float64)
	assert.Equal(t, 2.67, ov.Averages.Subjects["Math"].Float64)

	// a person without enrolment sees an empty book
	nobody := f.createUser(t, "nobody@school.test", user.RoleStudent)
	rec = f.loggedIn(t, nobody).request(http.MethodGet, "/student/grades", nil)
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marshallList(t)}, rec)
}

func Test_studentApi_tasks(t *testing.T) {
	f := setupStudent(t)
	soon := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
	later := soon.Add(7 * 24 * time.Hour)
	past := time.Now().UTC().Add(-72 * time.Hour)
	t2 := testutil.CreateTemplate(t, f.grdRepo, f.cls.ID, "Exam 2", grade.CategoryExam, 2, later)
	t1 := testutil.CreateTemplate(t, f.grdRepo, f.cls.ID, "Oral", grade.CategoryOral, 1, soon)
	testutil.CreateTemplate(t, f.grdRepo, f.cls.ID, "Old quiz", grade.CategoryQuiz, 1, past)

	rec := f.sc.request(http.MethodGet, "/student/tasks", nil)
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marshallList(t, t1, t2)}, rec)
}

func Test_studentApi_notifications(t *testing.T) {
	f := setupStudent(t)
	f.recordGrade(t, f.tmpl, 2)

	rec := f.sc.request(http.MethodGet, "/student/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var notifs []grade.Notification
	unmarshall(t, rec, &notifs)
	require.Len(t, notifs, 1)
	assert.Equal(t, grade.NotificationGradeAdded, notifs[0].Type)

	path := "/student/notifications/" + strconv.FormatInt(notifs[0].ID, 10) + "/read"
	rec = f.sc.request(http.MethodPost, path, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// not the notification of another student
	other := f.createUser(t, "other@school.test", user.RoleStudent)
	rec = f.loggedIn(t, other).request(http.MethodPost, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_studentApi_export(t *testing.T) {
	f := setupStudent(t)
	f.recordGrade(t, f.tmpl, 2)

	rec := f.sc.request(http.MethodGet, "/student/export.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=grades.csv", rec.Header().Get("Content-Disposition"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Subject,Date,Grade,Weight,Teacher,Comment"))
	assert.Contains(t, lines[1], "Math - Exam 1")
	assert.Contains(t, lines[1], "Keep it up")

	rec = f.sc.request(http.MethodGet, "/student/export.pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=grades.pdf", rec.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
	assert.Contains(t, rec.Body.String(), f.student.Email)
}

func Test_studentApi_attachments(t *testing.T) {
	f := setupStudent(t)
	rec := f.c.do(newUploadRequest(t, f.path("/grades/upload"), f.uploadFields(), &formFile{name: "my report.pdf", mime: "application/pdf", content: pdfContent}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var g grade.Grade
	unmarshall(t, rec, &g)
	path := "/student/attachments/" + strconv.FormatInt(g.ID, 10)

	rec = f.sc.request(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pdfContent, rec.Body.Bytes())
	assert.Equal(t, `attachment; filename="my_report.pdf"`, rec.Header().Get("Content-Disposition"))

	other := f.createUser(t, "other@school.test", user.RoleStudent)
	rec = f.loggedIn(t, other).request(http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// grades without attachment are not downloadable
	quiz := testutil.CreateTemplate(t, f.grdRepo, f.cls.ID, "Quiz 1", grade.CategoryQuiz, 1)
	plain := f.recordGrade(t, quiz, 3)
	rec = f.sc.request(http.MethodGet, "/student/attachments/"+strconv.FormatInt(plain.ID, 10), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

