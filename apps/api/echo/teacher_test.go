package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/aggregate"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/grade"
	"github.com/trezcool/gradebook/core/user"
	"github.com/trezcool/gradebook/testutil"
)

var pdfContent = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj << >> endobj\n%%EOF\n")

type classFixture struct {
	*testEnv
	teacher user.User
	c       *client
	cls     classroom.Class
	st      classroom.Student
	tmpl    grade.Template
}

func setupClass(t *testing.T) *classFixture {
	t.Helper()
	env := setup(t)
	f := &classFixture{testEnv: env}
	f.teacher = env.createUser(t, "teacher@school.test", user.RoleTeacher)
	f.cls = testutil.CreateClass(t, env.clsRepo, f.teacher.ID, "7b", "Math")
	f.st = testutil.CreateStudent(t, env.clsRepo, f.cls.ID, "Lea Berg", "lea@school.test")
	f.tmpl = testutil.CreateTemplate(t, env.grdRepo, f.cls.ID, "Exam 1", grade.CategoryExam, 2)
	f.c = env.loggedIn(t, f.teacher)
	return f
}

func (f *classFixture) path(format string, args ...interface{}) string {
	return fmt.Sprintf("/teacher/classes/%d", f.cls.ID) + fmt.Sprintf(format, args...)
}

func (f *classFixture) uploadFields() map[string]string {
	return map[string]string{
		"student_id":  strconv.FormatInt(f.st.ID, 10),
		"template_id": strconv.FormatInt(f.tmpl.ID, 10),
		"value":       "1,5",
		"note":        "well done",
		"_csrf":       testCSRF,
	}
}

func Test_teacherApi_ownership(t *testing.T) {
	f := setupClass(t)
	other := f.createUser(t, "other@school.test", user.RoleTeacher)
	foreign := testutil.CreateClass(t, f.clsRepo, other.ID, "9c", "Art")
	foreignPath := "/teacher/classes/" + strconv.FormatInt(foreign.ID, 10)

	tests := []httpTest{
		{name: "own class", method: http.MethodGet, path: f.path(""), wantCode: http.StatusOK},
		{name: "foreign class", method: http.MethodGet, path: foreignPath, wantCode: http.StatusNotFound},
		{name: "foreign students", method: http.MethodGet, path: foreignPath + "/students", wantCode: http.StatusNotFound},
		{name: "foreign grade", method: http.MethodPost, path: foreignPath + "/grades", body: marshallObj(t, grade.NewGrade{StudentID: f.st.ID, TemplateID: f.tmpl.ID, Value: testutil.Float(2)}), wantCode: http.StatusNotFound},
		{name: "unknown class", method: http.MethodGet, path: "/teacher/classes/999", wantCode: http.StatusNotFound},
		{name: "malformed id", method: http.MethodGet, path: "/teacher/classes/x7", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.c.request(tt.method, tt.path, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}

	rec := f.c.request(http.MethodGet, "/teacher/classes", nil)
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marshallList(t, f.cls)}, rec)
}

func Test_teacherApi_retrieveClass(t *testing.T) {
	f := setupClass(t)

	rec := f.c.request(http.MethodGet, f.path(""), nil)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusOK,
		wantData: marshallObj(t, ClassDetail{Class: f.cls, Students: []classroom.Student{f.st}, Templates: []grade.Template{f.tmpl}}),
	}, rec)
}

func Test_teacherApi_students(t *testing.T) {
	f := setupClass(t)

	tests := []httpTest{
		{name: "create", method: http.MethodPost, path: f.path("/students"), body: marshallObj(t, classroom.NewStudent{Name: "Max Roth", Email: "MAX@school.test", SchoolYear: "2024/25"}), wantCode: http.StatusCreated},
		{name: "duplicate email", method: http.MethodPost, path: f.path("/students"), body: marshallObj(t, classroom.NewStudent{Name: "Max Two", Email: "max@school.test", SchoolYear: "2024/25"}), wantCode: http.StatusConflict},
		{name: "invalid", method: http.MethodPost, path: f.path("/students"), body: marshallObj(t, classroom.NewStudent{Name: "Max", Email: "nope", SchoolYear: "2024/25"}), wantCode: http.StatusBadRequest},
		{name: "retrieve", method: http.MethodGet, path: f.path("/students/%d", f.st.ID), wantCode: http.StatusOK, wantData: marshallObj(t, f.st)},
		{name: "update", method: http.MethodPatch, path: f.path("/students/%d", f.st.ID), body: marshallObj(t, classroom.UpdateStudent{SchoolYear: "2025/26"}), wantCode: http.StatusOK},
		{name: "unknown", method: http.MethodGet, path: f.path("/students/999"), wantCode: http.StatusNotFound},
		{name: "averages", method: http.MethodGet, path: f.path("/students/%d/averages", f.st.ID), wantCode: http.StatusOK},
		{name: "delete", method: http.MethodDelete, path: f.path("/students/%d", f.st.ID), wantCode: http.StatusNoContent},
		{name: "deleted", method: http.MethodGet, path: f.path("/students/%d", f.st.ID), wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.c.request(tt.method, tt.path, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}

	// a student of another class is not reachable through this one
	otherCls := testutil.CreateClass(t, f.clsRepo, f.teacher.ID, "8a", "Math")
	otherSt := testutil.CreateStudent(t, f.clsRepo, otherCls.ID, "Kim Lu", "kim@school.test")
	rec := f.c.request(http.MethodGet, f.path("/students/%d", otherSt.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_teacherApi_templates(t *testing.T) {
	f := setupClass(t)
	testutil.CreateGrade(t, f.grdRepo, f.st, f.tmpl, 2)
	st2 := testutil.CreateStudent(t, f.clsRepo, f.cls.ID, "Max Roth", "max@school.test")
	testutil.CreateGrade(t, f.grdRepo, st2, f.tmpl, 4)

	tests := []httpTest{
		{name: "create", method: http.MethodPost, path: f.path("/templates"), body: marshallObj(t, grade.NewTemplate{Name: "Quiz 1", Category: "Quiz", Weight: testutil.Float(0.5)}), wantCode: http.StatusCreated},
		{name: "bad category", method: http.MethodPost, path: f.path("/templates"), body: marshallObj(t, grade.NewTemplate{Name: "Quiz 2", Category: "nap", Weight: testutil.Float(1)}), wantCode: http.StatusBadRequest, wantData: marshallObj(t, map[string]string{"category": "invalid category"})},
		{name: "bad weight", method: http.MethodPost, path: f.path("/templates"), body: marshallObj(t, grade.NewTemplate{Name: "Quiz 2", Category: "quiz", Weight: testutil.Float(101)}), wantCode: http.StatusBadRequest},
		{name: "update", method: http.MethodPatch, path: f.path("/templates/%d", f.tmpl.ID), body: marshallObj(t, grade.UpdateTemplate{Name: "Final exam"}), wantCode: http.StatusOK},
		{name: "unknown", method: http.MethodPatch, path: f.path("/templates/999"), body: marshallObj(t, grade.UpdateTemplate{Name: "x"}), wantCode: http.StatusNotFound},
		{name: "list", method: http.MethodGet, path: f.path("/templates"), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.c.request(tt.method, tt.path, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}

	rec := f.c.request(http.MethodGet, f.path("/templates/stats"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stats []aggregate.TemplateStats
	unmarshall(t, rec, &stats)
	require.Len(t, stats, 2)
	for _, s := range stats {
		if s.TemplateID != f.tmpl.ID {
			continue
		}
		assert.Equal(t, 2, s.Count)
		assert.InDelta(t, 3.0, s.Average.Float64, 1e-9)
		assert.Equal(t, []string{"Lea Berg"}, s.BestStudents)
		assert.Equal(t, []string{"Max Roth"}, s.WorstStudents)
	}

	rec = f.c.request(http.MethodDelete, f.path("/templates/%d", f.tmpl.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	grades, err := f.grdRepo.QueryGrades(context.Background(), grade.GradeFilter{ClassIDs: []int64{f.cls.ID}})
	require.NoError(t, err)
	assert.Empty(t, grades)
}

func Test_teacherApi_grades(t *testing.T) {
	f := setupClass(t)
	otherCls := testutil.CreateClass(t, f.clsRepo, f.teacher.ID, "8a", "Math")
	otherSt := testutil.CreateStudent(t, f.clsRepo, otherCls.ID, "Kim Lu", "kim@school.test")

	newGrade := func(studentID int64, value float64) []byte {
		return marshallObj(t, grade.NewGrade{StudentID: studentID, TemplateID: f.tmpl.ID, Value: testutil.Float(value)})
	}
	tests := []httpTest{
		{name: "out of range", method: http.MethodPost, path: f.path("/grades"), body: newGrade(f.st.ID, 6), wantCode: http.StatusBadRequest, wantData: marshallObj(t, map[string]string{"value": "must be between 1 and 5"})},
		{name: "student of other class", method: http.MethodPost, path: f.path("/grades"), body: newGrade(otherSt.ID, 2), wantCode: http.StatusNotFound},
		{name: "record", method: http.MethodPost, path: f.path("/grades"), body: newGrade(f.st.ID, 2.5), wantCode: http.StatusCreated},
		{name: "duplicate", method: http.MethodPost, path: f.path("/grades"), body: newGrade(f.st.ID, 1), wantCode: http.StatusConflict},
		{name: "list", method: http.MethodGet, path: f.path("/grades"), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.c.request(tt.method, tt.path, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}

	grades, err := f.grdRepo.QueryGrades(context.Background(), grade.GradeFilter{ClassIDs: []int64{f.cls.ID}})
	require.NoError(t, err)
	require.Len(t, grades, 1)
	g := grades[0]

	rec := f.c.request(http.MethodPatch, f.path("/grades/%d", g.ID), marshallObj(t, grade.UpdateGrade{Value: testutil.Float(1.5), Note: testutil.String("better")}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated grade.Grade
	unmarshall(t, rec, &updated)
	assert.Equal(t, 1.5, updated.Value)
	assert.Equal(t, "better", updated.Note.String)

	rec = f.c.request(http.MethodDelete, f.path("/grades/%d", g.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.c.request(http.MethodDelete, f.path("/grades/%d", g.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_teacherApi_specials(t *testing.T) {
	f := setupClass(t)

	tests := []httpTest{
		{name: "custom without name", body: marshallObj(t, grade.NewSpecialAssessment{StudentID: f.st.ID, Type: grade.SpecialCustom, Weight: testutil.Float(1), Value: testutil.Float(2)}), wantCode: http.StatusBadRequest},
		{name: "unknown type", body: marshallObj(t, grade.NewSpecialAssessment{StudentID: f.st.ID, Type: "dance", Weight: testutil.Float(1), Value: testutil.Float(2)}), wantCode: http.StatusBadRequest},
		{name: "presentation", body: marshallObj(t, grade.NewSpecialAssessment{StudentID: f.st.ID, Type: grade.SpecialPresentation, Weight: testutil.Float(1), Value: testutil.Float(2)}), wantCode: http.StatusCreated},
		{name: "custom", body: marshallObj(t, grade.NewSpecialAssessment{StudentID: f.st.ID, Type: grade.SpecialCustom, Name: "Science fair", Weight: testutil.Float(0.5), Value: testutil.Float(1)}), wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.c.request(http.MethodPost, f.path("/specials"), tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}

	rec := f.c.request(http.MethodGet, f.path("/specials"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var specials []grade.SpecialAssessment
	unmarshall(t, rec, &specials)
	require.Len(t, specials, 2)

	rec = f.c.request(http.MethodPatch, f.path("/specials/%d", specials[0].ID), marshallObj(t, grade.UpdateSpecialAssessment{Value: testutil.Float(3)}))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.c.request(http.MethodDelete, f.path("/specials/%d", specials[1].ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func Test_teacherApi_uploadGrade(t *testing.T) {
	pdf := &formFile{name: "report.pdf", mime: "application/pdf", content: pdfContent}

	t.Run("ok", func(t *testing.T) {
		f := setupClass(t)
		rec := f.c.do(newUploadRequest(t, f.path("/grades/upload"), f.uploadFields(), pdf))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var g grade.Grade
		unmarshall(t, rec, &g)
		assert.Equal(t, 1.5, g.Value)
		assert.Equal(t, "report.pdf", g.AttachmentName.String)
		assert.Equal(t, "application/pdf", g.AttachmentMIME.String)
		require.Len(t, f.uploads(t), 1)

		// download
		rec = f.c.request(http.MethodGet, "/teacher/attachments/"+strconv.FormatInt(g.ID, 10), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, pdfContent, rec.Body.Bytes())
		assert.Equal(t, `attachment; filename="report.pdf"`, rec.Header().Get("Content-Disposition"))

		// another teacher cannot
		other := f.createUser(t, "other@school.test", user.RoleTeacher)
		rec = f.loggedIn(t, other).request(http.MethodGet, "/teacher/attachments/"+strconv.FormatInt(g.ID, 10), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("token in header", func(t *testing.T) {
		f := setupClass(t)
		fields := f.uploadFields()
		delete(fields, "_csrf")
		req := newUploadRequest(t, f.path("/grades/upload"), fields, pdf)
		req.Header.Set("X-CSRF-Token", testCSRF)
		rec := f.c.do(req)
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	tests := []struct {
		name     string
		fields   func(f *classFixture) map[string]string
		file     *formFile
		wantCode int
		wantData []byte
	}{
		{
			name:     "missing csrf token",
			fields:   func(f *classFixture) map[string]string { m := f.uploadFields(); delete(m, "_csrf"); return m },
			file:     pdf,
			wantCode: http.StatusForbidden,
			wantData: marshallObj(t, httpErr{Error: "invalid csrf token"}),
		},
		{
			name:     "wrong csrf token",
			fields:   func(f *classFixture) map[string]string { m := f.uploadFields(); m["_csrf"] = "forged"; return m },
			file:     pdf,
			wantCode: http.StatusForbidden,
		},
		{
			name:     "executable",
			fields:   (*classFixture).uploadFields,
			file:     &formFile{name: "report.exe", mime: "application/octet-stream", content: []byte("MZ\x90\x00")},
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"file": "only PDF, JPEG and PNG files are allowed"}),
		},
		{
			name:     "disguised executable",
			fields:   (*classFixture).uploadFields,
			file:     &formFile{name: "report.pdf", mime: "application/pdf", content: []byte("MZ\x90\x00 not a pdf")},
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"file": "file content does not match its type"}),
		},
		{
			name:     "missing file",
			fields:   (*classFixture).uploadFields,
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"file": "file is required"}),
		},
		{
			name:     "bad value",
			fields:   func(f *classFixture) map[string]string { m := f.uploadFields(); m["value"] = "A+"; return m },
			file:     pdf,
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"value": "must be a number"}),
		},
		{
			name: "link and file",
			fields: func(f *classFixture) map[string]string {
				m := f.uploadFields()
				m["external_link"] = "https://example.com/report"
				return m
			},
			file:     pdf,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown student",
			fields:   func(f *classFixture) map[string]string { m := f.uploadFields(); m["student_id"] = "999"; return m },
			file:     pdf,
			wantCode: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupClass(t)
			rec := f.c.do(newUploadRequest(t, f.path("/grades/upload"), tt.fields(f), tt.file))
			checkCodeAndData(t, httpTest{wantCode: tt.wantCode, wantData: tt.wantData}, rec)
			assert.Empty(t, f.uploads(t), "no file may be left behind")
		})
	}

	t.Run("duplicate", func(t *testing.T) {
		f := setupClass(t)
		rec := f.c.do(newUploadRequest(t, f.path("/grades/upload"), f.uploadFields(), pdf))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		stored := f.uploads(t)
		require.Len(t, stored, 1)

		rec = f.c.do(newUploadRequest(t, f.path("/grades/upload"), f.uploadFields(), pdf))
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, stored, f.uploads(t))
	})

	t.Run("deleted file", func(t *testing.T) {
		f := setupClass(t)
		rec := f.c.do(newUploadRequest(t, f.path("/grades/upload"), f.uploadFields(), pdf))
		require.Equal(t, http.StatusCreated, rec.Code)
		var g grade.Grade
		unmarshall(t, rec, &g)
		for _, name := range f.uploads(t) {
			require.NoError(t, os.Remove(filepath.Join(f.store.Root(), name)))
		}

		rec = f.c.request(http.MethodGet, "/teacher/attachments/"+strconv.FormatInt(g.ID, 10), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_teacherApi_deleteGradeRemovesAttachment(t *testing.T) {
	f := setupClass(t)
	rec := f.c.do(newUploadRequest(t, f.path("/grades/upload"), f.uploadFields(), &formFile{name: "scan.png", mime: "image/png", content: []byte("\x89PNG\r\n\x1a\n....")}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var g grade.Grade
	unmarshall(t, rec, &g)

	rec = f.c.request(http.MethodDelete, f.path("/grades/%d", g.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.uploads(t))

	_, err := f.grdRepo.GetGradeByID(context.Background(), g.ID)
	assert.True(t, core.IsNotFound(err))
}
