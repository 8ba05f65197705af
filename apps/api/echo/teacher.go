package echoapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/grade"
	"github.com/trezcool/gradebook/core/user"
)

const contextClassKey = "class"

type (
	ClassDetail struct {
		Class     classroom.Class     `json:"class"`
		Students  []classroom.Student `json:"students"`
		Templates []grade.Template    `json:"templates"`
	}

	teacherApi struct {
		classSvc *classroom.Service
		gradeSvc *grade.Service
		files    FileStore
		validate *validator.Validate
		maxSize  int64
	}
)

func registerTeacherAPI(app *echo.Echo, deps *Deps) {
	api := teacherApi{
		classSvc: deps.ClassSvc,
		gradeSvc: deps.GradeSvc,
		files:    deps.Files,
		validate: deps.Validate,
		maxSize:  deps.Conf.Upload.MaxSize,
	}

	g := app.Group("/teacher", authMiddleware(deps.UserSvc, deps.Sessions, user.RoleTeacher))
	g.GET("/classes", api.queryClasses)
	g.GET("/attachments/:gid", api.downloadAttachment)

	cg := g.Group("/classes/:cid", api.ownedClassMiddleware)
	cg.GET("", api.retrieveClass)

	cg.GET("/students", api.queryStudents)
	cg.POST("/students", api.createStudent)
	cg.GET("/students/:sid", api.retrieveStudent)
	cg.PATCH("/students/:sid", api.updateStudent)
	cg.DELETE("/students/:sid", api.deleteStudent)
	cg.GET("/students/:sid/averages", api.studentAverages)

	cg.GET("/templates", api.queryTemplates)
	cg.POST("/templates", api.createTemplate)
	cg.GET("/templates/stats", api.templateStats)
	cg.PATCH("/templates/:tid", api.updateTemplate)
	cg.DELETE("/templates/:tid", api.deleteTemplate)

	cg.GET("/grades", api.queryGrades)
	cg.POST("/grades", api.recordGrade)
	cg.POST("/grades/upload", api.uploadGrade)
	cg.PATCH("/grades/:gid", api.updateGrade)
	cg.DELETE("/grades/:gid", api.deleteGrade)

	cg.GET("/specials", api.querySpecials)
	cg.POST("/specials", api.createSpecial)
	cg.PATCH("/specials/:id", api.updateSpecial)
	cg.DELETE("/specials/:id", api.deleteSpecial)
}

// ownedClassMiddleware loads the `:cid` class; classes of other teachers are reported as not found.
func (api *teacherApi) ownedClassMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		cid, err := idParam(ctx, "cid")
		if err != nil {
			return err
		}
		usr, _ := contextUser(ctx)
		cls, err := api.classSvc.GetOwnedClass(ctx.Request().Context(), usr.ID, cid)
		if err != nil {
			return errors.Wrap(err, "finding owned class")
		}
		ctx.Set(contextClassKey, cls)
		return next(ctx)
	}
}

func contextClass(ctx echo.Context) classroom.Class {
	cls, _ := ctx.Get(contextClassKey).(classroom.Class)
	return cls
}

func (api *teacherApi) queryClasses(ctx echo.Context) error {
	usr, _ := contextUser(ctx)
	classes, err := api.classSvc.QueryClasses(ctx.Request().Context(), classroom.ClassFilter{TeacherID: usr.ID})
	if err != nil {
		return errors.Wrap(err, "querying classes")
	}
	if classes == nil {
		classes = []classroom.Class{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *teacherApi) retrieveClass(ctx echo.Context) error {
	cls := contextClass(ctx)
	students, err := api.classSvc.QueryStudents(ctx.Request().Context(), cls.ID)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	templates, err := api.gradeSvc.QueryTemplates(ctx.Request().Context(), cls.ID)
	if err != nil {
		return errors.Wrap(err, "querying templates")
	}
	if students == nil {
		students = []classroom.Student{}
	}
	if templates == nil {
		templates = []grade.Template{}
	}
	return ctx.JSON(http.StatusOK, ClassDetail{Class: cls, Students: students, Templates: templates})
}

// Students

func (api *teacherApi) queryStudents(ctx echo.Context) error {
	students, err := api.classSvc.QueryStudents(ctx.Request().Context(), contextClass(ctx).ID)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []classroom.Student{}
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *teacherApi) createStudent(ctx echo.Context) error {
	var data classroom.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	st, err := api.classSvc.CreateStudent(ctx.Request().Context(), contextClass(ctx).ID, data)
	if err != nil {
		return errors.Wrap(err, "creating student")
	}
	return ctx.JSON(http.StatusCreated, st)
}

func (api *teacherApi) retrieveStudent(ctx echo.Context) error {
	sid, err := idParam(ctx, "sid")
	if err != nil {
		return err
	}
	st, err := api.classSvc.GetStudent(ctx.Request().Context(), contextClass(ctx).ID, sid)
	if err != nil {
		return errors.Wrap(err, "finding student")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *teacherApi) updateStudent(ctx echo.Context) error {
	sid, err := idParam(ctx, "sid")
	if err != nil {
		return err
	}
	var data classroom.UpdateStudent
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStudent")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	st, err := api.classSvc.UpdateStudent(ctx.Request().Context(), contextClass(ctx).ID, sid, data)
	if err != nil {
		return errors.Wrap(err, "updating student")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *teacherApi) deleteStudent(ctx echo.Context) error {
	sid, err := idParam(ctx, "sid")
	if err != nil {
		return err
	}
	if err = api.classSvc.DeleteStudent(ctx.Request().Context(), contextClass(ctx).ID, sid); err != nil {
		return errors.Wrap(err, "deleting student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *teacherApi) studentAverages(ctx echo.Context) error {
	sid, err := idParam(ctx, "sid")
	if err != nil {
		return err
	}
	avgs, err := api.gradeSvc.StudentAverages(ctx.Request().Context(), contextClass(ctx).ID, sid)
	if err != nil {
		return errors.Wrap(err, "computing student averages")
	}
	return ctx.JSON(http.StatusOK, avgs)
}

// Templates

func (api *teacherApi) queryTemplates(ctx echo.Context) error {
	templates, err := api.gradeSvc.QueryTemplates(ctx.Request().Context(), contextClass(ctx).ID)
	if err != nil {
		return errors.Wrap(err, "querying templates")
	}
	if templates == nil {
		templates = []grade.Template{}
	}
	return ctx.JSON(http.StatusOK, templates)
}

func (api *teacherApi) createTemplate(ctx echo.Context) error {
	var data grade.NewTemplate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTemplate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	tmpl, err := api.gradeSvc.CreateTemplate(ctx.Request().Context(), contextClass(ctx).ID, data)
	if err != nil {
		return errors.Wrap(err, "creating template")
	}
	return ctx.JSON(http.StatusCreated, tmpl)
}

func (api *teacherApi) updateTemplate(ctx echo.Context) error {
	tid, err := idParam(ctx, "tid")
	if err != nil {
		return err
	}
	var data grade.UpdateTemplate
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTemplate")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	tmpl, err := api.gradeSvc.UpdateTemplate(ctx.Request().Context(), contextClass(ctx).ID, tid, data)
	if err != nil {
		return errors.Wrap(err, "updating template")
	}
	return ctx.JSON(http.StatusOK, tmpl)
}

func (api *teacherApi) deleteTemplate(ctx echo.Context) error {
	tid, err := idParam(ctx, "tid")
	if err != nil {
		return err
	}
	if err = api.gradeSvc.DeleteTemplate(ctx.Request().Context(), contextClass(ctx).ID, tid); err != nil {
		return errors.Wrap(err, "deleting template")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *teacherApi) templateStats(ctx echo.Context) error {
	stats, err := api.gradeSvc.TemplateStats(ctx.Request().Context(), contextClass(ctx).ID)
	if err != nil {
		return errors.Wrap(err, "computing template statistics")
	}
	return ctx.JSON(http.StatusOK, stats)
}

// Grades

func (api *teacherApi) queryGrades(ctx echo.Context) error {
	grades, err := api.gradeSvc.QueryGrades(ctx.Request().Context(), contextClass(ctx).ID)
	if err != nil {
		return errors.Wrap(err, "querying grades")
	}
	if grades == nil {
		grades = []grade.Grade{}
	}
	return ctx.JSON(http.StatusOK, grades)
}

func (api *teacherApi) recordGrade(ctx echo.Context) error {
	var data grade.NewGrade
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGrade")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	g, err := api.gradeSvc.RecordGrade(ctx.Request().Context(), contextClass(ctx).ID, data, nil)
	if err != nil {
		return errors.Wrap(err, "recording grade")
	}
	return ctx.JSON(http.StatusCreated, g)
}

// uploadGrade records a grade with an attachment from a multipart form.
// The CSRF token is checked here, after the body is parsed; every failure leaves no file behind.
func (api *teacherApi) uploadGrade(ctx echo.Context) error {
	req := ctx.Request()
	if err := req.ParseMultipartForm(api.maxSize); err != nil {
		if !checkUploadCSRF(ctx) {
			return errInvalidCSRF
		}
		if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
			return echo.ErrStatusRequestEntityTooLarge
		}
		return core.NewValidationError(errors.New("malformed multipart form"))
	}
	defer func() { _ = req.MultipartForm.RemoveAll() }()

	if !checkUploadCSRF(ctx) {
		return errInvalidCSRF
	}

	data, err := bindUploadForm(ctx)
	if err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	fhs := req.MultipartForm.File["file"]
	if len(fhs) == 0 {
		return errMissingAttachmentFile
	}

	// signature mismatches are removed by the store, insert failures by the grade service
	att, err := api.files.Save(fhs[0])
	if err != nil {
		return errors.Wrap(err, "saving attachment")
	}
	g, err := api.gradeSvc.RecordGrade(req.Context(), contextClass(ctx).ID, data, &att)
	if err != nil {
		return errors.Wrap(err, "recording grade")
	}
	return ctx.JSON(http.StatusCreated, g)
}

// bindUploadForm reads the grade fields of the upload form.
func bindUploadForm(ctx echo.Context) (grade.NewGrade, error) {
	var flds []core.FieldError
	parseID := func(name string) int64 {
		raw := strings.TrimSpace(ctx.FormValue(name))
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil && raw != "" {
			flds = append(flds, core.FieldError{Field: name, Error: "must be a number"})
		}
		return id
	}

	data := grade.NewGrade{
		StudentID:    parseID("student_id"),
		TemplateID:   parseID("template_id"),
		Note:         ctx.FormValue("note"),
		ExternalLink: ctx.FormValue("external_link"),
	}
	if raw := strings.TrimSpace(ctx.FormValue("value")); raw != "" {
		v, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
		if err != nil {
			flds = append(flds, core.FieldError{Field: "value", Error: "must be a number"})
		} else {
			data.Value = &v
		}
	}
	if len(flds) > 0 {
		return grade.NewGrade{}, core.NewValidationError(nil, flds...)
	}
	return data, nil
}

func (api *teacherApi) updateGrade(ctx echo.Context) error {
	gid, err := idParam(ctx, "gid")
	if err != nil {
		return err
	}
	var data grade.UpdateGrade
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateGrade")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	g, err := api.gradeSvc.UpdateGrade(ctx.Request().Context(), contextClass(ctx).ID, gid, data)
	if err != nil {
		return errors.Wrap(err, "updating grade")
	}
	return ctx.JSON(http.StatusOK, g)
}

func (api *teacherApi) deleteGrade(ctx echo.Context) error {
	gid, err := idParam(ctx, "gid")
	if err != nil {
		return err
	}
	if err = api.gradeSvc.DeleteGrade(ctx.Request().Context(), contextClass(ctx).ID, gid); err != nil {
		return errors.Wrap(err, "deleting grade")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Special assessments

func (api *teacherApi) querySpecials(ctx echo.Context) error {
	specials, err := api.gradeSvc.QuerySpecials(ctx.Request().Context(), contextClass(ctx).ID)
	if err != nil {
		return errors.Wrap(err, "querying special assessments")
	}
	if specials == nil {
		specials = []grade.SpecialAssessment{}
	}
	return ctx.JSON(http.StatusOK, specials)
}

func (api *teacherApi) createSpecial(ctx echo.Context) error {
	var data grade.NewSpecialAssessment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSpecialAssessment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sa, err := api.gradeSvc.CreateSpecial(ctx.Request().Context(), contextClass(ctx).ID, data)
	if err != nil {
		return errors.Wrap(err, "creating special assessment")
	}
	return ctx.JSON(http.StatusCreated, sa)
}

func (api *teacherApi) updateSpecial(ctx echo.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	var data grade.UpdateSpecialAssessment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSpecialAssessment")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sa, err := api.gradeSvc.UpdateSpecial(ctx.Request().Context(), contextClass(ctx).ID, id, data)
	if err != nil {
		return errors.Wrap(err, "updating special assessment")
	}
	return ctx.JSON(http.StatusOK, sa)
}

func (api *teacherApi) deleteSpecial(ctx echo.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.gradeSvc.DeleteSpecial(ctx.Request().Context(), contextClass(ctx).ID, id); err != nil {
		return errors.Wrap(err, "deleting special assessment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Attachments

func (api *teacherApi) downloadAttachment(ctx echo.Context) error {
	gid, err := idParam(ctx, "gid")
	if err != nil {
		return err
	}
	usr, _ := contextUser(ctx)
	g, err := api.gradeSvc.TeacherAttachment(ctx.Request().Context(), usr.ID, gid)
	if err != nil {
		return errors.Wrap(err, "finding attachment")
	}
	return sendAttachment(ctx, api.files, g)
}
