package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core/export"
	"github.com/trezcool/gradebook/core/grade"
	"github.com/trezcool/gradebook/core/user"
	"github.com/trezcool/gradebook/storage/files"
)

const (
	mimeTextCSVUTF8 = mimeTextCSV + "; charset=utf-8"
	mimePDF         = "application/pdf"
)

type studentApi struct {
	gradeSvc *grade.Service
	files    FileStore
	appName  string
}

func registerStudentAPI(app *echo.Echo, deps *Deps) {
	api := studentApi{
		gradeSvc: deps.GradeSvc,
		files:    deps.Files,
		appName:  deps.Conf.AppName,
	}

	g := app.Group("/student", authMiddleware(deps.UserSvc, deps.Sessions, user.RoleStudent))
	g.GET("/grades", api.grades)
	g.GET("/averages", api.averages)
	g.GET("/tasks", api.tasks)
	g.GET("/notifications", api.notifications)
	g.POST("/notifications/:id/read", api.markNotificationRead)
	g.GET("/export.csv", api.exportCSV)
	g.GET("/export.pdf", api.exportPDF)
	g.GET("/attachments/:gid", api.downloadAttachment)
}

// students are matched to their enrolments by email
func studentEmail(ctx echo.Context) string {
	usr, _ := contextUser(ctx)
	return usr.Email
}

func (api *studentApi) grades(ctx echo.Context) error {
	entries, err := api.gradeSvc.StudentEntries(ctx.Request().Context(), studentEmail(ctx))
	if err != nil {
		return errors.Wrap(err, "listing grades")
	}
	if entries == nil {
		entries = []grade.Entry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *studentApi) averages(ctx echo.Context) error {
	overview, err := api.gradeSvc.StudentOverview(ctx.Request().Context(), studentEmail(ctx))
	if err != nil {
		return errors.Wrap(err, "computing averages")
	}
	return ctx.JSON(http.StatusOK, overview)
}

func (api *studentApi) tasks(ctx echo.Context) error {
	tasks, err := api.gradeSvc.StudentTasks(ctx.Request().Context(), studentEmail(ctx))
	if err != nil {
		return errors.Wrap(err, "listing tasks")
	}
	if tasks == nil {
		tasks = []grade.Template{}
	}
	return ctx.JSON(http.StatusOK, tasks)
}

func (api *studentApi) notifications(ctx echo.Context) error {
	notifs, err := api.gradeSvc.StudentNotifications(ctx.Request().Context(), studentEmail(ctx))
	if err != nil {
		return errors.Wrap(err, "listing notifications")
	}
	if notifs == nil {
		notifs = []grade.Notification{}
	}
	return ctx.JSON(http.StatusOK, notifs)
}

func (api *studentApi) markNotificationRead(ctx echo.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	notif, err := api.gradeSvc.MarkNotificationRead(ctx.Request().Context(), studentEmail(ctx), id)
	if err != nil {
		return errors.Wrap(err, "marking notification as read")
	}
	return ctx.JSON(http.StatusOK, notif)
}

func (api *studentApi) exportCSV(ctx echo.Context) error {
	rows, err := api.gradeSvc.ExportRows(ctx.Request().Context(), studentEmail(ctx))
	if err != nil {
		return errors.Wrap(err, "exporting grades")
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename=grades.csv")
	return ctx.Blob(http.StatusOK, mimeTextCSVUTF8, export.CSV(rows))
}

func (api *studentApi) exportPDF(ctx echo.Context) error {
	rows, err := api.gradeSvc.ExportRows(ctx.Request().Context(), studentEmail(ctx))
	if err != nil {
		return errors.Wrap(err, "exporting grades")
	}
	rep := export.Report{
		Title: api.appName + " - Grade report",
		Fields: []string{
			"Student: " + studentEmail(ctx),
			"Date: " + export.FormatDate(grade.NowFunc()),
		},
		Rows: rows,
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename=grades.pdf")
	return ctx.Blob(http.StatusOK, mimePDF, export.PDF(rep))
}

func (api *studentApi) downloadAttachment(ctx echo.Context) error {
	gid, err := idParam(ctx, "gid")
	if err != nil {
		return err
	}
	g, err := api.gradeSvc.StudentAttachment(ctx.Request().Context(), studentEmail(ctx), gid)
	if err != nil {
		return errors.Wrap(err, "finding attachment")
	}
	return sendAttachment(ctx, api.files, g)
}

// sendAttachment streams the file of g under its sanitized original name.
func sendAttachment(ctx echo.Context, store FileStore, g grade.Grade) error {
	if !g.HasAttachment() {
		return errHttpNotFound
	}
	path, err := store.Path(g.AttachmentPath.String)
	if err != nil {
		return errors.Wrap(err, "resolving attachment")
	}
	return ctx.Attachment(path, files.SafeFilename(g.AttachmentName.String))
}
