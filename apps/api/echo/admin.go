package echoapi

import (
	"mime"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/user"
)

const mimeTextCSV = "text/csv"

type (
	CredentialsResponse struct {
		User              user.User `json:"user"`
		TemporaryPassword string    `json:"temporary_password"`
	}

	adminApi struct {
		userSvc  *user.Service
		classSvc *classroom.Service
		validate *validator.Validate
	}
)

func registerAdminAPI(app *echo.Echo, deps *Deps) {
	api := adminApi{
		userSvc:  deps.UserSvc,
		classSvc: deps.ClassSvc,
		validate: deps.Validate,
	}

	g := app.Group("/admin", authMiddleware(deps.UserSvc, deps.Sessions, user.RoleAdmin))

	g.GET("/users", api.queryUsers)
	g.POST("/users", api.createUser)
	g.POST("/users/import", api.importUsers)
	g.PATCH("/users/:id", api.updateUser)
	g.PUT("/users/:id/status", api.setUserStatus)
	g.POST("/users/:id/reset-password", api.resetPassword)

	g.GET("/classes", api.queryClasses)
	g.POST("/classes", api.createClass)
	g.PATCH("/classes/:id", api.updateClass)
	g.DELETE("/classes/:id", api.deleteClass)
}

// Users

func (api *adminApi) queryUsers(ctx echo.Context) error {
	filter := new(user.QueryFilter)
	if err := (&echo.DefaultBinder{}).BindQueryParams(ctx, filter); err != nil {
		return ctx.JSON(http.StatusOK, []user.User{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	users, err := api.userSvc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}

func (api *adminApi) createUser(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, pwd, err := api.userSvc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ctx.JSON(http.StatusCreated, CredentialsResponse{User: usr, TemporaryPassword: pwd})
}

// importUsers creates users from a text/csv body of `email,role` rows and reports the outcome of every row.
func (api *adminApi) importUsers(ctx echo.Context) error {
	mt, _, err := mime.ParseMediaType(ctx.Request().Header.Get(echo.HeaderContentType))
	if err != nil || mt != mimeTextCSV {
		return errUnsupportedMediaType
	}

	results, err := api.userSvc.Import(ctx.Request().Context(), ctx.Request().Body, api.validate)
	if err != nil {
		return errors.Wrap(err, "importing users")
	}
	return ctx.JSON(http.StatusOK, results)
}

func (api *adminApi) updateUser(ctx echo.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	var data user.UpdateUser
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := api.userSvc.Update(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *adminApi) setUserStatus(ctx echo.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	var data user.UpdateStatus
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStatus")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	// Say No to Suicide! admins cannot lock or delete themselves
	if ctxUsr, _ := contextUser(ctx); ctxUsr.ID == id {
		return errSelfStatusNotAllowed
	}

	usr, err := api.userSvc.SetStatus(ctx.Request().Context(), id, data.Status)
	if err != nil {
		return errors.Wrap(err, "setting user status")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *adminApi) resetPassword(ctx echo.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	usr, pwd, err := api.userSvc.ResetPassword(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, CredentialsResponse{User: usr, TemporaryPassword: pwd})
}

// Classes

func (api *adminApi) queryClasses(ctx echo.Context) error {
	var filter classroom.ClassFilter
	if err := (&echo.DefaultBinder{}).BindQueryParams(ctx, &filter); err != nil {
		return ctx.JSON(http.StatusOK, []classroom.Class{})
	}
	classes, err := api.classSvc.QueryClasses(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying classes")
	}
	if classes == nil {
		classes = []classroom.Class{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *adminApi) createClass(ctx echo.Context) error {
	var data classroom.NewClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	cls, err := api.classSvc.CreateClass(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, cls)
}

func (api *adminApi) updateClass(ctx echo.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	var data classroom.UpdateClass
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateClass")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	cls, err := api.classSvc.UpdateClass(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating class")
	}
	return ctx.JSON(http.StatusOK, cls)
}

// deleteClass also removes the students, templates and grades of the class.
func (api *adminApi) deleteClass(ctx echo.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	if _, err = api.classSvc.GetClass(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "finding class")
	}
	if err = api.classSvc.DeleteClass(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "deleting class")
	}
	return ctx.NoContent(http.StatusNoContent)
}
