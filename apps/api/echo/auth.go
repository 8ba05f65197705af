package echoapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/user"
	"github.com/trezcool/gradebook/services/ratelimit"
	"github.com/trezcool/gradebook/services/session"
)

const (
	contextSessionKey   = "session"
	contextSessionIDKey = "sessionID"
	contextUserKey      = "user"

	loginPath    = "/login"
	logoutPath   = "/logout"
	passwordPath = "/account/password"
)

type (
	LoginRequest struct {
		Email    string `json:"email" form:"email" validate:"required"`
		Password string `json:"password" form:"password" validate:"required"`
	}

	RedirectResponse struct {
		Redirect string `json:"redirect"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return validate.Struct(lr)
}

func contextSession(ctx echo.Context) (session.Data, string, bool) {
	data, ok := ctx.Get(contextSessionKey).(session.Data)
	if !ok {
		return session.Data{}, "", false
	}
	id, _ := ctx.Get(contextSessionIDKey).(string)
	return data, id, true
}

func contextUser(ctx echo.Context) (user.User, bool) {
	usr, ok := ctx.Get(contextUserKey).(user.User)
	return usr, ok
}

func wantsJSON(ctx echo.Context) bool {
	req := ctx.Request()
	return strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) ||
		strings.Contains(req.Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}

// redirect answers browsers with a 303 and API clients with the target in a JSON body.
func redirect(ctx echo.Context, to string) error {
	if wantsJSON(ctx) {
		return ctx.JSON(http.StatusOK, RedirectResponse{Redirect: to})
	}
	return ctx.Redirect(http.StatusSeeOther, to)
}

func homePath(role string) string {
	switch role {
	case user.RoleAdmin:
		return "/admin/users"
	case user.RoleTeacher:
		return "/teacher/classes"
	case user.RoleStudent:
		return "/student/grades"
	}
	return loginPath
}

// sessionMiddleware loads the session referenced by the request cookie and slides its expiry.
func sessionMiddleware(sessions *session.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			id, data, err := sessions.Load(ctx.Request())
			switch {
			case err == session.ErrNotFound:
				return next(ctx)
			case err != nil:
				return core.NewUnavailableError(errors.Wrap(err, "loading session"))
			}

			if err = sessions.Refresh(ctx.Request().Context(), ctx.Response(), id); err != nil {
				if err == session.ErrNotFound { // expired in between
					return next(ctx)
				}
				return core.NewUnavailableError(errors.Wrap(err, "refreshing session"))
			}
			ctx.Set(contextSessionKey, data)
			ctx.Set(contextSessionIDKey, id)
			return next(ctx)
		}
	}
}

// mustChangeMiddleware sends sessions flagged for a password change to the password form.
// Only the form itself and logout stay reachable.
func mustChangeMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		data, _, ok := contextSession(ctx)
		if !ok || !data.MustChangePassword {
			return next(ctx)
		}
		method, path := ctx.Request().Method, ctx.Path()
		if path == passwordPath && (method == http.MethodGet || method == http.MethodPost) {
			return next(ctx)
		}
		if path == logoutPath && method == http.MethodPost {
			return next(ctx)
		}
		return ctx.Redirect(http.StatusSeeOther, passwordPath)
	}
}

// authMiddleware requires an authenticated session of an active user holding one of roles (any role if none).
// Anonymous requests are redirected to the login page, others get a 403.
func authMiddleware(svc *user.Service, sessions *session.Manager, roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			data, id, ok := contextSession(ctx)
			if !ok {
				return ctx.Redirect(http.StatusFound, loginPath)
			}

			usr, err := svc.GetByID(ctx.Request().Context(), data.UserID)
			if err != nil && !core.IsNotFound(err) {
				return errors.Wrap(err, "finding session user")
			}
			if err != nil || !usr.IsActive() {
				if err = sessions.Destroy(ctx.Request().Context(), ctx.Response(), id); err != nil {
					return errors.Wrap(err, "destroying session")
				}
				return ctx.Redirect(http.StatusFound, loginPath)
			}
			ctx.Set(contextUserKey, usr)

			if len(roles) == 0 {
				return next(ctx)
			}
			for _, role := range roles {
				if data.Role == role && usr.Role == role {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}

type authApi struct {
	userSvc  *user.Service
	sessions *session.Manager
	limiter  ratelimit.Limiter
	validate *validator.Validate
	appName  string
}

func registerAuthAPI(app *echo.Echo, deps *Deps) {
	api := authApi{
		userSvc:  deps.UserSvc,
		sessions: deps.Sessions,
		limiter:  deps.Limiter,
		validate: deps.Validate,
		appName:  deps.Conf.AppName,
	}
	authed := authMiddleware(deps.UserSvc, deps.Sessions)

	app.GET("/", api.home)
	app.GET(loginPath, api.loginForm)
	app.POST(loginPath, api.login)
	app.POST(logoutPath, api.logout)
	app.GET(passwordPath, api.passwordForm, authed)
	app.POST(passwordPath, api.changePassword, authed)
}

func (api *authApi) home(ctx echo.Context) error {
	data, _, ok := contextSession(ctx)
	if !ok {
		return ctx.Redirect(http.StatusFound, loginPath)
	}
	return ctx.Redirect(http.StatusFound, homePath(data.Role))
}

func (api *authApi) loginForm(ctx echo.Context) error {
	if data, _, ok := contextSession(ctx); ok {
		return ctx.Redirect(http.StatusFound, homePath(data.Role))
	}
	return ctx.Render(http.StatusOK, "login.gohtml", viewData{
		AppName: api.appName,
		CSRF:    csrfToken(ctx),
	})
}

func (api *authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	key := ratelimit.LoginKey(ctx.RealIP(), data.Email)

	allowed, retryAfter, err := api.limiter.Allow(reqCtx, key)
	if err != nil {
		return core.NewUnavailableError(errors.Wrap(err, "checking login rate limit"))
	}
	if !allowed {
		loginAttempts.WithLabelValues(loginThrottled).Inc()
		secs := int(retryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		ctx.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(secs))
		return errTooManyAttempts
	}

	usr, err := api.userSvc.Authenticate(reqCtx, data.Email, data.Password)
	if err != nil {
		if err == user.ErrInvalidCredentials {
			loginAttempts.WithLabelValues(loginFailed).Inc()
			if err = api.limiter.Fail(reqCtx, key); err != nil {
				return core.NewUnavailableError(errors.Wrap(err, "recording failed login"))
			}
			return errInvalidCredentials
		}
		return errors.Wrap(err, "authenticating")
	}
	loginAttempts.WithLabelValues(loginSucceeded).Inc()
	if err = api.limiter.Reset(reqCtx, key); err != nil {
		return core.NewUnavailableError(errors.Wrap(err, "resetting login rate limit"))
	}

	// a new id on every login: a session id planted before authentication is never promoted
	_, oldID, _ := contextSession(ctx)
	sess := session.Data{UserID: usr.ID, Role: usr.Role, MustChangePassword: usr.MustChangePassword}
	if _, err = api.sessions.Create(reqCtx, ctx.Response(), oldID, sess); err != nil {
		return core.NewUnavailableError(errors.Wrap(err, "creating session"))
	}

	if usr.MustChangePassword {
		return redirect(ctx, passwordPath)
	}
	return redirect(ctx, homePath(usr.Role))
}

func (api *authApi) logout(ctx echo.Context) error {
	_, id, _ := contextSession(ctx)
	if err := api.sessions.Destroy(ctx.Request().Context(), ctx.Response(), id); err != nil {
		return core.NewUnavailableError(errors.Wrap(err, "destroying session"))
	}
	return redirect(ctx, loginPath)
}

func (api *authApi) passwordForm(ctx echo.Context) error {
	data, _, _ := contextSession(ctx)
	return ctx.Render(http.StatusOK, "password.gohtml", viewData{
		AppName:    api.appName,
		CSRF:       csrfToken(ctx),
		MustChange: data.MustChangePassword,
	})
}

func (api *authApi) changePassword(ctx echo.Context) error {
	var data user.ChangePassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChangePassword")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sess, id, _ := contextSession(ctx)
	usr, err := api.userSvc.ChangePassword(ctx.Request().Context(), sess.UserID, data)
	if err != nil {
		return errors.Wrap(err, "changing password")
	}

	sess.MustChangePassword = usr.MustChangePassword
	if err = api.sessions.Save(ctx.Request().Context(), ctx.Response(), id, sess); err != nil {
		return core.NewUnavailableError(errors.Wrap(err, "saving session"))
	}
	if wantsJSON(ctx) {
		return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Your password has been changed."})
	}
	return ctx.Redirect(http.StatusSeeOther, homePath(usr.Role))
}
