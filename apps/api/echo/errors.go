package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
)

var (
	errHttpForbidden         = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound          = echo.NewHTTPError(http.StatusNotFound, "not found")
	errInvalidCredentials    = echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")
	errTooManyAttempts       = echo.NewHTTPError(http.StatusTooManyRequests, "too many login attempts, please try again later")
	errInvalidCSRF           = echo.NewHTTPError(http.StatusForbidden, "invalid csrf token")
	errUnsupportedMediaType  = echo.NewHTTPError(http.StatusUnsupportedMediaType, "unsupported media type")
	errUnavailable           = "service temporarily unavailable, please retry"
	errSelfStatusNotAllowed  = echo.NewHTTPError(http.StatusForbidden, "you cannot change the status of your own account")
	errMissingAttachmentFile = core.NewValidationError(nil, core.FieldError{Field: "file", Error: "file is required"})
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		case *core.NotFoundError:
			code = http.StatusNotFound
			message = origErr.Error()
		case *core.ConflictError:
			code = http.StatusConflict
			message = origErr.Error()
		case *core.UnavailableError:
			code = http.StatusServiceUnavailable
			message = errUnavailable
			logger.Warn(errUnavailable, err)
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			if usr, ok := contextUser(ctx); ok {
				logger.Error(msg, errors.Wrap(err, msg), usr)
			} else {
				logger.Error(msg, errors.Wrap(err, msg))
			}

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
