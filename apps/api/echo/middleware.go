package echoapi

import (
	"crypto/subtle"
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	csrfCookieName  = "_csrf"
	csrfContextKey  = "csrf"
	csrfTokenLookup = "header:" + echo.HeaderXCSRFToken + ",header:csrf-token,form:_csrf"
)

// uploadRoute is the only route accepting multipart bodies. It checks the CSRF token itself,
// once the body is parsed (see checkUploadCSRF).
const uploadRoute = "/teacher/classes/:cid/grades/upload"

func isUploadRoute(ctx echo.Context) bool {
	return ctx.Path() == uploadRoute && ctx.Request().Method == http.MethodPost
}

func csrfMiddleware(secure bool) echo.MiddlewareFunc {
	return middleware.CSRFWithConfig(middleware.CSRFConfig{
		Skipper:        isUploadRoute,
		TokenLookup:    csrfTokenLookup,
		ContextKey:     csrfContextKey,
		CookieName:     csrfCookieName,
		CookiePath:     "/",
		CookieSecure:   secure,
		CookieHTTPOnly: true,
		CookieSameSite: http.SameSiteLaxMode,
		ErrorHandler: func(error, echo.Context) error {
			return errInvalidCSRF
		},
	})
}

func csrfToken(ctx echo.Context) string {
	token, _ := ctx.Get(csrfContextKey).(string)
	return token
}

var csrfExtractors = func() []middleware.ValuesExtractor {
	extractors, err := middleware.CreateExtractors(csrfTokenLookup)
	if err != nil {
		panic(err)
	}
	return extractors
}()

// checkUploadCSRF validates the token of an already parsed multipart request against the CSRF cookie.
func checkUploadCSRF(ctx echo.Context) bool {
	cookie, err := ctx.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	for _, extractor := range csrfExtractors {
		tokens, err := extractor(ctx)
		if err != nil {
			continue
		}
		for _, token := range tokens {
			if validCSRFToken(cookie.Value, token) {
				return true
			}
		}
	}
	return false
}

func validCSRFToken(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// multipartMiddleware refuses multipart bodies everywhere but on the upload route.
func multipartMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		ct := ctx.Request().Header.Get(echo.HeaderContentType)
		if ct == "" || isUploadRoute(ctx) {
			return next(ctx)
		}
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt == echo.MIMEMultipartForm {
			return errUnsupportedMediaType
		}
		return next(ctx)
	}
}
