package echoapi

import (
	"html/template"
	"io"
	"io/fs"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type viewData struct {
	AppName    string
	CSRF       string
	MustChange bool
}

// viewRenderer renders the server-side pages (login, password change).
type viewRenderer struct {
	templates *template.Template
}

var _ echo.Renderer = (*viewRenderer)(nil) // interface compliance check

func newViewRenderer(fsys fs.FS) (*viewRenderer, error) {
	tmpl, err := template.ParseFS(fsys, "templates/views/*.gohtml")
	if err != nil {
		return nil, errors.Wrap(err, "parsing view templates")
	}
	return &viewRenderer{templates: tmpl}, nil
}

func (r *viewRenderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	return r.templates.ExecuteTemplate(w, name, data)
}
