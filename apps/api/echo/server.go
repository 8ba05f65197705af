package echoapi

import (
	"context"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/grade"
	"github.com/trezcool/gradebook/core/user"
	appfs "github.com/trezcool/gradebook/fs"
	"github.com/trezcool/gradebook/services/ratelimit"
	"github.com/trezcool/gradebook/services/session"
)

// FileStore stores grade attachments.
type FileStore interface {
	Save(fh *multipart.FileHeader) (grade.Attachment, error)
	Path(name string) (string, error)
	Remove(name string) error
}

type (
	// Deps holds everything the HTTP layer needs.
	Deps struct {
		Conf       *core.Config
		Logger     core.Logger
		DB         core.Pinger
		Validate   *validator.Validate
		Translator ut.Translator
		UserSvc    *user.Service
		ClassSvc   *classroom.Service
		GradeSvc   *grade.Service
		Sessions   *session.Manager
		Limiter    ratelimit.Limiter
		Files      FileStore
	}

	Server struct {
		app      *echo.Echo
		address  string
		db       core.Pinger
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ http.Handler = (*Server)(nil) // interface compliance check

// multipart overhead allowed on top of the attachment size
const formOverhead = 1 << 20

func NewServer(deps *Deps) (*Server, error) {
	views, err := newViewRenderer(appfs.FS)
	if err != nil {
		return nil, err
	}
	ipExtractor, err := newIPExtractor(deps.Conf.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	s := &Server{
		app:      echo.New(),
		address:  deps.Conf.Server.Address,
		db:       deps.DB,
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.app.HideBanner = true
	s.app.Debug = deps.Conf.Debug
	s.app.Renderer = views
	s.app.IPExtractor = ipExtractor
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(deps.Logger, deps.Translator, s.signalShutdown)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !deps.Conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(deps.Conf.Debug || deps.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(
		metricsMiddleware,
		middleware.BodyLimit(strconv.FormatInt(deps.Conf.Upload.MaxSize+formOverhead, 10)+"B"),
		multipartMiddleware,
		csrfMiddleware(deps.Conf.Server.SecureCookies),
		sessionMiddleware(deps.Sessions),
		mustChangeMiddleware,
	)

	s.app.GET("/healthz", s.health)
	registerAuthAPI(s.app, deps)
	registerAdminAPI(s.app, deps)
	registerTeacherAPI(s.app, deps)
	registerStudentAPI(s.app, deps)

	return s, nil
}

// newIPExtractor reads the client address from the socket, or from X-Forwarded-For when the
// request comes through one of the trusted proxies. Login throttling is keyed on this address.
func newIPExtractor(trustedProxies []string) (echo.IPExtractor, error) {
	if len(trustedProxies) == 0 {
		return echo.ExtractIPDirect(), nil
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range trustedProxies {
		if ip := net.ParseIP(cidr); ip != nil {
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				bits = 8 * net.IPv4len
			}
			cidr += "/" + strconv.Itoa(bits)
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing trusted proxy %q", cidr)
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}

// health reports whether the database answers.
func (s *Server) health(ctx echo.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx.Request().Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return core.NewUnavailableError(errors.Wrap(err, "pinging database"))
	}
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// Start listens until the server is shut down. Listener failures are reported on Errors.
func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	if err := s.app.Start(s.address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already signaled
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}
