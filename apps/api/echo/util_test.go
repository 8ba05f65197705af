package echoapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"reflect"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/grade"
	"github.com/trezcool/gradebook/core/user"
	"github.com/trezcool/gradebook/services/email"
	"github.com/trezcool/gradebook/services/ratelimit"
	"github.com/trezcool/gradebook/services/session"
	"github.com/trezcool/gradebook/storage/database/inmem"
	"github.com/trezcool/gradebook/storage/files"
	"github.com/trezcool/gradebook/testutil"
)

const (
	testPassword = "passw0rd"
	testCSRF     = "test-csrf-token"
)

type testEnv struct {
	srv     *Server
	conf    *core.Config
	usrRepo user.Repository
	clsRepo classroom.Repository
	grdRepo grade.Repository
	mailSvc *emailsvc.ConsoleServiceMock
	store   *files.Store
	logger  *testutil.Logger
}

type setupOption func(*Deps)

func setup(t *testing.T, opts ...setupOption) *testEnv {
	t.Helper()
	conf := testutil.NewConfig(t)
	validate, translator := testutil.NewValidator()
	logger := new(testutil.Logger)

	db, err := inmemdb.Open()
	require.NoError(t, err)
	env := &testEnv{
		conf:    conf,
		usrRepo: inmemdb.NewUserRepository(db),
		clsRepo: inmemdb.NewClassroomRepository(db),
		grdRepo: inmemdb.NewGradeRepository(db),
		mailSvc: emailsvc.NewConsoleServiceMock(conf, logger),
		logger:  logger,
	}
	env.store, err = files.NewStore(conf)
	require.NoError(t, err)

	deps := &Deps{
		Conf:       conf,
		Logger:     logger,
		DB:         db,
		Validate:   validate,
		Translator: translator,
		UserSvc:    user.NewService(env.usrRepo, env.mailSvc),
		ClassSvc:   classroom.NewService(env.clsRepo, env.usrRepo),
		GradeSvc:   grade.NewService(env.grdRepo, env.clsRepo, env.usrRepo, env.store, logger),
		Sessions:   session.NewManager(conf, session.NewMemoryStore()),
		Limiter:    ratelimit.NewMemoryLimiter(conf.Login),
		Files:      env.store,
	}
	for _, opt := range opts {
		opt(deps)
	}
	env.srv, err = NewServer(deps)
	require.NoError(t, err)
	return env
}

func (env *testEnv) createUser(t *testing.T, email, role string, mustChange ...bool) user.User {
	return testutil.CreateUser(t, env.usrRepo, email, testPassword, role, mustChange...)
}

// uploads lists the files of the upload directory.
func (env *testEnv) uploads(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(env.store.Root())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// client keeps the cookies set by the server between requests, like a browser.
type client struct {
	t       *testing.T
	srv     *Server
	cookies map[string]*http.Cookie
}

func (env *testEnv) newClient(t *testing.T) *client {
	return &client{
		t:       t,
		srv:     env.srv,
		cookies: map[string]*http.Cookie{csrfCookieName: {Name: csrfCookieName, Value: testCSRF}},
	}
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	for _, ck := range c.cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}
	rec := httptest.NewRecorder()
	c.srv.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 || ck.Value == "" {
			delete(c.cookies, ck.Name)
		} else {
			c.cookies[ck.Name] = ck
		}
	}
	return rec
}

func (c *client) request(method, path string, data ...[]byte) *httptest.ResponseRecorder {
	req, _ := newRequest(method, path, data...)
	return c.do(req)
}

func (c *client) sessionCookie() string {
	if ck, ok := c.cookies[session.CookieName]; ok {
		return ck.Value
	}
	return ""
}

func (c *client) login(email, pwd string) *httptest.ResponseRecorder {
	return c.request(http.MethodPost, loginPath, marshallObj(c.t, LoginRequest{Email: email, Password: pwd}))
}

// loggedIn returns a client with an authenticated session of usr.
func (env *testEnv) loggedIn(t *testing.T, usr user.User) *client {
	t.Helper()
	c := env.newClient(t)
	rec := c.login(usr.Email, testPassword)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return c
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	wantCode int
	wantData []byte
}

// newRequest returns a JSON request carrying the CSRF token of the test clients.
func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set(echo.HeaderContentType, "application/json")
	req.Header.Set(echo.HeaderXCSRFToken, testCSRF)
	return req, httptest.NewRecorder()
}

type formFile struct {
	name    string
	mime    string
	content []byte
}

// newUploadRequest builds a multipart grade upload. A nil file sends the fields only.
func newUploadRequest(t *testing.T, path string, fields map[string]string, file *formFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+file.name+`"`)
		h.Set(echo.HeaderContentType, file.mime)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file.content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

func marshallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marshallList() failed: %v", err)
	}
	return data
}

func unmarshall(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest), rec.Body.String())
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v (body %s)", rec.Code, tt.wantCode, rec.Body.String())
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
