package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/gradebook/core/user"
	"github.com/trezcool/gradebook/services/session"
)

func Test_authApi_login(t *testing.T) {
	env := setup(t)
	admin := env.createUser(t, "admin@school.test", user.RoleAdmin)
	teacher := env.createUser(t, "teacher@school.test", user.RoleTeacher)
	student := env.createUser(t, "student@school.test", user.RoleStudent)
	locked := env.createUser(t, "locked@school.test", user.RoleTeacher)
	deleted := env.createUser(t, "deleted@school.test", user.RoleTeacher)
	_, err := env.usrRepo.UpdateUser(context.Background(), withStatus(locked, user.StatusLocked))
	require.NoError(t, err)
	_, err = env.usrRepo.UpdateUser(context.Background(), withStatus(deleted, user.StatusDeleted))
	require.NoError(t, err)

	invalid := marshallObj(t, httpErr{Error: "invalid email or password"})
	tests := []httpTest{
		{name: "admin", body: marshallObj(t, LoginRequest{admin.Email, testPassword}), wantCode: http.StatusOK, wantData: marshallObj(t, RedirectResponse{"/admin/users"})},
		{name: "teacher", body: marshallObj(t, LoginRequest{teacher.Email, testPassword}), wantCode: http.StatusOK, wantData: marshallObj(t, RedirectResponse{"/teacher/classes"})},
		{name: "student (email case)", body: marshallObj(t, LoginRequest{"  Student@School.test", testPassword}), wantCode: http.StatusOK, wantData: marshallObj(t, RedirectResponse{"/student/grades"})},
		{name: "missing fields", body: marshallObj(t, LoginRequest{}), wantCode: http.StatusBadRequest},
		{name: "unknown email", body: marshallObj(t, LoginRequest{"nobody@school.test", testPassword}), wantCode: http.StatusUnauthorized, wantData: invalid},
		{name: "wrong password", body: marshallObj(t, LoginRequest{student.Email, "wrong-passw0rd"}), wantCode: http.StatusUnauthorized, wantData: invalid},
		{name: "locked", body: marshallObj(t, LoginRequest{locked.Email, testPassword}), wantCode: http.StatusUnauthorized, wantData: invalid},
		{name: "deleted", body: marshallObj(t, LoginRequest{deleted.Email, testPassword}), wantCode: http.StatusUnauthorized, wantData: invalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := env.newClient(t)
			rec := c.request(http.MethodPost, loginPath, tt.body)
			checkCodeAndData(t, tt, rec)
			if tt.wantCode == http.StatusOK {
				assert.NotEmpty(t, c.sessionCookie())
			} else {
				assert.Empty(t, c.sessionCookie())
			}
		})
	}
}

func withStatus(usr user.User, status string) user.User {
	usr.Status = status
	return usr
}

func Test_authApi_login_throttled(t *testing.T) {
	env := setup(t)
	usr := env.createUser(t, "teacher@school.test", user.RoleTeacher)
	c := env.newClient(t)

	for i := 0; i < env.conf.Login.MaxAttempts; i++ {
		rec := c.login(usr.Email, "wrong-passw0rd")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	// even the right password is refused once locked
	rec := c.login(usr.Email, testPassword)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
	assert.Empty(t, c.sessionCookie())

	// other accounts are not affected
	other := env.createUser(t, "other@school.test", user.RoleTeacher)
	rec = c.login(other.Email, testPassword)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func Test_authApi_login_regeneratesSession(t *testing.T) {
	env := setup(t)
	usr := env.createUser(t, "teacher@school.test", user.RoleTeacher)
	c := env.loggedIn(t, usr)
	first := c.sessionCookie()

	rec := c.login(usr.Email, testPassword)
	require.Equal(t, http.StatusOK, rec.Code)
	second := c.sessionCookie()
	assert.NotEqual(t, first, second)

	// the previous session is gone
	stale := env.newClient(t)
	stale.cookies[session.CookieName] = &http.Cookie{Name: session.CookieName, Value: first}
	rec = stale.request(http.MethodGet, "/teacher/classes", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, loginPath, rec.Header().Get("Location"))
}

func Test_authApi_logout(t *testing.T) {
	env := setup(t)
	usr := env.createUser(t, "teacher@school.test", user.RoleTeacher)
	c := env.loggedIn(t, usr)
	sid := c.sessionCookie()

	rec := c.request(http.MethodPost, logoutPath, nil)
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marshallObj(t, RedirectResponse{loginPath})}, rec)
	assert.Empty(t, c.sessionCookie())

	// replaying the cookie does not work either
	c.cookies[session.CookieName] = &http.Cookie{Name: session.CookieName, Value: sid}
	rec = c.request(http.MethodGet, "/teacher/classes", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
}

func Test_authApi_mustChangePassword(t *testing.T) {
	env := setup(t)
	usr := env.createUser(t, "new@school.test", user.RoleAdmin, true /* mustChange */)
	c := env.newClient(t)

	rec := c.login(usr.Email, testPassword)
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marshallObj(t, RedirectResponse{passwordPath})}, rec)

	rec = c.request(http.MethodGet, "/admin/users", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, passwordPath, rec.Header().Get("Location"))

	rec = c.request(http.MethodGet, passwordPath, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), testCSRF)

	tests := []httpTest{
		{
			name: "wrong current password",
			body: marshallObj(t, user.ChangePassword{CurrentPassword: "nope", Password: "n3wpassword", PasswordConfirm: "n3wpassword"}),
			wantCode: http.StatusBadRequest, wantData: marshallObj(t, map[string]string{"current_password": "wrong password"}),
		},
		{
			name: "policy",
			body: marshallObj(t, user.ChangePassword{CurrentPassword: testPassword, Password: "short1", PasswordConfirm: "short1"}),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "unchanged",
			body: marshallObj(t, user.ChangePassword{CurrentPassword: testPassword, Password: testPassword, PasswordConfirm: testPassword}),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "ok",
			body: marshallObj(t, user.ChangePassword{CurrentPassword: testPassword, Password: "n3wpassword", PasswordConfirm: "n3wpassword"}),
			wantCode: http.StatusOK, wantData: marshallObj(t, SuccessResponse{"Your password has been changed."}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := c.request(http.MethodPost, passwordPath, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}

	rec = c.request(http.MethodGet, "/admin/users", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func Test_authMiddleware_roles(t *testing.T) {
	env := setup(t)
	admin := env.createUser(t, "admin@school.test", user.RoleAdmin)
	teacher := env.createUser(t, "teacher@school.test", user.RoleTeacher)
	student := env.createUser(t, "student@school.test", user.RoleStudent)

	forbidden := marshallObj(t, httpErr{Error: "permission denied"})
	clients := map[string]*client{
		"anonymous": env.newClient(t),
		"admin":     env.loggedIn(t, admin),
		"teacher":   env.loggedIn(t, teacher),
		"student":   env.loggedIn(t, student),
	}
	tests := []struct {
		httpTest
		as string
	}{
		{as: "anonymous", httpTest: httpTest{name: "anonymous admin", path: "/admin/users", wantCode: http.StatusFound}},
		{as: "anonymous", httpTest: httpTest{name: "anonymous teacher", path: "/teacher/classes", wantCode: http.StatusFound}},
		{as: "anonymous", httpTest: httpTest{name: "anonymous student", path: "/student/grades", wantCode: http.StatusFound}},
		{as: "student", httpTest: httpTest{name: "student on admin", path: "/admin/users", wantCode: http.StatusForbidden, wantData: forbidden}},
		{as: "student", httpTest: httpTest{name: "student on teacher", path: "/teacher/classes", wantCode: http.StatusForbidden, wantData: forbidden}},
		{as: "teacher", httpTest: httpTest{name: "teacher on admin", path: "/admin/classes", wantCode: http.StatusForbidden, wantData: forbidden}},
		{as: "teacher", httpTest: httpTest{name: "teacher on student", path: "/student/grades", wantCode: http.StatusForbidden, wantData: forbidden}},
		{as: "admin", httpTest: httpTest{name: "admin on teacher", path: "/teacher/classes", wantCode: http.StatusForbidden, wantData: forbidden}},
		{as: "admin", httpTest: httpTest{name: "admin", path: "/admin/users", wantCode: http.StatusOK}},
		{as: "teacher", httpTest: httpTest{name: "teacher", path: "/teacher/classes", wantCode: http.StatusOK}},
		{as: "student", httpTest: httpTest{name: "student", path: "/student/grades", wantCode: http.StatusOK}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := clients[tt.as].request(http.MethodGet, tt.path, nil)
			checkCodeAndData(t, tt.httpTest, rec)
		})
	}
}

func Test_authMiddleware_inactiveUser(t *testing.T) {
	env := setup(t)
	usr := env.createUser(t, "teacher@school.test", user.RoleTeacher)
	c := env.loggedIn(t, usr)

	_, err := env.usrRepo.UpdateUser(context.Background(), withStatus(usr, user.StatusLocked))
	require.NoError(t, err)

	rec := c.request(http.MethodGet, "/teacher/classes", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, loginPath, rec.Header().Get("Location"))
	assert.Empty(t, c.sessionCookie())
}

func Test_authApi_loginForm(t *testing.T) {
	env := setup(t)
	c := env.newClient(t)

	rec := c.request(http.MethodGet, loginPath, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="_csrf"`)
	assert.Contains(t, rec.Body.String(), testCSRF)

	rec = c.request(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, loginPath, rec.Header().Get("Location"))
}

func loginFrom(c *client, forwardedFor, email, pwd string) int {
	req, _ := newRequest(http.MethodPost, loginPath, marshallObj(c.t, LoginRequest{Email: email, Password: pwd}))
	req.Header.Set(echo.HeaderXForwardedFor, forwardedFor)
	req.Header.Set(echo.HeaderXRealIP, forwardedFor)
	return c.do(req).Code
}

func Test_authApi_login_throttledDespiteForwardedFor(t *testing.T) {
	env := setup(t)
	usr := env.createUser(t, "teacher@school.test", user.RoleTeacher)
	c := env.newClient(t)

	for i := 0; i < 4*env.conf.Login.MaxAttempts; i++ {
		code := loginFrom(c, fmt.Sprintf("203.0.113.%d", i+1), usr.Email, "wrong-passw0rd")
		if i < env.conf.Login.MaxAttempts {
			require.Equal(t, http.StatusUnauthorized, code)
		} else {
			require.Equal(t, http.StatusTooManyRequests, code)
		}
	}
	assert.Equal(t, http.StatusTooManyRequests, loginFrom(c, "198.51.100.7", usr.Email, testPassword))
}

func Test_authApi_login_trustedProxy(t *testing.T) {
	// httptest requests come from 192.0.2.1
	env := setup(t, func(d *Deps) { d.Conf.Server.TrustedProxies = []string{"192.0.2.0/24"} })
	usr := env.createUser(t, "teacher@school.test", user.RoleTeacher)
	c := env.newClient(t)

	for i := 0; i < env.conf.Login.MaxAttempts; i++ {
		require.Equal(t, http.StatusUnauthorized, loginFrom(c, "203.0.113.5", usr.Email, "wrong-passw0rd"))
	}
	assert.Equal(t, http.StatusTooManyRequests, loginFrom(c, "203.0.113.5", usr.Email, testPassword))

	// another client behind the same proxy is throttled on its own address
	assert.Equal(t, http.StatusOK, loginFrom(env.newClient(t), "203.0.113.6", usr.Email, testPassword))
}
