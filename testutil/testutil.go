// Package testutil holds the fixtures shared by the package tests.
package testutil

import (
	"context"
	"net/mail"
	"sync"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/grade"
	"github.com/trezcool/gradebook/core/user"
)

// Now is the fixed clock used by the tests.
var Now = time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC)

func NewConfig(t *testing.T) *core.Config {
	return &core.Config{
		AppName:          "Gradebook",
		Env:              "TEST",
		TestMode:         true,
		SecretKey:        "test-secret-key",
		WorkDir:          t.TempDir(),
		BaseURL:          "http://localhost:8000",
		DefaultFromEmail: mail.Address{Name: "Gradebook", Address: "noreply@localhost"},
		Database:         core.DatabaseConfig{Driver: "sqlite", SQLitePath: "test.db"},
		Server: core.ServerConfig{
			Host:            "localhost",
			ShutdownTimeout: time.Second,
			SessionTTL:      time.Hour,
		},
		Login:  core.LoginConfig{MaxAttempts: 5, Window: 15 * time.Minute, Lockout: 15 * time.Minute},
		Upload: core.UploadConfig{Dir: "uploads", MaxSize: 1 << 20},
	}
}

// NewValidator returns a validator with every domain validator registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	grade.InitValidators(validate, translator)
	return validate, translator
}

// Logger records what is logged.
type Logger struct {
	mu     sync.Mutex
	Errors []string
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) record(level, msg string, args []interface{}) {
	if level != "error" && level != "fatal" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, arg := range args {
		if err, ok := arg.(error); ok {
			msg += ": " + err.Error()
		}
	}
	l.Errors = append(l.Errors, msg)
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.record("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.record("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.record("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.record("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.record("fatal", msg, args) }

func (l *Logger) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Errors)
}

// FileStore is a grade.FileStore recording removed paths.
type FileStore struct {
	mu      sync.Mutex
	Removed []string
}

func (fs *FileStore) Remove(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.Removed = append(fs.Removed, path)
	return nil
}

func (fs *FileStore) RemovedPaths() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.Removed...)
}

// CreateUser stores an active user. The password is hashed only when pwd is set.
func CreateUser(t *testing.T, repo user.Repository, email, pwd, role string, mustChange ...bool) user.User {
	t.Helper()
	usr := user.User{
		Email:     email,
		Role:      role,
		Status:    user.StatusActive,
		CreatedAt: Now,
	}
	if len(mustChange) > 0 {
		usr.MustChangePassword = mustChange[0]
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func CreateClass(t *testing.T, repo classroom.Repository, teacherID int64, name, subject string) classroom.Class {
	t.Helper()
	cls, err := repo.CreateClass(context.Background(), classroom.Class{
		Name:      name,
		Subject:   subject,
		TeacherID: teacherID,
		CreatedAt: Now,
	})
	if err != nil {
		t.Fatalf("createClass() failed: %v", err)
	}
	return cls
}

func CreateStudent(t *testing.T, repo classroom.Repository, classID int64, name, email string) classroom.Student {
	t.Helper()
	st, err := repo.CreateStudent(context.Background(), classroom.Student{
		Name:       name,
		Email:      email,
		ClassID:    classID,
		SchoolYear: "2023/24",
		CreatedAt:  Now,
	})
	if err != nil {
		t.Fatalf("createStudent() failed: %v", err)
	}
	return st
}

func CreateTemplate(t *testing.T, repo grade.Repository, classID int64, name, category string, weight float64, date ...time.Time) grade.Template {
	t.Helper()
	tmpl := grade.Template{
		ClassID:   classID,
		Name:      name,
		Category:  category,
		Weight:    weight,
		CreatedAt: Now,
	}
	if len(date) > 0 {
		tmpl.Date = null.TimeFrom(date[0])
	}
	tmpl, err := repo.CreateTemplate(context.Background(), tmpl)
	if err != nil {
		t.Fatalf("createTemplate() failed: %v", err)
	}
	return tmpl
}

func CreateGrade(t *testing.T, repo grade.Repository, st classroom.Student, tmpl grade.Template, value float64) grade.Grade {
	t.Helper()
	g, err := repo.CreateGrade(context.Background(), grade.Grade{
		StudentID:  st.ID,
		ClassID:    st.ClassID,
		TemplateID: null.Int64From(tmpl.ID),
		Name:       tmpl.Name,
		Value:      value,
		CreatedAt:  Now,
		UpdatedAt:  Now,
	})
	if err != nil {
		t.Fatalf("createGrade() failed: %v", err)
	}
	return g
}

// Float returns a pointer to v, for the optional fields of request payloads.
func Float(v float64) *float64 { return &v }

// String returns a pointer to s.
func String(s string) *string { return &s }
