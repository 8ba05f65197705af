package user

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/gradebook/core"
)

// Roles
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Statuses
const (
	StatusActive  = "active"
	StatusLocked  = "locked"
	StatusDeleted = "deleted" // soft delete, the row is kept
)

var (
	AllRoles    = []string{RoleAdmin, RoleTeacher, RoleStudent}
	AllStatuses = []string{StatusActive, StatusLocked, StatusDeleted}
)

type User struct {
	ID                 int64     `json:"id" db:"id"`
	Email              string    `json:"email" db:"email"`
	PasswordHash       string    `json:"-" db:"password_hash"`
	Role               string    `json:"role" db:"role"`
	Status             string    `json:"status" db:"status"`
	MustChangePassword bool      `json:"must_change_password" db:"must_change_password"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"` // UTC
	LastLogin          null.Time `json:"last_login" db:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := hashPassword(pwd)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return verifyPassword(u.PasswordHash, pwd)
}

// NeedsRehash reports whether the stored hash should be upgraded on the next successful login.
func (u *User) NeedsRehash() bool {
	return needsRehash(u.PasswordHash)
}

func (u *User) IsActive() bool  { return u.Status == StatusActive }
func (u *User) IsAdmin() bool   { return u.Role == RoleAdmin }
func (u *User) IsTeacher() bool { return u.Role == RoleTeacher }
func (u *User) IsStudent() bool { return u.Role == RoleStudent }

// NewUser contains information needed to create a new User.
// The password is generated and mailed to the user.
type NewUser struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,role"`
}

func (nu *NewUser) Validate(validate *validator.Validate) error {
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Role = core.CleanString(nu.Role, true /* lower */)
	return validate.Struct(nu)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	Email string `json:"email" validate:"omitempty,email"`
	Role  string `json:"role" validate:"omitempty,role"`
}

func (uu *UpdateUser) Validate(validate *validator.Validate) error {
	uu.Email = core.CleanString(uu.Email, true /* lower */)
	uu.Role = core.CleanString(uu.Role, true /* lower */)
	return validate.Struct(uu)
}

type UpdateStatus struct {
	Status string `json:"status" validate:"required,userstatus"`
}

func (us *UpdateStatus) Validate(validate *validator.Validate) error {
	us.Status = core.CleanString(us.Status, true /* lower */)
	return validate.Struct(us)
}

type ChangePassword struct {
	CurrentPassword string `json:"current_password" form:"current_password" validate:"required"`
	Password        string `json:"password" form:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" form:"password_confirm" validate:"required,eqfield=Password"`
}

func (cp ChangePassword) Validate(validate *validator.Validate) error { return validate.Struct(cp) }

// SetPassword is used by operators to set a password directly.
type SetPassword struct {
	Password string `json:"password" validate:"required"`
}

func (sp SetPassword) Validate(validate *validator.Validate) error { return validate.Struct(sp) }

type QueryFilter struct {
	Search string `query:"search"`
	Role   string `query:"role"`
	Status string `query:"status"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Role == "" && qf.Status == ""
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search, true /* lower */)
	qf.Role = core.CleanString(qf.Role, true /* lower */)
	qf.Status = core.CleanString(qf.Status, true /* lower */)
}

// OrderingFields lists the fields users may be ordered by.
var OrderingFields = []string{"id", "email", "role", "status", "created_at", "last_login"}

// ImportResult reports the outcome of one bulk-import row.
type ImportResult struct {
	Line              int    `json:"line"`
	Email             string `json:"email"`
	User              *User  `json:"user,omitempty"`
	TemporaryPassword string `json:"temporary_password,omitempty"`
	Error             string `json:"error,omitempty"`
}
