package classroom

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/gradebook/core"
)

type Class struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Subject   string    `json:"subject" db:"subject"`
	TeacherID int64     `json:"teacher_id" db:"teacher_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"` // UTC
}

// Student is a class membership record. The same person may be enrolled in several classes
// and may also own a User (role=student) with the same email.
type Student struct {
	ID         int64     `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Email      string    `json:"email" db:"email"`
	ClassID    int64     `json:"class_id" db:"class_id"`
	SchoolYear string    `json:"school_year" db:"school_year"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"` // UTC
}

type NewClass struct {
	Name      string `json:"name" validate:"required,max=100,printable"`
	Subject   string `json:"subject" validate:"required,max=100,printable"`
	TeacherID int64  `json:"teacher_id" validate:"required,gt=0"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Subject = core.CleanString(nc.Subject)
	return validate.Struct(nc)
}

type UpdateClass struct {
	Name      string `json:"name" validate:"omitempty,max=100,printable"`
	Subject   string `json:"subject" validate:"omitempty,max=100,printable"`
	TeacherID int64  `json:"teacher_id" validate:"omitempty,gt=0"`
}

func (uc *UpdateClass) Validate(validate *validator.Validate) error {
	uc.Name = core.CleanString(uc.Name)
	uc.Subject = core.CleanString(uc.Subject)
	return validate.Struct(uc)
}

type NewStudent struct {
	Name       string `json:"name" validate:"required,max=200,printable"`
	Email      string `json:"email" validate:"required,email"`
	SchoolYear string `json:"school_year" validate:"required,max=20,printable"`
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Email = core.CleanString(ns.Email, true /* lower */)
	ns.SchoolYear = core.CleanString(ns.SchoolYear)
	return validate.Struct(ns)
}

type UpdateStudent struct {
	Name       string `json:"name" validate:"omitempty,max=200,printable"`
	Email      string `json:"email" validate:"omitempty,email"`
	SchoolYear string `json:"school_year" validate:"omitempty,max=20,printable"`
}

func (us *UpdateStudent) Validate(validate *validator.Validate) error {
	us.Name = core.CleanString(us.Name)
	us.Email = core.CleanString(us.Email, true /* lower */)
	us.SchoolYear = core.CleanString(us.SchoolYear)
	return validate.Struct(us)
}

type ClassFilter struct {
	TeacherID int64 `query:"teacher_id"`
	IDs       []int64
}

type StudentFilter struct {
	ClassID int64
	Email   string
}
