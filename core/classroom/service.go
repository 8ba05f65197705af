package classroom

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/user"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrClassNotFound   = core.NewNotFoundError("class not found")
	ErrStudentNotFound = core.NewNotFoundError("student not found")
	ErrStudentExists   = core.NewConflictError("a student with this email is already enrolled in this class")
	errNotATeacher     = core.NewValidationError(nil, core.FieldError{Field: "teacher_id", Error: "must reference an active teacher"})
)

type (
	Repository interface {
		CreateClass(ctx context.Context, cls Class) (Class, error)
		GetClassByID(ctx context.Context, id int64) (Class, error)
		QueryClasses(ctx context.Context, filter ClassFilter) ([]Class, error)
		UpdateClass(ctx context.Context, cls Class) (Class, error)
		// DeleteClass also removes the students, templates, grades & special assessments of the class.
		DeleteClass(ctx context.Context, id int64) error

		CreateStudent(ctx context.Context, st Student) (Student, error)
		GetStudentByID(ctx context.Context, id int64) (Student, error)
		QueryStudents(ctx context.Context, filter StudentFilter) ([]Student, error)
		UpdateStudent(ctx context.Context, st Student) (Student, error)
		// DeleteStudent also removes the grades, special assessments & notifications of the student.
		DeleteStudent(ctx context.Context, id int64) error
	}

	Service struct {
		repo    Repository
		usrRepo user.Repository
	}
)

func NewService(repo Repository, usrRepo user.Repository) *Service {
	return &Service{repo: repo, usrRepo: usrRepo}
}

func (svc *Service) checkTeacher(ctx context.Context, id int64) error {
	usr, err := svc.usrRepo.GetUserByID(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return errNotATeacher
		}
		return errors.Wrap(err, "finding teacher")
	}
	if !usr.IsTeacher() || !usr.IsActive() {
		return errNotATeacher
	}
	return nil
}

func (svc *Service) CreateClass(ctx context.Context, nc NewClass) (Class, error) {
	if err := svc.checkTeacher(ctx, nc.TeacherID); err != nil {
		return Class{}, err
	}
	cls := Class{
		Name:      nc.Name,
		Subject:   nc.Subject,
		TeacherID: nc.TeacherID,
		CreatedAt: NowFunc().UTC(),
	}
	return svc.repo.CreateClass(ctx, cls)
}

func (svc *Service) QueryClasses(ctx context.Context, filter ClassFilter) ([]Class, error) {
	return svc.repo.QueryClasses(ctx, filter)
}

func (svc *Service) GetClass(ctx context.Context, id int64) (Class, error) {
	return svc.repo.GetClassByID(ctx, id)
}

// GetOwnedClass returns the class if it is owned by teacherID. Foreign classes are reported as not found.
func (svc *Service) GetOwnedClass(ctx context.Context, teacherID, classID int64) (Class, error) {
	cls, err := svc.repo.GetClassByID(ctx, classID)
	if err != nil {
		return Class{}, err
	}
	if cls.TeacherID != teacherID {
		return Class{}, ErrClassNotFound
	}
	return cls, nil
}

func (svc *Service) UpdateClass(ctx context.Context, id int64, uc UpdateClass) (Class, error) {
	cls, err := svc.repo.GetClassByID(ctx, id)
	if err != nil {
		return Class{}, errors.Wrap(err, "finding class by ID")
	}
	if uc.TeacherID != 0 && uc.TeacherID != cls.TeacherID {
		if err = svc.checkTeacher(ctx, uc.TeacherID); err != nil {
			return Class{}, err
		}
		cls.TeacherID = uc.TeacherID
	}
	if uc.Name != "" {
		cls.Name = uc.Name
	}
	if uc.Subject != "" {
		cls.Subject = uc.Subject
	}
	return svc.repo.UpdateClass(ctx, cls)
}

func (svc *Service) DeleteClass(ctx context.Context, id int64) error {
	return svc.repo.DeleteClass(ctx, id)
}

func (svc *Service) CreateStudent(ctx context.Context, classID int64, ns NewStudent) (Student, error) {
	st := Student{
		Name:       ns.Name,
		Email:      ns.Email,
		ClassID:    classID,
		SchoolYear: ns.SchoolYear,
		CreatedAt:  NowFunc().UTC(),
	}
	return svc.repo.CreateStudent(ctx, st)
}

func (svc *Service) QueryStudents(ctx context.Context, classID int64) ([]Student, error) {
	return svc.repo.QueryStudents(ctx, StudentFilter{ClassID: classID})
}

// GetStudent returns the student if it is enrolled in classID.
func (svc *Service) GetStudent(ctx context.Context, classID, studentID int64) (Student, error) {
	st, err := svc.repo.GetStudentByID(ctx, studentID)
	if err != nil {
		return Student{}, err
	}
	if st.ClassID != classID {
		return Student{}, ErrStudentNotFound
	}
	return st, nil
}

func (svc *Service) UpdateStudent(ctx context.Context, classID, studentID int64, us UpdateStudent) (Student, error) {
	st, err := svc.GetStudent(ctx, classID, studentID)
	if err != nil {
		return Student{}, errors.Wrap(err, "finding student")
	}
	if us.Name != "" {
		st.Name = us.Name
	}
	if us.Email != "" {
		st.Email = us.Email
	}
	if us.SchoolYear != "" {
		st.SchoolYear = us.SchoolYear
	}
	return svc.repo.UpdateStudent(ctx, st)
}

func (svc *Service) DeleteStudent(ctx context.Context, classID, studentID int64) error {
	if _, err := svc.GetStudent(ctx, classID, studentID); err != nil {
		return errors.Wrap(err, "finding student")
	}
	return svc.repo.DeleteStudent(ctx, studentID)
}

// Enrolments returns the class memberships of the person with the given email.
func (svc *Service) Enrolments(ctx context.Context, email string) ([]Student, error) {
	return svc.repo.QueryStudents(ctx, StudentFilter{Email: core.CleanString(email, true /* lower */)})
}
