package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/classroom"
)

const (
	classColumns   = "id, name, subject, teacher_id, created_at"
	studentColumns = "id, name, email, class_id, school_year, created_at"
)

type classroomRepository struct {
	db *sqlx.DB
}

var _ classroom.Repository = (*classroomRepository)(nil) // interface compliance check

func NewClassroomRepository(db *sqlx.DB) classroom.Repository {
	return &classroomRepository{db: db}
}

// Classes

func (repo *classroomRepository) CreateClass(ctx context.Context, cls classroom.Class) (classroom.Class, error) {
	id, err := insert(ctx, repo.db,
		"INSERT INTO classes (name, subject, teacher_id, created_at) VALUES (?, ?, ?, ?)",
		cls.Name, cls.Subject, cls.TeacherID, cls.CreatedAt.UTC(),
	)
	if err != nil {
		return classroom.Class{}, trapErr(err, nil, "inserting class")
	}
	cls.ID = id
	return cls, nil
}

func (repo *classroomRepository) GetClassByID(ctx context.Context, id int64) (classroom.Class, error) {
	var cls classroom.Class
	q := repo.db.Rebind("SELECT " + classColumns + " FROM classes WHERE id = ?")
	if err := repo.db.GetContext(ctx, &cls, q, id); err != nil {
		return classroom.Class{}, trapErr(err, classroom.ErrClassNotFound, "finding class by ID")
	}
	return cls, nil
}

func (repo *classroomRepository) QueryClasses(ctx context.Context, filter classroom.ClassFilter) ([]classroom.Class, error) {
	w := new(where)
	if filter.TeacherID != 0 {
		w.add("teacher_id = ?", filter.TeacherID)
	}
	w.in("id", filter.IDs)

	classes := make([]classroom.Class, 0)
	if err := selectWhere(ctx, repo.db, &classes, "SELECT "+classColumns+" FROM classes", w, " ORDER BY name, id"); err != nil {
		return nil, trapErr(err, nil, "querying classes")
	}
	return classes, nil
}

func (repo *classroomRepository) UpdateClass(ctx context.Context, cls classroom.Class) (classroom.Class, error) {
	err := execOne(ctx, repo.db, classroom.ErrClassNotFound, "updating class",
		"UPDATE classes SET name = ?, subject = ?, teacher_id = ? WHERE id = ?",
		cls.Name, cls.Subject, cls.TeacherID, cls.ID,
	)
	if err != nil {
		return classroom.Class{}, err
	}
	return repo.GetClassByID(ctx, cls.ID)
}

// DeleteClass relies on ON DELETE CASCADE for the dependent rows.
func (repo *classroomRepository) DeleteClass(ctx context.Context, id int64) error {
	return execOne(ctx, repo.db, classroom.ErrClassNotFound, "deleting class", "DELETE FROM classes WHERE id = ?", id)
}

// Students

func (repo *classroomRepository) CreateStudent(ctx context.Context, st classroom.Student) (classroom.Student, error) {
	id, err := insert(ctx, repo.db,
		"INSERT INTO students (name, email, class_id, school_year, created_at) VALUES (?, ?, ?, ?, ?)",
		st.Name, st.Email, st.ClassID, st.SchoolYear, st.CreatedAt.UTC(),
	)
	if err != nil {
		if err = trapErr(err, nil, "inserting student"); core.IsConflict(err) {
			return classroom.Student{}, classroom.ErrStudentExists
		}
		return classroom.Student{}, err
	}
	st.ID = id
	return st, nil
}

func (repo *classroomRepository) GetStudentByID(ctx context.Context, id int64) (classroom.Student, error) {
	var st classroom.Student
	q := repo.db.Rebind("SELECT " + studentColumns + " FROM students WHERE id = ?")
	if err := repo.db.GetContext(ctx, &st, q, id); err != nil {
		return classroom.Student{}, trapErr(err, classroom.ErrStudentNotFound, "finding student by ID")
	}
	return st, nil
}

func (repo *classroomRepository) QueryStudents(ctx context.Context, filter classroom.StudentFilter) ([]classroom.Student, error) {
	w := new(where)
	if filter.ClassID != 0 {
		w.add("class_id = ?", filter.ClassID)
	}
	if filter.Email != "" {
		w.add("email = ?", filter.Email)
	}

	students := make([]classroom.Student, 0)
	if err := selectWhere(ctx, repo.db, &students, "SELECT "+studentColumns+" FROM students", w, " ORDER BY name, id"); err != nil {
		return nil, trapErr(err, nil, "querying students")
	}
	return students, nil
}

func (repo *classroomRepository) UpdateStudent(ctx context.Context, st classroom.Student) (classroom.Student, error) {
	err := execOne(ctx, repo.db, classroom.ErrStudentNotFound, "updating student",
		"UPDATE students SET name = ?, email = ?, school_year = ? WHERE id = ?",
		st.Name, st.Email, st.SchoolYear, st.ID,
	)
	if err != nil {
		if core.IsConflict(err) {
			return classroom.Student{}, classroom.ErrStudentExists
		}
		return classroom.Student{}, err
	}
	return repo.GetStudentByID(ctx, st.ID)
}

// DeleteStudent relies on ON DELETE CASCADE for the dependent rows.
func (repo *classroomRepository) DeleteStudent(ctx context.Context, id int64) error {
	return execOne(ctx, repo.db, classroom.ErrStudentNotFound, "deleting student", "DELETE FROM students WHERE id = ?", id)
}
