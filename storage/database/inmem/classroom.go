package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/gradebook/core/classroom"
)

type classroomRepository struct {
	db *DB
}

var _ classroom.Repository = (*classroomRepository)(nil) // interface compliance check

func NewClassroomRepository(db *DB) classroom.Repository {
	return &classroomRepository{db: db}
}

// Classes

func (repo *classroomRepository) CreateClass(_ context.Context, cls classroom.Class) (classroom.Class, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cls.ID = repo.db.classes.nextID()
	repo.db.classes.rows[cls.ID] = cls
	return cls, nil
}

func (repo *classroomRepository) GetClassByID(_ context.Context, id int64) (classroom.Class, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if cls, ok := repo.db.classes.rows[id]; ok {
		return cls, nil
	}
	return classroom.Class{}, classroom.ErrClassNotFound
}

func (repo *classroomRepository) QueryClasses(_ context.Context, filter classroom.ClassFilter) ([]classroom.Class, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	classes := make([]classroom.Class, 0)
	for _, cls := range repo.db.classes.sorted() {
		if filter.TeacherID != 0 && cls.TeacherID != filter.TeacherID {
			continue
		}
		if len(filter.IDs) > 0 && !contains(filter.IDs, cls.ID) {
			continue
		}
		classes = append(classes, cls)
	}
	sort.SliceStable(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })
	return classes, nil
}

func (repo *classroomRepository) UpdateClass(_ context.Context, cls classroom.Class) (classroom.Class, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.classes.rows[cls.ID]
	if !ok {
		return classroom.Class{}, classroom.ErrClassNotFound
	}
	orig.Name = cls.Name
	orig.Subject = cls.Subject
	orig.TeacherID = cls.TeacherID
	repo.db.classes.rows[cls.ID] = orig
	return orig, nil
}

func (repo *classroomRepository) DeleteClass(_ context.Context, id int64) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if !repo.db.delete(tblClasses, id) {
		return classroom.ErrClassNotFound
	}
	return nil
}

// Students

// enrolled reports whether email is already used in classID by a student other than excludedID.
func (repo *classroomRepository) enrolled(email string, classID, excludedID int64) bool {
	for id, st := range repo.db.students.rows {
		if id != excludedID && st.ClassID == classID && st.Email == email {
			return true
		}
	}
	return false
}

func (repo *classroomRepository) CreateStudent(_ context.Context, st classroom.Student) (classroom.Student, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if repo.enrolled(st.Email, st.ClassID, 0) {
		return classroom.Student{}, classroom.ErrStudentExists
	}
	st.ID = repo.db.students.nextID()
	repo.db.students.rows[st.ID] = st
	return st, nil
}

func (repo *classroomRepository) GetStudentByID(_ context.Context, id int64) (classroom.Student, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if st, ok := repo.db.students.rows[id]; ok {
		return st, nil
	}
	return classroom.Student{}, classroom.ErrStudentNotFound
}

func (repo *classroomRepository) QueryStudents(_ context.Context, filter classroom.StudentFilter) ([]classroom.Student, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	students := make([]classroom.Student, 0)
	for _, st := range repo.db.students.sorted() {
		if filter.ClassID != 0 && st.ClassID != filter.ClassID {
			continue
		}
		if filter.Email != "" && st.Email != filter.Email {
			continue
		}
		students = append(students, st)
	}
	sort.SliceStable(students, func(i, j int) bool { return students[i].Name < students[j].Name })
	return students, nil
}

func (repo *classroomRepository) UpdateStudent(_ context.Context, st classroom.Student) (classroom.Student, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.students.rows[st.ID]
	if !ok {
		return classroom.Student{}, classroom.ErrStudentNotFound
	}
	if repo.enrolled(st.Email, orig.ClassID, st.ID) {
		return classroom.Student{}, classroom.ErrStudentExists
	}
	orig.Name = st.Name
	orig.Email = st.Email
	orig.SchoolYear = st.SchoolYear
	repo.db.students.rows[st.ID] = orig
	return orig, nil
}

func (repo *classroomRepository) DeleteStudent(_ context.Context, id int64) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if !repo.db.delete(tblStudents, id) {
		return classroom.ErrStudentNotFound
	}
	return nil
}

func contains(ids []int64, id int64) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}
