// Package inmemdb is an in-process implementation of the repositories, used by tests and local runs.
// It enforces the same unique constraints as the SQL schema and emulates its ON DELETE CASCADE rules.
package inmemdb

import (
	"context"
	"sort"
	"sync"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/grade"
	"github.com/trezcool/gradebook/core/user"
)

const (
	tblClasses       = "classes"
	tblStudents      = "students"
	tblTemplates     = "grade_templates"
	tblGrades        = "grades"
	tblSpecials      = "special_assessments"
	tblNotifications = "grade_notifications"
)

// cascadeRule mirrors a `child.column REFERENCES parent(id) ON DELETE CASCADE` constraint.
type cascadeRule struct {
	parent string
	child  string
	column string
}

var cascadeRules = []cascadeRule{
	{parent: tblClasses, child: tblStudents, column: "class_id"},
	{parent: tblClasses, child: tblTemplates, column: "class_id"},
	{parent: tblClasses, child: tblGrades, column: "class_id"},
	{parent: tblClasses, child: tblSpecials, column: "class_id"},
	{parent: tblStudents, child: tblGrades, column: "student_id"},
	{parent: tblStudents, child: tblSpecials, column: "student_id"},
	{parent: tblStudents, child: tblNotifications, column: "student_id"},
	{parent: tblTemplates, child: tblGrades, column: "template_id"},
}

type (
	relation interface {
		remove(id int64) bool
		referencing(column string, id int64) []int64
	}

	table[T any] struct {
		seq  int64
		rows map[int64]T
		fks  map[string]func(T) int64
	}

	DB struct {
		mutex sync.RWMutex

		users         *table[user.User]
		classes       *table[classroom.Class]
		students      *table[classroom.Student]
		templates     *table[grade.Template]
		grades        *table[grade.Grade]
		specials      *table[grade.SpecialAssessment]
		notifications *table[grade.Notification]

		relations map[string]relation
	}
)

func newTable[T any](fks map[string]func(T) int64) *table[T] {
	return &table[T]{rows: make(map[int64]T), fks: fks}
}

func (t *table[T]) nextID() int64 {
	t.seq++
	return t.seq
}

func (t *table[T]) remove(id int64) bool {
	if _, ok := t.rows[id]; !ok {
		return false
	}
	delete(t.rows, id)
	return true
}

func (t *table[T]) referencing(column string, id int64) []int64 {
	fk, ok := t.fks[column]
	if !ok {
		return nil
	}
	ids := make([]int64, 0)
	for rowID, row := range t.rows {
		if fk(row) == id {
			ids = append(ids, rowID)
		}
	}
	return ids
}

// sorted returns the rows ordered by id.
func (t *table[T]) sorted() []T {
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	rows := make([]T, len(ids))
	for i, id := range ids {
		rows[i] = t.rows[id]
	}
	return rows
}

func Open() (*DB, error) {
	db := &DB{
		users:   newTable[user.User](nil),
		classes: newTable[classroom.Class](nil),
		students: newTable(map[string]func(classroom.Student) int64{
			"class_id": func(s classroom.Student) int64 { return s.ClassID },
		}),
		templates: newTable(map[string]func(grade.Template) int64{
			"class_id": func(t grade.Template) int64 { return t.ClassID },
		}),
		grades: newTable(map[string]func(grade.Grade) int64{
			"class_id":    func(g grade.Grade) int64 { return g.ClassID },
			"student_id":  func(g grade.Grade) int64 { return g.StudentID },
			"template_id": func(g grade.Grade) int64 { return g.TemplateID.Int64 },
		}),
		specials: newTable(map[string]func(grade.SpecialAssessment) int64{
			"class_id":   func(s grade.SpecialAssessment) int64 { return s.ClassID },
			"student_id": func(s grade.SpecialAssessment) int64 { return s.StudentID },
		}),
		notifications: newTable(map[string]func(grade.Notification) int64{
			"student_id": func(n grade.Notification) int64 { return n.StudentID },
		}),
	}
	db.relations = map[string]relation{
		tblClasses:       db.classes,
		tblStudents:      db.students,
		tblTemplates:     db.templates,
		tblGrades:        db.grades,
		tblSpecials:      db.specials,
		tblNotifications: db.notifications,
	}
	return db, nil
}

// PingContext always succeeds: the data lives in the process.
func (db *DB) PingContext(context.Context) error { return nil }

var _ core.Pinger = (*DB)(nil) // interface compliance check

// delete removes a row and, recursively, every row referencing it. The caller holds the write lock.
func (db *DB) delete(tbl string, id int64) bool {
	if !db.relations[tbl].remove(id) {
		return false
	}
	for _, rule := range cascadeRules {
		if rule.parent != tbl {
			continue
		}
		for _, childID := range db.relations[rule.child].referencing(rule.column, id) {
			db.delete(rule.child, childID)
		}
	}
	return true
}
