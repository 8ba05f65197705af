package grade

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/aggregate"
)

// Template categories
const (
	CategoryExam          = "exam"
	CategoryTest          = "test"
	CategoryQuiz          = "quiz"
	CategoryOral          = "oral"
	CategoryHomework      = "homework"
	CategoryProject       = "project"
	CategoryParticipation = "participation"
)

// Special assessment types
const (
	SpecialPresentation = "presentation"
	SpecialPortfolio    = "portfolio"
	SpecialCompetition  = "competition"
	SpecialInternship   = "internship"
	SpecialCustom       = "custom" // free-text, named by SpecialAssessment.Name
)

// Notification types
const (
	NotificationGradeAdded   = "grade_added"
	NotificationGradeUpdated = "grade_updated"
)

var (
	AllCategories   = []string{CategoryExam, CategoryTest, CategoryQuiz, CategoryOral, CategoryHomework, CategoryProject, CategoryParticipation}
	AllSpecialTypes = []string{SpecialPresentation, SpecialPortfolio, SpecialCompetition, SpecialInternship, SpecialCustom}
)

// Template is a reusable assessment of a class. A student gets at most one grade per template.
type Template struct {
	ID          int64       `json:"id" db:"id"`
	ClassID     int64       `json:"class_id" db:"class_id"`
	Name        string      `json:"name" db:"name"`
	Category    string      `json:"category" db:"category"`
	Weight      float64     `json:"weight" db:"weight"`
	Date        null.Time   `json:"date" db:"date"`
	Description null.String `json:"description" db:"description"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"` // UTC
}

// Grade is a value in [1,5] (lower is better) given to a student for a template.
// Legacy grades have no TemplateID: they are tied to a template by Name.
type Grade struct {
	ID             int64       `json:"id" db:"id"`
	StudentID      int64       `json:"student_id" db:"student_id"`
	ClassID        int64       `json:"class_id" db:"class_id"`
	TemplateID     null.Int64  `json:"template_id" db:"template_id"`
	Name           string      `json:"name" db:"name"`
	Value          float64     `json:"value" db:"value"`
	Note           null.String `json:"note" db:"note"`
	AttachmentPath null.String `json:"-" db:"attachment_path"`
	AttachmentName null.String `json:"attachment_name" db:"attachment_name"`
	AttachmentMIME null.String `json:"attachment_mime" db:"attachment_mime"`
	AttachmentSize null.Int64  `json:"attachment_size" db:"attachment_size"`
	ExternalLink   null.String `json:"external_link" db:"external_link"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"` // UTC
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"` // UTC
}

func (g *Grade) HasAttachment() bool { return g.AttachmentPath.Valid && g.AttachmentPath.String != "" }

// Attachment describes a stored upload.
type Attachment struct {
	Path string // relative to the storage root
	Name string // original file name
	MIME string
	Size int64
}

// SpecialAssessment is a one-off graded item that is not tied to any template.
type SpecialAssessment struct {
	ID          int64       `json:"id" db:"id"`
	StudentID   int64       `json:"student_id" db:"student_id"`
	ClassID     int64       `json:"class_id" db:"class_id"`
	Type        string      `json:"type" db:"type"`
	Name        string      `json:"name" db:"name"`
	Description null.String `json:"description" db:"description"`
	Weight      float64     `json:"weight" db:"weight"`
	Value       float64     `json:"value" db:"value"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"` // UTC
}

type Notification struct {
	ID        int64     `json:"id" db:"id"`
	StudentID int64     `json:"student_id" db:"student_id"`
	Message   string    `json:"message" db:"message"`
	Type      string    `json:"type" db:"type"`
	CreatedAt time.Time `json:"created_at" db:"created_at"` // UTC
	ReadAt    null.Time `json:"read_at" db:"read_at"`       // set once
}

type NewTemplate struct {
	Name        string    `json:"name" validate:"required,max=100,printable"`
	Category    string    `json:"category" validate:"required,category"`
	Weight      *float64  `json:"weight" validate:"required,weight"`
	Date        null.Time `json:"date"`
	Description string    `json:"description" validate:"max=1000"`
}

func (nt *NewTemplate) Validate(validate *validator.Validate) error {
	nt.Name = core.CleanString(nt.Name)
	nt.Category = core.CleanString(nt.Category, true /* lower */)
	nt.Description = core.CleanString(nt.Description)
	return validate.Struct(nt)
}

type UpdateTemplate struct {
	Name        string    `json:"name" validate:"omitempty,max=100,printable"`
	Category    string    `json:"category" validate:"omitempty,category"`
	Weight      *float64  `json:"weight" validate:"omitempty,weight"`
	Date        null.Time `json:"date"`
	Description *string   `json:"description" validate:"omitempty,max=1000"`
}

func (ut *UpdateTemplate) Validate(validate *validator.Validate) error {
	ut.Name = core.CleanString(ut.Name)
	ut.Category = core.CleanString(ut.Category, true /* lower */)
	if err := validate.Struct(ut); err != nil {
		return err
	}
	return checkRanges(validate, ut.Weight, nil)
}

type NewGrade struct {
	StudentID    int64    `json:"student_id" form:"student_id" validate:"required,gt=0"`
	TemplateID   int64    `json:"template_id" form:"template_id" validate:"required,gt=0"`
	Value        *float64 `json:"value" form:"value" validate:"required,gradevalue"`
	Note         string   `json:"note" form:"note" validate:"max=1000"`
	ExternalLink string   `json:"external_link" form:"external_link" validate:"omitempty,url,max=2000"`
}

func (ng *NewGrade) Validate(validate *validator.Validate) error {
	ng.Note = core.CleanString(ng.Note)
	ng.ExternalLink = core.CleanString(ng.ExternalLink)
	return validate.Struct(ng)
}

type UpdateGrade struct {
	Value        *float64 `json:"value" validate:"omitempty,gradevalue"`
	Note         *string  `json:"note" validate:"omitempty,max=1000"`
	ExternalLink *string  `json:"external_link" validate:"omitempty,max=2000"`
}

func (ug *UpdateGrade) Validate(validate *validator.Validate) error {
	if ug.ExternalLink != nil {
		link := core.CleanString(*ug.ExternalLink)
		ug.ExternalLink = &link
		if link != "" {
			if err := validate.Var(link, "url"); err != nil {
				return core.NewValidationError(nil, core.FieldError{Field: "external_link", Error: "must be a valid URL"})
			}
		}
	}
	if err := validate.Struct(ug); err != nil {
		return err
	}
	return checkRanges(validate, nil, ug.Value)
}

type NewSpecialAssessment struct {
	StudentID   int64    `json:"student_id" validate:"required,gt=0"`
	Type        string   `json:"type" validate:"required,specialtype"`
	Name        string   `json:"name" validate:"max=100,printable"`
	Description string   `json:"description" validate:"max=1000"`
	Weight      *float64 `json:"weight" validate:"required,weight"`
	Value       *float64 `json:"value" validate:"required,gradevalue"`
}

func (ns *NewSpecialAssessment) Validate(validate *validator.Validate) error {
	ns.Type = core.CleanString(ns.Type, true /* lower */)
	ns.Name = core.CleanString(ns.Name)
	ns.Description = core.CleanString(ns.Description)
	return validate.Struct(ns)
}

type UpdateSpecialAssessment struct {
	Type        string   `json:"type" validate:"omitempty,specialtype"`
	Name        string   `json:"name" validate:"omitempty,max=100,printable"`
	Description *string  `json:"description" validate:"omitempty,max=1000"`
	Weight      *float64 `json:"weight" validate:"omitempty,weight"`
	Value       *float64 `json:"value" validate:"omitempty,gradevalue"`
}

func (us *UpdateSpecialAssessment) Validate(validate *validator.Validate) error {
	us.Type = core.CleanString(us.Type, true /* lower */)
	us.Name = core.CleanString(us.Name)
	if err := validate.Struct(us); err != nil {
		return err
	}
	return checkRanges(validate, us.Weight, us.Value)
}

// checkRanges validates optional numbers which `omitempty` lets through when they are zero.
func checkRanges(validate *validator.Validate, weight, value *float64) error {
	var flds []core.FieldError
	if weight != nil && validate.Var(*weight, weightTag) != nil {
		flds = append(flds, core.FieldError{Field: "weight", Error: weightText})
	}
	if value != nil && validate.Var(*value, gradeValueTag) != nil {
		flds = append(flds, core.FieldError{Field: "value", Error: gradeValueText})
	}
	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

// Filters apply AND between their fields. Empty fields do not filter.
type (
	TemplateFilter struct {
		ClassIDs []int64
	}

	GradeFilter struct {
		ClassIDs   []int64
		StudentIDs []int64
		TemplateID int64
	}

	SpecialFilter struct {
		ClassIDs   []int64
		StudentIDs []int64
	}
)

// Entry is one line of a student's grade book: a template grade or a special assessment.
type Entry struct {
	Kind         string       `json:"kind"` // "grade" | "special"
	ID           int64        `json:"id"`
	ClassID      int64        `json:"class_id"`
	ClassName    string       `json:"class_name"`
	Subject      string       `json:"subject"`
	Name         string       `json:"name"`
	Category     string       `json:"category,omitempty"`
	Weight       null.Float64 `json:"weight"`
	Value        float64      `json:"value"`
	Comment      string       `json:"comment,omitempty"`
	Teacher      string       `json:"teacher"`
	GradedAt     time.Time    `json:"graded_at"`
	Attachment   null.String  `json:"attachment"` // original file name
	ExternalLink null.String  `json:"external_link"`
}

const (
	EntryGrade   = "grade"
	EntrySpecial = "special"
)

// Overview holds a student's weighted averages next to the plain class averages.
type Overview struct {
	Averages      aggregate.Averages      `json:"averages"`
	ClassAverages map[string]null.Float64 `json:"class_averages"`
}
