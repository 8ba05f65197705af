package grade

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/gradebook/core"
)

var (
	categoryTag  = "category"
	categoryText = "invalid category"

	specialTypeTag  = "specialtype"
	specialTypeText = "invalid assessment type"

	gradeValueTag  = "gradevalue"
	gradeValueText = "must be between 1 and 5"

	weightTag  = "weight"
	weightText = "must be between 0 and 100"

	customNameTag  = "customname"
	customNameText = "a custom assessment needs a name"
)

// InitValidators registers the grade validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(categoryTag, core.OneOf(AllCategories...))
	core.RegisterCustomTranslation(validate, translator, categoryTag, categoryText)

	_ = validate.RegisterValidation(specialTypeTag, core.OneOf(AllSpecialTypes...))
	core.RegisterCustomTranslation(validate, translator, specialTypeTag, specialTypeText)

	_ = validate.RegisterValidation(gradeValueTag, rangeValidation(1, 5))
	core.RegisterCustomTranslation(validate, translator, gradeValueTag, gradeValueText)

	_ = validate.RegisterValidation(weightTag, rangeValidation(0, 100))
	core.RegisterCustomTranslation(validate, translator, weightTag, weightText)

	validate.RegisterStructValidation(specialStructValidation, NewSpecialAssessment{})
	core.RegisterCustomTranslation(validate, translator, customNameTag, customNameText)
}

func rangeValidation(min, max float64) validator.Func {
	return func(fl validator.FieldLevel) bool {
		v := fl.Field().Float()
		return v >= min && v <= max
	}
}

// specialStructValidation does struct level validation on NewSpecialAssessment.
func specialStructValidation(sl validator.StructLevel) {
	data := sl.Current().Interface().(NewSpecialAssessment)
	if data.Type == SpecialCustom && data.Name == "" {
		sl.ReportError(data.Name, "name", "Name", customNameTag, "")
	}
}
