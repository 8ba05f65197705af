package user

import (
	"fmt"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/gradebook/core"
)

var (
	roleTag  = "role"
	roleText = "invalid role"

	statusTag  = "userstatus"
	statusText = "invalid status"

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdLetterTag  = "pwdletter"
	pwdLetterText = "password must contain at least one letter"

	pwdDigitTag  = "pwddigit"
	pwdDigitText = "password must contain at least one digit"

	pwdUnchangedTag  = "pwdunchanged"
	pwdUnchangedText = "new password must differ from the current one"
)

// InitValidators registers the user validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(roleTag, core.OneOf(AllRoles...))
	core.RegisterCustomTranslation(validate, translator, roleTag, roleText)

	_ = validate.RegisterValidation(statusTag, core.OneOf(AllStatuses...))
	core.RegisterCustomTranslation(validate, translator, statusTag, statusText)

	validate.RegisterStructValidation(passwordStructValidation, ChangePassword{}, SetPassword{})
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, translator, pwdLetterTag, pwdLetterText)
	core.RegisterCustomTranslation(validate, translator, pwdDigitTag, pwdDigitText)
	core.RegisterCustomTranslation(validate, translator, pwdUnchangedTag, pwdUnchangedText)
}

// passwordStructValidation does struct level validation on ChangePassword and SetPassword structs.
func passwordStructValidation(sl validator.StructLevel) {
	switch data := sl.Current().Interface().(type) {
	case ChangePassword:
		if data.Password != "" {
			if tag := passwordPolicyViolation(data.Password); tag != "" {
				sl.ReportError(data.Password, "password", "Password", tag, "")
			} else if data.Password == data.CurrentPassword {
				sl.ReportError(data.Password, "password", "Password", pwdUnchangedTag, "")
			}
		}
	case SetPassword:
		if data.Password != "" {
			if tag := passwordPolicyViolation(data.Password); tag != "" {
				sl.ReportError(data.Password, "password", "Password", tag, "")
			}
		}
	}
}

// passwordPolicyViolation returns the tag of the first broken rule, or "":
// - minLen: 8
// - at least one letter
// - at least one digit
func passwordPolicyViolation(pwd string) string {
	if len([]rune(pwd)) < pwdMinLen {
		return pwdMinLenTag
	}
	var hasLetter, hasDigit bool
	for _, char := range pwd {
		if unicode.IsLetter(char) {
			hasLetter = true
		}
		if unicode.IsDigit(char) {
			hasDigit = true
		}
	}
	if !hasLetter {
		return pwdLetterTag
	}
	if !hasDigit {
		return pwdDigitTag
	}
	return ""
}
