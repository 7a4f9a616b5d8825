package domain

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// phoneMM matches Myanmar mobile numbers as used by KBZPay and WavePay.
var phoneMM = regexp.MustCompile(`^(09|959|\+959)\d+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("phone_mm", func(fl validator.FieldLevel) bool {
		return phoneMM.MatchString(fl.Field().String())
	})
	return v
}

// ValidPhoneMM reports whether s looks like a Myanmar mobile number.
func ValidPhoneMM(s string) bool {
	return phoneMM.MatchString(s)
}

// Validate checks the method and reports the first offending field as a
// *ValidationError.
func (m PaymentMethod) Validate() error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return Invalid("payment_method", err.Error())
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return Invalid(field, "is required")
	case "phone_mm":
		return Invalid(field, "must be a Myanmar mobile number starting with 09, 959 or +959")
	case "max":
		return Invalid(field, "must be at most "+fe.Param()+" characters")
	case "oneof":
		return Invalid(field, "must be one of "+fe.Param())
	}
	return Invalid(field, fe.Tag())
}
