// internal/utils/validator.go
package utils

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("currency", validateCurrency)
	validate.RegisterValidation("plan_id", validatePlanID)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func validateCurrency(fl validator.FieldLevel) bool {
	code := fl.Field().String()
	if len(code) != 3 {
		return false
	}
	return code == strings.ToUpper(code)
}

func validatePlanID(fl validator.FieldLevel) bool {
	plan := fl.Field().String()
	if plan == "" || len(plan) > 50 {
		return false
	}
	for _, r := range plan {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_' && r != '-' {
			return false
		}
	}
	return true
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return e.Field() + " must be at least " + e.Param()
	case "max":
		return e.Field() + " must be at most " + e.Param()
	case "currency":
		return "Currency must be a 3-letter uppercase ISO code"
	case "plan_id":
		return "Plan id must be lowercase alphanumeric with dashes or underscores"
	default:
		return e.Field() + " is invalid"
	}
}
