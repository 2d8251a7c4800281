package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Plan name validation
	validate.RegisterValidation("plan", func(fl validator.FieldLevel) bool {
		plan := fl.Field().String()
		validPlans := []string{"monthly", "yearly", "one_time"}
		for _, p := range validPlans {
			if plan == p {
				return true
			}
		}
		return false
	})

	// Subscription lifecycle event validation
	validate.RegisterValidation("lifecycle_event", func(fl validator.FieldLevel) bool {
		event := fl.Field().String()
		validEvents := []string{"activated", "cancelled", "expired"}
		for _, e := range validEvents {
			if event == e {
				return true
			}
		}
		return false
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	for _, err := range err.(validator.ValidationErrors) {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "gt":
			errors[field] = "Value must be greater than " + err.Param()
		case "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "uuid":
			errors[field] = "Invalid UUID format"
		case "plan":
			errors[field] = "Invalid plan. Must be: monthly, yearly, or one_time"
		case "lifecycle_event":
			errors[field] = "Invalid event. Must be: activated, cancelled, or expired"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}
