package api

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names, not Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

func (rv *requestValidator) Validate(i any) error {
	return rv.v.Struct(i)
}

// formatValidationErrors maps each failing field to a readable message.
func formatValidationErrors(err error) map[string]string {
	out := make(map[string]string)

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return out
	}
	for _, e := range verrs {
		field := e.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch e.Tag() {
		case "required":
			out[field] = field + " is required"
		case "email":
			out[field] = field + " must be a valid email address"
		case "max":
			out[field] = field + " must be at most " + e.Param()
		case "min":
			out[field] = field + " must be at least " + e.Param()
		case "oneof":
			out[field] = field + " must be one of: " + e.Param()
		case "datetime":
			out[field] = field + " must be a date formatted " + e.Param()
		case "uuid":
			out[field] = field + " must be a UUID"
		default:
			out[field] = field + " is invalid"
		}
	}
	return out
}
