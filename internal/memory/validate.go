package memory

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// inputValidate checks DecisionInput and ConversationInput.
// Initialized in init() with the notblank rule and json field names.
var inputValidate *validator.Validate

func init() {
	inputValidate = validator.New()
	_ = inputValidate.RegisterValidation("notblank", validateNotBlank)
	inputValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// validateNotBlank rejects strings that are empty after trimming whitespace.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// validateInput runs the struct validator and converts the first failure into
// a *ValidationError naming the offending field.
func validateInput(v any) error {
	err := inputValidate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "input", Reason: err.Error()}
	}
	fe := fieldErrs[0]
	field := strings.SplitN(fe.Namespace(), ".", 2)
	name := fe.Field()
	if len(field) == 2 {
		name = field[1]
	}
	switch fe.Tag() {
	case "notblank":
		return &ValidationError{Field: name, Reason: "must not be empty"}
	case "oneof":
		return &ValidationError{Field: name, Reason: "must be one of " + fe.Param()}
	default:
		return &ValidationError{Field: name, Reason: "failed " + fe.Tag() + " check"}
	}
}
