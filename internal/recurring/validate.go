package recurring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/reconciler/internal/shared"
)

var definitionValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every missing or out of range field as ErrInvalidDefinition.
func (d Definition) Validate() error {
	err := definitionValidator.Struct(d)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("recurring: definition %s: %w", d.ID, err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fmt.Sprintf("%s %s", fieldName(fe.Field()), describe(fe)))
	}
	return fmt.Errorf("recurring: definition %s: %s: %w", d.ID, strings.Join(problems, ", "), shared.ErrInvalidDefinition)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

func fieldName(field string) string {
	switch field {
	case "DueDay":
		return "due_day"
	case "EntityID":
		return "entity_id"
	case "Name":
		return "name"
	default:
		return strings.ToLower(field)
	}
}
