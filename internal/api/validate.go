package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"curator/internal/catalog"
	"curator/internal/ledger"
	"curator/internal/services"
)

// requestValidate is shared by every request type in this package.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New(validator.WithRequiredStructEnabled())
	_ = requestValidate.RegisterValidation("itemtype", validateItemType)
	_ = requestValidate.RegisterValidation("substatus", validateStatus)
}

func validateItemType(fl validator.FieldLevel) bool {
	_, err := catalog.ParseItemType(fl.Field().String())
	return err == nil
}

func validateStatus(fl validator.FieldLevel) bool {
	_, err := ledger.ParseStatus(fl.Field().String())
	return err == nil
}

// Validate checks v against its struct tags and reports failures as
// services.ErrValidation.
func Validate(v any) error {
	err := requestValidate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return services.Wrap(services.ErrValidation, "api", "validate", err.Error(), nil)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, describeFieldError(fe))
	}
	return services.Wrap(services.ErrValidation, "api", "validate", strings.Join(parts, "; "), nil)
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "itemtype":
		return fmt.Sprintf("%s: unknown item type %q", field, fe.Value())
	case "substatus":
		return fmt.Sprintf("%s: unknown subscription status %q", field, fe.Value())
	case "datetime":
		return fmt.Sprintf("%s must be a date (YYYY-MM-DD)", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
