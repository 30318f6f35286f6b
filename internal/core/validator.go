package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"marinaops/internal/types"
)

// siteIDPattern matches site identifiers such as "port-nord" or "quay_3".
var siteIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidationError describes one failed field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with the engine's custom tags:
//
//	iso_date  string in YYYY-MM-DD form naming a real calendar date
//	site_id   lowercase site slug
//
// Field names in errors come from the json tag.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with the custom tags registered.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("iso_date", validateISODate)
	_ = v.RegisterValidation("site_id", validateSiteID)

	return &Validator{validate: v, logger: logger}
}

func validateISODate(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	_, err := types.ParseDate(s)
	return err == nil
}

func validateSiteID(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s == "" || siteIDPattern.MatchString(s)
}

// ValidateStruct validates v and returns an AppError whose code is taken
// from the first failing field. All failures are listed under the
// "validation_errors" detail.
func (v *Validator) ValidateStruct(s any) error {
	errs, err := v.collect(s)
	if err != nil {
		return err
	}
	if len(errs) == 0 {
		return nil
	}
	return types.NewAppErrorWithDetails(
		types.ErrorCode(errs[0].Code),
		errs[0].Message,
		nil,
		map[string]any{"validation_errors": errs},
	)
}

func (v *Validator) collect(s any) ([]ValidationError, error) {
	err := v.validate.Struct(s)
	if err == nil {
		return nil, nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		v.logger.Error("validator called with non-struct", "type", fmt.Sprintf("%T", s))
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "request could not be validated", err)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "request could not be validated", err)
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, toValidationError(fe))
	}
	return out, nil
}

func toValidationError(fe validator.FieldError) ValidationError {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_if", "required_without":
		return ValidationError{
			Field:   field,
			Code:    string(types.ErrCodeValidationMissingField),
			Message: field + " is required",
		}
	case "iso_date":
		return ValidationError{
			Field:   field,
			Code:    string(types.ErrCodeValidationInvalidDate),
			Message: field + " must be a date in YYYY-MM-DD form",
		}
	case "site_id":
		return ValidationError{
			Field:   field,
			Code:    string(types.ErrCodeValidationInvalidField),
			Message: field + " must be a lowercase site identifier",
		}
	default:
		msg := fmt.Sprintf("%s failed %s validation", field, fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s failed %s=%s validation", field, fe.Tag(), fe.Param())
		}
		return ValidationError{
			Field:   field,
			Code:    string(types.ErrCodeValidationInvalidField),
			Message: msg,
		}
	}
}
