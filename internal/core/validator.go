package core

import (
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"learnhub/internal/types"
)

// ValidationError describes a single failed constraint on a request field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult collects the outcome of validating a request payload.
// Warnings are non-blocking; only Errors make the result invalid.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []string
}

// IsValid reports whether the payload passed all blocking constraints.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator with the domain-specific tags used
// by request DTOs:
//
//   - subject:        value must be one of the supported companion subjects.
//   - teaching_style: value must be a known TeachingStyle (formal, casual).
//   - voice_gender:   value must be a known VoiceGender (male, female).
//
// Field names in errors use the struct's json tag so clients can map failures
// back to the payload they sent.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator and registers the custom tags.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New()

	// Report json tag names instead of Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("subject", validateSubject)
	_ = v.RegisterValidation("teaching_style", validateTeachingStyle)
	_ = v.RegisterValidation("voice_gender", validateVoiceGender)

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates dst against its struct tags. It returns nil when
// the payload is valid, or a *types.AppError carrying one entry per failed
// field in Details["fields"].
func (v *Validator) ValidateStruct(dst interface{}) error {
	result := v.Check(dst)
	if result.IsValid() {
		return nil
	}

	fields := make([]map[string]string, 0, len(result.Errors))
	for _, ve := range result.Errors {
		fields = append(fields, map[string]string{
			"field":   ve.Field,
			"code":    ve.Code,
			"message": ve.Message,
		})
	}

	// The first failed field determines the top-level error code so that
	// missing-field failures surface as such rather than a generic 400.
	code := types.ErrorCode(result.Errors[0].Code)
	return types.NewAppErrorWithDetails(
		code,
		"request validation failed",
		nil,
		map[string]any{"fields": fields},
	)
}

// Check validates dst and returns the structured result without converting
// it to an error. Handlers that want to attach warnings use this directly.
func (v *Validator) Check(dst interface{}) ValidationResult {
	err := v.validate.Struct(dst)
	if err == nil {
		return ValidationResult{}
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		// Non-field error (e.g., dst is not a struct). Treat as a single
		// invalid-field failure; the caller passed something unexpected.
		v.logger.Error("validator returned non-field error", "error", err.Error())
		return ValidationResult{
			Errors: []ValidationError{{
				Field:   "",
				Code:    string(types.ErrCodeValidationInvalidField),
				Message: "request payload could not be validated",
			}},
		}
	}

	result := ValidationResult{
		Errors: make([]ValidationError, 0, len(verrs)),
	}
	for _, fe := range verrs {
		result.Errors = append(result.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    string(tagToErrorCode(fe.Tag())),
			Message: messageForTag(fe),
		})
	}
	return result
}

// tagToErrorCode maps a validator tag to the platform error code taxonomy.
func tagToErrorCode(tag string) types.ErrorCode {
	switch tag {
	case "required":
		return types.ErrCodeValidationMissingField
	default:
		return types.ErrCodeValidationInvalidField
	}
}

// messageForTag produces a client-facing message for a failed constraint.
func messageForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "subject":
		return "must be one of: " + strings.Join(types.AllSubjects, ", ")
	case "teaching_style":
		return "must be one of: formal, casual"
	case "voice_gender":
		return "must be one of: male, female"
	default:
		return "failed validation: " + fe.Tag()
	}
}

// validateSubject checks membership in the supported subject list.
// Empty values pass; combine with required to reject them.
func validateSubject(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	for _, s := range types.AllSubjects {
		if value == s {
			return true
		}
	}
	return false
}

// validateTeachingStyle checks the value is a known TeachingStyle.
func validateTeachingStyle(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	switch types.TeachingStyle(value) {
	case types.StyleFormal, types.StyleCasual:
		return true
	}
	return false
}

// validateVoiceGender checks the value is a known VoiceGender.
func validateVoiceGender(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	switch types.VoiceGender(value) {
	case types.VoiceMale, types.VoiceFemale:
		return true
	}
	return false
}
