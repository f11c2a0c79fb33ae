package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error returns the error message.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

// Error returns a combined error message.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return "validation failed: " + strings.Join(messages, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e ValidationErrors) IsEmpty() bool {
	return len(e) == 0
}

// Validator accumulates validation errors.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// AddError adds a validation error.
func (v *Validator) AddError(field, message string, value interface{}) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// Validate returns all validation errors, or nil if validation passed.
func (v *Validator) Validate() error {
	if v.errors.IsEmpty() {
		return nil
	}
	return v.errors
}

// ValidateDuration checks if a duration is within acceptable bounds.
func (v *Validator) ValidateDuration(field string, value time.Duration, min, max time.Duration) {
	if value < min {
		v.AddError(field, fmt.Sprintf("must be at least %v", min), value)
	}
	if max > 0 && value > max {
		v.AddError(field, fmt.Sprintf("must be at most %v", max), value)
	}
}

// ValidateStruct runs the struct tag rules and records each failure.
func (v *Validator) ValidateStruct(s interface{}) {
	err := structValidator.Struct(s)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.AddError("config", err.Error(), nil)
		return
	}
	for _, fe := range fieldErrs {
		v.AddError(fieldPath(fe.Namespace()), formatRule(fe), fe.Value())
	}
}

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

// fieldPath turns "Config.sources[0].name" into "sources[0].name".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func formatRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// ValidateConfig validates the complete configuration. knownTypes, when
// non-empty, lists the source types that may be used.
func ValidateConfig(c *Config, knownTypes ...string) error {
	v := NewValidator()
	v.ValidateStruct(c)

	v.ValidateDuration("host.poll_interval", c.Host.PollInterval, 100*time.Millisecond, 24*time.Hour)
	v.ValidateDuration("host.timeout", c.Host.Timeout, 10*time.Millisecond, 10*time.Minute)
	v.ValidateDuration("host.shutdown_timeout", c.Host.ShutdownTimeout, time.Second, 10*time.Minute)

	seen := make(map[string]bool, len(c.Sources))
	enabled := 0
	for i, s := range c.Sources {
		field := fmt.Sprintf("sources[%d]", i)
		if s.Name != "" {
			if seen[s.Name] {
				v.AddError(field+".name", "must be unique", s.Name)
			}
			seen[s.Name] = true
		}
		if s.Type != "" && len(knownTypes) > 0 && !slices.Contains(knownTypes, s.Type) {
			v.AddError(field+".type", "must be one of: "+strings.Join(knownTypes, ", "), s.Type)
		}
		if s.Interval != 0 {
			v.ValidateDuration(field+".interval", s.Interval, 100*time.Millisecond, 24*time.Hour)
		}
		if s.Timeout != 0 {
			v.ValidateDuration(field+".timeout", s.Timeout, 10*time.Millisecond, 10*time.Minute)
		}
		if s.IsEnabled() {
			enabled++
		}
	}
	if enabled == 0 {
		v.AddError("sources", "at least one enabled source is required", len(c.Sources))
	}

	return v.Validate()
}
