package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers accessrl-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateDuration validates a time.ParseDuration-parseable string field
// (e.g. "30s", "5m", "1h").
func validateDuration(fl validator.FieldLevel) bool {
	_, err := time.ParseDuration(fl.Field().String())
	return err == nil
}

// Validate validates the Config using struct tags and custom cross-field
// rules. Returns an error if validation fails, with actionable messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateDefaultPolicyReference(); err != nil {
		return err
	}
	if err := c.validatePolicyNamesUnique(); err != nil {
		return err
	}

	return nil
}

// validateDefaultPolicyReference ensures default_policy names a configured
// policy when rate limiting and a default are both set.
func (c *Config) validateDefaultPolicyReference() error {
	if !c.RateLimit.Enabled || c.RateLimit.DefaultPolicy == "" {
		return nil
	}
	for _, p := range c.RateLimit.Policies {
		if strings.EqualFold(p.Name, c.RateLimit.DefaultPolicy) {
			return nil
		}
	}
	return fmt.Errorf("rate_limit.default_policy: references unknown policy %q", c.RateLimit.DefaultPolicy)
}

// validatePolicyNamesUnique ensures no two policies share a name
// case-insensitively, since the Policy Provider looks policies up
// case-insensitively.
func (c *Config) validatePolicyNamesUnique() error {
	seen := make(map[string]struct{}, len(c.RateLimit.Policies))
	for _, p := range c.RateLimit.Policies {
		key := strings.ToLower(p.Name)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("rate_limit.policies: duplicate policy name %q", p.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly
// messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be >= %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a valid duration (e.g. \"30s\", \"5m\")", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
