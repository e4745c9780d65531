package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/auth"
)

// RegisterCustomValidators registers the service-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"credentials_backend": validateCredentialsBackend,
		"digits":              validateDigits,
		"duration":            validateDuration,
		"key_hash":            validateKeyHash,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

func validateCredentialsBackend(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case BackendMemory, BackendFile, BackendSQLite, BackendPostgres:
		return true
	}
	return false
}

// validateDigits accepts non-empty strings of ASCII digits.
func validateDigits(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

func validateKeyHash(fl validator.FieldLevel) bool {
	return auth.HashType(fl.Field().String()) != auth.HashTypeUnknown
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error with actionable messages if validation fails.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateBridge(); err != nil {
		return err
	}
	if err := c.validateKeyNames(); err != nil {
		return err
	}
	return nil
}

// validateBridge requires a bridge command unless running in dev mode.
func (c *Config) validateBridge() error {
	if c.Bridge.Command == "" && !c.DevMode {
		return errors.New("bridge.command is required (or enable dev_mode)")
	}
	return nil
}

// validateKeyNames ensures API key names are unique so logs identify callers.
func (c *Config) validateKeyNames() error {
	seen := make(map[string]struct{}, len(c.Server.APIKeys))
	for i, k := range c.Server.APIKeys {
		if _, dup := seen[k.Name]; dup {
			return fmt.Errorf("server.api_keys[%d]: duplicate name %q", i, k.Name)
		}
		seen[k.Name] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
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

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "credentials_backend":
		return fmt.Sprintf("%s must be one of: memory, file, sqlite, postgres", field)
	case "digits":
		return fmt.Sprintf("%s must contain only digits", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration like \"30s\" or \"5m\"", field)
	case "key_hash":
		return fmt.Sprintf("%s must be an argon2id hash or a sha256 hex digest", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
