package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/chalkline-ai/chalkline/internal/domain/auth"
)

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateTenantIDs(); err != nil {
		return err
	}
	if err := c.validateIdentities(); err != nil {
		return err
	}
	if err := c.validateKeyReferences(); err != nil {
		return err
	}
	return nil
}

// validateTenantIDs ensures tenant IDs are unique.
func (c *Config) validateTenantIDs() error {
	seen := make(map[string]struct{}, len(c.Tenants))
	for i, t := range c.Tenants {
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("tenants[%d]: duplicate tenant id %q", i, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// validateIdentities checks role/ref consistency and tenant references.
func (c *Config) validateIdentities() error {
	tenants := make(map[string]struct{}, len(c.Tenants))
	for _, t := range c.Tenants {
		tenants[t.ID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(c.Auth.Identities))
	for i, id := range c.Auth.Identities {
		if _, dup := seen[id.ID]; dup {
			return fmt.Errorf("identities[%d]: duplicate identity id %q", i, id.ID)
		}
		seen[id.ID] = struct{}{}

		if _, ok := tenants[id.TenantID]; !ok {
			return fmt.Errorf("identities[%d]: references unknown tenant_id %q", i, id.TenantID)
		}

		switch auth.Role(id.Role) {
		case auth.RoleStudent:
			if id.StudentRef == "" {
				return fmt.Errorf("identities[%d]: student role requires student_ref", i)
			}
			if id.TeacherRef != "" {
				return fmt.Errorf("identities[%d]: teacher_ref set on student identity", i)
			}
		case auth.RoleTeacher:
			if id.TeacherRef == "" {
				return fmt.Errorf("identities[%d]: teacher role requires teacher_ref", i)
			}
			if id.StudentRef != "" {
				return fmt.Errorf("identities[%d]: student_ref set on teacher identity", i)
			}
		case auth.RoleAdmin:
			if id.StudentRef != "" || id.TeacherRef != "" {
				return fmt.Errorf("identities[%d]: refs set on admin identity", i)
			}
		}
	}
	return nil
}

// validateKeyReferences ensures all API key identity_id values reference
// valid identities and every key hash has a recognized format.
func (c *Config) validateKeyReferences() error {
	known := make(map[string]struct{}, len(c.Auth.Identities))
	for _, identity := range c.Auth.Identities {
		known[identity.ID] = struct{}{}
	}

	for i, apiKey := range c.Auth.APIKeys {
		if _, exists := known[apiKey.IdentityID]; !exists {
			return fmt.Errorf("api_keys[%d]: references unknown identity_id: %s", i, apiKey.IdentityID)
		}
		if auth.DetectHashType(apiKey.KeyHash) == "unknown" {
			return fmt.Errorf("api_keys[%d]: key_hash is neither sha256 hex nor argon2id", i)
		}
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
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
