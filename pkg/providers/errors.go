package providers

import "fmt"

// MalformedResponseError is returned when a successful response lacks the
// expected shape.
type MalformedResponseError struct {
	// Provider is the name of the provider that returned the response
	Provider string

	// Path is the JSON path that was missing or had the wrong type
	Path string

	// BodyPreview is the start of the response body
	BodyPreview string
}

// Error implements the error interface.
func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("provider %q returned malformed response: missing %s", e.Provider, e.Path)
}

// ConfigError represents a provider configuration error.
type ConfigError struct {
	// Provider is the name of the provider with invalid configuration
	Provider string

	// Field is the configuration field that is invalid
	Field string

	// Message describes the configuration error
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %q configuration error for field %q: %s",
		e.Provider, e.Field, e.Message)
}

// NotFoundError is returned by Registry.Get for an unregistered name.
type NotFoundError struct {
	// Provider is the requested name
	Provider string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("provider %q is not configured", e.Provider)
}
