// Package validation checks user-supplied URLs and tokens before they reach the flows
package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// MaxURLLength bounds user-supplied URLs
const MaxURLLength = 2048

// ValidationError represents an invalid input field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidateBaseURL checks a hub base URL: absolute http(s), no query or fragment
func ValidateBaseURL(raw string) error {
	u, err := validateAbsoluteURL("baseURL", raw)
	if err != nil {
		return err
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return &ValidationError{Field: "baseURL", Message: "must not carry a query or fragment"}
	}
	if u.User != nil {
		return &ValidationError{Field: "baseURL", Message: "must not carry credentials"}
	}
	return nil
}

// ValidateCallbackURL checks the frontend URL the setup callback redirects to
func ValidateCallbackURL(raw string) error {
	_, err := validateAbsoluteURL("frontendCallback", raw)
	return err
}

// ValidateToken checks an opaque token supplied in a path or body is present.
// Tokens are provisioned elsewhere and compared verbatim, so any bytes are allowed.
func ValidateToken(field, token string) error {
	if token == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// ValidateRequired checks a free-form value is present
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

func validateAbsoluteURL(field, raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &ValidationError{Field: field, Message: "is required"}
	}
	if len(raw) > MaxURLLength {
		return nil, &ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d characters", MaxURLLength)}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ValidationError{Field: field, Message: "is not a valid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ValidationError{Field: field, Message: "must use http or https"}
	}
	if u.Host == "" {
		return nil, &ValidationError{Field: field, Message: "must include a host"}
	}
	return u, nil
}
