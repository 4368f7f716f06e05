package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthenticationFailed covers bad credentials, unknown clients and
	// every invalid-cookie condition. Callers surface it as a uniform 401
	// with no detail about which check failed.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrRotationWindowExpired reports a refresh token presented for
	// rotation after its rolling window lapsed. Still mapped to
	// ErrAuthenticationFailed at the boundary.
	ErrRotationWindowExpired = errors.New("refresh token outside rotation window")
)

// ValidationError reports missing or malformed request fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(names, ", "))
}

func newValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

func (e *ValidationError) require(field, value string) {
	if strings.TrimSpace(value) == "" {
		e.Fields[field] = "this field is required"
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
