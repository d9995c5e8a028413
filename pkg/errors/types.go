// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents payload or parameter validation failures.
// Use this for unknown payload keys, missing required parameters, type
// mismatches, failed conditional checks, and dependency cycles.
type ValidationError struct {
	// Field identifies which parameter or payload key failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType returns the error category for programmatic handling.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable always returns false; invalid input does not heal on retry.
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a missing declared component.
// Use this when a requested resource, method, or parameter is not part of
// the compiled descriptor.
type NotFoundError struct {
	// Resource is the kind of component (e.g., "resource", "method", "parameter")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// MappingError represents value mapping failures inside a parameter's
// apply pipeline. It is only surfaced when the parameter's raise-for policy
// selects the failed stage; otherwise the unmapped value passes through.
type MappingError struct {
	// Parameter is the declared name of the parameter being mapped
	Parameter string

	// Stage identifies which mapping stage failed: "map", "transform", or "type"
	Stage string

	// Value is the input that could not be mapped
	Value any

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error (e.g., a transform failure)
	Cause error
}

// Error implements the error interface.
func (e *MappingError) Error() string {
	msg := fmt.Sprintf("mapping %s failed at %s stage", e.Parameter, e.Stage)
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Value != nil {
		msg = fmt.Sprintf("%s (value: %v)", msg, e.Value)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *MappingError) Unwrap() error {
	return e.Cause
}

// ErrorType returns the error category for programmatic handling.
func (e *MappingError) ErrorType() string { return "mapping" }

// IsRetryable always returns false; a mapping miss is deterministic.
func (e *MappingError) IsRetryable() bool { return false }

// AuthError represents authentication failures: empty credentials, rejected
// requests (401/403), and token refresh failures.
type AuthError struct {
	// Strategy is the auth strategy name (e.g., "api_key", "oauth2", "dpop")
	Strategy string

	// StatusCode is the HTTP status code (if the failure came from a response)
	StatusCode int

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	msg := fmt.Sprintf("auth %s error", e.Strategy)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", msg, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// ErrorType returns the error category for programmatic handling.
func (e *AuthError) ErrorType() string { return "auth" }

// IsRetryable returns true only for 401 responses, where a re-authentication
// on the next attempt may succeed.
func (e *AuthError) IsRetryable() bool { return e.StatusCode == 401 }

// ConfigError represents declaration problems.
// Use this for invalid descriptor fields, unknown enum strings, missing
// required declarative settings, and invalid auth-type combinations.
type ConfigError struct {
	// Key is the descriptor key that has the problem (e.g., "base_url", "auth.type")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType returns the error category for programmatic handling.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable always returns false; a bad declaration must be fixed, not retried.
func (e *ConfigError) IsRetryable() bool { return false }

// TimeoutError represents operation timeouts.
// Use this when a request exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "send", "authenticate")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
