// Package validation provides common validation utilities for configuration
// parameters across kvguard.
//
// Every helper returns a *errors.ValidationError, which wraps
// errors.ErrInvalidConfiguration, so constructors can surface consistent
// messages and callers can match them with errors.Is.
package validation
