// Package validation provides common validation utilities for kvguard configuration.
package validation

import (
	"reflect"
	"strconv"
	"time"

	kverrors "github.com/vnykmshr/kvguard/pkg/common/errors"
)

// ValidatePositive validates that an integer value is positive (> 0).
// Returns a ValidationError if the value is not positive.
func ValidatePositive(module, field string, value int) error {
	if value <= 0 {
		return kverrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateRange validates that min <= value <= max.
func ValidateRange(module, field string, value, min, max int) error {
	if value < min || value > max {
		return kverrors.NewValidationError(module, field, value, "out of range").
			WithHint("use a value between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return nil
}

// ValidatePositiveDuration validates that a duration is positive (> 0).
func ValidatePositiveDuration(module, field string, value time.Duration) error {
	if value <= 0 {
		return kverrors.NewValidationError(module, field, value, "must be positive").
			WithHint("durations are written like 500ms, 10s or 1m")
	}
	return nil
}

// ValidateNonNegativeDuration validates that a duration is not negative.
func ValidateNonNegativeDuration(module, field string, value time.Duration) error {
	if value < 0 {
		return kverrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 for the default or a positive value")
	}
	return nil
}

// ValidateNotNil validates that an interface value is not nil, including a
// nil pointer, map, slice, chan or func held in a non-nil interface.
// Returns a ValidationError if the value is nil.
func ValidateNotNil(module, field string, value interface{}) error {
	if isNil(value) {
		return kverrors.NewValidationError(module, field, nil, "cannot be nil").
			WithHint("provide a valid " + field)
	}
	return nil
}

// ValidateNotEmpty validates that a string value is not empty.
// Returns a ValidationError if the string is empty.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return kverrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}

func isNil(value interface{}) bool {
	if value == nil {
		return true
	}
	switch v := reflect.ValueOf(value); v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}
