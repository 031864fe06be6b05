package utils

import (
	"github.com/pkg/errors"
)

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}

// NewOutOfRangeError is used when an enumerated or bounded value is outside its domain.
func NewOutOfRangeError(what string, value interface{}) error {
	return errors.Errorf("%s %v is out of range", what, value)
}
