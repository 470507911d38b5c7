package extract

import (
	"errors"
	"fmt"
)

var (
	ErrStructure          = errors.New("unexpected email structure")
	ErrUnrecognizedFormat = errors.New("email matches neither trade pattern")
	ErrDateParse          = errors.New("invalid date")
	ErrNumericParse       = errors.New("invalid number")
	ErrPatternGroups      = errors.New("pattern must have exactly 8 capture groups")
)

// FieldError reports a captured field that could not be converted to its type.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %v: %q", e.Field, e.Err, e.Value)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
