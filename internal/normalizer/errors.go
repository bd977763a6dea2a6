package normalizer

import "fmt"

// FieldValidationError describes why one source field was nulled or defaulted.
// It is logged and counted, never returned to callers of Normalize.
type FieldValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *FieldValidationError) Error() string {
	return fmt.Sprintf("%s: %s (value %v)", e.Field, e.Reason, e.Value)
}

func invalid(field string, value any, reason string) *FieldValidationError {
	return &FieldValidationError{Field: field, Value: value, Reason: reason}
}
