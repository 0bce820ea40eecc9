package common

import "fmt"

// Error kinds. Operations wrap one of these with github.com/pkg/errors, so
// callers match with errors.Is.
var (
	ErrMalformedInput  = fmt.Errorf("malformed input")
	ErrSchemaViolation = fmt.Errorf("schema violation")
	ErrNotFound        = fmt.Errorf("not found")
	ErrValidation      = fmt.Errorf("validation error")
	ErrIntegrity       = fmt.Errorf("integrity error")
)

var (
	ErrClassNotFound     = fmt.Errorf("class %w", ErrNotFound)
	ErrObjectNotFound    = fmt.Errorf("object %w", ErrNotFound)
	ErrAttributeNotFound = fmt.Errorf("attribute %w", ErrNotFound)
	ErrPropertyNotFound  = fmt.Errorf("property %w", ErrNotFound)
	ErrCategoryNotFound  = fmt.Errorf("category %w", ErrNotFound)
	ErrConfigNotFound    = fmt.Errorf("config element %w", ErrNotFound)
	ErrTableNotFound     = fmt.Errorf("table %w", ErrNotFound)
)
