package invoker

import (
	"fmt"

	"labsync/pkg/types"
)

// Validator checks the shape of an upstream result
type Validator func(types.Document) error

// RequireFields accepts documents that carry every named top-level field
// with a non-nil value
func RequireFields(fields ...string) Validator {
	return func(doc types.Document) error {
		if doc == nil {
			return fmt.Errorf("%w: empty document", ErrInvalidResponse)
		}
		for _, f := range fields {
			if v, ok := doc[f]; !ok || v == nil {
				return fmt.Errorf("%w: missing field %q", ErrInvalidResponse, f)
			}
		}
		return nil
	}
}
