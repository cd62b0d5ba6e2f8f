package schema

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError identifies a single violated constraint in a model response.
type ValidationError struct {
	// Path is the JSON pointer to the offending value ("" for the root).
	Path string

	// Message describes the violated constraint.
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// asValidationError converts a jsonschema error into a ValidationError
// pointing at the first (deepest) violated constraint.
func asValidationError(err error) error {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return ValidationError{Message: err.Error()}
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	path := leaf.InstanceLocation
	if !strings.HasPrefix(path, "/") && path != "" {
		path = "/" + path
	}
	return ValidationError{Path: path, Message: leaf.Message}
}
