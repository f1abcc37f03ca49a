package catalogue

import (
	"fmt"

	"github.com/pitabwire/composer/model"
)

// ValidationFailedError reports every validation error found while loading
// a set of catalogues.
type ValidationFailedError struct {
	Errors []VError
}

func (e *ValidationFailedError) Error() string {
	if len(e.Errors) == 1 {
		return "catalogue validation failed: " + e.Errors[0].Error()
	}
	return fmt.Sprintf("catalogue validation failed with %d errors, first: %s", len(e.Errors), e.Errors[0].Error())
}

// LoadValidated loads every catalogue under directories and validates the
// set. Nothing is returned unless all of them are valid.
func LoadValidated(directories []string) ([]model.Catalogue, error) {
	cats, err := NewLoader().LoadAll(directories)
	if err != nil {
		return nil, err
	}
	if verrs := NewValidator().Validate(cats); len(verrs) > 0 {
		return nil, &ValidationFailedError{Errors: verrs}
	}
	return cats, nil
}

// Reload replaces the registry contents with the catalogues found under
// directories. On any load or validation error the registry keeps serving
// the previous snapshot. It returns the number of catalogues now served.
func Reload(r *Registry, directories []string) (int, error) {
	cats, err := LoadValidated(directories)
	if err != nil {
		return r.Len(), err
	}
	r.Replace(cats)
	return r.Len(), nil
}
