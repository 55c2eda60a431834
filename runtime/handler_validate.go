package runtime

import (
	"fmt"
	"strings"

	"github.com/arach/talkie-sub016/runtime/schema"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// validationError is an error that occurs during validation.
type validationError struct {
	Type   schema.SchemaType
	Result *gojsonschema.Result
}

// newValidationError creates a new validation error.
func newValidationError(t schema.SchemaType, result *gojsonschema.Result) *validationError {
	return &validationError{
		Type:   t,
		Result: result,
	}
}

func (e *validationError) Error() string {
	return fmt.Sprintf("invalid %s body: %s", e.Type, strings.Join(e.Details(), "; "))
}

// Details returns the individual validation failures.
func (e *validationError) Details() []string {
	details := make([]string, 0, len(e.Result.Errors()))
	for _, desc := range e.Result.Errors() {
		details = append(details, desc.String())
	}

	return details
}

// validate validates data against the schema of type t.
func (h *RuntimeHandler) validate(t schema.SchemaType, data []byte) error {
	log := h.log.With(zap.Stringer("type", t))

	res, err := h.schema.Validate(t, data)
	if err != nil {
		log.Debug("validation failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	if res.Valid() {
		return nil
	}

	log.Debug("invalid data", zap.Any("errors", res.Errors()))

	return newValidationError(t, res)
}
