package runtime

import (
	"encoding/json"
	"errors"
	"net/http"
)

// getErrorStatusCode returns the status code for the given error.
func getErrorStatusCode(err error) int {
	var validationErr *validationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity
	}

	for _, known := range wellKnownErrors {
		if errors.Is(err, known.err) {
			return known.status
		}
	}

	return http.StatusInternalServerError
}

// ErrorResponse represents error response data.
type ErrorResponse struct {
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// newErrorResponse creates a new error response.
func newErrorResponse(err error) Response {
	responseErr := ErrorResponse{
		Message: err.Error(),
	}

	var validationErr *validationError
	if errors.As(err, &validationErr) {
		responseErr.Details = validationErr.Details()
	}

	return newJSONResponse(getErrorStatusCode(err), struct {
		Error ErrorResponse `json:"error"`
	}{
		Error: responseErr,
	})
}

// newJSONResponse creates a new response with v as JSON body.
func newJSONResponse(status int, v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		return Response{StatusCode: http.StatusInternalServerError, Header: make(http.Header)}
	}

	return newResponse(status, body)
}

// newResponse creates a new response.
func newResponse(status int, body []byte) Response {
	header := make(http.Header)
	header.Add("Content-Type", "application/json")

	return Response{
		StatusCode: status,
		Body:       body,
		Header:     header,
	}
}
