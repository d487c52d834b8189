package edgecloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when the API answers with an empty result list.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API Error (%d): %s", e.Status, e.Message)
}

func (e *APIError) StatusCode() int { return e.Status }

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

// errorMessage extracts a human message from an error body: "message", then
// "error", then the raw text.
func errorMessage(body []byte) string {
	raw := strings.TrimSpace(string(body))
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return raw
	}
	for _, k := range []string{"message", "error"} {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return raw
}
