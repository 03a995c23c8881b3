package api

import "fmt"

// APIError is a non-2xx response from the nest backend. Detail carries the
// body's "detail" field when present and is shown to the user verbatim.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("server returned status %d", e.StatusCode)
}
