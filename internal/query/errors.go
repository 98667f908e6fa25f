package query

import "fmt"

// ValidationError describes a query that cannot be registered.
// It is rendered into the binding's state, never returned from lifecycle
// calls.
type ValidationError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Validate returns nil for a valid query and a 400 ValidationError carrying
// the query's JSON otherwise. The absent query is not an error.
func Validate(q Query) *ValidationError {
	if q.IsZero() || q.Valid() {
		return nil
	}
	return &ValidationError{
		Status:  400,
		Message: "Query is not valid: " + q.String(),
	}
}
