package domain

import "fmt"

// ValidationError marks a record as structurally malformed. Validation
// failures are terminal: no channel call is attempted on malformed data.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
