package dispatcher

import "fmt"

// DispatchError holds structured error information for dispatch-surface
// failures that callers may want to branch on.
type DispatchError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
