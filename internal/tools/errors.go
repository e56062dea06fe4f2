package tools

import "fmt"

// DuplicateToolError reports a second registration under an existing name.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// UnknownToolError reports a lookup for a name that was never registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// UnavailableToolError reports a registered tool whose availability predicate
// currently returns false, typically a missing credential.
type UnavailableToolError struct {
	Name string
}

func (e *UnavailableToolError) Error() string {
	return fmt.Sprintf("tool %q is not available", e.Name)
}

// InvalidInputError reports tool arguments that failed schema validation.
type InvalidInputError struct {
	Name string
	Err  error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input for tool %q: %v", e.Name, e.Err)
}

func (e *InvalidInputError) Unwrap() error { return e.Err }
