// Package outcome classifies failed mutating operations so transports can
// map them to status codes without parsing messages.
package outcome

// Kind is the class of a failure.
type Kind string

const (
	// Invalid means the input was rejected and nothing was written.
	Invalid Kind = "invalid"
	// NotFound means the addressed resource does not exist.
	NotFound Kind = "not_found"
	// Conflict means the current state forbids the operation.
	Conflict Kind = "conflict"
	// Internal means a dependency failed.
	Internal Kind = "internal"
)
