package swr

import "fmt"

// TransportError wraps a failure of a remote read or write. It is the
// only error class the cache layer reacts to: a mutation whose write
// fails with one rolls its optimistic insert back and stores the error
// for the caller; nothing at this layer is fatal.
type TransportError struct {
	// Op names the operation that failed, e.g. "create" or "list".
	Op string

	// URL is the request URL, when known.
	URL string

	// StatusCode is the HTTP status, or 0 for network-level failures.
	StatusCode int

	// Err is the underlying error.
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e.Op != "" && e.StatusCode != 0:
		return fmt.Sprintf("swr: %s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	case e.Op != "":
		return fmt.Sprintf("swr: %s %s: %v", e.Op, e.URL, e.Err)
	default:
		return fmt.Sprintf("swr: transport: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
