package provider

import "fmt"

// RequestError is returned when the provider answers with a non-2xx status.
// The sync cycle that triggered the call aborts without advancing its cursor.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("provider request failed: status %d: %s", e.Status, e.Body)
}

// UnreachableError is returned when the provider could not be reached at the
// network level. Treated as transient by callers; this layer does not retry.
type UnreachableError struct {
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("provider unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// MalformedResponseError is returned when a 2xx response body cannot be
// decoded into the expected shape or fails boundary validation.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed provider response: %s", e.Reason)
}
