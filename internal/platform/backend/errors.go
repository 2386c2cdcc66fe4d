package backend

import "fmt"

// NetworkError is a transport-level failure (DNS, refusal, timeout) talking to
// the upstream service. It carries no backend response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: upstream unreachable: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// BackendError is a non-2xx response from the upstream service, carrying the
// backend's error message when one was present in the body.
type BackendError struct {
	Op      string
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: upstream returned %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: upstream returned %d", e.Op, e.Status)
}
