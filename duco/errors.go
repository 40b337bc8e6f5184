package duco

import (
	"errors"
	"fmt"
)

// HTTPError is returned for every failed device call: a non-success status,
// a timeout, or any other transport failure.
type HTTPError struct {
	URL     string
	Status  int
	Timeout bool
	Err     error
}

func (e *HTTPError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("request to %v timed out", e.URL)
	case e.Status != 0:
		return fmt.Sprintf("received invalid HTTP response %v when calling %v", e.Status, e.URL)
	default:
		return fmt.Sprintf("request to %v failed: %v", e.URL, e.Err)
	}
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

type WriteRejectedError struct {
	Node  int
	Value int
	Body  string
}

func (e *WriteRejectedError) Error() string {
	return fmt.Sprintf("could not set overrule to value '%v' on node %v because response was '%v'", e.Value, e.Node, e.Body)
}

var ErrUnknownLevel = errors.New("ventilation level has no overrule code")
