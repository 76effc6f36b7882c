package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProcessingError is a recoverable stage failure. Once inside a chain,
// failures travel between stages as these records instead of Go errors.
type ProcessingError struct {
	Message   string `json:"message"`
	Task      string `json:"task"`
	Exception string `json:"exception"`
}

func (e ProcessingError) Error() string {
	return fmt.Sprintf("%s failed (%s): %s", e.Task, e.Exception, e.Message)
}

// ProcessingErrors accumulates failures across stages.
type ProcessingErrors []ProcessingError

// JSON serialises the list the way it is stored on DocumentStatus rows and
// sent in webhook error bodies.
func (p ProcessingErrors) JSON() string {
	if len(p) == 0 {
		return "[]"
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func (p ProcessingErrors) Error() string {
	msgs := make([]string, len(p))
	for i, e := range p {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}
