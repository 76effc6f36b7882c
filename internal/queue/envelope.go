package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrEmptyChain = errors.New("chain has no steps")

// Step names a registered stage and carries its parameters.
type Step struct {
	Stage  string          `json:"stage"`
	Params json.RawMessage `json:"params,omitempty"`
}

// NewStep encodes params into a Step.
func NewStep(stage string, params any) (Step, error) {
	if params == nil {
		return Step{Stage: stage}, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return Step{}, fmt.Errorf("failed to encode params for stage %s: %w", stage, err)
	}
	return Step{Stage: stage, Params: raw}, nil
}

// Envelope is the message for one step of a chain.
type Envelope struct {
	ChainID string          `json:"chain_id"`
	TaskID  string          `json:"task_id"`
	Steps   []Step          `json:"steps"`
	Index   int             `json:"index"`
	Input   json.RawMessage `json:"input,omitempty"`

	// Attempt is tracked in the message only by brokers that cannot count
	// deliveries themselves.
	Attempt int `json:"attempt,omitempty"`
}

// NewChain returns the envelope for the first step of a new chain.
func NewChain(taskID string, steps ...Step) (Envelope, error) {
	if len(steps) == 0 {
		return Envelope{}, ErrEmptyChain
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Envelope{ChainID: id.String(), TaskID: taskID, Steps: steps}, nil
}

// Current is the step this envelope runs.
func (e Envelope) Current() Step {
	return e.Steps[e.Index]
}

// Last reports whether this is the final step of the chain.
func (e Envelope) Last() bool {
	return e.Index >= len(e.Steps)-1
}

// Next returns the envelope for the following step with output as input.
func (e Envelope) Next(output json.RawMessage) (Envelope, bool) {
	if e.Last() {
		return Envelope{}, false
	}
	return Envelope{
		ChainID: e.ChainID,
		TaskID:  e.TaskID,
		Steps:   e.Steps,
		Index:   e.Index + 1,
		Input:   output,
	}, true
}

func (e Envelope) valid() error {
	if len(e.Steps) == 0 {
		return ErrEmptyChain
	}
	if e.Index < 0 || e.Index >= len(e.Steps) {
		return fmt.Errorf("step index %d out of range for %d steps", e.Index, len(e.Steps))
	}
	return nil
}
