// Package queue runs chains of named stages on an at-least-once broker.
//
// A chain is an ordered list of steps. Each step travels as its own
// Envelope; the Dispatcher runs the step's handler and, on success,
// publishes the next step with the handler's output as its input. Failed
// steps are retried by the broker with exponential backoff until the stage's
// attempt budget is spent. Two brokers are provided: an in-process channel
// broker and a NATS JetStream broker.
package queue
