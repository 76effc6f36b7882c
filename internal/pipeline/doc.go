// Package pipeline implements the five redaction stages (fetch, redact,
// format, callback, finalize), the chain controller that schedules them one
// document at a time per case, and the collaborators the stages call out
// to: the redaction engine, blob uploads and webhook delivery.
//
// Inside a chain, failures are data. A stage that runs out of attempts, or
// fails in a way retrying cannot fix, appends a domain.ProcessingError to
// its result and later stages pass it through untouched until Finalize
// records the document as failed.
package pipeline
