// Package domain contains the core entities of the redaction service: the
// relational Task/Job/Callback records that drive background processing, the
// document and subject value objects exchanged with callers, and the
// ProcessingError record that carries stage failures through a chain as data.
// It is independent of any storage or transport mechanism.
package domain
