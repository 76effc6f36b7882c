// Package postgres provides PostgreSQL implementations of the store
// interfaces: tasks and their claim protocol, job and callback attempts,
// files and redactions, experiment status rows, retry state, and API
// clients. The schema lives in the embedded migrations package and is applied
// with goose.
package postgres
