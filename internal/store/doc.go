// Package store defines interfaces for data persistence operations.
// These interfaces abstract the relational store that is the single source
// of truth for Task, Job and Callback state, keeping the claim protocol and
// the pipeline independent of specific database technologies.
package store
