// Package redis implements the key/value contracts on go-redis: the
// transactional case-store session, the content-addressed blob store used
// between pipeline stages, and the queue's chain result store.
package redis
