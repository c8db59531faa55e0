// Package stores provides persistence layer implementations for Stacktake.
// It includes SQLite-based storage with WAL mode, connection pooling,
// and CRUD operations for job history, error records, and delivery
// attempts.
package stores
