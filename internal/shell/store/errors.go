// Package store persists deployment runs and their progress history.
package store

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound means no deployment (or no active run for a slug) matched.
	ErrNotFound = errors.New("deployment not found")

	// ErrDuplicateID means a run was submitted twice under the same ID.
	ErrDuplicateID = errors.New("deployment ID already recorded")

	// ErrConnectionFailed means the database file could not be opened.
	ErrConnectionFailed = errors.New("database unavailable")

	// ErrMigrationFailed means the schema could not be brought up to date.
	ErrMigrationFailed = errors.New("schema migration failed")

	// ErrInvalidData means a stored result, domain list or event payload
	// could not be encoded or decoded.
	ErrInvalidData = errors.New("stored deployment data is corrupt")

	// ErrTxFailed means a transaction could not begin, commit or roll back.
	ErrTxFailed = errors.New("transaction failed")
)

// Entities named in a StoreError.
const (
	EntityDeployment = "deployment"
	EntityEvent      = "event"
)

// StoreError records which store operation failed and on which run.
type StoreError struct {
	Op string
	// Entity is EntityDeployment or EntityEvent; empty for database-wide
	// failures.
	Entity string
	// ID is the deployment ID, or the slug for active-run lookups.
	ID      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	parts := []string{e.Op}
	if e.Entity != "" {
		parts = append(parts, e.Entity)
	}
	if e.ID != "" {
		parts = append(parts, e.ID)
	}
	return strings.Join(parts, " ") + ": " + e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a StoreError wrapping err.
func NewStoreError(op, entity, id, message string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Message: message, Err: err}
}
