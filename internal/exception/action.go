// Package exception classifies mutations of recurring appointments and keeps
// the exception bookkeeping of series masters.
package exception

import (
	"time"

	"calendar-service/internal/recurrence"
)

// Action is the structural change a request causes. The set of variants is
// closed; switch on the concrete type.
type Action interface {
	Name() string
	sealed()
}

// NoAction updates the addressed row in place.
type NoAction struct{}

// ChangeType rewrites the recurrence of a row. Introduce turns a plain
// appointment into a series master, Remove turns a master into a plain
// appointment. With neither set the master's pattern or timing changed and
// it is recompiled. Existing exceptions are purged in every case.
type ChangeType struct {
	Introduce bool
	Remove    bool
}

// CreateException detaches one occurrence of a master into its own row.
type CreateException struct {
	Occurrence recurrence.Occurrence
}

// DeleteException deletes an occurrence addressed through its master that
// already has a change exception row.
type DeleteException struct {
	Date time.Time
}

// DeleteExistingException deletes a change exception addressed directly.
type DeleteExistingException struct {
	Date time.Time
}

// VirtualDeleteException deletes an occurrence that has no row of its own.
type VirtualDeleteException struct {
	Occurrence recurrence.Occurrence
}

// FullDelete removes the row, and for a master every exception of it.
type FullDelete struct {
	// Cascade is set when the last live occurrence of a series was deleted.
	Cascade bool
}

func (NoAction) Name() string                { return "none" }
func (ChangeType) Name() string              { return "change_type" }
func (CreateException) Name() string         { return "create_exception" }
func (DeleteException) Name() string         { return "delete_exception" }
func (DeleteExistingException) Name() string { return "delete_existing_exception" }
func (VirtualDeleteException) Name() string  { return "virtual_delete_exception" }
func (FullDelete) Name() string              { return "full_delete" }

func (NoAction) sealed()                {}
func (ChangeType) sealed()              {}
func (CreateException) sealed()         {}
func (DeleteException) sealed()         {}
func (DeleteExistingException) sealed() {}
func (VirtualDeleteException) sealed()  {}
func (FullDelete) sealed()              {}
