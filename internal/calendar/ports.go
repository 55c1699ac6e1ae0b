package calendar

import (
	"context"
	"time"

	"calendar-service/internal/domain"
)

// Store runs fn inside one database transaction. The transaction commits
// when fn returns nil and rolls back otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the persistence surface used within a mutation. Load locks the row
// until the transaction ends. Update is a conditional write that fails with
// domain.ErrOptimisticConflict when the stored last-modified differs from
// expected.
type Tx interface {
	NextID(ctx context.Context, contextID int64) (int64, error)
	Load(ctx context.Context, contextID, id int64) (domain.Appointment, error)
	FindException(ctx context.Context, contextID, masterID int64, date time.Time) (domain.Appointment, error)
	ListExceptions(ctx context.Context, contextID, masterID int64) ([]domain.Appointment, error)
	Insert(ctx context.Context, a *domain.Appointment) error
	Update(ctx context.Context, a *domain.Appointment, expected time.Time) error
	Delete(ctx context.Context, contextID, id int64) error
	Backup(ctx context.Context, a *domain.Appointment) error
	ListOverlapping(ctx context.Context, contextID int64, users, resources []int64, from, to time.Time) ([]domain.Appointment, error)
}

// Action names passed to the permission check.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionConfirm = "confirm"
)

type Permissions interface {
	MayMutate(ctx context.Context, a *domain.Appointment, actor int64, action string) (bool, error)
}

type Reminders interface {
	Upsert(ctx context.Context, contextID, targetID, userID int64, trigger time.Time) error
	Delete(ctx context.Context, contextID, targetID, userID int64) error
}

type Notifier interface {
	Trigger(ctx context.Context, kind domain.Event, a *domain.Appointment) error
}

type Quota interface {
	CheckAmountQuota(ctx context.Context, contextID, actor int64) error
}

// Cache is the read-side listing cache of a tenant.
type Cache interface {
	Invalidate(ctx context.Context, contextID int64)
}
