package calendar

import (
	"context"
	"time"

	"calendar-service/internal/domain"
	"calendar-service/internal/exception"
	"calendar-service/internal/participants"
	"calendar-service/internal/recurrence"
)

type CreateRequest struct {
	ContextID   int64
	Actor       int64
	Appointment domain.Appointment
	ConflictOptions
}

// Create validates and inserts a new plain appointment or series master.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*Result, error) {
	start := time.Now()
	res, err := o.create(ctx, req)
	return res, o.finish(ctx, "create", start, res, req.ContextID, idOf(res), err)
}

func (o *Orchestrator) create(ctx context.Context, req CreateRequest) (*Result, error) {
	a := req.Appointment.Clone()
	a.ID = 0
	a.ContextID = req.ContextID
	a.CreatedBy = req.Actor
	a.ModifiedBy = req.Actor
	a.RecurrenceID = 0
	a.RecurrencePosition = 0
	a.RecurrenceDatePosition = time.Time{}
	a.ChangeExceptions = nil
	a.DeleteExceptions = nil
	if a.ShownAs == 0 {
		a.ShownAs = domain.ShownAsReserved
	}
	if a.FolderType != domain.FolderShared {
		a.SharedFolderOwner = 0
	}

	if err := o.authorize(ctx, &a, req.Actor, ActionCreate); err != nil {
		return nil, err
	}
	addImplicitAttendee(&a, req.Actor)
	rec, err := participants.Reconcile(participants.Request{
		New:               a.Users,
		Actor:             req.Actor,
		SharedFolderOwner: a.SharedFolderOwner,
	})
	if err != nil {
		return nil, err
	}
	a.Users = rec.Merged
	if err := domain.Validate(&a); err != nil {
		return nil, err
	}
	if err := recurrence.Validate(a.Pattern); err != nil {
		return nil, err
	}
	if o.quota != nil {
		if err := o.quota.CheckAmountQuota(ctx, req.ContextID, req.Actor); err != nil {
			return nil, err
		}
	}

	res := &Result{Action: exception.NoAction{}}
	if !a.Pattern.IsZero() {
		res.Action = exception.ChangeType{Introduce: true}
	}
	err = o.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		found, block, err := o.resolve(ctx, tx, &a, req.Actor, true, req.ConflictOptions)
		if err != nil {
			return err
		}
		res.Conflicts = found
		if block {
			return nil
		}
		id, err := tx.NextID(ctx, req.ContextID)
		if err != nil {
			return domain.Persistence("next id", err)
		}
		now := o.clock()
		a.ID = id
		a.CreatedAt, a.LastModified = now, now
		a.Sequence = 0
		o.mgr.Compile(&a)
		if err := tx.Insert(ctx, &a); err != nil {
			return err
		}
		o.invalidate(ctx, req.ContextID)
		res.Written = true
		return nil
	})
	if err != nil {
		return res, err
	}
	if !res.Written {
		return res, nil
	}
	res.Appointment = &a
	res.reminders = participants.ReminderTargets(&a, a.Users, o.exp, o.now())
	res.Triggers = []Trigger{{Kind: domain.EventCreated, Appointment: a.Clone()}}
	o.afterCommit(ctx, req.ContextID, res)
	return res, nil
}

// addImplicitAttendee adds the folder owner as accepted attendee: the shared
// folder owner in shared folders, the creator anywhere else.
func addImplicitAttendee(a *domain.Appointment, actor int64) {
	owner := actor
	if a.FolderType == domain.FolderShared && a.SharedFolderOwner != 0 {
		owner = a.SharedFolderOwner
	}
	if _, ok := a.Attendee(owner); ok {
		return
	}
	a.Users = append(a.Users, domain.Attendee{
		UserID:   owner,
		Confirm:  domain.ConfirmAccepted,
		FolderID: a.FolderID,
		Alarm:    domain.NoAlarm,
	})
}

func idOf(res *Result) int64 {
	if res == nil || res.Appointment == nil {
		return 0
	}
	return res.Appointment.ID
}
