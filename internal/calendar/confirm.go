package calendar

import (
	"context"
	"time"

	"calendar-service/internal/domain"
	"calendar-service/internal/exception"
	"calendar-service/internal/participants"
)

// ConfirmRequest sets the confirmation of one attendee. UserID defaults to
// the actor. ClientLastModified is checked only when set.
type ConfirmRequest struct {
	ContextID          int64
	Actor              int64
	ID                 int64
	UserID             int64
	Status             domain.ConfirmStatus
	Message            string
	ClientLastModified time.Time
}

// Confirm lets an attendee answer an invitation. In a shared folder the
// actor may also answer for the folder owner.
func (o *Orchestrator) Confirm(ctx context.Context, req ConfirmRequest) (*Result, error) {
	start := time.Now()
	res, err := o.confirm(ctx, req)
	return res, o.finish(ctx, "confirm", start, res, req.ContextID, req.ID, err)
}

func (o *Orchestrator) confirm(ctx context.Context, req ConfirmRequest) (*Result, error) {
	if req.UserID == 0 {
		req.UserID = req.Actor
	}
	if req.Status < domain.ConfirmNone || req.Status > domain.ConfirmTentative {
		return nil, domain.Validation("confirm", "unknown confirmation status")
	}
	res := &Result{Action: exception.NoAction{}}
	var next domain.Appointment
	err := o.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		stored, err := tx.Load(ctx, req.ContextID, req.ID)
		if err != nil {
			return err
		}
		if req.UserID != req.Actor && (stored.SharedFolderOwner == 0 || req.UserID != stored.SharedFolderOwner) {
			return domain.PermissionDenied(ActionConfirm)
		}
		if err := o.authorize(ctx, &stored, req.Actor, ActionConfirm); err != nil {
			return err
		}
		if !req.ClientLastModified.IsZero() && stored.LastModified.After(req.ClientLastModified) {
			return domain.OptimisticConflict()
		}
		next = stored.Clone()
		found := false
		for i := range next.Users {
			if next.Users[i].UserID == req.UserID {
				next.Users[i].Confirm = req.Status
				next.Users[i].ConfirmMessage = req.Message
				found = true
			}
		}
		if !found {
			return domain.Validation("user_id", "user is not an attendee")
		}
		next.LastModified = o.clock()
		next.ModifiedBy = req.Actor
		if err := tx.Update(ctx, &next, stored.LastModified); err != nil {
			return err
		}
		o.invalidate(ctx, req.ContextID)
		res.Written = true
		return nil
	})
	if err != nil {
		return res, err
	}
	res.Appointment = &next
	if u, ok := next.Attendee(req.UserID); ok {
		res.reminders = participants.ReminderTargets(&next, []domain.Attendee{u}, o.exp, o.now())
	}
	if kind, ok := domain.ConfirmEvent(req.Status); ok {
		res.Triggers = []Trigger{{Kind: kind, Appointment: next.Clone()}}
	}
	o.afterCommit(ctx, req.ContextID, res)
	return res, nil
}

// ClassifyRequest asks which recurrence action an update or delete would
// take without applying it.
type ClassifyRequest struct {
	ContextID int64
	Actor     int64
	ID        int64
	Delta     domain.Delta
	Delete    bool
}

// Classify is read-only. It checks permission but not the
// optimistic timestamp and writes nothing.
func (o *Orchestrator) Classify(ctx context.Context, req ClassifyRequest) (exception.Action, error) {
	var action exception.Action
	err := o.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		op, perm := exception.OpUpdate, ActionUpdate
		if req.Delete {
			op, perm = exception.OpDelete, ActionDelete
		}
		var row domain.Appointment
		delta := req.Delta
		if req.Delete {
			stored, err := tx.Load(ctx, req.ContextID, req.ID)
			if err != nil {
				return err
			}
			row = stored
		} else {
			t, err := o.locate(ctx, tx, req.ContextID, req.ID, req.Delta)
			if err != nil {
				return err
			}
			row, delta = t.row, t.delta
		}
		if err := o.authorize(ctx, &row, req.Actor, perm); err != nil {
			return err
		}
		a, err := o.mgr.Classify(&row, &delta, op)
		if err != nil {
			return err
		}
		action = a
		return nil
	})
	return action, domain.Scope(err, req.ContextID, req.ID)
}
