package calendar

import (
	"context"
	"time"

	"calendar-service/internal/domain"
	"calendar-service/internal/exception"
	"calendar-service/internal/participants"
)

// DeleteRequest deletes a row, or one occurrence of a series when Position
// or Date is set.
type DeleteRequest struct {
	ContextID          int64
	Actor              int64
	ID                 int64
	Position           int
	Date               time.Time
	ClientLastModified time.Time
}

func (r DeleteRequest) delta() *domain.Delta {
	d := &domain.Delta{}
	if r.Position > 0 {
		d.RecurrencePosition = &r.Position
	}
	if !r.Date.IsZero() {
		d.RecurrenceDatePosition = &r.Date
	}
	return d
}

func (o *Orchestrator) Delete(ctx context.Context, req DeleteRequest) (*Result, error) {
	start := time.Now()
	res, err := o.delete(ctx, req)
	return res, o.finish(ctx, "delete", start, res, req.ContextID, req.ID, err)
}

func (o *Orchestrator) delete(ctx context.Context, req DeleteRequest) (*Result, error) {
	res := &Result{}
	var master *domain.Appointment
	err := o.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		stored, err := tx.Load(ctx, req.ContextID, req.ID)
		if err != nil {
			return err
		}
		if err := o.authorize(ctx, &stored, req.Actor, ActionDelete); err != nil {
			return err
		}
		if err := checkLastModified(&stored, req.ClientLastModified); err != nil {
			return err
		}
		action, err := o.mgr.Classify(&stored, req.delta(), exception.OpDelete)
		if err != nil {
			return err
		}
		res.Action = action
		now := o.clock()

		switch act := action.(type) {
		case exception.FullDelete:
			if err := o.deleteRow(ctx, tx, &stored, res); err != nil {
				return err
			}
		case exception.VirtualDeleteException:
			m := stored.Clone()
			master = &m
			occurrence := m.Clone()
			occurrence.Start, occurrence.End = act.Occurrence.Start, act.Occurrence.End
			occurrence.RecurrencePosition = act.Occurrence.Position
			occurrence.RecurrenceDatePosition = act.Occurrence.Start
			occurrence.Pattern = nil
			res.Triggers = append(res.Triggers, Trigger{Kind: domain.EventDeleted, Appointment: occurrence})
			exception.MarkDeleted(master, act.Occurrence.Start)
		case exception.DeleteException:
			m := stored.Clone()
			master = &m
			exc, err := tx.FindException(ctx, req.ContextID, m.ID, act.Date)
			if err != nil {
				return err
			}
			if err := o.deleteRow(ctx, tx, &exc, res); err != nil {
				return err
			}
			exception.MarkDeleted(master, act.Date)
		case exception.DeleteExistingException:
			m, err := tx.Load(ctx, req.ContextID, stored.RecurrenceID)
			if err != nil {
				return err
			}
			master = &m
			if err := o.deleteRow(ctx, tx, &stored, res); err != nil {
				return err
			}
			exception.MarkDeleted(master, act.Date)
		default:
			return domain.Recurrence("unexpected action " + action.Name())
		}

		if master != nil {
			if o.mgr.Exhausted(master) {
				res.Action = exception.FullDelete{Cascade: true}
				if err := o.deleteRow(ctx, tx, master, res); err != nil {
					return err
				}
				master = nil
			} else {
				expected := master.LastModified
				master.LastModified = now
				master.ModifiedBy = req.Actor
				master.Sequence++
				if err := tx.Update(ctx, master, expected); err != nil {
					return err
				}
			}
		}
		o.invalidate(ctx, req.ContextID)
		res.Written = true
		return nil
	})
	if err != nil || !res.Written {
		return res, err
	}
	if master != nil {
		res.Appointment = master
		res.reminders = participants.ReminderTargets(master, master.Users, o.exp, o.now())
	}
	o.afterCommit(ctx, req.ContextID, res)
	return res, nil
}

// deleteRow backs up and deletes a, and for a series master all of its
// change exceptions.
func (o *Orchestrator) deleteRow(ctx context.Context, tx Tx, a *domain.Appointment, res *Result) error {
	if a.IsMaster() {
		excs, err := tx.ListExceptions(ctx, a.ContextID, a.ID)
		if err != nil {
			return err
		}
		for i := range excs {
			if err := o.deleteRow(ctx, tx, &excs[i], res); err != nil {
				return err
			}
		}
	}
	if err := tx.Backup(ctx, a); err != nil {
		return err
	}
	if err := tx.Delete(ctx, a.ContextID, a.ID); err != nil {
		return err
	}
	res.dropped = append(res.dropped, a.Clone())
	res.Triggers = append(res.Triggers, Trigger{Kind: domain.EventDeleted, Appointment: a.Clone()})
	return nil
}
