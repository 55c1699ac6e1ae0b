package calendar

import (
	"context"
	"slices"
	"time"

	"calendar-service/internal/domain"
	"calendar-service/internal/exception"
	"calendar-service/internal/participants"
)

type UpdateRequest struct {
	ContextID          int64
	Actor              int64
	ID                 int64
	Delta              domain.Delta
	ClientLastModified time.Time
	ConflictOptions
}

// Update applies a delta to an appointment, a series or one occurrence of a
// series.
func (o *Orchestrator) Update(ctx context.Context, req UpdateRequest) (*Result, error) {
	start := time.Now()
	res, err := o.update(ctx, req)
	return res, o.finish(ctx, "update", start, res, req.ContextID, req.ID, err)
}

// target is the row a request ends up operating on after occurrence
// addressing was resolved.
type target struct {
	stored domain.Appointment
	row    domain.Appointment
	delta  domain.Delta
}

// locate loads the addressed row. An occurrence that already has a change
// exception is redirected to the exception row with the addressing removed.
func (o *Orchestrator) locate(ctx context.Context, tx Tx, contextID, id int64, d domain.Delta) (*target, error) {
	stored, err := tx.Load(ctx, contextID, id)
	if err != nil {
		return nil, err
	}
	t := &target{stored: stored, row: stored, delta: d}
	if !stored.IsMaster() || !d.AddressesOccurrence() {
		return t, nil
	}
	occ, err := o.mgr.Locate(&stored, &d)
	if err != nil {
		return nil, err
	}
	if !domain.HasDate(stored.ChangeExceptions, occ.Start) {
		return t, nil
	}
	exc, err := tx.FindException(ctx, contextID, stored.ID, occ.Start)
	if err != nil {
		return nil, err
	}
	t.row = exc
	t.delta.RecurrencePosition = nil
	t.delta.RecurrenceDatePosition = nil
	return t, nil
}

func (o *Orchestrator) update(ctx context.Context, req UpdateRequest) (*Result, error) {
	res := &Result{}
	var (
		next    domain.Appointment
		oldRow  domain.Appointment
		master  domain.Appointment
		rec     participants.Result
		timing  bool
		created bool
	)
	err := o.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := o.locate(ctx, tx, req.ContextID, req.ID, req.Delta)
		if err != nil {
			return err
		}
		if err := o.authorize(ctx, &t.row, req.Actor, ActionUpdate); err != nil {
			return err
		}
		if err := checkLastModified(&t.stored, req.ClientLastModified); err != nil {
			return err
		}
		action, err := o.mgr.Classify(&t.row, &t.delta, exception.OpUpdate)
		if err != nil {
			return err
		}
		res.Action = action
		oldRow = t.row

		switch act := action.(type) {
		case exception.NoAction:
			next = t.row.Clone()
			t.delta.Apply(&next)
			timing = t.delta.ChangesTiming(&t.row)
		case exception.ChangeType:
			next = t.row.Clone()
			t.delta.Apply(&next)
			if t.delta.Pattern != nil {
				next.Pattern = t.delta.Pattern.Clone()
			}
			exception.Purge(&next)
			o.mgr.Compile(&next)
			timing = true
		case exception.CreateException:
			master = t.row.Clone()
			next = o.mgr.NewException(&master, act.Occurrence, &t.delta)
			timing = !next.Start.Equal(act.Occurrence.Start) || !next.End.Equal(act.Occurrence.End)
			created = true
		default:
			return domain.Recurrence("unexpected action " + action.Name())
		}

		rec, err = participants.Reconcile(participants.Request{
			Old:               oldRow.Users,
			New:               next.Users,
			Actor:             req.Actor,
			SharedFolderOwner: next.SharedFolderOwner,
			TimeChanged:       timing,
		})
		if err != nil {
			return err
		}
		next.Users = rec.Merged
		res.Participants = participants.DiffParticipants(oldRow.Participants, next.Participants)
		if err := domain.Validate(&next); err != nil {
			return err
		}

		if timing || created || t.delta.ChangesMembers(&oldRow) || t.delta.ShownAs != nil {
			found, block, err := o.resolve(ctx, tx, &next, req.Actor, created, req.ConflictOptions)
			if err != nil {
				return err
			}
			res.Conflicts = found
			if block {
				return nil
			}
		}

		now := o.clock()
		next.LastModified = now
		next.ModifiedBy = req.Actor
		switch action.(type) {
		case exception.CreateException:
			id, err := tx.NextID(ctx, req.ContextID)
			if err != nil {
				return domain.Persistence("next id", err)
			}
			next.ID = id
			next.CreatedAt = now
			if err := tx.Insert(ctx, &next); err != nil {
				return err
			}
			exception.MarkChanged(&master, next.RecurrenceDatePosition)
			master.LastModified = now
			master.ModifiedBy = req.Actor
			if err := tx.Update(ctx, &master, t.row.LastModified); err != nil {
				return err
			}
		case exception.ChangeType:
			res.dropped, err = o.purgeExceptions(ctx, tx, &t.row)
			if err != nil {
				return err
			}
			next.Sequence++
			if err := tx.Update(ctx, &next, t.row.LastModified); err != nil {
				return err
			}
		default:
			next.Sequence++
			if err := tx.Update(ctx, &next, t.row.LastModified); err != nil {
				return err
			}
		}
		o.invalidate(ctx, req.ContextID)
		res.Written = true
		return nil
	})
	if err != nil || !res.Written {
		return res, err
	}

	res.Appointment = &next
	affected := append(append([]domain.Attendee{}, rec.Added...), rec.Modified...)
	if timing || created {
		affected = next.Users
	}
	res.reminders = participants.ReminderTargets(&next, affected, o.exp, o.now())
	if !created {
		for _, u := range rec.Removed {
			res.reminders = append(res.reminders, participants.Target{AppointmentID: next.ID, UserID: u.UserID, Delete: true})
		}
	}
	updated := next.Clone()
	if created {
		exception.SuppressKnown(&master, &updated)
	}
	res.Triggers = []Trigger{{Kind: domain.EventUpdated, Appointment: updated}}
	res.Triggers = append(res.Triggers, participantTriggers(&next, res.Participants)...)
	o.afterCommit(ctx, req.ContextID, res)
	return res, nil
}

// participantTriggers notifies the non-attendee participants that joined or
// left a.
func participantTriggers(a *domain.Appointment, d participants.ParticipantDiff) []Trigger {
	var out []Trigger
	for _, p := range []struct {
		kind    domain.Event
		members []domain.Participant
	}{
		{domain.EventParticipantAdded, d.Added},
		{domain.EventParticipantRemoved, d.Removed},
	} {
		if len(p.members) == 0 {
			continue
		}
		c := a.Clone()
		c.Participants = slices.Clone(p.members)
		c.Users = nil
		out = append(out, Trigger{Kind: p.kind, Appointment: c})
	}
	return out
}

// purgeExceptions removes every change exception of a master whose pattern
// is rewritten and returns them. A backup of the series is written first.
func (o *Orchestrator) purgeExceptions(ctx context.Context, tx Tx, master *domain.Appointment) ([]domain.Appointment, error) {
	if !master.IsMaster() {
		return nil, nil
	}
	if err := tx.Backup(ctx, master); err != nil {
		return nil, err
	}
	excs, err := tx.ListExceptions(ctx, master.ContextID, master.ID)
	if err != nil {
		return nil, err
	}
	for i := range excs {
		if err := tx.Backup(ctx, &excs[i]); err != nil {
			return nil, err
		}
		if err := tx.Delete(ctx, excs[i].ContextID, excs[i].ID); err != nil {
			return nil, err
		}
	}
	return excs, nil
}
