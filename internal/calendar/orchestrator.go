// Package calendar sequences appointment mutations: permission, recurrence
// classification, conflict resolution, attendee reconciliation, persistence,
// reminders and notifications.
package calendar

import (
	"context"
	"errors"
	"time"

	"calendar-service/internal/conflict"
	"calendar-service/internal/domain"
	"calendar-service/internal/exception"
	"calendar-service/internal/logging"
	"calendar-service/internal/metrics"
	"calendar-service/internal/participants"
	"calendar-service/internal/recurrence"
)

// Deps are the collaborators of an Orchestrator. Reminders, Notifier, Quota
// and Cache are optional.
type Deps struct {
	Store       Store
	Permissions Permissions
	Resolver    *conflict.Resolver
	Expander    *recurrence.Expander
	Reminders   Reminders
	Notifier    Notifier
	Quota       Quota
	Cache       Cache
	Now         func() time.Time
}

type Orchestrator struct {
	store     Store
	perms     Permissions
	resolver  *conflict.Resolver
	exp       *recurrence.Expander
	mgr       *exception.Manager
	reminders Reminders
	notifier  Notifier
	quota     Quota
	cache     Cache
	now       func() time.Time
}

func New(d Deps) *Orchestrator {
	exp := d.Expander
	if exp == nil {
		exp = recurrence.NewExpander(0)
	}
	resolver := d.Resolver
	if resolver == nil {
		resolver = conflict.NewResolver(exp, conflict.Config{})
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		store:     d.Store,
		perms:     d.Permissions,
		resolver:  resolver,
		exp:       exp,
		mgr:       exception.NewManager(exp),
		reminders: d.Reminders,
		notifier:  d.Notifier,
		quota:     d.Quota,
		cache:     d.Cache,
		now:       now,
	}
}

// Trigger is a notification recorded for delivery after commit.
type Trigger struct {
	Kind        domain.Event
	Appointment domain.Appointment
}

// Result describes the outcome of a mutation. When Written is false and
// Conflicts is not empty the request was not applied because of scheduling
// conflicts. Participants is the resource, group and external membership
// change of an update. NotifyErr and ReminderErr report post commit failures;
// the data is committed regardless and Renotify replays Triggers.
type Result struct {
	Appointment  *domain.Appointment
	Conflicts    []conflict.Candidate
	Written      bool
	Action       exception.Action
	Participants participants.ParticipantDiff
	Triggers     []Trigger
	NotifyErr    error
	ReminderErr  error

	reminders []participants.Target
	dropped   []domain.Appointment
}

// ConflictOptions control how scheduling conflicts are treated.
// IgnoreConflicts proceeds over participant conflicts, OverrideHard over
// resource conflicts.
type ConflictOptions struct {
	IgnoreConflicts bool `json:"ignore_conflicts"`
	OverrideHard    bool `json:"override_hard"`
}

func (o ConflictOptions) skip() bool {
	return o.IgnoreConflicts && o.OverrideHard
}

// clock returns the current time at the precision the store keeps.
func (o *Orchestrator) clock() time.Time {
	return o.now().UTC().Truncate(time.Millisecond)
}

func (o *Orchestrator) authorize(ctx context.Context, a *domain.Appointment, actor int64, action string) error {
	if o.perms == nil {
		return nil
	}
	ok, err := o.perms.MayMutate(ctx, a, actor, action)
	if err != nil {
		return err
	}
	if !ok {
		return domain.PermissionDenied(action)
	}
	return nil
}

func checkLastModified(stored *domain.Appointment, client time.Time) error {
	if client.IsZero() {
		return domain.Validation("last_modified", "mandatory field missing")
	}
	if stored.LastModified.After(client) {
		return domain.OptimisticConflict()
	}
	return nil
}

// resolve runs the conflict check and reports whether the write must not
// happen.
func (o *Orchestrator) resolve(ctx context.Context, tx Tx, candidate *domain.Appointment, actor int64, create bool, opts ConflictOptions) ([]conflict.Candidate, bool, error) {
	if opts.skip() {
		return nil, false, nil
	}
	found, err := o.resolver.Find(ctx, tx, conflict.Request{
		Candidate:    candidate,
		Actor:        actor,
		Create:       create,
		OverrideHard: opts.OverrideHard,
	})
	if err != nil {
		return nil, false, err
	}
	hard, soft := 0, 0
	for _, c := range found {
		if c.Hard {
			hard++
		} else {
			soft++
		}
	}
	block := (hard > 0 && !opts.OverrideHard) || (soft > 0 && !opts.IgnoreConflicts)
	if block {
		metrics.RecordConflicts(hard, soft)
	}
	return found, block, nil
}

func (o *Orchestrator) invalidate(ctx context.Context, contextID int64) {
	if o.cache != nil {
		o.cache.Invalidate(ctx, contextID)
	}
}

// afterCommit schedules reminders and delivers notifications. Failures are
// recorded on res and never undo the committed data.
//
// The cache was already invalidated inside the transaction. A listing loaded
// between that and the commit still sees the old rows, so it is dropped here
// once more.
func (o *Orchestrator) afterCommit(ctx context.Context, contextID int64, res *Result) {
	o.invalidate(ctx, contextID)
	log := logging.Ctx(ctx)
	if o.reminders != nil {
		var errs []error
		for _, a := range res.dropped {
			for _, u := range a.Users {
				errs = append(errs, o.reminders.Delete(ctx, contextID, a.ID, u.UserID))
			}
		}
		for _, t := range res.reminders {
			if t.Delete {
				errs = append(errs, o.reminders.Delete(ctx, contextID, t.AppointmentID, t.UserID))
				continue
			}
			errs = append(errs, o.reminders.Upsert(ctx, contextID, t.AppointmentID, t.UserID, t.Trigger))
		}
		if err := errors.Join(errs...); err != nil {
			res.ReminderErr = err
			metrics.PostCommitFailures.WithLabelValues("reminder").Inc()
			log.Warn().Err(err).Msg("reminder scheduling failed after commit")
		}
	}
	o.deliver(ctx, res)
}

func (o *Orchestrator) deliver(ctx context.Context, res *Result) {
	if o.notifier == nil {
		return
	}
	var errs []error
	for i := range res.Triggers {
		t := &res.Triggers[i]
		errs = append(errs, o.notifier.Trigger(ctx, t.Kind, &t.Appointment))
	}
	res.NotifyErr = errors.Join(errs...)
	if res.NotifyErr != nil {
		metrics.PostCommitFailures.WithLabelValues("notify").Inc()
		logging.Ctx(ctx).Warn().Err(res.NotifyErr).Msg("notification failed after commit")
	}
}

// Renotify replays the notifications of a committed result. It returns the
// delivery error, which is also stored on res.
func (o *Orchestrator) Renotify(ctx context.Context, res *Result) error {
	if res == nil || !res.Written {
		return nil
	}
	o.deliver(ctx, res)
	return res.NotifyErr
}

// finish logs and records the outcome of one operation and scopes err with
// the context and appointment ids.
func (o *Orchestrator) finish(ctx context.Context, op string, start time.Time, res *Result, contextID, id int64, err error) error {
	action := "none"
	if res != nil && res.Action != nil {
		action = res.Action.Name()
	}
	err = domain.Scope(err, contextID, id)
	metrics.RecordMutation(op, action, time.Since(start), err)
	log := logging.Ctx(ctx)
	switch {
	case err == nil && res != nil && res.Written:
		log.Info().Str("op", op).Str("action", action).Int64("context_id", contextID).Int64("id", id).Msg("appointment mutation committed")
	case err == nil && res != nil:
		log.Debug().Str("op", op).Int("conflicts", len(res.Conflicts)).Int64("id", id).Msg("appointment mutation not written")
	case errors.Is(err, domain.ErrPersistence):
		log.Error().Err(err).Str("op", op).Msg("appointment mutation failed")
	default:
		log.Debug().Err(err).Str("op", op).Msg("appointment mutation rejected")
	}
	return err
}
