// Package conflict finds bookings that overlap a candidate appointment.
package conflict

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"calendar-service/internal/domain"
	"calendar-service/internal/logging"
	"calendar-service/internal/recurrence"
)

// DefaultLimit caps the number of reported conflicts.
const DefaultLimit = 999

// Candidate is a read-only projection of a conflicting booking. For a
// conflicting series, each overlapping occurrence is reported on its own
// with its Position set.
type Candidate struct {
	AppointmentID int64     `json:"appointment_id,omitempty"`
	RecurrenceID  int64     `json:"recurrence_id,omitempty"`
	Position      int       `json:"position,omitempty"`
	Title         string    `json:"title,omitempty"`
	Location      string    `json:"location,omitempty"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	FullDay       bool      `json:"full_day"`
	Hard          bool      `json:"hard"`
	// Masked is set when title and location were withheld from the actor.
	Masked    bool    `json:"masked,omitempty"`
	Users     []int64 `json:"users,omitempty"`
	Resources []int64 `json:"resources,omitempty"`
	External  bool    `json:"external,omitempty"`
}

// Source lists stored appointments of the context that involve any of the
// given users or resources and whose interval or series span intersects
// [from, to).
type Source interface {
	ListOverlapping(ctx context.Context, contextID int64, users, resources []int64, from, to time.Time) ([]domain.Appointment, error)
}

// Interval is a busy period reported by an external calendar.
type Interval struct {
	Start time.Time
	End   time.Time
}

// BusySource reports busy time of a user kept outside this service.
type BusySource interface {
	Busy(ctx context.Context, userID int64, from, to time.Time) ([]Interval, error)
}

type Config struct {
	Limit           int
	UndecidedIsBusy bool
	IncludePast     bool
}

type Resolver struct {
	busy BusySource
	exp  *recurrence.Expander
	cfg  Config
	now  func() time.Time
}

type Option func(*Resolver)

// WithBusySource adds soft conflicts from an external calendar.
func WithBusySource(b BusySource) Option {
	return func(r *Resolver) { r.busy = b }
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(exp *recurrence.Expander, cfg Config, opts ...Option) *Resolver {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	r := &Resolver{exp: exp, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Request describes one conflict check. On Create the candidate has no
// stored row yet. OverrideHard computes participant conflicts even when
// resource conflicts were found.
type Request struct {
	Candidate    *domain.Appointment
	Actor        int64
	Create       bool
	OverrideHard bool
}

// Find returns the conflicts of the candidate against the bookings in src.
// Resource conflicts come first, each group ordered by start time, and the
// list is capped at the configured limit.
func (r *Resolver) Find(ctx context.Context, src Source, req Request) ([]Candidate, error) {
	c := req.Candidate
	if c.ShownAs == domain.ShownAsFree {
		return nil, nil
	}
	spans := r.intervals(c)
	if len(spans) == 0 {
		return nil, nil
	}
	from, to := spans[0].Start, spans[0].End
	for _, s := range spans[1:] {
		to = maxTime(to, s.End)
	}

	users := candidateUsers(c)
	resources := c.Resources()
	if len(users) == 0 && len(resources) == 0 {
		return nil, nil
	}
	// the external lookup runs next to the store query
	var (
		pool []domain.Appointment
		ext  []Candidate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pool, err = src.ListOverlapping(gctx, c.ContextID, users, resources, from, to)
		return err
	})
	g.Go(func() error {
		ext = r.external(gctx, users, spans, from, to)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, domain.Persistence("list overlapping", err)
	}

	hard := r.match(ctx, req, pool, spans, nil, resources, from, to)
	out := hard
	if len(hard) == 0 || req.OverrideHard {
		soft := r.match(ctx, req, pool, spans, users, nil, from, to)
		soft = slices.DeleteFunc(soft, func(s Candidate) bool {
			return slices.ContainsFunc(hard, func(h Candidate) bool {
				return h.AppointmentID == s.AppointmentID && h.Position == s.Position
			})
		})
		soft = append(soft, ext...)
		sortByStart(soft)
		out = append(out, soft...)
	}
	if len(out) > r.cfg.Limit {
		out = out[:r.cfg.Limit]
	}
	return out, nil
}

// intervals returns the sorted occurrence intervals of the candidate. A
// plain appointment or exception is its own interval.
func (r *Resolver) intervals(c *domain.Appointment) []Interval {
	if c.Pattern.IsZero() || c.IsException() {
		return []Interval{{Start: c.Start, End: c.End}}
	}
	var out []Interval
	for o := range r.exp.Expand(recurrence.SeriesOf(c), time.Time{}, time.Time{}) {
		if domain.HasDate(c.DeleteExceptions, o.Start) || domain.HasDate(c.ChangeExceptions, o.Start) {
			continue
		}
		out = append(out, Interval{Start: o.Start, End: o.End})
	}
	return out
}

// match reports pool entries sharing a user in users or a resource in
// resources and overlapping any span. Passing resources yields hard
// conflicts.
func (r *Resolver) match(ctx context.Context, req Request, pool []domain.Appointment, spans []Interval, users, resources []int64, from, to time.Time) []Candidate {
	c := req.Candidate
	now := r.now()
	hard := len(resources) > 0
	seen := make(map[[2]int64]struct{})
	var out []Candidate
	for i := range pool {
		other := &pool[i]
		if (!req.Create && other.ID == c.ID) || other.ShownAs == domain.ShownAsFree || sameSeries(c, other) {
			continue
		}
		var sharedUsers, sharedResources []int64
		if hard {
			sharedResources = intersect(resources, other.Resources())
			if len(sharedResources) == 0 {
				continue
			}
		} else {
			sharedUsers = intersect(users, r.busyUsers(other))
			if len(sharedUsers) == 0 {
				continue
			}
		}
		for occ := range r.occurrences(other, from, to) {
			if !r.cfg.IncludePast && occ.End.Before(now) {
				continue
			}
			if !overlapsAny(spans, occ.Start, occ.End) {
				continue
			}
			key := [2]int64{other.ID, int64(occ.Position)}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, project(other, occ, hard, sharedUsers, sharedResources, req.Actor))
		}
	}
	logging.Ctx(ctx).Debug().Bool("hard", hard).Int("pool", len(pool)).Int("found", len(out)).Msg("conflict match")
	sortByStart(out)
	return out
}

func (r *Resolver) occurrences(a *domain.Appointment, from, to time.Time) iter.Seq[recurrence.Occurrence] {
	return func(yield func(recurrence.Occurrence) bool) {
		if !a.IsMaster() {
			yield(recurrence.Occurrence{Start: a.Start, End: a.End, Position: a.RecurrencePosition})
			return
		}
		for o := range r.exp.Expand(recurrence.SeriesOf(a), from, to) {
			if domain.HasDate(a.DeleteExceptions, o.Start) || domain.HasDate(a.ChangeExceptions, o.Start) {
				continue
			}
			if !yield(o) {
				return
			}
		}
	}
}

// sameSeries reports whether a and b belong to the same recurrence. A series
// never conflicts with its own exceptions.
func sameSeries(a, b *domain.Appointment) bool {
	return a.RecurrenceID != 0 && (b.RecurrenceID == a.RecurrenceID || b.ID == a.RecurrenceID)
}

// busyUsers returns the attendees of a booked appointment whose status
// makes them unavailable.
func (r *Resolver) busyUsers(a *domain.Appointment) []int64 {
	var out []int64
	for _, u := range a.Users {
		if u.Confirm == domain.ConfirmAccepted || (u.Confirm == domain.ConfirmNone && r.cfg.UndecidedIsBusy) {
			out = append(out, u.UserID)
		}
	}
	return out
}

func (r *Resolver) external(ctx context.Context, users []int64, spans []Interval, from, to time.Time) []Candidate {
	if r.busy == nil {
		return nil
	}
	now := r.now()
	var out []Candidate
	for _, u := range users {
		busy, err := r.busy.Busy(ctx, u, from, to)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int64("user_id", u).Msg("external busy lookup failed")
			continue
		}
		for _, b := range busy {
			if !r.cfg.IncludePast && b.End.Before(now) {
				continue
			}
			if overlapsAny(spans, b.Start, b.End) {
				out = append(out, Candidate{Start: b.Start, End: b.End, Users: []int64{u}, External: true, Masked: true})
			}
		}
	}
	return out
}

// candidateUsers are the attendees of the candidate that would be booked.
// Declined attendees are not.
func candidateUsers(a *domain.Appointment) []int64 {
	var out []int64
	for _, u := range a.Users {
		if u.Confirm != domain.ConfirmDeclined {
			out = append(out, u.UserID)
		}
	}
	return out
}

func project(a *domain.Appointment, occ recurrence.Occurrence, hard bool, users, resources []int64, actor int64) Candidate {
	c := Candidate{
		AppointmentID: a.ID,
		RecurrenceID:  a.RecurrenceID,
		Position:      occ.Position,
		Title:         a.Title,
		Location:      a.Location,
		Start:         occ.Start,
		End:           occ.End,
		FullDay:       a.FullDay,
		Hard:          hard,
		Users:         users,
		Resources:     resources,
	}
	if a.Private && a.CreatedBy != actor {
		if _, ok := a.Attendee(actor); !ok {
			c.Title, c.Location, c.Masked = "", "", true
		}
	}
	return c
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Touching boundaries do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func overlapsAny(spans []Interval, start, end time.Time) bool {
	for _, s := range spans {
		if !s.Start.Before(end) {
			return false
		}
		if Overlaps(s.Start, s.End, start, end) {
			return true
		}
	}
	return false
}

func intersect(a, b []int64) []int64 {
	var out []int64
	for _, x := range a {
		if slices.Contains(b, x) && !slices.Contains(out, x) {
			out = append(out, x)
		}
	}
	return out
}

func sortByStart(cs []Candidate) {
	slices.SortStableFunc(cs, func(a, b Candidate) int {
		return cmp.Or(
			a.Start.Compare(b.Start),
			cmp.Compare(a.AppointmentID, b.AppointmentID),
			cmp.Compare(a.Position, b.Position),
		)
	})
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
