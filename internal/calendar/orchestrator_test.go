package calendar_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar-service/internal/authz"
	"calendar-service/internal/calendar"
	"calendar-service/internal/conflict"
	"calendar-service/internal/domain"
	"calendar-service/internal/exception"
	"calendar-service/internal/quota"
	"calendar-service/internal/recurrence"
	"calendar-service/internal/store"
)

var now = time.Date(2023, 12, 1, 10, 0, 0, 0, time.UTC)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 9, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func assertDates(t *testing.T, want, got []time.Time) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "date %d: want %s, got %s", i, want[i], got[i])
	}
}

type reminderCall struct {
	target, user int64
	trigger      time.Time
	delete       bool
}

type fakeReminders struct {
	mu    sync.Mutex
	calls []reminderCall
}

func (f *fakeReminders) Upsert(_ context.Context, _, target, user int64, trigger time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reminderCall{target: target, user: user, trigger: trigger})
	return nil
}

func (f *fakeReminders) Delete(_ context.Context, _, target, user int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reminderCall{target: target, user: user, delete: true})
	return nil
}

func (f *fakeReminders) upserts(user int64) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Time
	for _, c := range f.calls {
		if c.user == user && !c.delete {
			out = append(out, c.trigger)
		}
	}
	return out
}

type fakeNotifier struct {
	mu    sync.Mutex
	fail  bool
	kinds []domain.Event
	sent  []domain.Appointment
}

func (f *fakeNotifier) Trigger(_ context.Context, kind domain.Event, a *domain.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.kinds = append(f.kinds, kind)
	f.sent = append(f.sent, a.Clone())
	return nil
}

// recipients returns the attendees the last notification informs.
func (f *fakeNotifier) recipients() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []int64{}
	if len(f.sent) == 0 {
		return out
	}
	for _, u := range f.sent[len(f.sent)-1].Users {
		if !u.SuppressNotification {
			out = append(out, u.UserID)
		}
	}
	return out
}

type fakeCache struct {
	mu     sync.Mutex
	n      int
	events *[]string
}

func (f *fakeCache) Invalidate(context.Context, int64) {
	f.mu.Lock()
	f.n++
	if f.events != nil {
		*f.events = append(*f.events, "invalidate")
	}
	f.mu.Unlock()
}

// commitLog records each committed transaction of the wrapped store.
type commitLog struct {
	*store.Memory
	events *[]string
}

func (c commitLog) InTx(ctx context.Context, fn func(ctx context.Context, tx calendar.Tx) error) error {
	err := c.Memory.InTx(ctx, fn)
	if err == nil {
		*c.events = append(*c.events, "commit")
	}
	return err
}

type env struct {
	o         *calendar.Orchestrator
	mem       *store.Memory
	reminders *fakeReminders
	notifier  *fakeNotifier
	cache     *fakeCache
}

func newEnv(t *testing.T, quotaMax int) *env {
	t.Helper()
	checker, err := authz.NewChecker("")
	require.NoError(t, err)
	clock := func() time.Time { return now }
	exp := recurrence.NewExpander(0)
	e := &env{
		mem:       store.NewMemory(),
		reminders: &fakeReminders{},
		notifier:  &fakeNotifier{},
		cache:     &fakeCache{},
	}
	e.o = calendar.New(calendar.Deps{
		Store:       e.mem,
		Permissions: checker,
		Resolver:    conflict.NewResolver(exp, conflict.Config{}, conflict.WithClock(clock)),
		Expander:    exp,
		Reminders:   e.reminders,
		Notifier:    e.notifier,
		Quota:       quota.NewChecker(e.mem, quotaMax),
		Cache:       e.cache,
		Now:         clock,
	})
	return e
}

func standup() domain.Appointment {
	return domain.Appointment{
		Title:      "Standup",
		Location:   "Room 1",
		Start:      day(1),
		End:        day(1).Add(15 * time.Minute),
		Pattern:    &domain.Pattern{Type: domain.RecurrenceDaily, Interval: 1, Occurrences: 5},
		FolderID:   3,
		FolderType: domain.FolderPrivate,
		Users:      []domain.Attendee{{UserID: 2, Alarm: 15}},
	}
}

func (e *env) create(t *testing.T, a domain.Appointment) *calendar.Result {
	t.Helper()
	res, err := e.o.Create(context.Background(), calendar.CreateRequest{ContextID: 1, Actor: 1, Appointment: a})
	require.NoError(t, err)
	require.True(t, res.Written)
	return res
}

func (e *env) get(t *testing.T, id int64) domain.Appointment {
	t.Helper()
	a, err := e.mem.Get(context.Background(), 1, id)
	require.NoError(t, err)
	return a
}

func TestStandupLifecycle(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	created := e.create(t, standup())
	master := *created.Appointment
	assert.Equal(t, exception.ChangeType{Introduce: true}, created.Action)
	assert.Equal(t, master.ID, master.RecurrenceID)
	assert.True(t, master.SeriesEnd.Equal(day(5).Add(15*time.Minute)))
	owner, ok := master.Attendee(1)
	require.True(t, ok)
	assert.Equal(t, domain.ConfirmAccepted, owner.Confirm)
	assertDates(t, []time.Time{day(1).Add(-15 * time.Minute)}, e.reminders.upserts(2))
	assert.Equal(t, []domain.Event{domain.EventCreated}, e.notifier.kinds)

	// move the third occurrence's title: a change exception is created
	res, err := e.o.Update(ctx, calendar.UpdateRequest{
		ContextID: 1, Actor: 1, ID: master.ID,
		Delta:              domain.Delta{RecurrencePosition: ptr(3), Title: ptr("Retro")},
		ClientLastModified: master.LastModified,
	})
	require.NoError(t, err)
	require.True(t, res.Written)
	require.IsType(t, exception.CreateException{}, res.Action)
	exc := *res.Appointment
	assert.NotEqual(t, master.ID, exc.ID)
	assert.Equal(t, master.ID, exc.RecurrenceID)
	assert.Equal(t, 3, exc.RecurrencePosition)
	assert.True(t, exc.RecurrenceDatePosition.Equal(day(3)))
	assert.Equal(t, "Retro", exc.Title)
	assert.Equal(t, "Room 1", exc.Location)
	require.Len(t, res.Triggers, 1)
	for _, u := range res.Triggers[0].Appointment.Users {
		assert.True(t, u.SuppressNotification, "user %d", u.UserID)
	}
	assert.Empty(t, e.notifier.recipients())
	master = e.get(t, master.ID)
	assertDates(t, []time.Time{day(3)}, master.ChangeExceptions)

	// addressing the same occurrence again must not create another exception
	_, err = e.o.Update(ctx, calendar.UpdateRequest{
		ContextID: 1, Actor: 1, ID: master.ID,
		Delta:              domain.Delta{RecurrencePosition: ptr(3), Location: ptr("Room 9")},
		ClientLastModified: master.LastModified,
	})
	require.NoError(t, err)
	exc = e.get(t, exc.ID)
	assert.Equal(t, "Room 9", exc.Location)
	assert.Equal(t, "Retro", exc.Title)

	// the fourth occurrence is removed without a stored row
	res, err = e.o.Delete(ctx, calendar.DeleteRequest{ContextID: 1, Actor: 1, ID: master.ID, Position: 4, ClientLastModified: master.LastModified})
	require.NoError(t, err)
	require.IsType(t, exception.VirtualDeleteException{}, res.Action)
	master = e.get(t, master.ID)
	assertDates(t, []time.Time{day(4)}, master.DeleteExceptions)

	// deleting the exception row turns its date into a delete exception
	res, err = e.o.Delete(ctx, calendar.DeleteRequest{ContextID: 1, Actor: 1, ID: exc.ID, ClientLastModified: exc.LastModified})
	require.NoError(t, err)
	require.IsType(t, exception.DeleteExistingException{}, res.Action)
	assert.True(t, res.Action.(exception.DeleteExistingException).Date.Equal(day(3)))
	master = e.get(t, master.ID)
	assert.Empty(t, master.ChangeExceptions)
	assertDates(t, []time.Time{day(3), day(4)}, master.DeleteExceptions)
	_, err = e.mem.Get(ctx, 1, exc.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.NotEmpty(t, e.mem.Backups())

	// the next reminder of user 2 still points at the first occurrence
	upserts := e.reminders.upserts(2)
	assert.True(t, upserts[len(upserts)-1].Equal(day(1).Add(-15*time.Minute)))
}

func TestDeletingEveryOccurrenceCascades(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	a := standup()
	a.Pattern.Occurrences = 2
	master := *e.create(t, a).Appointment

	res, err := e.o.Delete(ctx, calendar.DeleteRequest{ContextID: 1, Actor: 1, ID: master.ID, Position: 1, ClientLastModified: master.LastModified})
	require.NoError(t, err)
	require.IsType(t, exception.VirtualDeleteException{}, res.Action)

	master = e.get(t, master.ID)
	res, err = e.o.Delete(ctx, calendar.DeleteRequest{ContextID: 1, Actor: 1, ID: master.ID, Date: day(2), ClientLastModified: master.LastModified})
	require.NoError(t, err)
	assert.Equal(t, exception.FullDelete{Cascade: true}, res.Action)
	assert.Contains(t, e.notifier.kinds, domain.EventDeleted)

	_, err = e.mem.Get(ctx, 1, master.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestUpdateRequiresFreshTimestamp(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	master := *e.create(t, standup()).Appointment

	_, err := e.o.Update(ctx, calendar.UpdateRequest{
		ContextID: 1, Actor: 1, ID: master.ID,
		Delta:              domain.Delta{Title: ptr("late")},
		ClientLastModified: master.LastModified.Add(-time.Second),
	})
	require.True(t, errors.Is(err, domain.ErrOptimisticConflict))
	assert.True(t, domain.Retryable(err))
	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, int64(1), de.ContextID)
	assert.Equal(t, master.ID, de.AppointmentID)

	_, err = e.o.Update(ctx, calendar.UpdateRequest{ContextID: 1, Actor: 1, ID: master.ID, Delta: domain.Delta{Title: ptr("x")}})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	assert.Equal(t, "Standup", e.get(t, master.ID).Title)
}

func TestUpdateDeniedForStranger(t *testing.T) {
	e := newEnv(t, 0)
	master := *e.create(t, standup()).Appointment

	_, err := e.o.Update(context.Background(), calendar.UpdateRequest{
		ContextID: 1, Actor: 5, ID: master.ID,
		Delta:              domain.Delta{Title: ptr("mine")},
		ClientLastModified: master.LastModified,
	})
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))
	assert.False(t, domain.Retryable(err))
}

func TestConflictsBlockTheWrite(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	booked := domain.Appointment{
		Title: "Review", Start: day(10), End: day(10).Add(time.Hour), FolderID: 3, FolderType: domain.FolderPrivate,
		Participants: []domain.Participant{{Type: domain.ParticipantResource, ID: 40}},
	}
	e.create(t, booked)

	clash := domain.Appointment{
		Title: "Sync", Start: day(10).Add(30 * time.Minute), End: day(10).Add(90 * time.Minute), FolderID: 3, FolderType: domain.FolderPrivate,
	}
	res, err := e.o.Create(ctx, calendar.CreateRequest{ContextID: 1, Actor: 1, Appointment: clash})
	require.NoError(t, err)
	assert.False(t, res.Written)
	require.Len(t, res.Conflicts, 1)
	assert.False(t, res.Conflicts[0].Hard)
	assert.Equal(t, "Review", res.Conflicts[0].Title)

	withRoom := clash
	withRoom.Participants = []domain.Participant{{Type: domain.ParticipantResource, ID: 40}}
	res, err = e.o.Create(ctx, calendar.CreateRequest{ContextID: 1, Actor: 1, Appointment: withRoom,
		ConflictOptions: calendar.ConflictOptions{IgnoreConflicts: true}})
	require.NoError(t, err)
	assert.False(t, res.Written)
	require.NotEmpty(t, res.Conflicts)
	assert.True(t, res.Conflicts[0].Hard)

	found, err := e.mem.ListOverlapping(ctx, 1, []int64{1}, nil, day(10), day(11))
	require.NoError(t, err)
	assert.Len(t, found, 1)

	res, err = e.o.Create(ctx, calendar.CreateRequest{ContextID: 1, Actor: 1, Appointment: clash,
		ConflictOptions: calendar.ConflictOptions{IgnoreConflicts: true}})
	require.NoError(t, err)
	assert.True(t, res.Written)
}

func TestQuotaLimitsCreates(t *testing.T) {
	e := newEnv(t, 1)
	e.create(t, standup())

	_, err := e.o.Create(context.Background(), calendar.CreateRequest{ContextID: 1, Actor: 1, Appointment: standup()})
	assert.True(t, errors.Is(err, domain.ErrQuotaExceeded))
}

func TestConfirm(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	a := standup()
	a.Pattern = nil
	created := *e.create(t, a).Appointment

	res, err := e.o.Confirm(ctx, calendar.ConfirmRequest{ContextID: 1, Actor: 2, ID: created.ID, Status: domain.ConfirmAccepted, Message: "see you"})
	require.NoError(t, err)
	require.True(t, res.Written)
	require.Len(t, res.Triggers, 1)
	assert.Equal(t, domain.EventConfirmAccepted, res.Triggers[0].Kind)

	stored := e.get(t, created.ID)
	u, ok := stored.Attendee(2)
	require.True(t, ok)
	assert.Equal(t, domain.ConfirmAccepted, u.Confirm)
	assert.Equal(t, "see you", u.ConfirmMessage)

	_, err = e.o.Confirm(ctx, calendar.ConfirmRequest{ContextID: 1, Actor: 5, UserID: 2, ID: created.ID, Status: domain.ConfirmDeclined})
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))

	_, err = e.o.Confirm(ctx, calendar.ConfirmRequest{ContextID: 1, Actor: 2, ID: created.ID, Status: domain.ConfirmStatus(9)})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestClassifyDoesNotWrite(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	master := *e.create(t, standup()).Appointment

	action, err := e.o.Classify(ctx, calendar.ClassifyRequest{ContextID: 1, Actor: 1, ID: master.ID, Delta: domain.Delta{RecurrencePosition: ptr(2)}})
	require.NoError(t, err)
	require.IsType(t, exception.CreateException{}, action)
	assert.Equal(t, 2, action.(exception.CreateException).Occurrence.Position)

	action, err = e.o.Classify(ctx, calendar.ClassifyRequest{ContextID: 1, Actor: 1, ID: master.ID, Delta: domain.Delta{RecurrencePosition: ptr(2)}, Delete: true})
	require.NoError(t, err)
	require.IsType(t, exception.VirtualDeleteException{}, action)

	_, err = e.o.Classify(ctx, calendar.ClassifyRequest{ContextID: 1, Actor: 1, ID: master.ID, Delta: domain.Delta{RecurrencePosition: ptr(9)}})
	assert.True(t, errors.Is(err, domain.ErrRecurrence))

	stored := e.get(t, master.ID)
	assert.Empty(t, stored.ChangeExceptions)
	assert.Empty(t, stored.DeleteExceptions)
	assert.True(t, stored.LastModified.Equal(master.LastModified))
}

func TestNotificationFailureKeepsData(t *testing.T) {
	e := newEnv(t, 0)
	e.notifier.fail = true

	res := e.create(t, standup())
	require.Error(t, res.NotifyErr)
	e.get(t, res.Appointment.ID)

	e.notifier.fail = false
	require.NoError(t, e.o.Renotify(context.Background(), res))
	assert.Equal(t, []domain.Event{domain.EventCreated}, e.notifier.kinds)
	assert.NoError(t, res.NotifyErr)
}

func TestWritesInvalidateCache(t *testing.T) {
	var events []string
	mem := store.NewMemory()
	o := calendar.New(calendar.Deps{
		Store: commitLog{Memory: mem, events: &events},
		Cache: &fakeCache{events: &events},
		Now:   func() time.Time { return now },
	})
	ctx := context.Background()

	res, err := o.Create(ctx, calendar.CreateRequest{ContextID: 1, Actor: 1, Appointment: standup()})
	require.NoError(t, err)
	require.True(t, res.Written)
	assert.Equal(t, []string{"invalidate", "commit", "invalidate"}, events)

	events = nil
	_, err = o.Update(ctx, calendar.UpdateRequest{
		ContextID: 1, Actor: 1, ID: res.Appointment.ID,
		Delta:              domain.Delta{Title: ptr("Sync")},
		ClientLastModified: res.Appointment.LastModified,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"invalidate", "commit", "invalidate"}, events)

	// a rejected write leaves the cache alone
	events = nil
	_, err = o.Update(ctx, calendar.UpdateRequest{ContextID: 1, Actor: 1, ID: res.Appointment.ID, Delta: domain.Delta{Title: ptr("x")}})
	require.Error(t, err)
	assert.Empty(t, events)
}

func TestMovedExceptionNotifiesAttendees(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	master := *e.create(t, standup()).Appointment

	res, err := e.o.Update(ctx, calendar.UpdateRequest{
		ContextID: 1, Actor: 1, ID: master.ID,
		Delta:              domain.Delta{RecurrencePosition: ptr(3), Title: ptr("Retro")},
		ClientLastModified: master.LastModified,
	})
	require.NoError(t, err)
	require.IsType(t, exception.CreateException{}, res.Action)
	assert.Empty(t, e.notifier.recipients())

	exc := e.get(t, res.Appointment.ID)
	for _, u := range exc.Users {
		assert.False(t, u.SuppressNotification, "stored user %d", u.UserID)
	}

	res, err = e.o.Update(ctx, calendar.UpdateRequest{
		ContextID: 1, Actor: 1, ID: exc.ID,
		Delta: domain.Delta{
			Start: ptr(exc.Start.Add(time.Hour)),
			End:   ptr(exc.End.Add(time.Hour)),
		},
		ClientLastModified: exc.LastModified,
	})
	require.NoError(t, err)
	require.True(t, res.Written)
	assert.Equal(t, domain.EventUpdated, e.notifier.kinds[len(e.notifier.kinds)-1])
	assert.ElementsMatch(t, []int64{1, 2}, e.notifier.recipients())

	exc = e.get(t, exc.ID)
	_, err = e.o.Delete(ctx, calendar.DeleteRequest{ContextID: 1, Actor: 1, ID: exc.ID, ClientLastModified: exc.LastModified})
	require.NoError(t, err)
	assert.Equal(t, domain.EventDeleted, e.notifier.kinds[len(e.notifier.kinds)-1])
	assert.ElementsMatch(t, []int64{1, 2}, e.notifier.recipients())
}

func TestConfirmInSharedFolder(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	a := standup()
	a.Pattern = nil
	a.FolderType = domain.FolderShared
	a.SharedFolderOwner = 7
	a.Users = []domain.Attendee{{UserID: 1, Alarm: domain.NoAlarm}, {UserID: 2, Alarm: domain.NoAlarm}}
	res, err := e.o.Create(ctx, calendar.CreateRequest{ContextID: 1, Actor: 7, Appointment: a})
	require.NoError(t, err)
	require.True(t, res.Written)
	id := res.Appointment.ID

	// the folder owner answers only for itself
	_, err = e.o.Confirm(ctx, calendar.ConfirmRequest{ContextID: 1, Actor: 7, UserID: 2, ID: id, Status: domain.ConfirmDeclined})
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))
	stored := e.get(t, id)
	u, _ := stored.Attendee(2)
	assert.Equal(t, domain.ConfirmNone, u.Confirm)

	// a delegate acting in the folder answers for the owner
	_, err = e.o.Confirm(ctx, calendar.ConfirmRequest{ContextID: 1, Actor: 1, UserID: 7, ID: id, Status: domain.ConfirmTentative})
	require.NoError(t, err)
	stored = e.get(t, id)
	u, _ = stored.Attendee(7)
	assert.Equal(t, domain.ConfirmTentative, u.Confirm)

	// the same rule holds for attendee changes made through an update
	users := slices.Clone(stored.Users)
	for i := range users {
		switch users[i].UserID {
		case 2:
			users[i].Confirm = domain.ConfirmDeclined
		case 7:
			users[i].Confirm = domain.ConfirmAccepted
		}
	}
	_, err = e.o.Update(ctx, calendar.UpdateRequest{
		ContextID: 1, Actor: 1, ID: id,
		Delta:              domain.Delta{Users: &users},
		ClientLastModified: stored.LastModified,
	})
	require.NoError(t, err)
	stored = e.get(t, id)
	u, _ = stored.Attendee(2)
	assert.Equal(t, domain.ConfirmNone, u.Confirm)
	u, _ = stored.Attendee(7)
	assert.Equal(t, domain.ConfirmAccepted, u.Confirm)
}

func TestUpdateReportsParticipantChanges(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	room := domain.Participant{Type: domain.ParticipantResource, ID: 40}
	guest := domain.Participant{Type: domain.ParticipantExternalUser, Email: "guest@example.com"}
	a := standup()
	a.Pattern = nil
	a.Participants = []domain.Participant{room}
	created := *e.create(t, a).Appointment

	res, err := e.o.Update(ctx, calendar.UpdateRequest{
		ContextID: 1, Actor: 1, ID: created.ID,
		Delta:              domain.Delta{Participants: &[]domain.Participant{guest}},
		ClientLastModified: created.LastModified,
	})
	require.NoError(t, err)
	require.True(t, res.Written)
	assert.Equal(t, []domain.Participant{guest}, res.Participants.Added)
	assert.Equal(t, []domain.Participant{room}, res.Participants.Removed)

	require.Len(t, res.Triggers, 3)
	assert.Equal(t, domain.EventUpdated, res.Triggers[0].Kind)
	assert.Equal(t, domain.EventParticipantAdded, res.Triggers[1].Kind)
	assert.Equal(t, []domain.Participant{guest}, res.Triggers[1].Appointment.Participants)
	assert.Empty(t, res.Triggers[1].Appointment.Users)
	assert.Equal(t, domain.EventParticipantRemoved, res.Triggers[2].Kind)
	assert.Equal(t, []domain.Participant{room}, res.Triggers[2].Appointment.Participants)
	assert.Equal(t, res.Triggers[2].Kind, e.notifier.kinds[len(e.notifier.kinds)-1])

	stored := e.get(t, created.ID)
	res, err = e.o.Update(ctx, calendar.UpdateRequest{
		ContextID: 1, Actor: 1, ID: created.ID,
		Delta:              domain.Delta{Title: ptr("Renamed")},
		ClientLastModified: stored.LastModified,
	})
	require.NoError(t, err)
	assert.True(t, res.Participants.Empty())
	assert.Len(t, res.Triggers, 1)
}
