package exception

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar-service/internal/domain"
	"calendar-service/internal/recurrence"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 9, 0, 0, 0, time.UTC)
}

func standup() *domain.Appointment {
	return &domain.Appointment{
		ID:           7,
		RecurrenceID: 7,
		ContextID:    1,
		Title:        "Standup",
		Location:     "Room 1",
		Start:        day(1),
		End:          day(1).Add(15 * time.Minute),
		Pattern:      &domain.Pattern{Type: domain.RecurrenceDaily, Interval: 1, Occurrences: 5},
		FolderID:     3,
		Users:        []domain.Attendee{{UserID: 1, Confirm: domain.ConfirmAccepted}, {UserID: 2}},
	}
}

func ptr[T any](v T) *T { return &v }

func newManager() *Manager { return NewManager(recurrence.NewExpander(0)) }

func TestClassifyPlain(t *testing.T) {
	m := newManager()
	plain := &domain.Appointment{ID: 1, Start: day(1), End: day(1).Add(time.Hour)}

	a, err := m.Classify(plain, &domain.Delta{Title: ptr("x")}, OpUpdate)
	require.NoError(t, err)
	assert.Equal(t, NoAction{}, a)

	a, err = m.Classify(plain, &domain.Delta{Pattern: &domain.Pattern{Type: domain.RecurrenceDaily, Interval: 1}}, OpUpdate)
	require.NoError(t, err)
	assert.Equal(t, ChangeType{Introduce: true}, a)

	_, err = m.Classify(plain, &domain.Delta{Pattern: &domain.Pattern{Type: domain.RecurrenceWeekly, Interval: 1}}, OpUpdate)
	assert.True(t, errors.Is(err, domain.ErrRecurrence))

	_, err = m.Classify(plain, &domain.Delta{RecurrencePosition: ptr(2)}, OpUpdate)
	assert.True(t, errors.Is(err, domain.ErrRecurrence))

	a, err = m.Classify(plain, nil, OpDelete)
	require.NoError(t, err)
	assert.Equal(t, FullDelete{}, a)
}

func TestClassifyMaster(t *testing.T) {
	m := newManager()
	master := standup()

	a, err := m.Classify(master, &domain.Delta{Title: ptr("Daily")}, OpUpdate)
	require.NoError(t, err)
	assert.Equal(t, NoAction{}, a)

	a, err = m.Classify(master, &domain.Delta{Start: ptr(day(1).Add(time.Hour)), End: ptr(day(1).Add(75 * time.Minute))}, OpUpdate)
	require.NoError(t, err)
	assert.Equal(t, ChangeType{}, a)

	a, err = m.Classify(master, &domain.Delta{Pattern: &domain.Pattern{}}, OpUpdate)
	require.NoError(t, err)
	assert.Equal(t, ChangeType{Remove: true}, a)

	a, err = m.Classify(master, &domain.Delta{RecurrencePosition: ptr(3), Location: ptr("Room 2")}, OpUpdate)
	require.NoError(t, err)
	ce, ok := a.(CreateException)
	require.True(t, ok)
	assert.Equal(t, 3, ce.Occurrence.Position)
	assert.Equal(t, day(3), ce.Occurrence.Start)

	_, err = m.Classify(master, &domain.Delta{RecurrencePosition: ptr(3), FolderID: ptr(int64(9))}, OpUpdate)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = m.Classify(master, &domain.Delta{RecurrencePosition: ptr(6)}, OpUpdate)
	assert.True(t, errors.Is(err, domain.ErrRecurrence))

	_, err = m.Classify(master, &domain.Delta{RecurrenceDatePosition: ptr(day(3).Add(time.Minute))}, OpUpdate)
	assert.True(t, errors.Is(err, domain.ErrRecurrence))

	_, err = m.Classify(master, &domain.Delta{RecurrencePosition: ptr(2), RecurrenceDatePosition: ptr(day(3))}, OpUpdate)
	assert.True(t, errors.Is(err, domain.ErrRecurrence))

	a, err = m.Classify(master, nil, OpDelete)
	require.NoError(t, err)
	assert.Equal(t, FullDelete{}, a)

	a, err = m.Classify(master, &domain.Delta{RecurrenceDatePosition: ptr(day(4))}, OpDelete)
	require.NoError(t, err)
	vd, ok := a.(VirtualDeleteException)
	require.True(t, ok)
	assert.Equal(t, 4, vd.Occurrence.Position)
}

func TestClassifyMasterWithExistingException(t *testing.T) {
	m := newManager()
	master := standup()
	master.ChangeExceptions = []time.Time{day(3)}
	master.DeleteExceptions = []time.Time{day(5)}

	a, err := m.Classify(master, &domain.Delta{RecurrencePosition: ptr(3)}, OpDelete)
	require.NoError(t, err)
	assert.Equal(t, DeleteException{Date: day(3)}, a)

	_, err = m.Classify(master, &domain.Delta{RecurrencePosition: ptr(3)}, OpUpdate)
	assert.True(t, errors.Is(err, domain.ErrRecurrence))

	_, err = m.Classify(master, &domain.Delta{RecurrencePosition: ptr(5)}, OpDelete)
	assert.True(t, errors.Is(err, domain.ErrRecurrence), "already deleted")
}

func TestClassifyException(t *testing.T) {
	m := newManager()
	exc := &domain.Appointment{ID: 8, RecurrenceID: 7, RecurrencePosition: 3, RecurrenceDatePosition: day(3), FolderID: 3}

	a, err := m.Classify(exc, &domain.Delta{Title: ptr("moved")}, OpUpdate)
	require.NoError(t, err)
	assert.Equal(t, NoAction{}, a)

	_, err = m.Classify(exc, &domain.Delta{RecurrencePosition: ptr(4)}, OpUpdate)
	assert.True(t, errors.Is(err, domain.ErrRecurrence))

	_, err = m.Classify(exc, &domain.Delta{Pattern: &domain.Pattern{Type: domain.RecurrenceDaily, Interval: 1}}, OpUpdate)
	assert.True(t, errors.Is(err, domain.ErrRecurrence))

	_, err = m.Classify(exc, &domain.Delta{FolderID: ptr(int64(4))}, OpUpdate)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	a, err = m.Classify(exc, nil, OpDelete)
	require.NoError(t, err)
	assert.Equal(t, DeleteExistingException{Date: day(3)}, a)
}

func TestStandupExceptionLifecycle(t *testing.T) {
	m := newManager()
	master := standup()

	d := &domain.Delta{RecurrencePosition: ptr(3), Location: ptr("Room 2"), Users: &[]domain.Attendee{
		{UserID: 1, Confirm: domain.ConfirmAccepted}, {UserID: 2}, {UserID: 3},
	}}
	a, err := m.Classify(master, d, OpUpdate)
	require.NoError(t, err)
	occ := a.(CreateException).Occurrence

	exc := m.NewException(master, occ, d)
	SuppressKnown(master, &exc)
	MarkChanged(master, occ.Start)

	assert.Equal(t, int64(0), exc.ID)
	assert.Equal(t, int64(7), exc.RecurrenceID)
	assert.Equal(t, 3, exc.RecurrencePosition)
	assert.Equal(t, day(3), exc.RecurrenceDatePosition)
	assert.Equal(t, day(3), exc.Start)
	assert.Equal(t, day(3).Add(15*time.Minute), exc.End)
	assert.Equal(t, "Room 2", exc.Location)
	assert.Equal(t, "Standup", exc.Title)
	assert.Nil(t, exc.Pattern)
	assert.True(t, exc.Users[0].SuppressNotification)
	assert.True(t, exc.Users[1].SuppressNotification)
	assert.False(t, exc.Users[2].SuppressNotification, "new attendee is notified")
	assert.Equal(t, []time.Time{day(3)}, master.ChangeExceptions)
	assert.Equal(t, "Room 1", master.Location)

	exc.ID = 8
	a, err = m.Classify(&exc, nil, OpDelete)
	require.NoError(t, err)
	MarkDeleted(master, a.(DeleteExistingException).Date)
	assert.Empty(t, master.ChangeExceptions)
	assert.Equal(t, []time.Time{day(3)}, master.DeleteExceptions)
	assert.False(t, m.Exhausted(master))
}

func TestExhaustedCascade(t *testing.T) {
	m := newManager()
	master := standup()
	for i := 1; i <= 4; i++ {
		MarkDeleted(master, day(i))
		assert.False(t, m.Exhausted(master))
	}
	MarkDeleted(master, day(5))
	assert.True(t, m.Exhausted(master))

	open := standup()
	open.Pattern.Occurrences = 0
	open.DeleteExceptions = []time.Time{day(1), day(2), day(3), day(4), day(5)}
	assert.False(t, m.Exhausted(open), "unbounded series never cascade")
}

func TestExhaustedIgnoresSeriesPastTheCap(t *testing.T) {
	m := NewManager(recurrence.NewExpander(3))
	long := standup()
	long.Pattern.Occurrences = 0
	long.Pattern.Until = day(20)
	long.DeleteExceptions = []time.Time{day(1), day(2), day(3)}
	assert.False(t, m.Exhausted(long))

	m.Compile(long)
	assert.True(t, long.SeriesEnd.IsZero(), "capped series has no known end")

	short := standup()
	short.Pattern.Occurrences = 3
	short.DeleteExceptions = []time.Time{day(1), day(2), day(3)}
	assert.True(t, m.Exhausted(short))
}

func TestCompile(t *testing.T) {
	m := newManager()
	a := &domain.Appointment{ID: 4, Start: day(1), End: day(1).Add(time.Hour),
		Pattern: &domain.Pattern{Type: domain.RecurrenceDaily, Interval: 1, Occurrences: 3}}
	m.Compile(a)
	assert.Equal(t, int64(4), a.RecurrenceID)
	assert.True(t, a.IsMaster())
	assert.Equal(t, day(3).Add(time.Hour), a.SeriesEnd)
	assert.Zero(t, a.DurationDays)

	a.Pattern.Occurrences = 0
	m.Compile(a)
	assert.True(t, a.SeriesEnd.IsZero())

	a.Pattern = &domain.Pattern{}
	a.ChangeExceptions = []time.Time{day(2)}
	m.Compile(a)
	assert.True(t, a.IsPlain())
	assert.Nil(t, a.Pattern)
	assert.Nil(t, a.ChangeExceptions)
}
