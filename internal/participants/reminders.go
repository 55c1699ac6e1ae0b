package participants

import (
	"slices"
	"time"

	"calendar-service/internal/domain"
	"calendar-service/internal/recurrence"
)

// Target is a reminder decision for one attendee. Delete is set when no
// future trigger exists or the attendee has no alarm.
type Target struct {
	AppointmentID int64
	UserID        int64
	Trigger       time.Time
	Occurrence    time.Time
	Delete        bool
}

// ReminderTargets computes reminder decisions for the given attendees of a.
//
// The trigger is occurrence start minus the alarm offset. When that instant
// is already past, the next occurrence of the series whose trigger lies in
// the future is used instead. Occurrences replaced by exceptions are skipped,
// change exceptions carry their own reminders.
func ReminderTargets(a *domain.Appointment, attendees []domain.Attendee, exp *recurrence.Expander, now time.Time) []Target {
	out := make([]Target, 0, len(attendees))
	for _, u := range attendees {
		t := Target{AppointmentID: a.ID, UserID: u.UserID}
		if u.Alarm < 0 {
			t.Delete = true
			out = append(out, t)
			continue
		}
		offset := time.Duration(u.Alarm) * time.Minute
		if !a.IsMaster() {
			if trigger := a.Start.Add(-offset); !trigger.Before(now) {
				t.Trigger, t.Occurrence = trigger, a.Start
			} else {
				t.Delete = true
			}
			out = append(out, t)
			continue
		}
		skip := append(slices.Clone(a.DeleteExceptions), a.ChangeExceptions...)
		if o, ok := exp.Next(recurrence.SeriesOf(a), now.Add(offset), skip); ok {
			t.Trigger, t.Occurrence = o.Start.Add(-offset), o.Start
		} else {
			t.Delete = true
		}
		out = append(out, t)
	}
	return out
}
