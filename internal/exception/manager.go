package exception

import (
	"time"

	"calendar-service/internal/domain"
	"calendar-service/internal/recurrence"
)

type Op int

const (
	OpUpdate Op = iota
	OpDelete
)

type Manager struct {
	exp *recurrence.Expander
}

func NewManager(exp *recurrence.Expander) *Manager {
	return &Manager{exp: exp}
}

// Classify decides which structural change applying d to stored causes. d
// may be nil for a delete of the whole row.
func (m *Manager) Classify(stored *domain.Appointment, d *domain.Delta, op Op) (Action, error) {
	if d == nil {
		d = &domain.Delta{}
	}
	switch {
	case stored.IsException():
		return m.classifyException(stored, d, op)
	case stored.IsMaster():
		return m.classifyMaster(stored, d, op)
	default:
		return m.classifyPlain(stored, d, op)
	}
}

func (m *Manager) classifyPlain(stored *domain.Appointment, d *domain.Delta, op Op) (Action, error) {
	if d.AddressesOccurrence() {
		return nil, domain.Recurrence("appointment is not recurring")
	}
	if op == OpDelete {
		return FullDelete{}, nil
	}
	if !d.Pattern.IsZero() {
		if err := recurrence.Validate(d.Pattern); err != nil {
			return nil, err
		}
		return ChangeType{Introduce: true}, nil
	}
	return NoAction{}, nil
}

func (m *Manager) classifyMaster(stored *domain.Appointment, d *domain.Delta, op Op) (Action, error) {
	if d.AddressesOccurrence() {
		occ, err := m.Locate(stored, d)
		if err != nil {
			return nil, err
		}
		hasRow := domain.HasDate(stored.ChangeExceptions, occ.Start)
		if op == OpDelete {
			if hasRow {
				return DeleteException{Date: occ.Start}, nil
			}
			return VirtualDeleteException{Occurrence: occ}, nil
		}
		if hasRow {
			return nil, domain.Recurrence("occurrence already has a change exception")
		}
		if d.Pattern != nil {
			return nil, domain.Recurrence("pattern cannot be changed on a single occurrence")
		}
		if d.FolderID != nil && *d.FolderID != stored.FolderID {
			return nil, domain.Validation("folder_id", "a single occurrence cannot be moved to another folder")
		}
		return CreateException{Occurrence: occ}, nil
	}
	if op == OpDelete {
		return FullDelete{}, nil
	}
	if d.Pattern != nil && d.Pattern.IsZero() {
		return ChangeType{Remove: true}, nil
	}
	if d.ChangesTiming(stored) {
		if d.Pattern != nil {
			if err := recurrence.Validate(d.Pattern); err != nil {
				return nil, err
			}
		}
		return ChangeType{}, nil
	}
	return NoAction{}, nil
}

func (m *Manager) classifyException(stored *domain.Appointment, d *domain.Delta, op Op) (Action, error) {
	if d.Pattern != nil {
		return nil, domain.Recurrence("pattern cannot be set on a change exception")
	}
	if d.RecurrencePosition != nil && *d.RecurrencePosition != stored.RecurrencePosition {
		return nil, domain.Recurrence("recurrence position of a change exception cannot be changed")
	}
	if d.RecurrenceDatePosition != nil && !d.RecurrenceDatePosition.Equal(stored.RecurrenceDatePosition) {
		return nil, domain.Recurrence("recurrence date position of a change exception cannot be changed")
	}
	if op == OpDelete {
		return DeleteExistingException{Date: stored.RecurrenceDatePosition}, nil
	}
	if d.FolderID != nil && *d.FolderID != stored.FolderID {
		return nil, domain.Validation("folder_id", "a change exception cannot be moved to another folder")
	}
	return NoAction{}, nil
}

// Locate resolves the occurrence of master addressed by d. When both a
// position and a date are given they must name the same occurrence.
func (m *Manager) Locate(master *domain.Appointment, d *domain.Delta) (recurrence.Occurrence, error) {
	s := recurrence.SeriesOf(master)
	var (
		occ recurrence.Occurrence
		ok  bool
	)
	switch {
	case d.RecurrencePosition != nil && *d.RecurrencePosition > 0:
		occ, ok = m.exp.At(s, *d.RecurrencePosition)
		if ok && d.RecurrenceDatePosition != nil && !d.RecurrenceDatePosition.IsZero() && !d.RecurrenceDatePosition.Equal(occ.Start) {
			return occ, domain.Recurrence("recurrence position and date position disagree")
		}
	case d.RecurrenceDatePosition != nil:
		occ, ok = m.exp.Find(s, *d.RecurrenceDatePosition)
	}
	if !ok {
		return occ, domain.Recurrence("addressed occurrence does not exist")
	}
	if domain.HasDate(master.DeleteExceptions, occ.Start) {
		return occ, domain.Recurrence("addressed occurrence was deleted")
	}
	return occ, nil
}

// NewException clones master into a change exception for occ and applies
// the explicit fields of d.
func (m *Manager) NewException(master *domain.Appointment, occ recurrence.Occurrence, d *domain.Delta) domain.Appointment {
	e := master.Clone()
	e.ID = 0
	e.RecurrenceID = master.ID
	e.RecurrencePosition = occ.Position
	e.RecurrenceDatePosition = occ.Start
	e.Start, e.End = occ.Start, occ.End
	e.Pattern = nil
	e.ChangeExceptions = nil
	e.DeleteExceptions = nil
	e.SeriesEnd = time.Time{}
	e.DurationDays = 0
	e.Sequence = 0
	d.Apply(&e)
	return e
}

// SuppressKnown marks the attendees of exc that already attend master so
// they are not notified about the new exception.
func SuppressKnown(master, exc *domain.Appointment) {
	for i := range exc.Users {
		_, known := master.Attendee(exc.Users[i].UserID)
		exc.Users[i].SuppressNotification = known
	}
}

// Compile stamps the series bookkeeping onto a. A master gets its recurrence
// id, duration in days and series end; anything else is reset to plain.
func (m *Manager) Compile(a *domain.Appointment) {
	if a.Pattern.IsZero() {
		a.Pattern = nil
		a.RecurrenceID = 0
		a.ChangeExceptions = nil
		a.DeleteExceptions = nil
		a.SeriesEnd = time.Time{}
		a.DurationDays = 0
		return
	}
	a.RecurrenceID = a.ID
	a.DurationDays = recurrence.DurationDays(a.Start, a.End, a.Loc())
	a.SeriesEnd = time.Time{}
	if last, ok := m.exp.Last(recurrence.SeriesOf(a)); ok {
		a.SeriesEnd = last.End
	}
}

// Purge drops every exception date of a master.
func Purge(master *domain.Appointment) {
	master.ChangeExceptions = nil
	master.DeleteExceptions = nil
}

// MarkChanged records date as a change exception of master.
func MarkChanged(master *domain.Appointment, date time.Time) {
	master.ChangeExceptions = domain.AddDate(master.ChangeExceptions, date)
}

// MarkDeleted records date as a delete exception of master, moving it out
// of the change exceptions if present.
func MarkDeleted(master *domain.Appointment, date time.Time) {
	master.ChangeExceptions = domain.RemoveDate(master.ChangeExceptions, date)
	master.DeleteExceptions = domain.AddDate(master.DeleteExceptions, date)
}

// Exhausted reports whether every occurrence of a bounded master is covered
// by a delete exception. Unbounded series and series running past the
// expansion cap never are.
func (m *Manager) Exhausted(master *domain.Appointment) bool {
	if !master.IsMaster() || master.Pattern.Unbounded() {
		return false
	}
	s := recurrence.SeriesOf(master)
	if m.exp.Truncated(s) {
		return false
	}
	for o := range m.exp.Expand(s, time.Time{}, time.Time{}) {
		if !domain.HasDate(master.DeleteExceptions, o.Start) {
			return false
		}
	}
	return true
}
