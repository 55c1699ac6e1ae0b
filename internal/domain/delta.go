package domain

import "time"

// Delta is a differential change request. Nil fields are left untouched.
//
// RecurrencePosition or RecurrenceDatePosition address a single occurrence
// of a series master. A non-nil Pattern with Type RecurrenceNone removes the
// recurrence.
type Delta struct {
	Title    *string `json:"title,omitempty"`
	Location *string `json:"location,omitempty"`
	Note     *string `json:"note,omitempty"`
	Label    *int    `json:"label,omitempty"`
	ShownAs  *int    `json:"shown_as,omitempty"`

	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
	FullDay  *bool      `json:"full_day,omitempty"`
	Timezone *string    `json:"timezone,omitempty"`

	Pattern                *Pattern   `json:"pattern,omitempty"`
	RecurrencePosition     *int       `json:"recurrence_position,omitempty"`
	RecurrenceDatePosition *time.Time `json:"recurrence_date_position,omitempty"`

	FolderID *int64 `json:"folder_id,omitempty"`
	Private  *bool  `json:"private,omitempty"`

	Participants *[]Participant `json:"participants,omitempty"`
	Users        *[]Attendee    `json:"users,omitempty"`
}

// AddressesOccurrence reports whether the delta targets a single occurrence.
func (d *Delta) AddressesOccurrence() bool {
	return (d.RecurrencePosition != nil && *d.RecurrencePosition > 0) ||
		(d.RecurrenceDatePosition != nil && !d.RecurrenceDatePosition.IsZero())
}

// ChangesTiming reports whether applying the delta to a moves the appointment
// in time or changes its recurrence.
func (d *Delta) ChangesTiming(a *Appointment) bool {
	if d.Start != nil && !d.Start.Equal(a.Start) {
		return true
	}
	if d.End != nil && !d.End.Equal(a.End) {
		return true
	}
	if d.FullDay != nil && *d.FullDay != a.FullDay {
		return true
	}
	if d.Timezone != nil && *d.Timezone != a.Timezone {
		return true
	}
	return d.Pattern != nil && !d.Pattern.Equal(a.Pattern)
}

// ChangesMembers reports whether the delta replaces participants or users
// with a different set.
func (d *Delta) ChangesMembers(a *Appointment) bool {
	if d.Participants != nil && !sameParticipants(*d.Participants, a.Participants) {
		return true
	}
	if d.Users != nil && !sameUsers(*d.Users, a.Users) {
		return true
	}
	return false
}

// Apply copies every set field of the delta onto a. Pattern and occurrence
// addressing fields are not applied; they are handled by the exception manager.
func (d *Delta) Apply(a *Appointment) {
	if d.Title != nil {
		a.Title = *d.Title
	}
	if d.Location != nil {
		a.Location = *d.Location
	}
	if d.Note != nil {
		a.Note = *d.Note
	}
	if d.Label != nil {
		a.Label = *d.Label
	}
	if d.ShownAs != nil {
		a.ShownAs = *d.ShownAs
	}
	if d.Start != nil {
		a.Start = *d.Start
	}
	if d.End != nil {
		a.End = *d.End
	}
	if d.FullDay != nil {
		a.FullDay = *d.FullDay
	}
	if d.Timezone != nil {
		a.Timezone = *d.Timezone
	}
	if d.FolderID != nil {
		a.FolderID = *d.FolderID
	}
	if d.Private != nil {
		a.Private = *d.Private
	}
	if d.Participants != nil {
		a.Participants = append([]Participant(nil), (*d.Participants)...)
	}
	if d.Users != nil {
		a.Users = append([]Attendee(nil), (*d.Users)...)
	}
}

func sameParticipants(a, b []Participant) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[Key]struct{}, len(a))
	for _, p := range a {
		seen[p.Key()] = struct{}{}
	}
	for _, p := range b {
		if _, ok := seen[p.Key()]; !ok {
			return false
		}
	}
	return true
}

func sameUsers(a, b []Attendee) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int64]struct{}, len(a))
	for _, u := range a {
		seen[u.UserID] = struct{}{}
	}
	for _, u := range b {
		if _, ok := seen[u.UserID]; !ok {
			return false
		}
	}
	return true
}
