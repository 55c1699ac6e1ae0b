package domain

import (
	"slices"
	"time"
)

type FolderType string

const (
	FolderPrivate FolderType = "private"
	FolderPublic  FolderType = "public"
	FolderShared  FolderType = "shared"
)

type ConfirmStatus int

const (
	ConfirmNone ConfirmStatus = iota
	ConfirmAccepted
	ConfirmDeclined
	ConfirmTentative
)

func (c ConfirmStatus) String() string {
	switch c {
	case ConfirmAccepted:
		return "accepted"
	case ConfirmDeclined:
		return "declined"
	case ConfirmTentative:
		return "tentative"
	default:
		return "none"
	}
}

type ParticipantType int

const (
	ParticipantUser ParticipantType = iota + 1
	ParticipantGroup
	ParticipantResource
	ParticipantResourceGroup
	ParticipantExternalUser
	ParticipantExternalGroup
)

// ShownAs values. Free appointments never take part in conflict checks.
const (
	ShownAsReserved  = 1
	ShownAsTemporary = 2
	ShownAsAbsent    = 3
	ShownAsFree      = 4
)

// NoAlarm marks an attendee without a reminder.
const NoAlarm = -1

// Participant is a member of an appointment. Internal users and resources are
// identified by ID, external users by Email.
type Participant struct {
	Type        ParticipantType `json:"type"`
	ID          int64           `json:"id,omitempty"`
	Email       string          `json:"email,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
}

// Key identifies a participant independent of its display data.
type Key struct {
	Type  ParticipantType
	ID    int64
	Email string
}

func (p Participant) Key() Key {
	if p.Type == ParticipantExternalUser || p.Type == ParticipantExternalGroup {
		return Key{Type: p.Type, Email: p.Email}
	}
	return Key{Type: p.Type, ID: p.ID}
}

// Attendee is an internal user participant with personal appointment state.
type Attendee struct {
	UserID         int64         `json:"user_id"`
	DisplayName    string        `json:"display_name,omitempty"`
	Email          string        `json:"email,omitempty"`
	Confirm        ConfirmStatus `json:"confirm"`
	ConfirmMessage string        `json:"confirm_message,omitempty"`
	FolderID       int64         `json:"folder_id,omitempty"`
	// Alarm is the reminder offset in minutes before start, NoAlarm if unset.
	Alarm int `json:"alarm"`
	// SuppressNotification is set on the notification copy of a new change
	// exception for attendees who already know the series. It is never
	// stored.
	SuppressNotification bool `json:"-"`
}

// RecurrenceType selects the pattern frequency.
type RecurrenceType int

const (
	RecurrenceNone RecurrenceType = iota
	RecurrenceDaily
	RecurrenceWeekly
	RecurrenceMonthly
	RecurrenceYearly
)

// Weekdays is a day-of-week bit set, Sunday is bit 0.
type Weekdays int

const (
	Sunday Weekdays = 1 << iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

func (w Weekdays) Has(d time.Weekday) bool {
	return w&(1<<uint(d)) != 0
}

// Pattern describes how a series master repeats.
//
// For monthly and yearly patterns with Days set, DayInMonth is the week
// ordinal (1-4, 5 meaning last). Without Days it is the day of month.
// Until and Occurrences both zero means the series is unbounded.
type Pattern struct {
	Type        RecurrenceType `json:"type"`
	Interval    int            `json:"interval"`
	Days        Weekdays       `json:"days,omitempty"`
	DayInMonth  int            `json:"day_in_month,omitempty"`
	Month       time.Month     `json:"month,omitempty"`
	Until       time.Time      `json:"until,omitzero"`
	Occurrences int            `json:"occurrences,omitempty"`
}

func (p *Pattern) IsZero() bool {
	return p == nil || p.Type == RecurrenceNone
}

// Unbounded reports whether the pattern has neither an until date nor a count.
func (p *Pattern) Unbounded() bool {
	return !p.IsZero() && p.Until.IsZero() && p.Occurrences == 0
}

// Equal compares two patterns field by field.
func (p *Pattern) Equal(o *Pattern) bool {
	if p.IsZero() || o.IsZero() {
		return p.IsZero() == o.IsZero()
	}
	return p.Type == o.Type && p.Interval == o.Interval && p.Days == o.Days &&
		p.DayInMonth == o.DayInMonth && p.Month == o.Month &&
		p.Until.Equal(o.Until) && p.Occurrences == o.Occurrences
}

func (p *Pattern) Clone() *Pattern {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Appointment is the stored calendar object. A plain appointment has no
// pattern and RecurrenceID 0, a series master has RecurrenceID == ID and a
// pattern, a change exception has RecurrenceID of its master and a non-zero
// recurrence position.
type Appointment struct {
	ID        int64 `json:"id"`
	ContextID int64 `json:"context_id"`

	Title    string `json:"title" validate:"max=255"`
	Location string `json:"location,omitempty" validate:"max=255"`
	Note     string `json:"note,omitempty"`
	Label    int    `json:"label" validate:"min=0,max=10"`
	ShownAs  int    `json:"shown_as" validate:"min=1,max=4"`

	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	FullDay  bool      `json:"full_day"`
	Timezone string    `json:"timezone,omitempty"`

	RecurrenceID           int64       `json:"recurrence_id,omitempty"`
	Pattern                *Pattern    `json:"pattern,omitempty"`
	RecurrencePosition     int         `json:"recurrence_position,omitempty"`
	RecurrenceDatePosition time.Time   `json:"recurrence_date_position,omitzero"`
	ChangeExceptions       []time.Time `json:"change_exceptions,omitempty"`
	DeleteExceptions       []time.Time `json:"delete_exceptions,omitempty"`
	SeriesEnd              time.Time   `json:"series_end,omitzero"`
	DurationDays           int         `json:"duration_days,omitempty"`

	Sequence     int       `json:"sequence"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
	CreatedBy    int64     `json:"created_by"`
	ModifiedBy   int64     `json:"modified_by"`

	FolderID          int64      `json:"folder_id"`
	FolderType        FolderType `json:"folder_type"`
	SharedFolderOwner int64      `json:"shared_folder_owner,omitempty"`
	Private           bool       `json:"private"`

	Participants []Participant `json:"participants,omitempty"`
	Users        []Attendee    `json:"users"`
}

func (a *Appointment) IsMaster() bool {
	return a.RecurrenceID != 0 && a.RecurrenceID == a.ID && !a.Pattern.IsZero()
}

func (a *Appointment) IsException() bool {
	return a.RecurrenceID != 0 && a.RecurrenceID != a.ID
}

func (a *Appointment) IsPlain() bool {
	return a.RecurrenceID == 0
}

// Loc returns the appointment's time zone, UTC when unset or unknown.
func (a *Appointment) Loc() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Attendee returns the attendee entry of the given user.
func (a *Appointment) Attendee(userID int64) (Attendee, bool) {
	for _, u := range a.Users {
		if u.UserID == userID {
			return u, true
		}
	}
	return Attendee{}, false
}

// Resources returns the IDs of all resource participants.
func (a *Appointment) Resources() []int64 {
	var out []int64
	for _, p := range a.Participants {
		if p.Type == ParticipantResource {
			out = append(out, p.ID)
		}
	}
	return out
}

// HasDate reports whether t is contained in dates.
func HasDate(dates []time.Time, t time.Time) bool {
	return slices.ContainsFunc(dates, t.Equal)
}

// RemoveDate returns dates without t.
func RemoveDate(dates []time.Time, t time.Time) []time.Time {
	return slices.DeleteFunc(slices.Clone(dates), t.Equal)
}

// AddDate appends t to dates unless present, keeping the list sorted.
func AddDate(dates []time.Time, t time.Time) []time.Time {
	if HasDate(dates, t) {
		return dates
	}
	out := append(slices.Clone(dates), t)
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

// Clone returns a deep copy.
func (a Appointment) Clone() Appointment {
	c := a
	c.Pattern = a.Pattern.Clone()
	c.ChangeExceptions = slices.Clone(a.ChangeExceptions)
	c.DeleteExceptions = slices.Clone(a.DeleteExceptions)
	c.Participants = slices.Clone(a.Participants)
	c.Users = slices.Clone(a.Users)
	return c
}
