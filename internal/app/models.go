package app

import (
	"time"

	"calendar-service/internal/cache"
	"calendar-service/internal/calendar"
	"calendar-service/internal/conflict"
	"calendar-service/internal/domain"
	"calendar-service/internal/participants"
	"calendar-service/internal/recurrence"
)

// App holds the collaborators shared by the HTTP handlers. Google is nil
// when the integration is not configured.
type App struct {
	Engine   *calendar.Orchestrator
	Store    Store
	Resolver *conflict.Resolver
	Exp      *recurrence.Expander
	Listing  *cache.Listing[Occurrence]
	Google   *GoogleCalendar
}

type createAppointmentReq struct {
	domain.Appointment
	calendar.ConflictOptions
}

type updateAppointmentReq struct {
	domain.Delta
	LastModified time.Time `json:"last_modified"`
	calendar.ConflictOptions
}

type confirmReq struct {
	// UserID defaults to the caller.
	UserID       int64                `json:"user_id,omitempty"`
	Confirm      domain.ConfirmStatus `json:"confirm" binding:"min=0,max=3"`
	Message      string               `json:"message,omitempty" binding:"max=255"`
	LastModified time.Time            `json:"last_modified,omitzero"`
}

type classifyReq struct {
	domain.Delta
	Delete bool `json:"delete"`
}

type conflictsReq struct {
	domain.Appointment
	OverrideHard bool `json:"override_hard"`
}

// MutationResponse is returned by every write endpoint.
type MutationResponse struct {
	Appointment *domain.Appointment  `json:"appointment,omitempty"`
	Written     bool                 `json:"written"`
	Action      string               `json:"action,omitempty"`
	Conflicts   []conflict.Candidate `json:"conflicts,omitempty"`
	// Participants lists resources, groups and external users that joined
	// or left with this change.
	Participants *participants.ParticipantDiff `json:"participants,omitempty"`
	// Warnings list post commit failures. The change itself was saved.
	Warnings []string `json:"warnings,omitempty"`
}

func newMutationResponse(res *calendar.Result) MutationResponse {
	out := MutationResponse{
		Appointment: res.Appointment,
		Written:     res.Written,
		Conflicts:   res.Conflicts,
	}
	if res.Action != nil {
		out.Action = res.Action.Name()
	}
	if !res.Participants.Empty() {
		d := res.Participants
		out.Participants = &d
	}
	if res.ReminderErr != nil {
		out.Warnings = append(out.Warnings, "reminders not updated: "+res.ReminderErr.Error())
	}
	if res.NotifyErr != nil {
		out.Warnings = append(out.Warnings, "notification not delivered: "+res.NotifyErr.Error())
	}
	return out
}

// Occurrence is one entry of a user's appointment listing. Series are
// returned occurrence by occurrence.
type Occurrence struct {
	AppointmentID int64                `json:"appointment_id"`
	RecurrenceID  int64                `json:"recurrence_id,omitempty"`
	Position      int                  `json:"position,omitempty"`
	Title         string               `json:"title"`
	Location      string               `json:"location,omitempty"`
	StartUTC      time.Time            `json:"start_utc"`
	EndUTC        time.Time            `json:"end_utc"`
	FullDay       bool                 `json:"full_day"`
	ShownAs       int                  `json:"shown_as"`
	Confirm       domain.ConfirmStatus `json:"confirm"`
	LastModified  time.Time            `json:"last_modified"`
}
