package domain

// Event is the kind of notification a committed mutation triggers.
type Event string

const (
	EventCreated          Event = "created"
	EventUpdated          Event = "updated"
	EventDeleted          Event = "deleted"
	EventConfirmAccepted  Event = "confirm_accepted"
	EventConfirmDeclined  Event = "confirm_declined"
	EventConfirmTentative Event = "confirm_tentative"

	// Participant events inform resources, groups and external users that
	// joined or left an existing appointment. The appointment they carry
	// lists only those participants and no attendees.
	EventParticipantAdded   Event = "participant_added"
	EventParticipantRemoved Event = "participant_removed"
)

// ConfirmEvent returns the event for a confirmation status change. There is
// none for resetting to ConfirmNone.
func ConfirmEvent(c ConfirmStatus) (Event, bool) {
	switch c {
	case ConfirmAccepted:
		return EventConfirmAccepted, true
	case ConfirmDeclined:
		return EventConfirmDeclined, true
	case ConfirmTentative:
		return EventConfirmTentative, true
	}
	return "", false
}
