package app

import (
	"cmp"
	"context"
	"slices"
	"time"

	"calendar-service/internal/domain"
	"calendar-service/internal/recurrence"
)

// ListOccurrences expands the appointments of userID into occurrences
// intersecting [fromUTC, toUTC). Occurrences covered by a delete exception
// or replaced by a change exception are skipped; the exception rows are
// listed on their own.
func (a *App) ListOccurrences(ctx context.Context, contextID, userID int64, fromUTC, toUTC time.Time) ([]Occurrence, error) {
	rows, err := a.Store.ListOverlapping(ctx, contextID, []int64{userID}, nil, fromUTC, toUTC)
	if err != nil {
		return nil, err
	}

	var out []Occurrence
	for i := range rows {
		r := &rows[i]
		att, ok := r.Attendee(userID)
		if !ok {
			continue
		}
		if !r.IsMaster() {
			if r.End.After(fromUTC) && r.Start.Before(toUTC) {
				out = append(out, occurrenceOf(r, att, r.RecurrencePosition, r.Start, r.End))
			}
			continue
		}
		for occ := range a.Exp.Expand(recurrence.SeriesOf(r), fromUTC, toUTC) {
			if domain.HasDate(r.DeleteExceptions, occ.Start) || domain.HasDate(r.ChangeExceptions, occ.Start) {
				continue
			}
			out = append(out, occurrenceOf(r, att, occ.Position, occ.Start, occ.End))
		}
	}

	slices.SortFunc(out, func(x, y Occurrence) int {
		if c := x.StartUTC.Compare(y.StartUTC); c != 0 {
			return c
		}
		return cmp.Compare(x.AppointmentID, y.AppointmentID)
	})
	return out, nil
}

func occurrenceOf(r *domain.Appointment, att domain.Attendee, pos int, start, end time.Time) Occurrence {
	return Occurrence{
		AppointmentID: r.ID,
		RecurrenceID:  r.RecurrenceID,
		Position:      pos,
		Title:         r.Title,
		Location:      r.Location,
		StartUTC:      start.UTC(),
		EndUTC:        end.UTC(),
		FullDay:       r.FullDay,
		ShownAs:       r.ShownAs,
		Confirm:       att.Confirm,
		LastModified:  r.LastModified,
	}
}
