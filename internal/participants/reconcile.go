// Package participants computes the attendee delta of an appointment update
// and the reminder targets that follow from it.
package participants

import (
	"cmp"
	"slices"

	"calendar-service/internal/domain"
)

// Result partitions the reconciled attendee set.
//
// Merged is the attendee list to persist: unchanged and modified attendees
// from the intersection plus the added ones, sorted by user id.
type Result struct {
	Added    []domain.Attendee
	Modified []domain.Attendee
	Removed  []domain.Attendee
	Merged   []domain.Attendee
}

// Changed reports whether any attendee was added, removed or modified.
func (r Result) Changed() bool {
	return len(r.Added)+len(r.Modified)+len(r.Removed) > 0
}

// Request holds the reconciliation inputs. SharedFolderOwner is 0 when the
// appointment does not live in a shared folder.
type Request struct {
	Old               []domain.Attendee
	New               []domain.Attendee
	Actor             int64
	SharedFolderOwner int64
	TimeChanged       bool
}

// Reconcile diffs the stored attendees against the requested ones.
//
// Only the actor and the shared folder owner may rewrite their own
// confirmation, message, alarm and folder; values the actor may not change
// are silently replaced by the stored ones. A time change resets the
// confirmation of everybody else to none.
func Reconcile(req Request) (Result, error) {
	oldSet := sorted(req.Old)
	newSet := sorted(req.New)

	var res Result
	i, j := 0, 0
	for i < len(oldSet) || j < len(newSet) {
		switch {
		case j >= len(newSet) || (i < len(oldSet) && oldSet[i].UserID < newSet[j].UserID):
			res.Removed = append(res.Removed, oldSet[i])
			i++
		case i >= len(oldSet) || newSet[j].UserID < oldSet[i].UserID:
			a := added(newSet[j], req)
			res.Added = append(res.Added, a)
			res.Merged = append(res.Merged, a)
			j++
		default:
			m, modified := merge(oldSet[i], newSet[j], req)
			if modified {
				res.Modified = append(res.Modified, m)
			}
			res.Merged = append(res.Merged, m)
			i++
			j++
		}
	}
	if len(res.Merged) == 0 {
		return Result{}, domain.Validation("users", "appointment needs at least one participant")
	}
	return res, nil
}

func authorized(userID int64, req Request) bool {
	return userID == req.Actor || (req.SharedFolderOwner != 0 && userID == req.SharedFolderOwner)
}

func added(n domain.Attendee, req Request) domain.Attendee {
	n.SuppressNotification = false
	if !authorized(n.UserID, req) {
		n.Confirm = domain.ConfirmNone
		n.ConfirmMessage = ""
	}
	return n
}

func merge(o, n domain.Attendee, req Request) (domain.Attendee, bool) {
	o.SuppressNotification = false
	n.SuppressNotification = false
	if !authorized(n.UserID, req) {
		m := o
		m.DisplayName, m.Email = n.DisplayName, n.Email
		if req.TimeChanged {
			m.Confirm = domain.ConfirmNone
			return m, true
		}
		return m, false
	}
	if req.TimeChanged {
		return n, true
	}
	changed := o.Confirm != n.Confirm ||
		o.ConfirmMessage != n.ConfirmMessage ||
		o.Alarm != n.Alarm ||
		o.FolderID != n.FolderID
	return n, changed
}

func sorted(in []domain.Attendee) []domain.Attendee {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b domain.Attendee) int { return cmp.Compare(a.UserID, b.UserID) })
	return slices.CompactFunc(out, func(a, b domain.Attendee) bool { return a.UserID == b.UserID })
}

// ParticipantDiff is the membership delta of non-attendee participants.
type ParticipantDiff struct {
	Added   []domain.Participant `json:"added,omitempty"`
	Removed []domain.Participant `json:"removed,omitempty"`
}

func (d ParticipantDiff) Empty() bool {
	return len(d.Added)+len(d.Removed) == 0
}

// DiffParticipants compares participant sets by key. Internal users are
// skipped, Reconcile covers them. Resources carry no confirmation state, so
// a time change does not touch them.
func DiffParticipants(old, next []domain.Participant) ParticipantDiff {
	var d ParticipantDiff
	oldKeys := make(map[domain.Key]struct{}, len(old))
	for _, p := range old {
		oldKeys[p.Key()] = struct{}{}
	}
	newKeys := make(map[domain.Key]struct{}, len(next))
	for _, p := range next {
		if p.Type == domain.ParticipantUser {
			continue
		}
		if _, dup := newKeys[p.Key()]; dup {
			continue
		}
		newKeys[p.Key()] = struct{}{}
		if _, ok := oldKeys[p.Key()]; !ok {
			d.Added = append(d.Added, p)
		}
	}
	for _, p := range old {
		if p.Type == domain.ParticipantUser {
			continue
		}
		if _, ok := newKeys[p.Key()]; !ok {
			d.Removed = append(d.Removed, p)
			newKeys[p.Key()] = struct{}{}
		}
	}
	return d
}
