package store

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"calendar-service/internal/calendar"
	"calendar-service/internal/domain"
)

type key struct {
	cid int64
	id  int64
}

// Memory is an in-process store. Transactions are serialized and work on a
// copy of the data that replaces the original on commit.
type Memory struct {
	mu      sync.Mutex
	byID    map[key]domain.Appointment
	backups []domain.Appointment
	seq     map[int64]int64
}

func NewMemory() *Memory {
	return &Memory{
		byID: make(map[key]domain.Appointment),
		seq:  make(map[int64]int64),
	}
}

var _ calendar.Store = (*Memory)(nil)

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx calendar.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		byID: maps.Clone(m.byID),
		seq:  maps.Clone(m.seq),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.byID = tx.byID
	m.seq = tx.seq
	m.backups = append(m.backups, tx.backups...)
	return nil
}

// Get returns a stored appointment outside of any transaction.
func (m *Memory) Get(_ context.Context, contextID, id int64) (domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[key{contextID, id}]
	if !ok {
		return domain.Appointment{}, domain.NotFound()
	}
	return a.Clone(), nil
}

// Backups returns the rows written to the backup table.
func (m *Memory) Backups() []domain.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.backups)
}

func (m *Memory) ListOverlapping(ctx context.Context, contextID int64, users, resources []int64, from, to time.Time) ([]domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{byID: m.byID}).ListOverlapping(ctx, contextID, users, resources, from, to)
}

func (m *Memory) CountByCreator(_ context.Context, contextID, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, a := range m.byID {
		if k.cid == contextID && a.CreatedBy == userID && !a.IsException() {
			n++
		}
	}
	return n, nil
}

type memTx struct {
	byID    map[key]domain.Appointment
	seq     map[int64]int64
	backups []domain.Appointment
}

func (t *memTx) NextID(_ context.Context, contextID int64) (int64, error) {
	t.seq[contextID]++
	return t.seq[contextID], nil
}

func (t *memTx) Load(_ context.Context, contextID, id int64) (domain.Appointment, error) {
	a, ok := t.byID[key{contextID, id}]
	if !ok {
		return domain.Appointment{}, domain.NotFound()
	}
	return a.Clone(), nil
}

func (t *memTx) FindException(_ context.Context, contextID, masterID int64, date time.Time) (domain.Appointment, error) {
	for k, a := range t.byID {
		if k.cid == contextID && a.IsException() && a.RecurrenceID == masterID && a.RecurrenceDatePosition.Equal(date) {
			return a.Clone(), nil
		}
	}
	return domain.Appointment{}, domain.NotFound()
}

func (t *memTx) ListExceptions(_ context.Context, contextID, masterID int64) ([]domain.Appointment, error) {
	var out []domain.Appointment
	for k, a := range t.byID {
		if k.cid == contextID && a.IsException() && a.RecurrenceID == masterID {
			out = append(out, a.Clone())
		}
	}
	sortByStart(out)
	return out, nil
}

func (t *memTx) Insert(_ context.Context, a *domain.Appointment) error {
	k := key{a.ContextID, a.ID}
	if _, exists := t.byID[k]; exists {
		return domain.Persistence("insert", errDuplicate)
	}
	t.byID[k] = a.Clone()
	return nil
}

func (t *memTx) Update(_ context.Context, a *domain.Appointment, expected time.Time) error {
	k := key{a.ContextID, a.ID}
	cur, ok := t.byID[k]
	if !ok {
		return domain.NotFound()
	}
	if !cur.LastModified.Equal(expected) {
		return domain.OptimisticConflict()
	}
	t.byID[k] = a.Clone()
	return nil
}

func (t *memTx) Delete(_ context.Context, contextID, id int64) error {
	k := key{contextID, id}
	if _, ok := t.byID[k]; !ok {
		return domain.NotFound()
	}
	delete(t.byID, k)
	return nil
}

func (t *memTx) Backup(_ context.Context, a *domain.Appointment) error {
	t.backups = append(t.backups, a.Clone())
	return nil
}

func (t *memTx) ListOverlapping(_ context.Context, contextID int64, users, resources []int64, from, to time.Time) ([]domain.Appointment, error) {
	var out []domain.Appointment
	for k, a := range t.byID {
		if k.cid != contextID || !involves(&a, users, resources) || !spans(&a, from, to) {
			continue
		}
		out = append(out, a.Clone())
	}
	sortByStart(out)
	return out, nil
}

func involves(a *domain.Appointment, users, resources []int64) bool {
	for _, u := range a.Users {
		if slices.Contains(users, u.UserID) {
			return true
		}
	}
	for _, r := range a.Resources() {
		if slices.Contains(resources, r) {
			return true
		}
	}
	return false
}

// spans reports whether the row, or for a master its whole series, touches
// [from, to).
func spans(a *domain.Appointment, from, to time.Time) bool {
	if !to.IsZero() && !a.Start.Before(to) {
		return false
	}
	end := a.End
	if a.IsMaster() {
		if a.SeriesEnd.IsZero() {
			return true
		}
		end = a.SeriesEnd
	}
	return from.IsZero() || end.After(from)
}

func sortByStart(as []domain.Appointment) {
	slices.SortFunc(as, func(a, b domain.Appointment) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
