// internal/store/memstore/memstore.go

// Package memstore is an in-process transactional store.
//
// Transactions are serialized by a mutex. Each one starts from the committed
// state and copies a table the first time it writes to it, so reads cost
// nothing extra. The transaction's state replaces the committed state only
// when the transaction function returns nil.
package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/store"
)

type state struct {
	titles       map[uuid.UUID]store.Title
	copies       map[uuid.UUID]store.Copy
	loans        map[uuid.UUID]store.Loan
	reservations map[uuid.UUID]store.Reservation
	notices      map[uuid.UUID]store.Notice
	members      map[uuid.UUID]store.Member
	credentials  map[uuid.UUID]store.Credential
	events       map[uuid.UUID][]store.Event

	copySeq        int64
	reservationSeq int64
	eventSeq       int64
}

func newState() state {
	return state{
		titles:       map[uuid.UUID]store.Title{},
		copies:       map[uuid.UUID]store.Copy{},
		loans:        map[uuid.UUID]store.Loan{},
		reservations: map[uuid.UUID]store.Reservation{},
		notices:      map[uuid.UUID]store.Notice{},
		members:      map[uuid.UUID]store.Member{},
		credentials:  map[uuid.UUID]store.Credential{},
		events:       map[uuid.UUID][]store.Event{},
	}
}

type table uint8

const (
	tableTitles table = 1 << iota
	tableCopies
	tableLoans
	tableReservations
	tableNotices
	tableMembers
	tableCredentials
	tableEvents
)

// write returns *m, first replacing it with a private copy if the
// transaction still shares it with the committed state. Stored values are
// never modified in place.
func write[K comparable, V any](t *tx, tb table, m *map[K]V) map[K]V {
	if t.owned&tb == 0 {
		*m = maps.Clone(*m)
		t.owned |= tb
	}
	return *m
}

// Store is the in-memory store.Store.
type Store struct {
	mu        sync.Mutex
	committed state
}

// New returns an empty store.
func New() *Store {
	return &Store{committed: newState()}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{st: s.committed}
	if err := fn(ctx, t); err != nil {
		return err
	}
	s.committed = t.st
	return nil
}

func (s *Store) Close() error { return nil }

type tx struct {
	st    state
	owned table
}

func (t *tx) Titles() store.TitleRepository             { return titles{t} }
func (t *tx) Copies() store.CopyRepository              { return copies{t} }
func (t *tx) Loans() store.LoanRepository               { return loans{t} }
func (t *tx) Reservations() store.ReservationRepository { return reservations{t} }
func (t *tx) Notices() store.NoticeRepository           { return notices{t} }
func (t *tx) Members() store.MemberRepository           { return members{t} }
func (t *tx) Events() store.EventRepository             { return events{t} }

type titles struct{ tx *tx }

func (r titles) Insert(_ context.Context, t *store.Title) error {
	if _, ok := r.tx.st.titles[t.ID]; ok {
		return store.ErrDuplicate
	}
	write(r.tx, tableTitles, &r.tx.st.titles)[t.ID] = t.Clone()
	return nil
}

func (r titles) Get(_ context.Context, id uuid.UUID) (*store.Title, error) {
	t, ok := r.tx.st.titles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := t.Clone()
	return &out, nil
}

// Lock is Get: transactions are already serialized.
func (r titles) Lock(ctx context.Context, id uuid.UUID) (*store.Title, error) {
	return r.Get(ctx, id)
}

func (r titles) List(_ context.Context) ([]store.Title, error) {
	out := make([]store.Title, 0, len(r.tx.st.titles))
	for _, t := range r.tx.st.titles {
		out = append(out, t.Clone())
	}
	slices.SortFunc(out, func(a, b store.Title) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), strings.Compare(a.ID.String(), b.ID.String()))
	})
	return out, nil
}

func (r titles) AdjustCopies(_ context.Context, id uuid.UUID, delta int) error {
	t, ok := r.tx.st.titles[id]
	if !ok {
		return store.ErrNotFound
	}
	if t.TotalCopies+delta < 0 {
		return store.ErrPrecondition
	}
	t.TotalCopies += delta
	write(r.tx, tableTitles, &r.tx.st.titles)[id] = t
	return nil
}

type copies struct{ tx *tx }

func (r copies) Insert(_ context.Context, c *store.Copy) error {
	if _, ok := r.tx.st.titles[c.TitleID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := r.tx.st.copies[c.ID]; ok {
		return store.ErrDuplicate
	}
	r.tx.st.copySeq++
	c.Seq = r.tx.st.copySeq
	write(r.tx, tableCopies, &r.tx.st.copies)[c.ID] = *c
	return nil
}

func (r copies) Get(_ context.Context, id uuid.UUID) (*store.Copy, error) {
	c, ok := r.tx.st.copies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (r copies) ListByTitle(_ context.Context, titleID uuid.UUID) ([]store.Copy, error) {
	var out []store.Copy
	for _, c := range r.tx.st.copies {
		if c.TitleID == titleID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b store.Copy) int { return cmp.Compare(a.Seq, b.Seq) })
	return out, nil
}

func (r copies) FirstAvailable(ctx context.Context, titleID uuid.UUID) (*store.Copy, error) {
	all, _ := r.ListByTitle(ctx, titleID)
	for _, c := range all {
		if c.Available {
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r copies) CompareAndSetAvailable(_ context.Context, id uuid.UUID, from, to bool) error {
	c, ok := r.tx.st.copies[id]
	if !ok {
		return store.ErrNotFound
	}
	if c.Available != from {
		return store.ErrPrecondition
	}
	c.Available = to
	write(r.tx, tableCopies, &r.tx.st.copies)[id] = c
	return nil
}

func (r copies) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.tx.st.copies[id]; !ok {
		return store.ErrNotFound
	}
	delete(write(r.tx, tableCopies, &r.tx.st.copies), id)
	return nil
}

type loans struct{ tx *tx }

func (r loans) Insert(_ context.Context, l *store.Loan) error {
	if _, ok := r.tx.st.loans[l.ID]; ok {
		return store.ErrDuplicate
	}
	// mirrors the partial unique index on open loans per copy
	if l.Status.Open() {
		for _, other := range r.tx.st.loans {
			if other.CopyID == l.CopyID && other.Status.Open() {
				return store.ErrDuplicate
			}
		}
	}
	if l.Version == 0 {
		l.Version = 1
	}
	write(r.tx, tableLoans, &r.tx.st.loans)[l.ID] = *l
	return nil
}

func (r loans) Get(_ context.Context, id uuid.UUID) (*store.Loan, error) {
	l, ok := r.tx.st.loans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (r loans) Update(_ context.Context, l *store.Loan) error {
	cur, ok := r.tx.st.loans[l.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != l.Version {
		return store.ErrConcurrencyConflict
	}
	l.Version++
	write(r.tx, tableLoans, &r.tx.st.loans)[l.ID] = *l
	return nil
}

func (r loans) Find(_ context.Context, f store.LoanFilter) ([]store.Loan, error) {
	var out []store.Loan
	for _, l := range r.tx.st.loans {
		if matchLoan(l, f) {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b store.Loan) int {
		return cmp.Or(
			a.StartDate.Compare(b.StartDate),
			a.CreatedAt.Compare(b.CreatedAt),
			strings.Compare(a.ID.String(), b.ID.String()),
		)
	})
	return out, nil
}

func matchLoan(l store.Loan, f store.LoanFilter) bool {
	switch {
	case f.UserID != uuid.Nil && l.UserID != f.UserID:
		return false
	case f.TitleID != uuid.Nil && l.TitleID != f.TitleID:
		return false
	case f.CopyID != uuid.Nil && l.CopyID != f.CopyID:
		return false
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, l.Status):
		return false
	case !f.DueFrom.IsZero() && l.EndDate.Before(f.DueFrom):
		return false
	case !f.DueBefore.IsZero() && !l.EndDate.Before(f.DueBefore):
		return false
	}
	return true
}

type reservations struct{ tx *tx }

func (r reservations) Insert(ctx context.Context, res *store.Reservation) error {
	if res.Status == store.ReservationWaiting {
		if dup, _ := r.ExistsWaiting(ctx, res.UserID, res.TitleID); dup {
			return store.ErrDuplicate
		}
	}
	r.tx.st.reservationSeq++
	res.Seq = r.tx.st.reservationSeq
	write(r.tx, tableReservations, &r.tx.st.reservations)[res.ID] = *res
	return nil
}

func (r reservations) collect(keep func(store.Reservation) bool) []store.Reservation {
	var out []store.Reservation
	for _, res := range r.tx.st.reservations {
		if keep(res) {
			out = append(out, res)
		}
	}
	slices.SortFunc(out, func(a, b store.Reservation) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

func (r reservations) Queued(_ context.Context, titleID uuid.UUID) ([]store.Reservation, error) {
	return r.collect(func(res store.Reservation) bool { return res.TitleID == titleID }), nil
}

func (r reservations) ForUser(_ context.Context, userID uuid.UUID) ([]store.Reservation, error) {
	return r.collect(func(res store.Reservation) bool { return res.UserID == userID }), nil
}

func (r reservations) ExistsWaiting(_ context.Context, userID, titleID uuid.UUID) (bool, error) {
	for _, res := range r.tx.st.reservations {
		if res.UserID == userID && res.TitleID == titleID && res.Status == store.ReservationWaiting {
			return true, nil
		}
	}
	return false, nil
}

func (r reservations) MarkNotified(_ context.Context, id uuid.UUID, at time.Time) error {
	res, ok := r.tx.st.reservations[id]
	if !ok {
		return store.ErrNotFound
	}
	if res.Status != store.ReservationWaiting {
		return store.ErrPrecondition
	}
	res.Status = store.ReservationNotified
	res.NotifiedAt = &at
	write(r.tx, tableReservations, &r.tx.st.reservations)[id] = res
	return nil
}

func (r reservations) DeleteFor(_ context.Context, userID, titleID uuid.UUID) (int64, error) {
	var n int64
	for id, res := range r.tx.st.reservations {
		if res.UserID == userID && res.TitleID == titleID {
			delete(write(r.tx, tableReservations, &r.tx.st.reservations), id)
			n++
		}
	}
	return n, nil
}

func (r reservations) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.tx.st.reservations[id]; !ok {
		return store.ErrNotFound
	}
	delete(write(r.tx, tableReservations, &r.tx.st.reservations), id)
	return nil
}

func (r reservations) NotifiedBefore(_ context.Context, cutoff time.Time) ([]store.Reservation, error) {
	return r.collect(func(res store.Reservation) bool {
		return res.Status == store.ReservationNotified && res.NotifiedAt != nil && res.NotifiedAt.Before(cutoff)
	}), nil
}

type notices struct{ tx *tx }

func (r notices) Insert(_ context.Context, n *store.Notice) error {
	write(r.tx, tableNotices, &r.tx.st.notices)[n.ID] = *n
	return nil
}

func (r notices) ForUser(_ context.Context, userID uuid.UUID) ([]store.Notice, error) {
	var out []store.Notice
	for _, n := range r.tx.st.notices {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b store.Notice) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), strings.Compare(a.ID.String(), b.ID.String()))
	})
	return out, nil
}

func (r notices) MarkRead(_ context.Context, userID, id uuid.UUID) error {
	n, ok := r.tx.st.notices[id]
	if !ok || n.UserID != userID {
		return store.ErrNotFound
	}
	n.Read = true
	write(r.tx, tableNotices, &r.tx.st.notices)[id] = n
	return nil
}

type members struct{ tx *tx }

func (r members) Insert(_ context.Context, m *store.Member, c *store.Credential) error {
	if _, ok := r.tx.st.members[m.ID]; ok {
		return store.ErrDuplicate
	}
	for _, other := range r.tx.st.members {
		if strings.EqualFold(other.Email, m.Email) {
			return store.ErrDuplicate
		}
	}
	write(r.tx, tableMembers, &r.tx.st.members)[m.ID] = *m
	if c != nil {
		write(r.tx, tableCredentials, &r.tx.st.credentials)[m.ID] = *c
	}
	return nil
}

func (r members) Get(_ context.Context, id uuid.UUID) (*store.Member, error) {
	m, ok := r.tx.st.members[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (r members) GetByEmail(_ context.Context, email string) (*store.Member, error) {
	for _, m := range r.tx.st.members {
		if strings.EqualFold(m.Email, email) {
			return &m, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r members) Credential(_ context.Context, memberID uuid.UUID) (*store.Credential, error) {
	c, ok := r.tx.st.credentials[memberID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (r members) SetRole(_ context.Context, id uuid.UUID, role store.Role) error {
	m, ok := r.tx.st.members[id]
	if !ok {
		return store.ErrNotFound
	}
	m.Role = role
	write(r.tx, tableMembers, &r.tx.st.members)[id] = m
	return nil
}

type events struct{ tx *tx }

func (r events) Append(_ context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, evs []store.Event) error {
	stream := slices.Clip(r.tx.st.events[aggregateID])
	current := 0
	if n := len(stream); n > 0 {
		current = stream[n-1].Version
	}
	if current != expectedVersion {
		return store.ErrConcurrencyConflict
	}
	for i, ev := range evs {
		r.tx.st.eventSeq++
		ev.ID = r.tx.st.eventSeq
		ev.AggregateID = aggregateID
		ev.AggregateType = aggregateType
		ev.Version = expectedVersion + i + 1
		stream = append(stream, ev)
	}
	write(r.tx, tableEvents, &r.tx.st.events)[aggregateID] = stream
	return nil
}

func (r events) Load(_ context.Context, aggregateID uuid.UUID) ([]store.Event, error) {
	return slices.Clone(r.tx.st.events[aggregateID]), nil
}
