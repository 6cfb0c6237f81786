// internal/store/postgres/repositories.go
package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jules-labs/libranexus/internal/store"
)

const (
	tableTitles       = "titles"
	tableCopies       = "copies"
	tableLoans        = "loans"
	tableReservations = "reservations"
	tableNotices      = "notices"
	tableMembers      = "members"
	tableCredentials  = "credentials"
)

var (
	titleCols       = []interface{}{"id", "isbn", "name", "author", "categories", "total_copies", "created_at"}
	copyCols        = []interface{}{"id", "title_id", "seq", "available", "created_at"}
	loanCols        = []interface{}{"id", "user_id", "copy_id", "title_id", "status", "start_date", "end_date", "returned_at", "prolonged", "reminded", "version", "created_at"}
	reservationCols = []interface{}{"id", "user_id", "title_id", "status", "seq", "created_at", "notified_at"}
	noticeCols      = []interface{}{"id", "user_id", "kind", "subject", "body", "title_id", "loan_id", "read", "created_at"}
	memberCols      = []interface{}{"id", "email", "name", "role", "status", "created_at"}
)

func from(table string) *goqu.SelectDataset {
	return dialect.From(table).Prepared(true)
}

// titleRow carries the categories array, which Title does not map.
type titleRow struct {
	store.Title
	Categories pq.StringArray `db:"categories"`
}

func (r titleRow) title() *store.Title {
	t := r.Title
	t.Categories = []string(r.Categories)
	return &t
}

type titles struct{ *pgTx }

func (r titles) Insert(ctx context.Context, t *store.Title) error {
	categories := t.Categories
	if categories == nil {
		categories = []string{}
	}
	_, err := r.exec(ctx, dialect.Insert(tableTitles).Prepared(true).Rows(goqu.Record{
		"id":           t.ID,
		"isbn":         t.ISBN,
		"name":         t.Name,
		"author":       t.Author,
		"categories":   pq.StringArray(categories),
		"total_copies": t.TotalCopies,
		"created_at":   t.CreatedAt,
	}))
	return err
}

func (r titles) Get(ctx context.Context, id uuid.UUID) (*store.Title, error) {
	var row titleRow
	if err := r.get(ctx, &row, from(tableTitles).Select(titleCols...).Where(goqu.C("id").Eq(id))); err != nil {
		return nil, err
	}
	return row.title(), nil
}

func (r titles) Lock(ctx context.Context, id uuid.UUID) (*store.Title, error) {
	var row titleRow
	q := from(tableTitles).Select(titleCols...).Where(goqu.C("id").Eq(id)).ForUpdate(exp.Wait)
	if err := r.get(ctx, &row, q); err != nil {
		return nil, err
	}
	return row.title(), nil
}

func (r titles) List(ctx context.Context) ([]store.Title, error) {
	var rows []titleRow
	if err := r.selectAll(ctx, &rows, from(tableTitles).Select(titleCols...).Order(goqu.C("name").Asc(), goqu.C("id").Asc())); err != nil {
		return nil, err
	}
	out := make([]store.Title, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row.title())
	}
	return out, nil
}

func (r titles) AdjustCopies(ctx context.Context, id uuid.UUID, delta int) error {
	n, err := r.exec(ctx, dialect.Update(tableTitles).Prepared(true).
		Set(goqu.Record{"total_copies": goqu.L("total_copies + ?", delta)}).
		Where(goqu.C("id").Eq(id), goqu.L("total_copies + ?", delta).Gte(0)))
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return store.ErrPrecondition
	}
	return nil
}

type copies struct{ *pgTx }

func (r copies) Insert(ctx context.Context, c *store.Copy) error {
	q := dialect.Insert(tableCopies).Prepared(true).Rows(goqu.Record{
		"id":         c.ID,
		"title_id":   c.TitleID,
		"available":  c.Available,
		"created_at": c.CreatedAt,
	}).Returning("seq")
	return r.get(ctx, &c.Seq, q)
}

func (r copies) Get(ctx context.Context, id uuid.UUID) (*store.Copy, error) {
	var c store.Copy
	if err := r.get(ctx, &c, from(tableCopies).Select(copyCols...).Where(goqu.C("id").Eq(id))); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r copies) ListByTitle(ctx context.Context, titleID uuid.UUID) ([]store.Copy, error) {
	var out []store.Copy
	err := r.selectAll(ctx, &out, from(tableCopies).Select(copyCols...).
		Where(goqu.C("title_id").Eq(titleID)).
		Order(goqu.C("seq").Asc()))
	return out, err
}

func (r copies) FirstAvailable(ctx context.Context, titleID uuid.UUID) (*store.Copy, error) {
	var c store.Copy
	err := r.get(ctx, &c, from(tableCopies).Select(copyCols...).
		Where(goqu.C("title_id").Eq(titleID), goqu.C("available").IsTrue()).
		Order(goqu.C("seq").Asc()).
		Limit(1))
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r copies) CompareAndSetAvailable(ctx context.Context, id uuid.UUID, expect, to bool) error {
	n, err := r.exec(ctx, dialect.Update(tableCopies).Prepared(true).
		Set(goqu.Record{"available": to}).
		Where(goqu.C("id").Eq(id), goqu.C("available").Eq(expect)))
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return store.ErrPrecondition
	}
	return nil
}

func (r copies) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := r.exec(ctx, dialect.Delete(tableCopies).Prepared(true).Where(goqu.C("id").Eq(id)))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type loans struct{ *pgTx }

func (r loans) Insert(ctx context.Context, l *store.Loan) error {
	if l.Version == 0 {
		l.Version = 1
	}
	_, err := r.exec(ctx, dialect.Insert(tableLoans).Prepared(true).Rows(goqu.Record{
		"id":          l.ID,
		"user_id":     l.UserID,
		"copy_id":     l.CopyID,
		"title_id":    l.TitleID,
		"status":      string(l.Status),
		"start_date":  l.StartDate,
		"end_date":    l.EndDate,
		"returned_at": l.ReturnedAt,
		"prolonged":   l.Prolonged,
		"reminded":    l.Reminded,
		"version":     l.Version,
		"created_at":  l.CreatedAt,
	}))
	return err
}

func (r loans) Get(ctx context.Context, id uuid.UUID) (*store.Loan, error) {
	var l store.Loan
	if err := r.get(ctx, &l, from(tableLoans).Select(loanCols...).Where(goqu.C("id").Eq(id))); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r loans) Update(ctx context.Context, l *store.Loan) error {
	n, err := r.exec(ctx, dialect.Update(tableLoans).Prepared(true).
		Set(goqu.Record{
			"status":      string(l.Status),
			"end_date":    l.EndDate,
			"returned_at": l.ReturnedAt,
			"prolonged":   l.Prolonged,
			"reminded":    l.Reminded,
			"version":     l.Version + 1,
		}).
		Where(goqu.C("id").Eq(l.ID), goqu.C("version").Eq(l.Version)))
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.Get(ctx, l.ID); err != nil {
			return err
		}
		return store.ErrConcurrencyConflict
	}
	l.Version++
	return nil
}

func (r loans) Find(ctx context.Context, f store.LoanFilter) ([]store.Loan, error) {
	var where []exp.Expression
	if f.UserID != uuid.Nil {
		where = append(where, goqu.C("user_id").Eq(f.UserID))
	}
	if f.TitleID != uuid.Nil {
		where = append(where, goqu.C("title_id").Eq(f.TitleID))
	}
	if f.CopyID != uuid.Nil {
		where = append(where, goqu.C("copy_id").Eq(f.CopyID))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		where = append(where, goqu.C("status").In(statuses))
	}
	if !f.DueFrom.IsZero() {
		where = append(where, goqu.C("end_date").Gte(f.DueFrom))
	}
	if !f.DueBefore.IsZero() {
		where = append(where, goqu.C("end_date").Lt(f.DueBefore))
	}

	var out []store.Loan
	err := r.selectAll(ctx, &out, from(tableLoans).Select(loanCols...).
		Where(where...).
		Order(goqu.C("start_date").Asc(), goqu.C("created_at").Asc(), goqu.C("id").Asc()))
	return out, err
}

type reservations struct{ *pgTx }

func (r reservations) Insert(ctx context.Context, res *store.Reservation) error {
	q := dialect.Insert(tableReservations).Prepared(true).Rows(goqu.Record{
		"id":          res.ID,
		"user_id":     res.UserID,
		"title_id":    res.TitleID,
		"status":      string(res.Status),
		"created_at":  res.CreatedAt,
		"notified_at": res.NotifiedAt,
	}).Returning("seq")
	return r.get(ctx, &res.Seq, q)
}

func (r reservations) list(ctx context.Context, where ...exp.Expression) ([]store.Reservation, error) {
	var out []store.Reservation
	err := r.selectAll(ctx, &out, from(tableReservations).Select(reservationCols...).
		Where(where...).
		Order(goqu.C("seq").Asc()))
	return out, err
}

func (r reservations) Queued(ctx context.Context, titleID uuid.UUID) ([]store.Reservation, error) {
	return r.list(ctx, goqu.C("title_id").Eq(titleID))
}

func (r reservations) ForUser(ctx context.Context, userID uuid.UUID) ([]store.Reservation, error) {
	return r.list(ctx, goqu.C("user_id").Eq(userID))
}

func (r reservations) ExistsWaiting(ctx context.Context, userID, titleID uuid.UUID) (bool, error) {
	var n int
	err := r.get(ctx, &n, from(tableReservations).Select(goqu.COUNT("*")).Where(
		goqu.C("user_id").Eq(userID),
		goqu.C("title_id").Eq(titleID),
		goqu.C("status").Eq(string(store.ReservationWaiting)),
	))
	return n > 0, err
}

func (r reservations) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	n, err := r.exec(ctx, dialect.Update(tableReservations).Prepared(true).
		Set(goqu.Record{"status": string(store.ReservationNotified), "notified_at": at}).
		Where(goqu.C("id").Eq(id), goqu.C("status").Eq(string(store.ReservationWaiting))))
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := r.get(ctx, &exists, from(tableReservations).Select(goqu.COUNT("*")).Where(goqu.C("id").Eq(id))); err != nil {
			return err
		}
		if exists == 0 {
			return store.ErrNotFound
		}
		return store.ErrPrecondition
	}
	return nil
}

func (r reservations) DeleteFor(ctx context.Context, userID, titleID uuid.UUID) (int64, error) {
	return r.exec(ctx, dialect.Delete(tableReservations).Prepared(true).
		Where(goqu.C("user_id").Eq(userID), goqu.C("title_id").Eq(titleID)))
}

func (r reservations) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := r.exec(ctx, dialect.Delete(tableReservations).Prepared(true).Where(goqu.C("id").Eq(id)))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r reservations) NotifiedBefore(ctx context.Context, cutoff time.Time) ([]store.Reservation, error) {
	return r.list(ctx,
		goqu.C("status").Eq(string(store.ReservationNotified)),
		goqu.C("notified_at").Lt(cutoff),
	)
}

type notices struct{ *pgTx }

func (r notices) Insert(ctx context.Context, n *store.Notice) error {
	_, err := r.exec(ctx, dialect.Insert(tableNotices).Prepared(true).Rows(goqu.Record{
		"id":         n.ID,
		"user_id":    n.UserID,
		"kind":       string(n.Kind),
		"subject":    n.Subject,
		"body":       n.Body,
		"title_id":   n.TitleID,
		"loan_id":    n.LoanID,
		"read":       n.Read,
		"created_at": n.CreatedAt,
	}))
	return err
}

func (r notices) ForUser(ctx context.Context, userID uuid.UUID) ([]store.Notice, error) {
	var out []store.Notice
	err := r.selectAll(ctx, &out, from(tableNotices).Select(noticeCols...).
		Where(goqu.C("user_id").Eq(userID)).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Asc()))
	return out, err
}

func (r notices) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	n, err := r.exec(ctx, dialect.Update(tableNotices).Prepared(true).
		Set(goqu.Record{"read": true}).
		Where(goqu.C("id").Eq(id), goqu.C("user_id").Eq(userID)))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type members struct{ *pgTx }

func (r members) Insert(ctx context.Context, m *store.Member, c *store.Credential) error {
	_, err := r.exec(ctx, dialect.Insert(tableMembers).Prepared(true).Rows(goqu.Record{
		"id":         m.ID,
		"email":      m.Email,
		"name":       m.Name,
		"role":       string(m.Role),
		"status":     m.Status,
		"created_at": m.CreatedAt,
	}))
	if err != nil {
		return err
	}
	if c == nil {
		return nil
	}
	_, err = r.exec(ctx, dialect.Insert(tableCredentials).Prepared(true).Rows(goqu.Record{
		"member_id":     m.ID,
		"password_hash": c.PasswordHash,
		"salt":          c.Salt,
	}))
	return err
}

func (r members) Get(ctx context.Context, id uuid.UUID) (*store.Member, error) {
	var m store.Member
	if err := r.get(ctx, &m, from(tableMembers).Select(memberCols...).Where(goqu.C("id").Eq(id))); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r members) GetByEmail(ctx context.Context, email string) (*store.Member, error) {
	var m store.Member
	q := from(tableMembers).Select(memberCols...).
		Where(goqu.Func("lower", goqu.C("email")).Eq(strings.ToLower(email)))
	if err := r.get(ctx, &m, q); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r members) Credential(ctx context.Context, memberID uuid.UUID) (*store.Credential, error) {
	var c store.Credential
	q := from(tableCredentials).Select("member_id", "password_hash", "salt").Where(goqu.C("member_id").Eq(memberID))
	if err := r.get(ctx, &c, q); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r members) SetRole(ctx context.Context, id uuid.UUID, role store.Role) error {
	n, err := r.exec(ctx, dialect.Update(tableMembers).Prepared(true).
		Set(goqu.Record{"role": string(role)}).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
