// internal/clients/circulation_client.go
package clients

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/circulation"
	"github.com/jules-labs/libranexus/internal/store"
)

// Borrow lends copyID when set, otherwise any copy of titleID. A nil user
// borrows for the caller.
func (c *Client) Borrow(ctx context.Context, userID, titleID, copyID uuid.UUID) (*store.Loan, error) {
	var loan store.Loan
	in := map[string]uuid.UUID{"user_id": userID, "title_id": titleID, "copy_id": copyID}
	if err := c.do(ctx, http.MethodPost, "/api/v1/loans", in, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *Client) Extend(ctx context.Context, userID, titleID uuid.UUID) (*store.Loan, error) {
	var loan store.Loan
	in := map[string]uuid.UUID{"user_id": userID, "title_id": titleID}
	if err := c.do(ctx, http.MethodPost, "/api/v1/loans/extend", in, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *Client) Return(ctx context.Context, loanID uuid.UUID) (*store.Loan, error) {
	var loan store.Loan
	if err := c.do(ctx, http.MethodPost, "/api/v1/loans/"+loanID.String()+"/return", nil, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *Client) Loans(ctx context.Context, userID uuid.UUID) ([]store.Loan, error) {
	var loans []store.Loan
	err := c.do(ctx, http.MethodGet, "/api/v1/members/"+userID.String()+"/loans", nil, &loans)
	return loans, err
}

func (c *Client) Overdue(ctx context.Context) ([]store.Loan, error) {
	var loans []store.Loan
	err := c.do(ctx, http.MethodGet, "/api/v1/loans/overdue", nil, &loans)
	return loans, err
}

func (c *Client) Reserve(ctx context.Context, userID, titleID uuid.UUID) (*store.Reservation, error) {
	var entry store.Reservation
	in := map[string]uuid.UUID{"user_id": userID}
	if err := c.do(ctx, http.MethodPost, "/api/v1/titles/"+titleID.String()+"/queue", in, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) Leave(ctx context.Context, userID, titleID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/titles/"+titleID.String()+"/queue/"+userID.String(), nil, nil)
}

func (c *Client) Position(ctx context.Context, userID, titleID uuid.UUID) (*circulation.PositionResponse, error) {
	var pos circulation.PositionResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/titles/"+titleID.String()+"/queue/"+userID.String(), nil, &pos); err != nil {
		return nil, err
	}
	return &pos, nil
}

func (c *Client) Queue(ctx context.Context, titleID uuid.UUID) ([]store.Reservation, error) {
	var entries []store.Reservation
	err := c.do(ctx, http.MethodGet, "/api/v1/titles/"+titleID.String()+"/queue", nil, &entries)
	return entries, err
}

func (c *Client) Sweep(ctx context.Context) (*circulation.SweepReport, error) {
	var report circulation.SweepReport
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/sweep", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) ExpireNotified(ctx context.Context, olderThan string) (*circulation.ExpiryReport, error) {
	var report circulation.ExpiryReport
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/expire", map[string]string{"older_than": olderThan}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
