// internal/clients/membership_client.go
package clients

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/membership"
	"github.com/jules-labs/libranexus/internal/store"
)

func (c *Client) Register(ctx context.Context, email, name, password string) (*store.Member, error) {
	var member store.Member
	in := map[string]string{"email": email, "name": name, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/members", in, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*membership.LoginResponse, error) {
	var out membership.LoginResponse
	in := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/members/login", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Member(ctx context.Context, id uuid.UUID) (*store.Member, error) {
	var member store.Member
	if err := c.do(ctx, http.MethodGet, "/api/v1/members/"+id.String(), nil, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *Client) Promote(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/v1/members/"+id.String()+"/promote", nil, nil)
}

func (c *Client) Notices(ctx context.Context) ([]store.Notice, error) {
	var notices []store.Notice
	err := c.do(ctx, http.MethodGet, "/api/v1/notices", nil, &notices)
	return notices, err
}
