// internal/clients/catalog_client.go
package clients

import (
	"context"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/catalog"
	"github.com/jules-labs/libranexus/internal/inventory"
	"github.com/jules-labs/libranexus/internal/store"
)

func (c *Client) AddTitle(ctx context.Context, in catalog.NewTitle) (*store.Title, error) {
	var title store.Title
	if err := c.do(ctx, http.MethodPost, "/api/v1/titles", in, &title); err != nil {
		return nil, err
	}
	return &title, nil
}

func (c *Client) Title(ctx context.Context, id uuid.UUID) (*catalog.TitleView, error) {
	var view catalog.TitleView
	if err := c.do(ctx, http.MethodGet, "/api/v1/titles/"+id.String(), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Search lists every title when query is empty.
func (c *Client) Search(ctx context.Context, query string) ([]catalog.TitleView, error) {
	path := "/api/v1/titles"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	var views []catalog.TitleView
	err := c.do(ctx, http.MethodGet, path, nil, &views)
	return views, err
}

func (c *Client) AddCopies(ctx context.Context, titleID uuid.UUID, n int) ([]store.Copy, error) {
	var copies []store.Copy
	err := c.do(ctx, http.MethodPost, "/api/v1/titles/"+titleID.String()+"/copies", map[string]int{"copies": n}, &copies)
	return copies, err
}

func (c *Client) RemoveCopy(ctx context.Context, copyID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/copies/"+copyID.String(), nil, nil)
}

func (c *Client) Verify(ctx context.Context, titleID uuid.UUID) (*inventory.IntegrityReport, error) {
	var report inventory.IntegrityReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/titles/"+titleID.String()+"/verify", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
