// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/clock"
	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/inventory"
	"github.com/jules-labs/libranexus/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const searchLimit = 10

// service implements the Service interface.
type service struct {
	store    store.Store
	stock    Stock
	registry *inventory.Registry
	clock    clock.Clock
	logger   *slog.Logger
}

// NewService creates a new catalog service instance.
func NewService(st store.Store, stock Stock, c clock.Clock, logger *slog.Logger) Service {
	return &service{
		store:    st,
		stock:    stock,
		registry: inventory.NewRegistry(c),
		clock:    c,
		logger:   logger.With("component", "catalog"),
	}
}

// AddTitle creates a title and its initial copies in one transaction.
func (s *service) AddTitle(ctx context.Context, p auth.Principal, in NewTitle) (*store.Title, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fault.New(fault.ErrInvalid, "title is required")
	}
	if in.Copies < 0 {
		return nil, fault.New(fault.ErrInvalid, "copies must not be negative")
	}

	title := &store.Title{
		ID:         uuid.New(),
		ISBN:       strings.TrimSpace(in.ISBN),
		Name:       in.Name,
		Author:     strings.TrimSpace(in.Author),
		Categories: in.Categories,
		CreatedAt:  s.clock.Now(),
	}
	if title.Categories == nil {
		title.Categories = []string{}
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Titles().Insert(ctx, title); err != nil {
			return fmt.Errorf("insert title: %w", err)
		}
		if in.Copies > 0 {
			if _, err := s.registry.AddCopies(ctx, tx, title.ID, in.Copies); err != nil {
				return err
			}
		}
		payload, err := json.Marshal(TitleAddedEvent{
			ID:          title.ID,
			ISBN:        title.ISBN,
			Title:       title.Name,
			Author:      title.Author,
			TotalCopies: in.Copies,
		})
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		ev := store.Event{EventType: "TitleAdded", EventData: payload, CreatedAt: title.CreatedAt}
		return tx.Events().Append(ctx, title.ID, "title", 0, []store.Event{ev})
	})
	if err != nil {
		return nil, fmt.Errorf("add title: %w", err)
	}

	title.TotalCopies = in.Copies
	s.logger.InfoContext(ctx, "title added", "title_id", title.ID, "copies", in.Copies)
	return title, nil
}

// GetTitle returns a title with every copy.
func (s *service) GetTitle(ctx context.Context, id uuid.UUID) (*TitleView, error) {
	var view *TitleView
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.Titles().Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return inventory.ErrTitleNotFound
		}
		if err != nil {
			return fmt.Errorf("get title: %w", err)
		}
		copies, err := s.registry.CopiesOf(ctx, tx, id)
		if err != nil {
			return err
		}
		v := newView(*t, copies)
		v.Copies = copies
		view = &v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *service) ListTitles(ctx context.Context) ([]TitleView, error) {
	return s.list(ctx, func(store.Title) bool { return true }, 0)
}

// Search matches the query against title, author, ISBN and categories, case-insensitively.
func (s *service) Search(ctx context.Context, query string) ([]TitleView, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, fault.New(fault.ErrInvalid, "missing search query")
	}
	return s.list(ctx, func(t store.Title) bool {
		if strings.Contains(strings.ToLower(t.Name), q) ||
			strings.Contains(strings.ToLower(t.Author), q) ||
			strings.EqualFold(t.ISBN, q) {
			return true
		}
		for _, c := range t.Categories {
			if strings.EqualFold(c, q) {
				return true
			}
		}
		return false
	}, searchLimit)
}

func (s *service) list(ctx context.Context, keep func(store.Title) bool, limit int) ([]TitleView, error) {
	views := []TitleView{}
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		titles, err := tx.Titles().List(ctx)
		if err != nil {
			return fmt.Errorf("list titles: %w", err)
		}
		for _, t := range titles {
			if !keep(t) {
				continue
			}
			copies, err := tx.Copies().ListByTitle(ctx, t.ID)
			if err != nil {
				return fmt.Errorf("list copies: %w", err)
			}
			views = append(views, newView(t, copies))
			if limit > 0 && len(views) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// Copies lists a title's copies in the order they were added.
func (s *service) Copies(ctx context.Context, titleID uuid.UUID) ([]store.Copy, error) {
	var copies []store.Copy
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		copies, err = s.registry.CopiesOf(ctx, tx, titleID)
		return err
	})
	return copies, err
}

func (s *service) AddCopies(ctx context.Context, p auth.Principal, titleID uuid.UUID, n int) ([]store.Copy, error) {
	return s.stock.Restock(ctx, p, titleID, n)
}

func (s *service) RemoveCopy(ctx context.Context, p auth.Principal, copyID uuid.UUID) error {
	return s.stock.RemoveCopy(ctx, p, copyID)
}

func (s *service) Verify(ctx context.Context, p auth.Principal, titleID uuid.UUID) (inventory.IntegrityReport, error) {
	return s.stock.Verify(ctx, p, titleID)
}

func newView(t store.Title, copies []store.Copy) TitleView {
	v := TitleView{Title: t}
	for _, c := range copies {
		if c.Available {
			v.Available++
		}
	}
	return v
}
