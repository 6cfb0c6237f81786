// internal/catalog/domain.go
package catalog

import (
	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/store"
)

// NewTitle is the input of AddTitle.
type NewTitle struct {
	ISBN       string   `json:"isbn"`
	Name       string   `json:"title"`
	Author     string   `json:"author"`
	Categories []string `json:"categories"`
	Copies     int      `json:"copies"`
}

// TitleView is a title with its shelf state.
type TitleView struct {
	store.Title
	Available int          `json:"available"`
	Copies    []store.Copy `json:"copies,omitempty"`
}

// TitleAddedEvent is appended when a title enters the catalog.
type TitleAddedEvent struct {
	ID          uuid.UUID `json:"id"`
	ISBN        string    `json:"isbn"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	TotalCopies int       `json:"total_copies"`
}
