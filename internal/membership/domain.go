// internal/membership/domain.go
package membership

import (
	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/store"
)

const statusActive = "active"

// MemberRegisteredEvent is appended when a new member registers.
type MemberRegisteredEvent struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
}

// MemberRoleChangedEvent is appended when a member is promoted.
type MemberRoleChangedEvent struct {
	ID      uuid.UUID  `json:"id"`
	NewRole store.Role `json:"new_role"`
}
