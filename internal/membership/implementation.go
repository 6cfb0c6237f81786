// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/clock"
	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const minPasswordLen = 8

var (
	ErrMemberNotFound     = fault.New(fault.ErrNotFound, "member not found")
	ErrEmailTaken         = fault.New(fault.ErrConflict, "email already registered")
	ErrRateLimited        = fault.New(fault.ErrLimited, "too many attempts, try again later")
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", auth.ErrUnauthenticated)
)

// service implements the Service interface.
type service struct {
	store       store.Store
	clock       clock.Clock
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// NewService creates a new membership service instance. The limiter guards
// registration and login; nil means unlimited.
func NewService(st store.Store, c clock.Clock, limiter *rate.Limiter, logger *slog.Logger) Service {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &service{
		store:       st,
		clock:       c,
		rateLimiter: limiter,
		logger:      logger.With("component", "membership"),
	}
}

// RegisterMember creates a new member with a hashed password.
func (s *service) RegisterMember(ctx context.Context, email, name, password string) (*store.Member, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, fault.New(fault.ErrInvalid, "invalid email address")
	}
	if len(password) < minPasswordLen {
		return nil, fault.New(fault.ErrInvalid, fmt.Sprintf("password must have at least %d characters", minPasswordLen))
	}

	passwordHash, salt, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	member := &store.Member{
		ID:        uuid.New(),
		Email:     strings.ToLower(addr.Address),
		Name:      strings.TrimSpace(name),
		Role:      store.RoleMember,
		Status:    statusActive,
		CreatedAt: s.clock.Now(),
	}
	credential := &store.Credential{MemberID: member.ID, PasswordHash: passwordHash, Salt: salt}

	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Members().Insert(ctx, member, credential); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrEmailTaken
			}
			return fmt.Errorf("insert member: %w", err)
		}
		return s.appendEvent(ctx, tx, member.ID, 0, "MemberRegistered", MemberRegisteredEvent{
			ID:    member.ID,
			Email: member.Email,
			Name:  member.Name,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "member registered", "member_id", member.ID)
	return member, nil
}

// Authenticate verifies a member's credentials and returns the member if successful.
func (s *service) Authenticate(ctx context.Context, email, password string) (*store.Member, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	var (
		member     *store.Member
		credential *store.Credential
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if member, err = tx.Members().GetByEmail(ctx, strings.TrimSpace(email)); err != nil {
			return err
		}
		credential, err = tx.Members().Credential(ctx, member.ID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, credential.Salt, credential.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		s.logger.WarnContext(ctx, "failed login", "member_id", member.ID)
		return nil, ErrInvalidCredentials
	}
	return member, nil
}

// FindUser retrieves a member by their ID.
func (s *service) FindUser(ctx context.Context, id uuid.UUID) (*store.Member, error) {
	var member *store.Member
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		member, err = tx.Members().Get(ctx, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return member, nil
}

// Promote grants the admin role.
func (s *service) Promote(ctx context.Context, p auth.Principal, id uuid.UUID) error {
	if err := p.RequireAdmin(); err != nil {
		return err
	}
	return s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		err := tx.Members().SetRole(ctx, id, store.RoleAdmin)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMemberNotFound
		}
		if err != nil {
			return fmt.Errorf("set role: %w", err)
		}
		history, err := tx.Events().Load(ctx, id)
		if err != nil {
			return fmt.Errorf("load member events: %w", err)
		}
		return s.appendEvent(ctx, tx, id, len(history), "MemberRoleChanged", MemberRoleChangedEvent{ID: id, NewRole: store.RoleAdmin})
	})
}

func (s *service) appendEvent(ctx context.Context, tx store.Tx, id uuid.UUID, expected int, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	ev := store.Event{EventType: eventType, EventData: payload, CreatedAt: s.clock.Now()}
	if err := tx.Events().Append(ctx, id, "member", expected, []store.Event{ev}); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}
