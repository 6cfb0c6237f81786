// internal/membership/membership_test.go
package membership

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/clock"
	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/store"
	"github.com/jules-labs/libranexus/internal/store/memstore"
)

func newTestService(limiter *rate.Limiter) Service {
	c := clock.NewManual(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	return NewService(memstore.New(), c, limiter, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, salt, err := hashPassword("correct horse battery staple")
	require.NoError(t, err)

	ok, err := verifyPassword("correct horse battery staple", salt, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword("Tr0ub4dor&3", salt, hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = verifyPassword("x", "!!not base64", hash)
	assert.Error(t, err)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	member, err := svc.RegisterMember(ctx, "Ada@Example.org", "Ada Lovelace", "analytical-engine")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.org", member.Email)
	assert.Equal(t, store.RoleMember, member.Role)
	assert.Equal(t, "active", member.Status)

	_, err = svc.RegisterMember(ctx, "ada@example.org", "Impostor", "another-password")
	assert.ErrorIs(t, err, ErrEmailTaken)

	got, err := svc.Authenticate(ctx, "ADA@example.org", "analytical-engine")
	require.NoError(t, err)
	assert.Equal(t, member.ID, got.ID)

	_, err = svc.Authenticate(ctx, "ada@example.org", "difference-engine")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.True(t, auth.IsAuthError(err))

	_, err = svc.Authenticate(ctx, "nobody@example.org", "analytical-engine")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	_, err := svc.RegisterMember(ctx, "not-an-email", "X", "long-enough-pw")
	assert.ErrorIs(t, err, fault.ErrInvalid)

	_, err = svc.RegisterMember(ctx, "x@example.org", "X", "short")
	assert.ErrorIs(t, err, fault.ErrInvalid)
}

func TestRateLimit(t *testing.T) {
	svc := newTestService(rate.NewLimiter(rate.Every(time.Hour), 2))
	ctx := context.Background()

	_, err := svc.RegisterMember(ctx, "a@example.org", "A", "password-a")
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "a@example.org", "password-a")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "a@example.org", "password-a")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, fault.ErrLimited)
}

func TestFindUserAndPromote(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	member, err := svc.RegisterMember(ctx, "grace@example.org", "Grace Hopper", "cobol-1959")
	require.NoError(t, err)

	_, err = svc.FindUser(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrMemberNotFound)

	err = svc.Promote(ctx, auth.Principal{UserID: member.ID, Role: store.RoleMember}, member.ID)
	assert.ErrorIs(t, err, auth.ErrNotAdmin)

	require.NoError(t, svc.Promote(ctx, auth.System, member.ID))
	got, err := svc.FindUser(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, got.Role)

	assert.ErrorIs(t, svc.Promote(ctx, auth.System, uuid.New()), ErrMemberNotFound)
}
