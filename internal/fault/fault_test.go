// internal/fault/fault_test.go
package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamedErrorsKeepTheirKind(t *testing.T) {
	errBlocked := New(ErrConflict, "queue blocks borrow")
	wrapped := fmt.Errorf("borrow title: %w", errBlocked)

	assert.True(t, errors.Is(wrapped, errBlocked))
	assert.True(t, errors.Is(wrapped, ErrConflict))
	assert.False(t, errors.Is(wrapped, ErrNotFound))
}

func TestStatus(t *testing.T) {
	cases := map[error]int{
		New(ErrNotFound, "loan"):        http.StatusNotFound,
		New(ErrConflict, "no copy"):     http.StatusConflict,
		New(ErrForbidden, "admin only"): http.StatusForbidden,
		New(ErrInvalid, "bad id"):       http.StatusBadRequest,
		New(ErrLimited, "slow down"):    http.StatusTooManyRequests,
		New(ErrInvariant, "two loans"):  http.StatusInternalServerError,
		errors.New("boom"):              http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, Status(err), err.Error())
	}
}
