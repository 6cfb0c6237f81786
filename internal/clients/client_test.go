// internal/clients/client_test.go
package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/libranexus/internal/circulation"
	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/respond"
	"github.com/jules-labs/libranexus/internal/store"
)

func TestBorrowSendsTokenAndBody(t *testing.T) {
	titleID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/loans", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var in map[string]uuid.UUID
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, titleID, in["title_id"])
		respond.JSON(w, http.StatusCreated, store.Loan{ID: uuid.New(), TitleID: titleID, Status: store.LoanActive})
	}))
	defer srv.Close()

	loan, err := New(srv.URL+"/", "secret").Borrow(context.Background(), uuid.Nil, titleID, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, titleID, loan.TitleID)
	assert.Equal(t, store.LoanActive, loan.Status)
}

func TestErrorsUnwrapToFaultKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond.Error(w, r, circulation.ErrCannotProlong)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Extend(context.Background(), uuid.New(), uuid.New())
	require.ErrorIs(t, err, fault.ErrConflict)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Contains(t, apiErr.Message, "cannot be prolonged")
}

func TestLeaveHandlesNoContent(t *testing.T) {
	userID, titleID := uuid.New(), uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/titles/"+titleID.String()+"/queue/"+userID.String(), r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "").WithToken("t")
	assert.NoError(t, c.Leave(context.Background(), userID, titleID))
}

func TestSearchEscapesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "le guin & co", r.URL.Query().Get("q"))
		respond.JSON(w, http.StatusOK, []any{})
	}))
	defer srv.Close()

	views, err := New(srv.URL, "").Search(context.Background(), "le guin & co")
	require.NoError(t, err)
	assert.Empty(t, views)
}
