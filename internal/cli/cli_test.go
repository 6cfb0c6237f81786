// internal/cli/cli_test.go
package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/libranexus/internal/chaos"
	"github.com/jules-labs/libranexus/internal/respond"
	"github.com/jules-labs/libranexus/internal/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoanBorrowCallsAPI(t *testing.T) {
	titleID, copyID := uuid.New(), uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/loans", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var in map[string]uuid.UUID
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, copyID, in["copy_id"])
		respond.JSON(w, http.StatusCreated, store.Loan{TitleID: in["title_id"], CopyID: in["copy_id"], Status: store.LoanActive})
	}))
	defer srv.Close()

	out, err := run(t, "--api-url", srv.URL, "--token", "tok", "loan", "borrow", titleID.String(), "--copy", copyID.String())
	require.NoError(t, err)

	var loan store.Loan
	require.NoError(t, json.Unmarshal([]byte(out), &loan))
	assert.Equal(t, titleID, loan.TitleID)
	assert.Equal(t, copyID, loan.CopyID)
}

func TestAPIErrorsSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusConflict, respond.ErrorBody{Error: "conflict: no available copy", Kind: "conflict"})
	}))
	defer srv.Close()

	_, err := run(t, "--api-url", srv.URL, "loan", "borrow", uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no available copy")
}

func TestArgumentValidation(t *testing.T) {
	_, err := run(t, "loan", "return", "not-a-uuid")
	assert.Error(t, err)

	_, err = run(t, "title", "restock", uuid.NewString(), "many")
	assert.Error(t, err)

	_, err = run(t, "queue", "position", uuid.NewString())
	assert.Error(t, err)
}

func TestChaosGameDay(t *testing.T) {
	out, err := run(t, "chaos", "--titles", "2", "--copies", "1", "--members", "4", "--observe", "20ms")
	require.NoError(t, err)

	var results []chaos.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.HypothesisHeld, r.Experiment)
	}
}

func TestServeRejectsMissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := run(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}
