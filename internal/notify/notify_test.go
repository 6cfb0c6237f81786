// internal/notify/notify_test.go
package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/libranexus/internal/clock"
	"github.com/jules-labs/libranexus/internal/store"
	"github.com/jules-labs/libranexus/internal/store/memstore"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestInboxRecordAndRead(t *testing.T) {
	st := memstore.New()
	c := clock.NewManual(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	inbox := NewInbox(st, c)
	user := uuid.New()
	title := store.Title{ID: uuid.New(), Name: "Ubik", Author: "Philip K. Dick"}

	var first *store.Notice
	require.NoError(t, st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		first, err = inbox.Record(ctx, tx, AvailableNotice(user, title))
		return err
	}))
	c.AddDays(1)
	loan := store.Loan{ID: uuid.New(), UserID: user, TitleID: title.ID, EndDate: c.Now()}
	require.NoError(t, st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := inbox.Record(ctx, tx, ReturnedNotice(loan, title))
		return err
	}))

	notices, err := inbox.ForUser(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, notices, 2)
	assert.Equal(t, store.NoticeReturned, notices[0].Kind, "newest first")
	assert.Equal(t, loan.ID, *notices[0].LoanID)
	assert.Contains(t, notices[1].Subject, "Ubik")

	require.NoError(t, inbox.MarkRead(context.Background(), user, first.ID))
	assert.ErrorIs(t, inbox.MarkRead(context.Background(), uuid.New(), first.ID), ErrNoticeNotFound)

	notices, err = inbox.ForUser(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, notices[1].Read)
}

type failingSink struct{ Discard }

func (failingSink) NotifyOverdue(context.Context, uuid.UUID) error { return errors.New("down") }

func TestFanoutJoinsErrors(t *testing.T) {
	f := Fanout{NewLogSink(quiet), failingSink{}, Discard{}}
	assert.NoError(t, f.NotifyAvailable(context.Background(), uuid.New(), uuid.New()))
	assert.EqualError(t, f.NotifyOverdue(context.Background(), uuid.New()), "down")
}

func TestWebhookBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hook := NewWebhook(srv.URL, quiet)
	for i := 0; i < 5; i++ {
		assert.Error(t, hook.Deliver(context.Background(), Delivery{Kind: store.NoticeOverdue}))
	}
	err := hook.Deliver(context.Background(), Delivery{Kind: store.NoticeOverdue})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 5, calls.Load())
	assert.Equal(t, "open", hook.State())
}

func TestDispatcherDeliversThroughQueue(t *testing.T) {
	got := make(chan Delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var d Delivery
		if err := json.NewDecoder(r.Body).Decode(&d); err == nil {
			got <- d
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := DefaultDispatcherConfig()
	cfg.TasksDB = filepath.Join(t.TempDir(), "tasks.db")
	cfg.Workers = 1

	d, err := NewDispatcher(cfg, NewWebhook(srv.URL, quiet), quiet)
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		d.Stop(stopCtx)
	}()

	user, title := uuid.New(), uuid.New()
	require.NoError(t, d.NotifyAvailable(ctx, user, title))

	select {
	case delivery := <-got:
		assert.Equal(t, store.NoticeAvailable, delivery.Kind)
		assert.Equal(t, user, delivery.UserID)
		assert.Equal(t, title, delivery.TitleID)
	case <-time.After(5 * time.Second):
		t.Fatal("delivery was not made within timeout")
	}
}
