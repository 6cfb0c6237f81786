// internal/cli/app.go
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/jules-labs/libranexus/internal/catalog"
	"github.com/jules-labs/libranexus/internal/circulation"
	"github.com/jules-labs/libranexus/internal/clock"
	"github.com/jules-labs/libranexus/internal/config"
	"github.com/jules-labs/libranexus/internal/membership"
	"github.com/jules-labs/libranexus/internal/notify"
	"github.com/jules-labs/libranexus/internal/store"
	"github.com/jules-labs/libranexus/internal/store/memstore"
	"github.com/jules-labs/libranexus/internal/store/postgres"
)

// app is the wired service graph shared by serve and the operator commands.
type app struct {
	store      store.Store
	inbox      *notify.Inbox
	members    membership.Service
	lending    circulation.Service
	titles     catalog.Service
	dispatcher *notify.Dispatcher
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memstore.New(), nil
	case config.StorePostgres:
		st, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			return nil, errors.Join(err, st.Close())
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// newApp opens the store and builds the services. With a webhook URL set,
// notifications also go through the durable delivery queue.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{store: st}

	sink := notify.Fanout{notify.NewLogSink(logger)}
	if cfg.WebhookURL != "" {
		dcfg := notify.DefaultDispatcherConfig()
		dcfg.TasksDB = cfg.TasksDB
		dcfg.Workers = cfg.Notify.Workers
		a.dispatcher, err = notify.NewDispatcher(dcfg, notify.NewWebhook(cfg.WebhookURL, logger), logger)
		if err != nil {
			return nil, errors.Join(err, st.Close())
		}
		sink = append(sink, a.dispatcher)
	}

	clk := clock.System{}
	var limiter *rate.Limiter
	if cfg.RegisterRatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RegisterRatePerMinute)), cfg.RegisterBurst)
	}
	a.inbox = notify.NewInbox(st, clk)
	a.members = membership.NewService(st, clk, limiter, logger)
	a.lending = circulation.NewService(st, a.members, a.inbox, sink, clk, cfg.Policy(), logger)
	a.titles = catalog.NewService(st, a.lending, clk, logger)
	return a, nil
}

func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.dispatcher != nil {
		if !a.dispatcher.Stop(ctx) {
			errs = append(errs, errors.New("delivery queue did not drain"))
		}
		errs = append(errs, a.dispatcher.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
