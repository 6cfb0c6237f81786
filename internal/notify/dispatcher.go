// internal/notify/dispatcher.go
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mikestefanello/backlite"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jules-labs/libranexus/internal/store"
)

// Delivery is the queued form of one lending event.
type Delivery struct {
	Kind    store.NoticeKind `json:"kind"`
	UserID  uuid.UUID        `json:"user_id,omitempty"`
	TitleID uuid.UUID        `json:"title_id,omitempty"`
	LoanID  uuid.UUID        `json:"loan_id,omitempty"`
	At      time.Time        `json:"at"`
}

// Config returns the queue configuration for deliveries.
func (Delivery) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "notify_delivery",
		MaxAttempts: 5,
		Backoff:     30 * time.Second,
		Timeout:     15 * time.Second,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// DispatcherConfig configures the SQLite-backed delivery queue.
type DispatcherConfig struct {
	// TasksDB is the SQLite file holding queued deliveries.
	TasksDB         string
	Workers         int
	ReleaseAfter    time.Duration
	CleanupInterval time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		TasksDB:         "libranexus-tasks.db",
		Workers:         2,
		ReleaseAfter:    15 * time.Minute,
		CleanupInterval: time.Hour,
	}
}

// Dispatcher is a Sink that enqueues deliveries; backlite workers hand them
// to a Deliverer and retry failures.
type Dispatcher struct {
	client *backlite.Client
	db     *sql.DB
	logger *slog.Logger

	enqueued metric.Int64Counter
	failed   metric.Int64Counter

	mu      sync.Mutex
	started bool
}

func NewDispatcher(cfg DispatcherConfig, deliverer Deliverer, logger *slog.Logger) (*Dispatcher, error) {
	logger = logger.With("component", "notify.dispatcher")

	db, err := sql.Open("sqlite3", cfg.TasksDB+"?_journal=WAL&_timeout=5000&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open tasks database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Workers + 5)
	db.SetMaxIdleConns(cfg.Workers + 2)
	db.SetConnMaxLifetime(time.Hour)

	client, err := backlite.NewClient(backlite.ClientConfig{
		DB:              db,
		NumWorkers:      cfg.Workers,
		ReleaseAfter:    cfg.ReleaseAfter,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          queueLogger{logger},
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create backlite client: %w", err)
	}
	if err := client.Install(); err != nil {
		db.Close()
		return nil, fmt.Errorf("install backlite schema: %w", err)
	}

	meter := otel.Meter("libranexus/notify")
	enqueued, _ := meter.Int64Counter("notify.deliveries.enqueued")
	failed, _ := meter.Int64Counter("notify.deliveries.failed")

	d := &Dispatcher{client: client, db: db, logger: logger, enqueued: enqueued, failed: failed}
	client.Register(backlite.NewQueue(func(ctx context.Context, task Delivery) error {
		if err := deliverer.Deliver(ctx, task); err != nil {
			d.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(task.Kind))))
			return err
		}
		return nil
	}))
	return d, nil
}

// Start runs the workers until Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.client.Start(ctx)
	d.logger.Info("delivery queue started")
}

// Stop waits for running deliveries. It reports whether they all finished in time.
func (d *Dispatcher) Stop(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return true
	}
	d.started = false
	return d.client.Stop(ctx)
}

func (d *Dispatcher) Close() error {
	return d.db.Close()
}

func (d *Dispatcher) enqueue(ctx context.Context, task Delivery) error {
	task.At = time.Now().UTC()
	if _, err := d.client.Add(task).Save(); err != nil {
		return fmt.Errorf("enqueue %s delivery: %w", task.Kind, err)
	}
	d.enqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(task.Kind))))
	return nil
}

func (d *Dispatcher) NotifyAvailable(ctx context.Context, userID, titleID uuid.UUID) error {
	return d.enqueue(ctx, Delivery{Kind: store.NoticeAvailable, UserID: userID, TitleID: titleID})
}

func (d *Dispatcher) NotifyOverdue(ctx context.Context, loanID uuid.UUID) error {
	return d.enqueue(ctx, Delivery{Kind: store.NoticeOverdue, LoanID: loanID})
}

func (d *Dispatcher) NotifyDueSoon(ctx context.Context, loanID uuid.UUID) error {
	return d.enqueue(ctx, Delivery{Kind: store.NoticeDueSoon, LoanID: loanID})
}

func (d *Dispatcher) NotifyReturned(ctx context.Context, loanID uuid.UUID) error {
	return d.enqueue(ctx, Delivery{Kind: store.NoticeReturned, LoanID: loanID})
}

// queueLogger adapts slog to backlite.Logger.
type queueLogger struct {
	logger *slog.Logger
}

func (l queueLogger) Info(message string, params ...any) {
	l.logger.Info(message, params...)
}

func (l queueLogger) Error(message string, params ...any) {
	l.logger.Error(message, params...)
}
