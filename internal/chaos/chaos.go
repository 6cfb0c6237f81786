// internal/chaos/chaos.go

// Package chaos runs fault-injection experiments against the lending engine
// and checks that its integrity probes stay within bounds.
package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrSteadyStateInvalid = errors.New("steady state invalid")

// Experiment is one hypothesis about how the system behaves under a fault.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Probe
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	// Duration bounds the observation phase; Interval is the sampling period.
	Duration time.Duration
	Interval time.Duration
}

// Probe measures one system property.
type Probe struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

func (t Threshold) Holds(v float64) bool {
	switch t.Operator {
	case ">":
		return v > t.Value
	case "<":
		return v < t.Value
	case ">=":
		return v >= t.Value
	case "<=":
		return v <= t.Value
	case "==":
		return v == t.Value
	default:
		return false
	}
}

// Action injects or removes a fault.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion checks the last observation of a probe.
type Assertion struct {
	Probe     string
	Condition func(float64) bool
	Message   string
}

type Result struct {
	Experiment       string                 `json:"experiment"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	Failed           []string               `json:"failed_assertions"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type Violation struct {
	Probe     string    `json:"probe"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine runs registered experiments and keeps their results.
type Engine struct {
	tracer trace.Tracer
	logger *slog.Logger

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		tracer: otel.Tracer("libranexus/chaos"),
		logger: logger.With("component", "chaos"),
	}
}

func (e *Engine) Register(exp ...Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp...)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run validates the steady state, injects the method, samples the probes for
// the experiment's duration, rolls back and finally checks the assertions.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		Experiment:   exp.Name,
		StartTime:    time.Now(),
		Violations:   []Violation{},
		Failed:       []string{},
		Observations: make(map[string][]DataPoint),
		ErrorEvents:  []ErrorEvent{},
	}

	span.AddEvent("validating_steady_state")
	if violations := e.steadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		result.EndTime = time.Now()
		return result, fmt.Errorf("%s: %w", exp.Name, ErrSteadyStateInvalid)
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_faults")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.recordError(action.Target, err)
			span.RecordError(err)
		}
	}

	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(context.WithoutCancel(ctx)); err != nil {
			result.recordError(action.Target, err)
			span.RecordError(err)
		}
	}
	// One more sample after rollback so assertions see the recovered state.
	e.sample(context.WithoutCancel(ctx), exp.SteadyState, result, nil)

	span.AddEvent("validating_assertions")
	result.HypothesisHeld = len(result.Violations) == 0 && e.assert(exp.Validation, result)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	e.logger.InfoContext(ctx, "experiment finished",
		"experiment", exp.Name,
		"hypothesis_held", result.HypothesisHeld,
		"violations", len(result.Violations),
		"errors", len(result.ErrorEvents),
	)
	return result, nil
}

func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	interval := exp.Interval
	if interval <= 0 {
		interval = time.Second
	}
	observeCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var recoveryStart time.Time
	for {
		select {
		case <-observeCtx.Done():
			return
		case <-ticker.C:
			e.sample(ctx, exp.SteadyState, result, &recoveryStart)
		}
	}
}

// sample queries every probe once. Once a breach has been seen, the first
// clean sample afterwards fixes the MTTR.
func (e *Engine) sample(ctx context.Context, probes []Probe, result *Result, recoveryStart *time.Time) {
	breached := false
	for _, p := range probes {
		v, err := p.Query(ctx)
		if err != nil {
			result.recordError(p.Name, err)
			continue
		}
		now := time.Now()
		result.Observations[p.Name] = append(result.Observations[p.Name], DataPoint{Timestamp: now, Value: v})
		if !p.Threshold.Holds(v) {
			breached = true
			result.Violations = append(result.Violations, Violation{Probe: p.Name, Expected: p.Threshold.Value, Actual: v, Timestamp: now})
		}
	}
	if recoveryStart == nil {
		return
	}
	switch {
	case breached && recoveryStart.IsZero():
		*recoveryStart = time.Now()
	case !breached && !recoveryStart.IsZero() && result.MTTR == nil:
		mttr := time.Since(*recoveryStart)
		result.MTTR = &mttr
	}
}

func (e *Engine) steadyState(ctx context.Context, probes []Probe) []Violation {
	var violations []Violation
	for _, p := range probes {
		v, err := p.Query(ctx)
		if err != nil {
			v = -1
		}
		if err != nil || !p.Threshold.Holds(v) {
			violations = append(violations, Violation{Probe: p.Name, Expected: p.Threshold.Value, Actual: v, Timestamp: time.Now()})
		}
	}
	return violations
}

func (e *Engine) assert(assertions []Assertion, result *Result) bool {
	held := true
	for _, a := range assertions {
		points := result.Observations[a.Probe]
		if len(points) == 0 || !a.Condition(points[len(points)-1].Value) {
			result.Failed = append(result.Failed, a.Message)
			held = false
		}
	}
	return held
}

func (r *Result) recordError(component string, err error) {
	r.ErrorEvents = append(r.ErrorEvents, ErrorEvent{Timestamp: time.Now(), Error: err.Error(), Component: component})
}

// GameDay runs each registered experiment in turn, pausing between them.
// A broken steady state skips the experiment and the run goes on.
func (e *Engine) GameDay(ctx context.Context, name string, pause time.Duration) ([]Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day", trace.WithAttributes(attribute.String("gameday.name", name)))
	defer span.End()

	var (
		results []Result
		errs    []error
	)
	experiments := e.Experiments()
	for i, exp := range experiments {
		e.logger.InfoContext(ctx, "starting experiment", "n", i+1, "of", len(experiments), "experiment", exp.Name, "hypothesis", exp.Hypothesis)
		result, err := e.Run(ctx, exp)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, *result)

		if i < len(experiments)-1 && pause > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(pause):
			}
		}
	}
	return results, errors.Join(errs...)
}
