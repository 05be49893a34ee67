package engine

import (
	"context"
	"sync"
	"time"

	"github.com/alpenglow/alpenglow/pkg/telemetry"
)

// Inspector captures a consistent snapshot of current system state for
// every resource in a model. Inspection is strictly read-only; backends
// are only ever asked to query.
type Inspector struct {
	resolver BackendResolver
	timeout  time.Duration
	parallel int
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
}

// InspectorOption configures an Inspector.
type InspectorOption func(*Inspector)

// WithQueryTimeout bounds each backend query.
func WithQueryTimeout(d time.Duration) InspectorOption {
	return func(i *Inspector) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithInspectParallelism bounds concurrent queries.
func WithInspectParallelism(n int) InspectorOption {
	return func(i *Inspector) {
		if n > 0 {
			i.parallel = n
		}
	}
}

// WithInspectorMetrics attaches a metrics collector.
func WithInspectorMetrics(m *telemetry.Metrics) InspectorOption {
	return func(i *Inspector) {
		i.metrics = m
	}
}

// WithInspectorTracer attaches a tracer; each query gets its own span.
func WithInspectorTracer(t *telemetry.Tracer) InspectorOption {
	return func(i *Inspector) {
		i.tracer = t
	}
}

// DefaultQueryTimeout bounds a single backend query unless overridden.
const DefaultQueryTimeout = 30 * time.Second

// NewInspector creates an inspector over the given backend resolver.
func NewInspector(resolver BackendResolver, logger *telemetry.Logger, opts ...InspectorOption) *Inspector {
	insp := &Inspector{
		resolver: resolver,
		timeout:  DefaultQueryTimeout,
		parallel: 4,
		logger:   logger.NewComponentLogger("inspector"),
	}
	for _, opt := range opts {
		opt(insp)
	}
	return insp
}

// InspectAll queries every resource in the model and returns observations
// keyed by resource ref. Queries run concurrently up to the configured
// parallelism. A query error or timeout degrades to an Unknown
// observation: the planner then chooses the mutating action, which is the
// safe direction for convergence, and the degradation is logged.
func (insp *Inspector) InspectAll(ctx context.Context, model *Model) (map[string]*Observation, error) {
	observations := make(map[string]*Observation, len(model.Resources))
	var mu sync.Mutex

	sem := make(chan struct{}, insp.parallel)
	var wg sync.WaitGroup

	for i := range model.Resources {
		res := &model.Resources[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			obs := insp.inspect(ctx, res)
			mu.Lock()
			observations[res.Ref()] = obs
			mu.Unlock()
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return observations, nil
}

// Inspect queries a single resource.
func (insp *Inspector) Inspect(ctx context.Context, res *Resource) *Observation {
	return insp.inspect(ctx, res)
}

func (insp *Inspector) inspect(ctx context.Context, res *Resource) *Observation {
	start := time.Now()
	log := insp.logger.WithResource(res.Ref())

	ctx, span := insp.tracer.StartInspectSpan(ctx, res.Ref())
	defer span.End()

	backend, err := insp.resolver.BackendFor(res.Kind)
	if err != nil {
		telemetry.RecordError(span, err)
		log.WithError(err).Warn("no backend for kind, recording unknown state")
		return unknownObservation(res)
	}

	queryCtx, cancel := context.WithTimeout(ctx, insp.timeout)
	defer cancel()

	obs, err := backend.Query(queryCtx, res.Kind, res.ID)
	insp.metrics.RecordQuery(string(res.Kind), err != nil, time.Since(start))
	if err != nil {
		telemetry.RecordError(span, err)
		log.WithError(err).Warn("query failed, recording unknown state")
		return unknownObservation(res)
	}
	if obs == nil || (!obs.Unknown && len(obs.Current) == 0) {
		log.Warn("backend returned empty observation, recording unknown state")
		return unknownObservation(res)
	}

	obs.Kind = res.Kind
	obs.ID = res.ID
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now()
	}
	telemetry.RecordSuccess(span)
	log.Debugf("observed state in %s", time.Since(start).Round(time.Millisecond))
	return obs
}

func unknownObservation(res *Resource) *Observation {
	return &Observation{
		Kind:       res.Kind,
		ID:         res.ID,
		Unknown:    true,
		ObservedAt: time.Now(),
	}
}
