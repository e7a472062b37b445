// Package pdm is the reliability graph service. It builds reliability block
// models from the stored product structure, applies structural edits to
// diagrams and element trees, and keeps derived reliability values current.
//
// Every public operation takes a Caller and a query value and returns a
// result or an *Error. Operations that edit the same domain run one at a
// time on that domain's strand: diagram edits on the rbd strand, element
// tree edits on the container strand, recalculation on the product strand.
package pdm

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dd0wney/cluso-reliability/pkg/audit"
	"github.com/dd0wney/cluso-reliability/pkg/cache"
	"github.com/dd0wney/cluso-reliability/pkg/config"
	"github.com/dd0wney/cluso-reliability/pkg/graph"
	"github.com/dd0wney/cluso-reliability/pkg/logging"
	"github.com/dd0wney/cluso-reliability/pkg/metrics"
	"github.com/dd0wney/cluso-reliability/pkg/parallel"
	"github.com/dd0wney/cluso-reliability/pkg/pubsub"
)

// Strand names, also used as metric labels.
const (
	domainContainer = "container"
	domainProduct   = "product"
	domainRbd       = "rbd"
)

// Caller identifies who runs an operation. Role is the caller's
// authorization role, compared against lock roles.
type Caller struct {
	Actor string
	Role  string
}

// Options configures a Service. Store is required; everything else has a
// working default. A Journal, when set, records every published event
// before subscribers see it.
type Options struct {
	Config   config.Config
	Store    graph.Accessor
	Cache    *cache.Cache
	Logger   logging.Logger
	Metrics  *metrics.Registry
	Events   *pubsub.PubSub
	Journal  *audit.Journal
	Tracer   trace.Tracer
	Statuses StatusResolver
	Actors   ActorResolver
	// NewSemantic generates identifiers for created nodes.
	NewSemantic func() string
}

// Service owns the strands, the lock table and the collaborators of one
// running engine.
type Service struct {
	cfg         config.Config
	store       graph.Accessor
	cache       *cache.Cache
	ownCache    bool
	ownStore    bool
	logger      logging.Logger
	metrics     *metrics.Registry
	events      *pubsub.PubSub
	journal     *audit.Journal
	tracer      trace.Tracer
	statuses    StatusResolver
	actors      ActorResolver
	newSemantic func() string

	container *parallel.Strand
	product   *parallel.Strand
	rbd       *parallel.Strand

	locks *lockTable
}

// New builds a service over opts.Store.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("pdm: store is required")
	}
	cfg := opts.Config
	if cfg.MethodTimeout <= 0 {
		cfg.MethodTimeout = config.Default().MethodTimeout
	}
	if cfg.MissionTime <= 0 {
		cfg.MissionTime = config.Default().MissionTime
	}

	s := &Service{
		cfg:         cfg,
		store:       opts.Store,
		cache:       opts.Cache,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		events:      opts.Events,
		journal:     opts.Journal,
		tracer:      opts.Tracer,
		statuses:    opts.Statuses,
		actors:      opts.Actors,
		newSemantic: opts.NewSemantic,
		locks:       newLockTable(),
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	s.logger = s.logger.With(logging.Component("pdm"))
	if s.tracer == nil {
		s.tracer = otel.Tracer("pdm")
	}
	if s.newSemantic == nil {
		s.newSemantic = uuid.NewString
	}
	if s.cache == nil {
		size := cfg.Cache.Size
		if size <= 0 {
			size = config.Default().Cache.Size
		}
		backend, err := cache.NewLRUBackend(size)
		if err != nil {
			return nil, fmt.Errorf("pdm: cache: %w", err)
		}
		s.cache = cache.New(backend, s.metrics, s.logger)
		s.ownCache = true
	}

	// A nil *metrics.Registry must not become a non-nil Observer.
	var observer parallel.Observer
	if s.metrics != nil {
		observer = s.metrics
	}
	s.container = parallel.NewStrand(domainContainer, 0, observer)
	s.product = parallel.NewStrand(domainProduct, 0, observer)
	s.rbd = parallel.NewStrand(domainRbd, 0, observer)
	return s, nil
}

// Open builds a service with the store and cache backends named by cfg.
// The returned service owns both and releases them on Close.
func Open(ctx context.Context, cfg config.Config, logger logging.Logger, reg *metrics.Registry) (*Service, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	var store graph.Accessor
	switch cfg.Store.Backend {
	case config.StoreBadger:
		bs, err := graph.OpenBadger(graph.BadgerConfig{
			Path:       cfg.Store.Path,
			InMemory:   cfg.Store.InMemory,
			SyncWrites: cfg.Store.SyncWrites,
			Logger:     logger,
		}, reg)
		if err != nil {
			return nil, err
		}
		store = bs
	default:
		store = graph.NewMemoryStore(reg)
	}

	var backend cache.Backend
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		rb, err := cache.NewRedisBackend(ctx, cache.RedisOptions{
			Addr:      cfg.Cache.RedisAddr,
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			TTL:       cfg.Cache.TTL,
			KeyPrefix: cfg.Cache.KeyPrefix,
		})
		if err != nil {
			closeStore(store)
			return nil, err
		}
		backend = rb
	default:
		lb, err := cache.NewLRUBackend(cfg.Cache.Size)
		if err != nil {
			closeStore(store)
			return nil, err
		}
		backend = lb
	}

	s, err := New(Options{
		Config:  cfg,
		Store:   store,
		Cache:   cache.New(backend, reg, logger),
		Logger:  logger,
		Metrics: reg,
		Events:  pubsub.NewPubSub(0),
		Journal: audit.NewJournal(0),
	})
	if err != nil {
		closeStore(store)
		return nil, err
	}
	s.ownCache = true
	s.ownStore = true
	return s, nil
}

func closeStore(store graph.Accessor) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Store returns the accessor the service writes through.
func (s *Service) Store() graph.Accessor {
	return s.store
}

// Events returns the event bus, nil when none was configured.
func (s *Service) Events() *pubsub.PubSub {
	return s.events
}

// Journal returns the event journal, nil when none was configured.
func (s *Service) Journal() *audit.Journal {
	return s.journal
}

// Config returns the effective configuration.
func (s *Service) Config() config.Config {
	return s.cfg
}

// Close drains the strands and releases the collaborators the service
// created itself.
func (s *Service) Close() error {
	s.rbd.Close()
	s.container.Close()
	s.product.Close()
	var err error
	if s.ownCache {
		err = s.cache.Close()
	}
	if s.ownStore {
		if cerr := closeStore(s.store); err == nil {
			err = cerr
		}
	}
	return err
}

// run is the guard around every public operation: it bounds the call by
// MethodTimeout, opens a span, times and logs the call, records metrics and
// executes fn on strand, or inline when strand is nil.
func (s *Service) run(ctx context.Context, op string, caller Caller, strand *parallel.Strand, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.MethodTimeout)
	defer cancel()

	domain := "inline"
	if strand != nil {
		domain = strand.Name()
	}
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("pdm.actor", caller.Actor),
		attribute.String("pdm.domain", domain),
	))
	defer span.End()

	timer := logging.StartTimer(s.logger, op, logging.Operation(op), logging.Actor(caller.Actor), logging.Domain(domain))
	start := time.Now()

	if strand != nil {
		err = strand.Run(ctx, fn)
	} else if err = fn(ctx); err == nil {
		// Inline work is not abandoned by a strand, so a result that
		// arrives past the deadline is dropped here.
		err = ctx.Err()
	}
	err = wrap(op, "", err)

	status := "success"
	if err != nil {
		kind := KindOf(err)
		status = "error"
		if kind == KindTimeout {
			status = "timeout"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())
		span.SetAttributes(attribute.String("pdm.error_kind", kind.String()))
		timer.EndError(err, kind != KindInternal && kind != KindTimeout)
	} else {
		timer.End()
	}
	if s.metrics != nil {
		s.metrics.RecordOperation(op, status, time.Since(start))
	}
	return err
}

// call runs fn under the guard and hands its result back. The result
// travels over a channel so a task still running after a timeout never
// races with the caller.
func call[T any](ctx context.Context, s *Service, op string, caller Caller, strand *parallel.Strand, fn func(context.Context) (T, error)) (T, error) {
	res := make(chan T, 1)
	err := s.run(ctx, op, caller, strand, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		res <- v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return <-res, nil
}

// mutate runs fn in a structural transaction on strand, commits it and
// recalculates every product the commit touched.
func mutate[T any](ctx context.Context, s *Service, op string, caller Caller, strand *parallel.Strand, fn func(context.Context, *tx) (T, error)) (T, error) {
	return call(ctx, s, op, caller, strand, func(ctx context.Context) (T, error) {
		var zero T
		t := s.begin(op, caller, true)
		v, err := fn(ctx, t)
		if err != nil {
			return zero, err
		}
		if err := s.commitAndRecalculate(ctx, t); err != nil {
			return zero, err
		}
		return v, nil
	})
}

// exec is mutate for operations without a result.
func exec(ctx context.Context, s *Service, op string, caller Caller, strand *parallel.Strand, fn func(context.Context, *tx) error) error {
	_, err := mutate(ctx, s, op, caller, strand, func(ctx context.Context, t *tx) (struct{}, error) {
		return struct{}{}, fn(ctx, t)
	})
	return err
}

func (s *Service) commitAndRecalculate(ctx context.Context, t *tx) error {
	written, err := t.commit(ctx)
	if err != nil {
		return err
	}
	if len(written) == 0 {
		return nil
	}
	s.publish(pubsub.TopicStructure, t.op, t.caller.Actor, written)

	for _, sc := range t.after {
		if _, err := s.recalculateOnStrand(ctx, t.caller, sc); err != nil {
			return err
		}
	}
	for _, product := range t.products {
		if _, err := s.recalculateOnStrand(ctx, t.caller, recalcScope{
			op:       t.op,
			mode:     modeProduct,
			semantic: product,
			timespan: s.cfg.MissionTime,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) publish(topic, op, actor string, semantics []string) {
	ev := pubsub.Event{
		Topic:     topic,
		Operation: op,
		Actor:     actor,
		Semantics: semantics,
		At:        time.Now(),
	}
	if s.journal != nil {
		s.journal.Record(ev)
	}
	if s.events != nil {
		s.events.Publish(ev)
	}
}
