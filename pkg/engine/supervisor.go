package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fieldline/fieldline/pkg/database"
	"github.com/fieldline/fieldline/pkg/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Processor is one periodic memory processor. The supervisor gives every
// processor the same lifecycle: wait for the configuration store, tick on the
// base period, refresh configuration on the refresh cadence. Per-block
// interval gating and failure isolation happen inside Cycle.
type Processor interface {
	Name() string
	Refresh(ctx context.Context) error
	Cycle(ctx context.Context, now time.Time) error
}

// Options are the supervisor scheduling knobs
type Options struct {
	BaseTick          time.Duration
	ConfigRefresh     time.Duration
	StoreWaitAttempts int
	StoreWaitDelay    time.Duration
}

func (o Options) withDefaults() Options {
	if o.BaseTick <= 0 {
		o.BaseTick = time.Second
	}
	if o.ConfigRefresh <= 0 {
		o.ConfigRefresh = 60 * time.Second
	}
	if o.StoreWaitAttempts <= 0 {
		o.StoreWaitAttempts = 30
	}
	if o.StoreWaitDelay <= 0 {
		o.StoreWaitDelay = 2 * time.Second
	}
	return o
}

// Supervisor owns the engine's periodic tasks: one long-running goroutine per
// registered processor. There is exactly one running instance per processor
// kind; processors never call each other and rendezvous only through the
// point store.
type Supervisor struct {
	Log     *logrus.Entry
	Config  database.ConfigStore
	Clock   utils.Clock
	Metrics *Metrics

	opts Options

	mutex      sync.Mutex
	processors []Processor
	started    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewSupervisor makes a supervisor; register processors before Start
func NewSupervisor(log *logrus.Entry, config database.ConfigStore, clock utils.Clock, opts Options) *Supervisor {
	return &Supervisor{
		Log:     log,
		Config:  config,
		Clock:   clock,
		Metrics: NewMetrics(),
		opts:    opts.withDefaults(),
	}
}

// Register adds a processor. Registration after Start is a programming error.
func (s *Supervisor) Register(processor Processor) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.started {
		panic(fmt.Sprintf("register %s after start", processor.Name()))
	}
	s.processors = append(s.processors, processor)
}

// Start launches every registered processor. A second Start is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, processor := range s.processors {
		s.wg.Add(1)
		go func(p Processor) {
			defer s.wg.Done()
			s.run(ctx, p)
		}(processor)
	}
}

// Stop cancels every processor and waits for in-flight cycles to finish.
// Pending writes already queued stay queued for the next process start.
func (s *Supervisor) Stop() {
	s.mutex.Lock()
	cancel := s.cancel
	s.mutex.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Supervisor) run(ctx context.Context, p Processor) {
	log := s.Log.WithField("processor", p.Name())

	if !s.waitForStore(ctx, log) {
		return
	}

	if err := p.Refresh(ctx); err != nil {
		log.WithError(err).Warn("initial configuration load failed")
	}
	lastRefresh := s.Clock.Now()

	ticker := time.NewTicker(s.opts.BaseTick)
	defer ticker.Stop()

	// run the first cycle immediately rather than waiting for the first tick
	s.cycle(ctx, log, p)

	for {
		select {
		case <-ctx.Done():
			log.Info("processor stopped")
			return
		case <-ticker.C:
			if s.Clock.Now().Sub(lastRefresh) >= s.opts.ConfigRefresh {
				if err := p.Refresh(ctx); err != nil {
					log.WithError(err).Warn("configuration refresh failed")
				}
				lastRefresh = s.Clock.Now()
			}
			s.cycle(ctx, log, p)
		}
	}
}

// cycle runs one processor cycle in a failure scope: a panic or error never
// takes the loop down, it is logged with a correlation id and the next tick
// proceeds.
func (s *Supervisor) cycle(ctx context.Context, log *logrus.Entry, p Processor) {
	started := s.Clock.Now()
	defer func() {
		s.Metrics.ObserveCycle(p.Name(), s.Clock.Now().Sub(started))
		if r := recover(); r != nil {
			s.Metrics.IncCycleError(p.Name())
			log.WithField("correlationId", uuid.NewString()).Errorf("cycle panic: %v", r)
		}
	}()

	if err := p.Cycle(ctx, started); err != nil {
		s.Metrics.IncCycleError(p.Name())
		log.WithField("correlationId", uuid.NewString()).WithError(err).Error("cycle failed")
	}
}

// waitForStore blocks until the configuration database answers, with bounded
// back-off. Returns false when the attempts run out or the context dies.
func (s *Supervisor) waitForStore(ctx context.Context, log *logrus.Entry) bool {
	// first retry after an eighth of the cap, doubling up to the cap
	delay := s.opts.StoreWaitDelay / 8
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	for attempt := 1; attempt <= s.opts.StoreWaitAttempts; attempt++ {
		if err := s.Config.Ping(ctx); err == nil {
			return true
		} else {
			log.WithField("attempt", attempt).WithError(err).Warn("configuration store not reachable")
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.opts.StoreWaitDelay {
			delay = s.opts.StoreWaitDelay
		}
	}
	log.Error("giving up waiting for the configuration store")
	return false
}

// SafeBlock runs one block step in an isolated failure scope. A panic or an
// error from a single misconfigured block is logged with the block id and
// never stalls the cycle.
func SafeBlock(log *logrus.Entry, metrics *Metrics, processor, blockID string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncBlockError(processor)
			log.WithField("blockId", blockID).Errorf("block panic: %v", r)
		}
	}()

	if err := fn(); err != nil {
		metrics.IncBlockError(processor)
		log.WithField("blockId", blockID).WithError(err).Warn("block skipped")
	}
}
