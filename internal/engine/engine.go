package engine

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"trading/internal/bus"
	"trading/internal/cache"
	"trading/internal/model"
	"trading/internal/obs"
	"trading/internal/portfolio"
	"trading/internal/risk"
	"trading/pkg/exception"
)

const defaultQueueSize = 4096

// DuplicateFillPolicy decides what happens to a fill the order already absorbed.
type DuplicateFillPolicy uint8

const (
	_duplicateFillPolicy_beg DuplicateFillPolicy = iota
	// DuplicateFillReject logs the fill as a protocol warning and returns an error from Process.
	DuplicateFillReject
	// DuplicateFillAbsorb drops the fill and Process returns nil.
	DuplicateFillAbsorb
	_duplicateFillPolicy_end
)

// IsAvailable reports whether p is a known policy.
func (p DuplicateFillPolicy) IsAvailable() bool {
	return p > _duplicateFillPolicy_beg && p < _duplicateFillPolicy_end
}

// String is the config spelling of p.
func (p DuplicateFillPolicy) String() string {
	switch p {
	case DuplicateFillReject:
		return "reject"
	case DuplicateFillAbsorb:
		return "absorb"
	default:
		return "unknown"
	}
}

// ParseDuplicateFillPolicy accepts "reject" or "absorb". The empty string means reject.
func ParseDuplicateFillPolicy(s string) (DuplicateFillPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return DuplicateFillReject, nil
	case "absorb":
		return DuplicateFillAbsorb, nil
	default:
		return 0, fmt.Errorf("%w: duplicate fill policy %q", exception.ErrInvalidArgument, s)
	}
}

// Config holds the engine settings loaded from the trader config.
type Config struct {
	TraderID model.TraderID
	// QueueSize bounds the inbound event queue. Zero uses the default.
	QueueSize int
	// DuplicateFillPolicy defaults to DuplicateFillReject.
	DuplicateFillPolicy DuplicateFillPolicy
}

// Engine routes strategy commands to venue clients and processes venue events.
// Every cache mutation goes through mu, the single ordered writer path.
type Engine struct {
	cfg       Config
	clock     clock.Clock
	logger    obs.Logger
	metrics   *obs.Metrics
	cache     *cache.Cache
	portfolio *portfolio.Portfolio
	risk      *risk.Engine
	prices    PriceSource
	queue     *bus.Queue[model.Event]
	inflight  atomic.Int64
	running   atomic.Bool

	mu sync.Mutex

	regMu      sync.RWMutex
	strategies map[model.StrategyID]Strategy
	clients    map[model.Venue]ExecutionClient
	listeners  []func(model.Event)
	faults     []func(error)
}

// Option customizes an Engine built by New.
type Option func(*Engine)

// WithClock replaces the wall clock used for event and command timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMetrics records engine counters into m. Without it the counters are skipped.
func WithMetrics(m *obs.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRisk enables pre-trade checks on SubmitOrder.
func WithRisk(r *risk.Engine) Option {
	return func(e *Engine) { e.risk = r }
}

// WithPriceSource supplies reference prices for risk checks.
func WithPriceSource(p PriceSource) Option {
	return func(e *Engine) { e.prices = p }
}

// New builds an engine writing to c. The portfolio is seeded from the
// positions c already holds, so a cache rebuilt by state.Recover must be
// passed in after recovery.
func New(cfg Config, c *cache.Cache, p *portfolio.Portfolio, logger obs.Logger, opts ...Option) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if !cfg.DuplicateFillPolicy.IsAvailable() {
		cfg.DuplicateFillPolicy = DuplicateFillReject
	}
	e := &Engine{
		cfg:        cfg,
		clock:      clock.New(),
		logger:     logger,
		cache:      c,
		portfolio:  p,
		strategies: make(map[model.StrategyID]Strategy),
		clients:    make(map[model.Venue]ExecutionClient),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queue = bus.NewQueue[model.Event](cfg.QueueSize)
	if positions := c.Positions(""); len(positions) > 0 {
		p.Rebuild(positions)
	}
	return e
}

// TraderID identifies the trader instance that owns the cache.
func (e *Engine) TraderID() model.TraderID { return e.cfg.TraderID }

// Cache is read-only for callers; the engine is its only writer.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Portfolio returns the aggregate view kept in sync with the cache.
func (e *Engine) Portfolio() *portfolio.Portfolio { return e.portfolio }

// Metrics may be nil.
func (e *Engine) Metrics() *obs.Metrics { return e.metrics }

// Clock is the time source stamping commands and generated events.
func (e *Engine) Clock() clock.Clock { return e.clock }

// DuplicateFillPolicy is the policy in effect after defaults were applied.
func (e *Engine) DuplicateFillPolicy() DuplicateFillPolicy { return e.cfg.DuplicateFillPolicy }

// RegisterStrategy adds s to the routing table and the portfolio.
func (e *Engine) RegisterStrategy(s Strategy) error {
	if s == nil {
		return exception.ErrNilInstance
	}
	id := s.ID()

	e.regMu.Lock()
	defer e.regMu.Unlock()
	if _, ok := e.strategies[id]; ok {
		return fmt.Errorf("%w: strategy %s", exception.ErrAlreadyRegistered, id)
	}
	if err := e.portfolio.RegisterStrategy(id); err != nil {
		return err
	}
	e.strategies[id] = s
	e.logger.Infof("registered strategy %s", id)
	return nil
}

// DeregisterStrategy removes s from the routing table and the portfolio.
func (e *Engine) DeregisterStrategy(s Strategy) error {
	if s == nil {
		return exception.ErrNilInstance
	}
	id := s.ID()

	e.regMu.Lock()
	defer e.regMu.Unlock()
	if _, ok := e.strategies[id]; !ok {
		return fmt.Errorf("%w: strategy %s", exception.ErrNotRegistered, id)
	}
	if err := e.portfolio.DeregisterStrategy(id); err != nil {
		e.logger.Warnf("deregister strategy %s from portfolio, err: %+v", id, err)
	}
	delete(e.strategies, id)
	e.logger.Infof("deregistered strategy %s", id)
	return nil
}

// RegisterClient binds c to its venue. At most one client per venue.
func (e *Engine) RegisterClient(c ExecutionClient) error {
	if c == nil {
		return exception.ErrNilInstance
	}
	venue := c.Venue()

	e.regMu.Lock()
	defer e.regMu.Unlock()
	if _, ok := e.clients[venue]; ok {
		return fmt.Errorf("%w: client for venue %s", exception.ErrAlreadyRegistered, venue)
	}
	e.clients[venue] = c
	e.logger.Infof("registered execution client for %s", venue)
	return nil
}

// DeregisterClient unbinds the client of venue.
func (e *Engine) DeregisterClient(venue model.Venue) error {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	if _, ok := e.clients[venue]; !ok {
		return fmt.Errorf("%w: client for venue %s", exception.ErrNotRegistered, venue)
	}
	delete(e.clients, venue)
	return nil
}

// RegisteredStrategies returns the registered strategy ids, sorted.
func (e *Engine) RegisteredStrategies() []model.StrategyID {
	e.regMu.RLock()
	defer e.regMu.RUnlock()
	return slices.Sorted(maps.Keys(e.strategies))
}

// RegisteredVenues returns the venues with a bound client, sorted.
func (e *Engine) RegisteredVenues() []model.Venue {
	e.regMu.RLock()
	defer e.regMu.RUnlock()
	return slices.Sorted(maps.Keys(e.clients))
}

// Subscribe registers a read-only listener called with every processed event
// after the owning strategy.
func (e *Engine) Subscribe(fn func(model.Event)) {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// OnFault registers a handler for cache invariant violations.
func (e *Engine) OnFault(fn func(error)) {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	e.faults = append(e.faults, fn)
}

// Reset clears the cache and the portfolio and restarts the strategies' order
// id sequences. Registrations survive.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cache.Reset()
	e.portfolio.Reset()

	e.regMu.RLock()
	for _, s := range e.strategies {
		if f := s.OrderFactory(); f != nil {
			f.Reset()
		}
	}
	e.regMu.RUnlock()
	e.logger.Infof("engine %s reset", e.cfg.TraderID)
}

func (e *Engine) route(h model.CommandHeader) (Strategy, ExecutionClient, error) {
	e.regMu.RLock()
	defer e.regMu.RUnlock()

	s, ok := e.strategies[h.StrategyID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", exception.ErrUnknownStrategy, h.StrategyID)
	}
	c, ok := e.clients[h.Venue]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", exception.ErrUnknownVenue, h.Venue)
	}
	return s, c, nil
}

func (e *Engine) fault(err error) {
	e.metrics.IncFault()
	e.logger.Errorf("cache invariant violated, err: %+v", err)

	e.regMu.RLock()
	handlers := slices.Clone(e.faults)
	e.regMu.RUnlock()
	for _, h := range handlers {
		h(err)
	}
}
