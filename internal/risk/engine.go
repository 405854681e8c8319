package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading/internal/model"
	"trading/internal/model/enum"
)

var bpsDenominator = decimal.NewFromInt(10000)

// Reason explains a risk decision.
type Reason uint8

const (
	_reason_beg Reason = iota
	ReasonNone
	ReasonKillSwitch
	ReasonRateLimit
	ReasonMaxQty
	ReasonPriceBand
	ReasonMaxNotional
	ReasonPositionLimit
	_reason_end
)

func (r Reason) IsAvailable() bool {
	return r > _reason_beg && r < _reason_end
}

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "NONE"
	case ReasonKillSwitch:
		return "KILL_SWITCH"
	case ReasonRateLimit:
		return "RATE_LIMIT"
	case ReasonMaxQty:
		return "MAX_QTY"
	case ReasonPriceBand:
		return "PRICE_BAND"
	case ReasonMaxNotional:
		return "MAX_NOTIONAL"
	case ReasonPositionLimit:
		return "POSITION_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// Config defines simple pre-trade limits. Zero values disable a check.
type Config struct {
	KillSwitch           bool
	MaxOrderQty          decimal.Decimal
	MaxOrderNotional     decimal.Decimal
	MaxPosition          decimal.Decimal
	OrderRateLimit       int
	OrderRateWindow      time.Duration
	MaxPriceDeviationBps int64
}

// StateView is the exposure the order would change.
type StateView struct {
	Position       decimal.Decimal
	ReferencePrice decimal.Decimal
	Now            time.Time
}

// Decision is the outcome of Evaluate.
type Decision struct {
	OrderID       model.ClientOrderID
	StrategyID    model.StrategyID
	InstrumentID  model.InstrumentID
	Allowed       bool
	Reason        Reason
	ProposedQty   decimal.Decimal
	ProposedPrice decimal.Decimal
	CurrentPos    decimal.Decimal
	MaxPos        decimal.Decimal
	MaxNotional   decimal.Decimal
}

// Engine evaluates risk decisions.
type Engine struct {
	cfg Config

	mu              sync.Mutex
	rateWindowStart time.Time
	rateCount       int
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// SetKillSwitch toggles the kill switch at runtime.
func (e *Engine) SetKillSwitch(on bool) {
	e.mu.Lock()
	e.cfg.KillSwitch = on
	e.mu.Unlock()
}

// Evaluate applies the checks in order and stops at the first denial. It
// does not change the rate window, see Record.
func (e *Engine) Evaluate(order model.Order, state StateView) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	price := order.Price
	if order.Kind == enum.OrderKindStop {
		price = order.TriggerPrice
	}
	if price.IsZero() {
		price = state.ReferencePrice
	}

	decision := Decision{
		OrderID:       order.ID,
		StrategyID:    order.StrategyID,
		InstrumentID:  order.InstrumentID,
		Allowed:       true,
		Reason:        ReasonNone,
		ProposedQty:   order.Quantity,
		ProposedPrice: price,
		CurrentPos:    state.Position,
		MaxPos:        e.cfg.MaxPosition,
		MaxNotional:   e.cfg.MaxOrderNotional,
	}
	deny := func(r Reason) Decision {
		decision.Allowed = false
		decision.Reason = r
		return decision
	}

	now := state.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if e.cfg.KillSwitch {
		return deny(ReasonKillSwitch)
	}

	if e.rateLimited() && e.countInWindow(now) >= e.cfg.OrderRateLimit {
		return deny(ReasonRateLimit)
	}

	if e.cfg.MaxOrderQty.IsPositive() && order.Quantity.GreaterThan(e.cfg.MaxOrderQty) {
		return deny(ReasonMaxQty)
	}

	if e.cfg.MaxPriceDeviationBps > 0 && order.Kind.HasPrice() && state.ReferencePrice.IsPositive() {
		diff := order.Price.Sub(state.ReferencePrice).Abs()
		limit := state.ReferencePrice.Mul(decimal.NewFromInt(e.cfg.MaxPriceDeviationBps)).Div(bpsDenominator)
		if diff.GreaterThan(limit) {
			return deny(ReasonPriceBand)
		}
	}

	if e.cfg.MaxOrderNotional.IsPositive() && price.Mul(order.Quantity).Abs().GreaterThan(e.cfg.MaxOrderNotional) {
		return deny(ReasonMaxNotional)
	}

	next := applySide(state.Position, order.Side, order.Quantity)
	if e.cfg.MaxPosition.IsPositive() && next.Abs().GreaterThan(e.cfg.MaxPosition) {
		return deny(ReasonPositionLimit)
	}

	return decision
}

// Record counts an accepted order against the rate window. Call it once the
// order passed Evaluate and was stored; denied orders never count.
func (e *Engine) Record(now time.Time) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.rateLimited() {
		return
	}
	if e.windowExpired(now) {
		e.rateWindowStart = now
		e.rateCount = 0
	}
	e.rateCount++
}

func (e *Engine) rateLimited() bool {
	return e.cfg.OrderRateLimit > 0 && e.cfg.OrderRateWindow > 0
}

func (e *Engine) windowExpired(now time.Time) bool {
	return e.rateWindowStart.IsZero() || now.Sub(e.rateWindowStart) >= e.cfg.OrderRateWindow
}

func (e *Engine) countInWindow(now time.Time) int {
	if e.windowExpired(now) {
		return 0
	}
	return e.rateCount
}

func applySide(pos decimal.Decimal, side enum.OrderSide, qty decimal.Decimal) decimal.Decimal {
	switch side {
	case enum.OrderSideBuy:
		return pos.Add(qty)
	case enum.OrderSideSell:
		return pos.Sub(qty)
	default:
		return pos
	}
}
