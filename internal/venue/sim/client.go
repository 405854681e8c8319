package sim

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"trading/internal/model"
	"trading/internal/model/enum"
	"trading/internal/obs"
	"trading/pkg/exception"
)

var ErrDisconnected = errors.New("sim: venue disconnected")

// Sink receives the events the venue produces, typically Engine.Deliver or
// Engine.Process.
type Sink func(ev model.Event) error

// Client is a paper venue implementing the engine's execution client.
// Marketable orders fill in full at the last price; others rest until SetPrice
// crosses them.
type Client struct {
	venue   model.Venue
	account model.AccountID
	clock   clock.Clock
	sink    Sink
	logger  obs.Logger

	mu        sync.Mutex
	connected bool
	prices    map[model.InstrumentID]decimal.Decimal
	resting   map[model.ClientOrderID]*model.Order
	seq       uint64
}

func New(venue model.Venue, account model.AccountID, clk clock.Clock, sink Sink, logger obs.Logger) *Client {
	return &Client{
		venue:     venue,
		account:   account,
		clock:     clk,
		sink:      sink,
		logger:    logger,
		connected: true,
		prices:    make(map[model.InstrumentID]decimal.Decimal),
		resting:   make(map[model.ClientOrderID]*model.Order),
	}
}

func (c *Client) Venue() model.Venue { return c.venue }

func (c *Client) Account() model.AccountID { return c.account }

// Disconnect makes later commands fail with ErrDisconnected. Resting orders stay.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) Reconnect() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
}

// LastPrice returns the last price set for instrument.
func (c *Client) LastPrice(instrument model.InstrumentID) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	px, ok := c.prices[instrument]
	return px, ok
}

// Resting returns the ids of the orders working on the book.
func (c *Client) Resting() []model.ClientOrderID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ClientOrderID, 0, len(c.resting))
	for id := range c.resting {
		out = append(out, id)
	}
	return out
}

// SetPrice moves the market of instrument and fills every resting order it crosses.
func (c *Client) SetPrice(instrument model.InstrumentID, px decimal.Decimal) {
	c.mu.Lock()
	c.prices[instrument] = px
	var out []model.Event
	for id, o := range c.resting {
		if o.InstrumentID != instrument || !marketable(o, px) {
			continue
		}
		out = append(out, c.fill(o, px))
		delete(c.resting, id)
	}
	c.mu.Unlock()

	c.emit(out...)
}

func (c *Client) Submit(ctx context.Context, cmd model.SubmitOrder) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o := cmd.Order.Clone()
	if o.PositionID.IsNull() {
		o.PositionID = cmd.PositionID
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrDisconnected
	}

	now := c.clock.Now()
	out := []model.Event{model.OrderSubmitted{OrderEventHeader: model.NewOrderEventHeader(o.ID, c.account, now)}}

	px, priced := c.prices[o.InstrumentID]
	switch {
	case o.Kind == enum.OrderKindMarket && !priced:
		out = append(out, model.OrderRejected{
			OrderEventHeader: model.NewOrderEventHeader(o.ID, c.account, now),
			Reason:           "no market for " + string(o.InstrumentID),
		})
	default:
		o.VenueOrderID = c.nextVenueOrderID()
		out = append(out, model.OrderAccepted{
			OrderEventHeader: model.NewOrderEventHeader(o.ID, c.account, now),
			VenueOrderID:     o.VenueOrderID,
		})
		switch {
		case priced && marketable(&o, px):
			out = append(out, c.fill(&o, px))
		case o.TimeInForce == enum.TimeInForceIOC || o.TimeInForce == enum.TimeInForceFOK:
			out = append(out, model.OrderCanceled{OrderEventHeader: model.NewOrderEventHeader(o.ID, c.account, now)})
		default:
			c.resting[o.ID] = &o
		}
	}
	c.mu.Unlock()

	c.emit(out...)
	return nil
}

func (c *Client) Modify(ctx context.Context, cmd model.ModifyOrder) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrDisconnected
	}
	o, ok := c.resting[cmd.ClientOrderID]
	if !ok {
		c.mu.Unlock()
		return exception.Unsupported("modify")
	}
	if !cmd.Quantity.IsZero() {
		o.Quantity = cmd.Quantity
	}
	if !cmd.Price.IsZero() {
		o.Price = cmd.Price
	}
	if !cmd.TriggerPrice.IsZero() {
		o.TriggerPrice = cmd.TriggerPrice
	}
	out := []model.Event{model.OrderModified{
		OrderEventHeader: model.NewOrderEventHeader(o.ID, c.account, c.clock.Now()),
		VenueOrderID:     o.VenueOrderID,
		Quantity:         cmd.Quantity,
		Price:            cmd.Price,
		TriggerPrice:     cmd.TriggerPrice,
	}}
	if px, ok := c.prices[o.InstrumentID]; ok && marketable(o, px) {
		out = append(out, c.fill(o, px))
		delete(c.resting, o.ID)
	}
	c.mu.Unlock()

	c.emit(out...)
	return nil
}

func (c *Client) Cancel(ctx context.Context, cmd model.CancelOrder) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrDisconnected
	}
	if _, ok := c.resting[cmd.ClientOrderID]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is not resting on %s", exception.ErrInvalidOrderState, cmd.ClientOrderID, c.venue)
	}
	delete(c.resting, cmd.ClientOrderID)
	ev := model.OrderCanceled{OrderEventHeader: model.NewOrderEventHeader(cmd.ClientOrderID, c.account, c.clock.Now())}
	c.mu.Unlock()

	c.emit(ev)
	return nil
}

// PublishAccount emits an AccountState for the venue account.
func (c *Client) PublishAccount(currency string, balance, margin decimal.Decimal) {
	c.emit(model.AccountState{
		EventHeader: model.NewEventHeader(c.clock.Now()),
		AccountID:   c.account,
		Currency:    currency,
		Balance:     balance,
		Margin:      margin,
	})
}

// fill executes the leaves quantity of o at px. Caller holds mu.
func (c *Client) fill(o *model.Order, px decimal.Decimal) model.OrderFilled {
	c.seq++
	return model.OrderFilled{
		OrderEventHeader: model.NewOrderEventHeader(o.ID, c.account, c.clock.Now()),
		VenueOrderID:     o.VenueOrderID,
		ExecutionID:      model.ExecutionID("E-" + string(c.venue) + "-" + strconv.FormatUint(c.seq, 10)),
		PositionID:       o.PositionID,
		LastQty:          o.LeavesQty(),
		LastPx:           px,
	}
}

// nextVenueOrderID is called with mu held.
func (c *Client) nextVenueOrderID() model.VenueOrderID {
	c.seq++
	return model.VenueOrderID(string(c.venue) + "-" + strconv.FormatUint(c.seq, 10))
}

func (c *Client) emit(events ...model.Event) {
	for _, ev := range events {
		if err := c.sink(ev); err != nil {
			c.logger.Warnf("sim %s emit %s, err: %+v", c.venue, ev.Kind(), err)
		}
	}
}

// marketable reports whether o executes against a market at px.
func marketable(o *model.Order, px decimal.Decimal) bool {
	buy := o.Side == enum.OrderSideBuy
	crosses := func(limit decimal.Decimal) bool {
		if buy {
			return px.LessThanOrEqual(limit)
		}
		return px.GreaterThanOrEqual(limit)
	}
	triggered := func() bool {
		if buy {
			return px.GreaterThanOrEqual(o.TriggerPrice)
		}
		return px.LessThanOrEqual(o.TriggerPrice)
	}

	switch o.Kind {
	case enum.OrderKindMarket:
		return true
	case enum.OrderKindLimit:
		return crosses(o.Price)
	case enum.OrderKindStop:
		return triggered()
	case enum.OrderKindStopLimit:
		return triggered() && crosses(o.Price)
	default:
		return false
	}
}
