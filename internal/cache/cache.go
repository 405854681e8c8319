package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trading/internal/model"
	"trading/internal/obs"
	"trading/internal/persistence"
	"trading/pkg/exception"
)

const defaultWriteTimeout = 2 * time.Second

// Cache is the authoritative in-memory index of orders and positions for one
// trader. Every mutation updates the primary stores and all secondary indices
// under one lock, then writes through to the persistence backend.
type Cache struct {
	traderID     model.TraderID
	logger       obs.Logger
	db           persistence.Database
	writeTimeout time.Duration

	mu sync.RWMutex
	// serializes write-through so the backend sees mutations in cache order
	persistMu sync.Mutex

	orders    map[model.ClientOrderID]*model.Order
	positions map[model.PositionID]*model.Position

	strategies          set[model.StrategyID]
	ordersByStrategy    map[model.StrategyID]set[model.ClientOrderID]
	ordersByVenue       map[model.Venue]set[model.ClientOrderID]
	ordersByInstrument  map[model.InstrumentID]set[model.ClientOrderID]
	ordersAll           set[model.ClientOrderID]
	ordersWorking       set[model.ClientOrderID]
	ordersCompleted     set[model.ClientOrderID]
	orderPosition       map[model.ClientOrderID]model.PositionID
	positionOrders      map[model.PositionID]set[model.ClientOrderID]
	positionsByStrategy map[model.StrategyID]set[model.PositionID]
	positionsByInstr    map[model.InstrumentID]set[model.PositionID]
	positionsAll        set[model.PositionID]
	positionsOpen       set[model.PositionID]
	positionsClosed     set[model.PositionID]
}

// Option customizes a Cache.
type Option func(*Cache)

// WithDatabase sets the persistence backend. The default is persistence.Bypass.
func WithDatabase(db persistence.Database) Option {
	return func(c *Cache) {
		if db != nil {
			c.db = db
		}
	}
}

// WithWriteTimeout bounds each write-through call.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

func New(traderID model.TraderID, logger obs.Logger, opts ...Option) *Cache {
	c := &Cache{
		traderID:     traderID,
		logger:       logger,
		db:           persistence.NewBypass(),
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.clear()
	return c
}

func (c *Cache) TraderID() model.TraderID { return c.traderID }

func (c *Cache) clear() {
	c.orders = make(map[model.ClientOrderID]*model.Order)
	c.positions = make(map[model.PositionID]*model.Position)
	c.strategies = make(set[model.StrategyID])
	c.ordersByStrategy = make(map[model.StrategyID]set[model.ClientOrderID])
	c.ordersByVenue = make(map[model.Venue]set[model.ClientOrderID])
	c.ordersByInstrument = make(map[model.InstrumentID]set[model.ClientOrderID])
	c.ordersAll = make(set[model.ClientOrderID])
	c.ordersWorking = make(set[model.ClientOrderID])
	c.ordersCompleted = make(set[model.ClientOrderID])
	c.orderPosition = make(map[model.ClientOrderID]model.PositionID)
	c.positionOrders = make(map[model.PositionID]set[model.ClientOrderID])
	c.positionsByStrategy = make(map[model.StrategyID]set[model.PositionID])
	c.positionsByInstr = make(map[model.InstrumentID]set[model.PositionID])
	c.positionsAll = make(set[model.PositionID])
	c.positionsOpen = make(set[model.PositionID])
	c.positionsClosed = make(set[model.PositionID])
}

// Reset clears every store and index. The persistence backend is untouched.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
	c.logger.Debugf("cache %s reset", c.traderID)
}

// Build replaces the cache content with the backend's order and position indices.
func (c *Cache) Build(ctx context.Context) error {
	orders, err := c.db.LoadOrderIndex(ctx)
	if err != nil {
		return fmt.Errorf("load order index: %w", err)
	}
	positions, err := c.db.LoadPositionIndex(ctx)
	if err != nil {
		return fmt.Errorf("load position index: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
	for id := range orders {
		o := orders[id]
		c.indexOrder(&o)
	}
	for id := range positions {
		p := positions[id]
		c.indexPosition(&p)
	}
	c.logger.Infof("cache %s built with %d orders and %d positions", c.traderID, len(orders), len(positions))
	return nil
}

// Flush deletes every record of the persistence backend.
func (c *Cache) Flush(ctx context.Context) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	return c.db.Flush(ctx)
}

// AddOrder inserts a new order.
func (c *Cache) AddOrder(order model.Order) error {
	return c.Commit(Batch{AddOrders: []model.Order{order}})
}

// AddPosition inserts a new position.
func (c *Cache) AddPosition(position model.Position) error {
	return c.Commit(Batch{AddPositions: []model.Position{position}})
}

// UpdateOrder overwrites an existing order.
func (c *Cache) UpdateOrder(order model.Order) error {
	return c.Commit(Batch{UpdateOrders: []model.Order{order}})
}

// UpdatePosition overwrites an existing open position.
func (c *Cache) UpdatePosition(position model.Position) error {
	return c.Commit(Batch{UpdatePositions: []model.Position{position}})
}

// Commit validates the whole batch against the current state, then applies it
// under one lock. On error nothing is applied.
func (c *Cache) Commit(b Batch) error {
	if b.IsEmpty() {
		return nil
	}
	b = b.clone()

	c.mu.Lock()
	if err := c.validate(b); err != nil {
		c.mu.Unlock()
		c.logger.Errorf("cache %s rejected batch, err: %+v", c.traderID, err)
		return err
	}
	for i := range b.AddOrders {
		o := b.AddOrders[i].Clone()
		c.indexOrder(&o)
	}
	for i := range b.UpdateOrders {
		o := b.UpdateOrders[i].Clone()
		c.indexOrder(&o)
	}
	for i := range b.AddPositions {
		p := b.AddPositions[i].Clone()
		c.indexPosition(&p)
	}
	for i := range b.UpdatePositions {
		p := b.UpdatePositions[i].Clone()
		c.indexPosition(&p)
	}

	// taken before releasing mu so write-through preserves commit order
	c.persistMu.Lock()
	c.mu.Unlock()
	defer c.persistMu.Unlock()

	c.persist(b)
	return nil
}

func (c *Cache) validate(b Batch) error {
	addedOrders := make(set[model.ClientOrderID], len(b.AddOrders))
	for i := range b.AddOrders {
		o := &b.AddOrders[i]
		if o.ID == "" {
			return fmt.Errorf("%w: empty client order id", exception.ErrInvalidArgument)
		}
		if _, ok := c.orders[o.ID]; ok || addedOrders.has(o.ID) {
			return fmt.Errorf("%w: order %s", exception.ErrDuplicateKey, o.ID)
		}
		addedOrders[o.ID] = struct{}{}
	}

	for i := range b.UpdateOrders {
		o := &b.UpdateOrders[i]
		prev, ok := c.orders[o.ID]
		if !ok {
			if addedOrders.has(o.ID) {
				continue
			}
			return fmt.Errorf("%w: order %s", exception.ErrNotFound, o.ID)
		}
		if prev.StrategyID != o.StrategyID || prev.Venue != o.Venue || prev.InstrumentID != o.InstrumentID {
			return fmt.Errorf("%w: order %s owner", exception.ErrImmutableField, o.ID)
		}
	}

	addedPositions := make(set[model.PositionID], len(b.AddPositions))
	for i := range b.AddPositions {
		p := &b.AddPositions[i]
		if p.ID.IsNull() {
			return fmt.Errorf("%w: null position id", exception.ErrInvalidArgument)
		}
		if _, ok := c.positions[p.ID]; ok || addedPositions.has(p.ID) {
			return fmt.Errorf("%w: position %s", exception.ErrDuplicateKey, p.ID)
		}
		addedPositions[p.ID] = struct{}{}
	}

	for i := range b.UpdatePositions {
		p := &b.UpdatePositions[i]
		prev, ok := c.positions[p.ID]
		if !ok {
			if addedPositions.has(p.ID) {
				continue
			}
			return fmt.Errorf("%w: position %s", exception.ErrNotFound, p.ID)
		}
		if prev.IsClosed() {
			return fmt.Errorf("%w: position %s is closed", exception.ErrImmutableField, p.ID)
		}
		if prev.StrategyID != p.StrategyID || prev.InstrumentID != p.InstrumentID {
			return fmt.Errorf("%w: position %s owner", exception.ErrImmutableField, p.ID)
		}
	}
	return nil
}

// indexOrder stores o and refreshes every order index. Caller holds mu.
func (c *Cache) indexOrder(o *model.Order) {
	if prev, ok := c.orders[o.ID]; ok && prev.PositionID != o.PositionID && !prev.PositionID.IsNull() {
		if s, ok := c.positionOrders[prev.PositionID]; ok {
			delete(s, o.ID)
		}
	}

	c.orders[o.ID] = o
	c.ordersAll[o.ID] = struct{}{}
	c.strategies[o.StrategyID] = struct{}{}
	addTo(c.ordersByStrategy, o.StrategyID, o.ID)
	addTo(c.ordersByVenue, o.Venue, o.ID)
	addTo(c.ordersByInstrument, o.InstrumentID, o.ID)

	if o.IsCompleted() {
		delete(c.ordersWorking, o.ID)
		c.ordersCompleted[o.ID] = struct{}{}
	} else {
		delete(c.ordersCompleted, o.ID)
		c.ordersWorking[o.ID] = struct{}{}
	}

	if !o.PositionID.IsNull() {
		c.orderPosition[o.ID] = o.PositionID
		addTo(c.positionOrders, o.PositionID, o.ID)
	}
}

// indexPosition stores p and refreshes every position index. Caller holds mu.
func (c *Cache) indexPosition(p *model.Position) {
	c.positions[p.ID] = p
	c.positionsAll[p.ID] = struct{}{}
	c.strategies[p.StrategyID] = struct{}{}
	addTo(c.positionsByStrategy, p.StrategyID, p.ID)
	addTo(c.positionsByInstr, p.InstrumentID, p.ID)

	if p.IsClosed() {
		delete(c.positionsOpen, p.ID)
		c.positionsClosed[p.ID] = struct{}{}
	} else {
		delete(c.positionsClosed, p.ID)
		c.positionsOpen[p.ID] = struct{}{}
	}

	for _, oid := range p.OrderIDs {
		if _, ok := c.orderPosition[oid]; !ok {
			c.orderPosition[oid] = p.ID
		}
		addTo(c.positionOrders, p.ID, oid)
	}
}

func (c *Cache) persist(b Batch) {
	if persistence.IsBypass(c.db) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	for i := range b.AddOrders {
		if err := c.db.AddOrder(ctx, b.AddOrders[i]); err != nil {
			c.logger.Errorf("persist add order %s, err: %+v", b.AddOrders[i].ID, err)
		}
	}
	for i := range b.UpdateOrders {
		if err := c.db.UpdateOrder(ctx, b.UpdateOrders[i]); err != nil {
			c.logger.Errorf("persist update order %s, err: %+v", b.UpdateOrders[i].ID, err)
		}
	}
	for i := range b.AddPositions {
		if err := c.db.AddPosition(ctx, b.AddPositions[i]); err != nil {
			c.logger.Errorf("persist add position %s, err: %+v", b.AddPositions[i].ID, err)
		}
	}
	for i := range b.UpdatePositions {
		if err := c.db.UpdatePosition(ctx, b.UpdatePositions[i]); err != nil {
			c.logger.Errorf("persist update position %s, err: %+v", b.UpdatePositions[i].ID, err)
		}
	}
}
