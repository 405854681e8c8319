package cache

import (
	"fmt"

	"trading/internal/model"
	"trading/pkg/exception"
)

// Queries taking a strategy id filter by it; the empty id selects every strategy.
// Returned orders and positions are copies, sorted by id.

// StrategyIDs lists every strategy owning an order or a position.
func (c *Cache) StrategyIDs() []model.StrategyID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.strategies)
}

// OrderExists reports whether the order was ever added.
func (c *Cache) OrderExists(id model.ClientOrderID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.orders[id]
	return ok
}

// Order returns the order with id or ErrNotFound.
func (c *Cache) Order(id model.ClientOrderID) (model.Order, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: order %s", exception.ErrNotFound, id)
	}
	return o.Clone(), nil
}

// Orders returns every order of strategy.
func (c *Cache) Orders(strategy model.StrategyID) []model.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectOrders(c.orderIDs(c.ordersAll, strategy))
}

// OrdersWorking returns the orders not yet in a terminal status.
func (c *Cache) OrdersWorking(strategy model.StrategyID) []model.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectOrders(c.orderIDs(c.ordersWorking, strategy))
}

// OrdersCompleted returns the orders in a terminal status.
func (c *Cache) OrdersCompleted(strategy model.StrategyID) []model.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectOrders(c.orderIDs(c.ordersCompleted, strategy))
}

// OrdersForVenue returns the orders routed to venue, across strategies.
func (c *Cache) OrdersForVenue(venue model.Venue) []model.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectOrders(sortedKeys(c.ordersByVenue[venue]))
}

// OrdersForInstrument returns the orders on instrument, across strategies.
func (c *Cache) OrdersForInstrument(instrument model.InstrumentID) []model.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectOrders(sortedKeys(c.ordersByInstrument[instrument]))
}

// OrdersTotalCount counts what Orders would return without copying.
func (c *Cache) OrdersTotalCount(strategy model.StrategyID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return countIntersect(c.ordersAll, c.ordersByStrategy[strategy], strategy != "")
}

// OrdersWorkingCount counts OrdersWorking.
func (c *Cache) OrdersWorkingCount(strategy model.StrategyID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return countIntersect(c.ordersWorking, c.ordersByStrategy[strategy], strategy != "")
}

// OrdersCompletedCount counts OrdersCompleted.
func (c *Cache) OrdersCompletedCount(strategy model.StrategyID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return countIntersect(c.ordersCompleted, c.ordersByStrategy[strategy], strategy != "")
}

// PositionExists reports whether the position was ever added.
func (c *Cache) PositionExists(id model.PositionID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.positions[id]
	return ok
}

// Position returns the position with id or ErrNotFound.
func (c *Cache) Position(id model.PositionID) (model.Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[id]
	if !ok {
		return model.Position{}, fmt.Errorf("%w: position %s", exception.ErrNotFound, id)
	}
	return p.Clone(), nil
}

// IsPositionOpen is false for unknown positions.
func (c *Cache) IsPositionOpen(id model.PositionID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positionsOpen.has(id)
}

// IsPositionClosed is false for unknown positions.
func (c *Cache) IsPositionClosed(id model.PositionID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positionsClosed.has(id)
}

// Positions returns every position of strategy, open and closed.
func (c *Cache) Positions(strategy model.StrategyID) []model.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectPositions(c.positionIDs(c.positionsAll, strategy))
}

// PositionsOpen returns the positions with a non-zero net quantity.
func (c *Cache) PositionsOpen(strategy model.StrategyID) []model.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectPositions(c.positionIDs(c.positionsOpen, strategy))
}

// PositionsClosed returns the positions that went back to flat.
func (c *Cache) PositionsClosed(strategy model.StrategyID) []model.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectPositions(c.positionIDs(c.positionsClosed, strategy))
}

// PositionsForInstrument returns the positions on instrument, across strategies.
func (c *Cache) PositionsForInstrument(instrument model.InstrumentID) []model.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectPositions(sortedKeys(c.positionsByInstr[instrument]))
}

// PositionIDs returns the ids of Positions.
func (c *Cache) PositionIDs(strategy model.StrategyID) []model.PositionID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positionIDs(c.positionsAll, strategy)
}

// PositionOpenIDs returns the ids of PositionsOpen.
func (c *Cache) PositionOpenIDs(strategy model.StrategyID) []model.PositionID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positionIDs(c.positionsOpen, strategy)
}

// PositionClosedIDs returns the ids of PositionsClosed.
func (c *Cache) PositionClosedIDs(strategy model.StrategyID) []model.PositionID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positionIDs(c.positionsClosed, strategy)
}

// PositionsTotalCount counts Positions without copying.
func (c *Cache) PositionsTotalCount(strategy model.StrategyID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return countIntersect(c.positionsAll, c.positionsByStrategy[strategy], strategy != "")
}

// PositionsOpenCount counts PositionsOpen.
func (c *Cache) PositionsOpenCount(strategy model.StrategyID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return countIntersect(c.positionsOpen, c.positionsByStrategy[strategy], strategy != "")
}

// PositionsClosedCount counts PositionsClosed.
func (c *Cache) PositionsClosedCount(strategy model.StrategyID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return countIntersect(c.positionsClosed, c.positionsByStrategy[strategy], strategy != "")
}

// IsFlat reports whether no position of strategy is open.
func (c *Cache) IsFlat(strategy model.StrategyID) bool {
	return c.PositionsOpenCount(strategy) == 0
}

// PositionExistsForOrder reports whether order id is attached to a stored position.
func (c *Cache) PositionExistsForOrder(id model.ClientOrderID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pid, ok := c.orderPosition[id]
	if !ok {
		return false
	}
	_, ok = c.positions[pid]
	return ok
}

// PositionIDForOrder returns the position id order id is attached to, if any.
func (c *Cache) PositionIDForOrder(id model.ClientOrderID) (model.PositionID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pid, ok := c.orderPosition[id]
	return pid, ok
}

// PositionForOrder returns ErrNotFound when the order has not filled yet.
func (c *Cache) PositionForOrder(id model.ClientOrderID) (model.Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pid, ok := c.orderPosition[id]
	if !ok {
		return model.Position{}, fmt.Errorf("%w: position for order %s", exception.ErrNotFound, id)
	}
	p, ok := c.positions[pid]
	if !ok {
		return model.Position{}, fmt.Errorf("%w: position %s for order %s", exception.ErrNotFound, pid, id)
	}
	return p.Clone(), nil
}

// OrderIDsForPosition returns the orders that filled into the position, sorted.
func (c *Cache) OrderIDsForPosition(id model.PositionID) []model.ClientOrderID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.positionOrders[id])
}

func (c *Cache) orderIDs(scope set[model.ClientOrderID], strategy model.StrategyID) []model.ClientOrderID {
	return intersect(scope, c.ordersByStrategy[strategy], strategy != "")
}

func (c *Cache) positionIDs(scope set[model.PositionID], strategy model.StrategyID) []model.PositionID {
	return intersect(scope, c.positionsByStrategy[strategy], strategy != "")
}

func (c *Cache) collectOrders(ids []model.ClientOrderID) []model.Order {
	out := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.orders[id].Clone())
	}
	return out
}

func (c *Cache) collectPositions(ids []model.PositionID) []model.Position {
	out := make([]model.Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.positions[id].Clone())
	}
	return out
}
