package cache

import "trading/internal/model"

// Batch groups mutations that must become visible together, such as the order
// update, position close and position open produced by a flip fill.
type Batch struct {
	AddOrders       []model.Order
	UpdateOrders    []model.Order
	AddPositions    []model.Position
	UpdatePositions []model.Position
}

func (b *Batch) IsEmpty() bool {
	return len(b.AddOrders) == 0 && len(b.UpdateOrders) == 0 &&
		len(b.AddPositions) == 0 && len(b.UpdatePositions) == 0
}

func (b Batch) clone() Batch {
	out := Batch{
		AddOrders:       make([]model.Order, len(b.AddOrders)),
		UpdateOrders:    make([]model.Order, len(b.UpdateOrders)),
		AddPositions:    make([]model.Position, len(b.AddPositions)),
		UpdatePositions: make([]model.Position, len(b.UpdatePositions)),
	}
	for i := range b.AddOrders {
		out.AddOrders[i] = b.AddOrders[i].Clone()
	}
	for i := range b.UpdateOrders {
		out.UpdateOrders[i] = b.UpdateOrders[i].Clone()
	}
	for i := range b.AddPositions {
		out.AddPositions[i] = b.AddPositions[i].Clone()
	}
	for i := range b.UpdatePositions {
		out.UpdatePositions[i] = b.UpdatePositions[i].Clone()
	}
	return out
}
