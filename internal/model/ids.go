package model

import "strings"

// TraderID identifies the trader instance owning a cache.
type TraderID string

// StrategyID identifies a strategy registered with the engine.
type StrategyID string

// AccountID identifies a venue account.
type AccountID string

// Venue identifies a trading venue.
type Venue string

// InstrumentID has the form <symbol>.<venue>, e.g. AUD/USD.FXCM.
type InstrumentID string

// ClientOrderID is unique within a trader.
type ClientOrderID string

// VenueOrderID is assigned by the venue on acceptance.
type VenueOrderID string

// ExecutionID identifies a single venue execution (trade).
type ExecutionID string

// PositionID identifies a position. The zero value means "not assigned".
type PositionID string

const (
	orderIDPrefix    = "O-"
	positionIDPrefix = "P-"
	flipSuffix       = "F"
)

// NewInstrumentID joins a symbol and venue.
func NewInstrumentID(symbol string, venue Venue) InstrumentID {
	return InstrumentID(symbol + "." + string(venue))
}

// Venue returns the venue suffix of the instrument id.
func (id InstrumentID) Venue() Venue {
	s := string(id)
	idx := strings.LastIndexByte(s, '.')
	if idx < 0 || idx == len(s)-1 {
		return ""
	}
	return Venue(s[idx+1:])
}

// Symbol returns the symbol part of the instrument id.
func (id InstrumentID) Symbol() string {
	s := string(id)
	idx := strings.LastIndexByte(s, '.')
	if idx < 0 {
		return s
	}
	return s[:idx]
}

// IsNull reports whether no position id was assigned.
func (id PositionID) IsNull() bool {
	return len(id) == 0
}

// Flipped returns the id of the position opened when id flips.
func (id PositionID) Flipped() PositionID {
	return id + flipSuffix
}

// Flipped returns the synthetic order id owning the opening part of a flip fill.
func (id ClientOrderID) Flipped() ClientOrderID {
	return id + flipSuffix
}

// PositionIDFromOrder derives the position id for an order that did not name one.
// Client order ids are unique per trader, so the result is unique per cache.
func PositionIDFromOrder(id ClientOrderID) PositionID {
	return PositionID(positionIDPrefix + strings.TrimPrefix(string(id), orderIDPrefix))
}
