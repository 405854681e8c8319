package enum

import "fmt"

// OrderSide buy, sell
type OrderSide uint8

const (
	_order_side_beg OrderSide = iota
	OrderSideBuy
	OrderSideSell
	_order_side_end
)

func (s OrderSide) IsAvailable() bool {
	return s > _order_side_beg && s < _order_side_end
}

// Opposite returns the other side of the book.
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	default:
		return s
	}
}

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "BUY"
	case OrderSideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

func (s OrderSide) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderSide) UnmarshalText(b []byte) error {
	v, err := parse(string(b), _order_side_beg, _order_side_end)
	if err != nil {
		return fmt.Errorf("order side: %w", err)
	}
	*s = v
	return nil
}

// OrderKind market, limit, stop, stop limit
type OrderKind uint8

const (
	_order_kind_beg OrderKind = iota
	OrderKindMarket
	OrderKindLimit
	OrderKindStop
	OrderKindStopLimit
	_order_kind_end
)

func (k OrderKind) IsAvailable() bool {
	return k > _order_kind_beg && k < _order_kind_end
}

// HasPrice reports whether the kind carries a limit price.
func (k OrderKind) HasPrice() bool {
	return k == OrderKindLimit || k == OrderKindStopLimit
}

// HasTrigger reports whether the kind carries a trigger price.
func (k OrderKind) HasTrigger() bool {
	return k == OrderKindStop || k == OrderKindStopLimit
}

func (k OrderKind) String() string {
	switch k {
	case OrderKindMarket:
		return "MARKET"
	case OrderKindLimit:
		return "LIMIT"
	case OrderKindStop:
		return "STOP"
	case OrderKindStopLimit:
		return "STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

func (k OrderKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *OrderKind) UnmarshalText(b []byte) error {
	v, err := parse(string(b), _order_kind_beg, _order_kind_end)
	if err != nil {
		return fmt.Errorf("order kind: %w", err)
	}
	*k = v
	return nil
}

// TimeInForce GTC, IOC, FOK, GTD, DAY
type TimeInForce uint8

const (
	_time_in_force_beg TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
	TimeInForceGTD
	TimeInForceDAY
	_time_in_force_end
)

func (t TimeInForce) IsAvailable() bool {
	return t > _time_in_force_beg && t < _time_in_force_end
}

func (t TimeInForce) String() string {
	switch t {
	case TimeInForceGTC:
		return "GTC"
	case TimeInForceIOC:
		return "IOC"
	case TimeInForceFOK:
		return "FOK"
	case TimeInForceGTD:
		return "GTD"
	case TimeInForceDAY:
		return "DAY"
	default:
		return "UNKNOWN"
	}
}

func (t TimeInForce) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeInForce) UnmarshalText(b []byte) error {
	v, err := parse(string(b), _time_in_force_beg, _time_in_force_end)
	if err != nil {
		return fmt.Errorf("time in force: %w", err)
	}
	*t = v
	return nil
}

// OrderStatus initialized, denied, submitted, accepted, rejected, canceled, expired, partially filled, filled
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusInitialized
	OrderStatusDenied
	OrderStatusSubmitted
	OrderStatusAccepted
	OrderStatusRejected
	OrderStatusCanceled
	OrderStatusExpired
	OrderStatusPartiallyFilled
	OrderStatusFilled
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

// IsTerminal reports whether no further event may change the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDenied, OrderStatusRejected, OrderStatusCanceled, OrderStatusExpired, OrderStatusFilled:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusInitialized:
		return "INITIALIZED"
	case OrderStatusDenied:
		return "DENIED"
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusAccepted:
		return "ACCEPTED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusExpired:
		return "EXPIRED"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	default:
		return "UNKNOWN"
	}
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(b []byte) error {
	v, err := parse(string(b), _order_status_beg, _order_status_end)
	if err != nil {
		return fmt.Errorf("order status: %w", err)
	}
	*s = v
	return nil
}
