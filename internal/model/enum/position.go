package enum

import "fmt"

// PositionSide flat, long, short
type PositionSide uint8

const (
	_position_side_beg PositionSide = iota
	PositionSideFlat
	PositionSideLong
	PositionSideShort
	_position_side_end
)

func (s PositionSide) IsAvailable() bool {
	return s > _position_side_beg && s < _position_side_end
}

func (s PositionSide) String() string {
	switch s {
	case PositionSideFlat:
		return "FLAT"
	case PositionSideLong:
		return "LONG"
	case PositionSideShort:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

func (s PositionSide) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PositionSide) UnmarshalText(b []byte) error {
	v, err := parse(string(b), _position_side_beg, _position_side_end)
	if err != nil {
		return fmt.Errorf("position side: %w", err)
	}
	*s = v
	return nil
}

// PositionStatus open, closed
type PositionStatus uint8

const (
	_position_status_beg PositionStatus = iota
	PositionStatusOpen
	PositionStatusClosed
	_position_status_end
)

func (s PositionStatus) IsAvailable() bool {
	return s > _position_status_beg && s < _position_status_end
}

func (s PositionStatus) String() string {
	switch s {
	case PositionStatusOpen:
		return "OPEN"
	case PositionStatusClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

func (s PositionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PositionStatus) UnmarshalText(b []byte) error {
	v, err := parse(string(b), _position_status_beg, _position_status_end)
	if err != nil {
		return fmt.Errorf("position status: %w", err)
	}
	*s = v
	return nil
}
