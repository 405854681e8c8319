package persistence

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"

	"trading/internal/model"
	"trading/pkg/conn"
	"trading/pkg/exception"
)

type orderRow struct {
	ID           string `gorm:"primaryKey"`
	StrategyID   string `gorm:"index"`
	InstrumentID string `gorm:"index"`
	Venue        string
	Status       string
	Payload      []byte
	UpdatedAt    time.Time
}

func (orderRow) TableName() string { return "orders" }

type positionRow struct {
	ID           string `gorm:"primaryKey"`
	StrategyID   string `gorm:"index"`
	InstrumentID string `gorm:"index"`
	Status       string
	Payload      []byte
	UpdatedAt    time.Time
}

func (positionRow) TableName() string { return "positions" }

func newOrderRow(o model.Order) (orderRow, error) {
	payload, err := sonic.Marshal(o)
	if err != nil {
		return orderRow{}, err
	}
	return orderRow{
		ID:           string(o.ID),
		StrategyID:   string(o.StrategyID),
		InstrumentID: string(o.InstrumentID),
		Venue:        string(o.Venue),
		Status:       o.Status.String(),
		Payload:      payload,
		UpdatedAt:    o.UpdateTime,
	}, nil
}

func (r orderRow) order() (model.Order, error) {
	var o model.Order
	if err := sonic.Unmarshal(r.Payload, &o); err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func newPositionRow(p model.Position) (positionRow, error) {
	payload, err := sonic.Marshal(p)
	if err != nil {
		return positionRow{}, err
	}
	return positionRow{
		ID:           string(p.ID),
		StrategyID:   string(p.StrategyID),
		InstrumentID: string(p.InstrumentID),
		Status:       p.Status.String(),
		Payload:      payload,
		UpdatedAt:    p.UpdatedAt,
	}, nil
}

func (r positionRow) position() (model.Position, error) {
	var p model.Position
	if err := sonic.Unmarshal(r.Payload, &p); err != nil {
		return model.Position{}, err
	}
	return p, nil
}

// PostgresStore persists orders and positions through gorm. Indexed columns
// mirror the cache's secondary keys; the full record is a JSON payload.
type PostgresStore struct {
	client *conn.Client
}

// NewPostgresStore migrates the schema on client.
func NewPostgresStore(client *conn.Client) (*PostgresStore, error) {
	if client == nil || client.DB() == nil {
		return nil, exception.ErrNilInstance
	}
	if err := client.DB().AutoMigrate(&orderRow{}, &positionRow{}); err != nil {
		return nil, errors.Wrap(err, "auto migrate")
	}
	return &PostgresStore{client: client}, nil
}

func (s *PostgresStore) db(ctx context.Context) *gorm.DB {
	return s.client.DB().WithContext(ctx)
}

func (s *PostgresStore) Close() error { return s.client.Close() }

func (s *PostgresStore) AddOrder(ctx context.Context, order model.Order) error {
	row, err := newOrderRow(order)
	if err != nil {
		return errors.Wrap(err, "encode order").With("id", order.ID)
	}
	return s.create(ctx, &row, row.ID)
}

func (s *PostgresStore) AddPosition(ctx context.Context, position model.Position) error {
	row, err := newPositionRow(position)
	if err != nil {
		return errors.Wrap(err, "encode position").With("id", position.ID)
	}
	return s.create(ctx, &row, row.ID)
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, order model.Order) error {
	row, err := newOrderRow(order)
	if err != nil {
		return errors.Wrap(err, "encode order").With("id", order.ID)
	}
	return s.update(ctx, &orderRow{}, row.ID, map[string]any{
		"status":     row.Status,
		"payload":    row.Payload,
		"updated_at": row.UpdatedAt,
	})
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, position model.Position) error {
	row, err := newPositionRow(position)
	if err != nil {
		return errors.Wrap(err, "encode position").With("id", position.ID)
	}
	return s.update(ctx, &positionRow{}, row.ID, map[string]any{
		"status":     row.Status,
		"payload":    row.Payload,
		"updated_at": row.UpdatedAt,
	})
}

func (s *PostgresStore) LoadOrderIndex(ctx context.Context) (map[model.ClientOrderID]model.Order, error) {
	var rows []orderRow
	if err := s.db(ctx).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "find orders")
	}
	out := make(map[model.ClientOrderID]model.Order, len(rows))
	for _, row := range rows {
		o, err := row.order()
		if err != nil {
			return nil, errors.Wrap(err, "decode order").With("id", row.ID)
		}
		out[o.ID] = o
	}
	return out, nil
}

func (s *PostgresStore) LoadPositionIndex(ctx context.Context) (map[model.PositionID]model.Position, error) {
	var rows []positionRow
	if err := s.db(ctx).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "find positions")
	}
	out := make(map[model.PositionID]model.Position, len(rows))
	for _, row := range rows {
		p, err := row.position()
		if err != nil {
			return nil, errors.Wrap(err, "decode position").With("id", row.ID)
		}
		out[p.ID] = p
	}
	return out, nil
}

func (s *PostgresStore) Flush(ctx context.Context) error {
	if err := s.db(ctx).Where("1 = 1").Delete(&orderRow{}).Error; err != nil {
		return errors.Wrap(err, "delete orders")
	}
	if err := s.db(ctx).Where("1 = 1").Delete(&positionRow{}).Error; err != nil {
		return errors.Wrap(err, "delete positions")
	}
	return nil
}

func (s *PostgresStore) create(ctx context.Context, row any, id string) error {
	err := s.db(ctx).Create(row).Error
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", exception.ErrDuplicateKey, id)
	}
	if err != nil {
		return errors.Wrap(err, "create").With("id", id)
	}
	return nil
}

func (s *PostgresStore) update(ctx context.Context, table any, id string, values map[string]any) error {
	res := s.db(ctx).Model(table).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update").With("id", id)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", exception.ErrNotFound, id)
	}
	return nil
}

var _ Database = (*PostgresStore)(nil)
