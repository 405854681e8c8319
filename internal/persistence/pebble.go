package persistence

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/pebble"
	"github.com/yanun0323/errors"

	"trading/internal/model"
	"trading/pkg/exception"
)

// keys: o:<client order id>, p:<position id>
var (
	orderKeyPrefix    = []byte("o:")
	positionKeyPrefix = []byte("p:")
)

func orderKey(id model.ClientOrderID) []byte {
	return append(append([]byte{}, orderKeyPrefix...), id...)
}

func positionKey(id model.PositionID) []byte {
	return append(append([]byte{}, positionKeyPrefix...), id...)
}

func keyUpperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// PebbleStore keeps orders and positions as JSON documents in a local Pebble database.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens the database at path. A nil opts uses Pebble defaults.
func NewPebbleStore(path string, opts *pebble.Options) (*PebbleStore, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, errors.Wrap(err, "open pebble").With("path", path)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) AddOrder(_ context.Context, order model.Order) error {
	return s.insert(orderKey(order.ID), order)
}

func (s *PebbleStore) AddPosition(_ context.Context, position model.Position) error {
	return s.insert(positionKey(position.ID), position)
}

func (s *PebbleStore) UpdateOrder(_ context.Context, order model.Order) error {
	return s.put(orderKey(order.ID), order)
}

func (s *PebbleStore) UpdatePosition(_ context.Context, position model.Position) error {
	return s.put(positionKey(position.ID), position)
}

func (s *PebbleStore) LoadOrderIndex(_ context.Context) (map[model.ClientOrderID]model.Order, error) {
	out := make(map[model.ClientOrderID]model.Order)
	err := s.scan(orderKeyPrefix, func(val []byte) error {
		var o model.Order
		if err := sonic.Unmarshal(val, &o); err != nil {
			return err
		}
		out[o.ID] = o
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load orders")
	}
	return out, nil
}

func (s *PebbleStore) LoadPositionIndex(_ context.Context) (map[model.PositionID]model.Position, error) {
	out := make(map[model.PositionID]model.Position)
	err := s.scan(positionKeyPrefix, func(val []byte) error {
		var p model.Position
		if err := sonic.Unmarshal(val, &p); err != nil {
			return err
		}
		out[p.ID] = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load positions")
	}
	return out, nil
}

func (s *PebbleStore) Flush(_ context.Context) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, prefix := range [][]byte{orderKeyPrefix, positionKeyPrefix} {
		if err := batch.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
			return errors.Wrap(err, "delete range").With("prefix", string(prefix))
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "commit flush")
	}
	return nil
}

func (s *PebbleStore) insert(key []byte, v any) error {
	_, closer, err := s.db.Get(key)
	if err == nil {
		closer.Close()
		return fmt.Errorf("%w: %s", exception.ErrDuplicateKey, key)
	}
	if err != pebble.ErrNotFound {
		return errors.Wrap(err, "get").With("key", string(key))
	}
	return s.put(key, v)
}

func (s *PebbleStore) put(key []byte, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal").With("key", string(key))
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return errors.Wrap(err, "set").With("key", string(key))
	}
	return nil
}

func (s *PebbleStore) scan(prefix []byte, fn func(val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return errors.Wrap(err, "decode").With("key", string(iter.Key()))
		}
	}
	return iter.Error()
}

var _ Database = (*PebbleStore)(nil)
