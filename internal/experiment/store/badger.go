// Package store persists experiment records in an embedded Badger database so
// status queries and retention sweeps survive hub restarts. Result artifacts
// themselves live on the filesystem; only the records go here.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/SomBagchi/bioreactor-website/internal/experiment"
)

var ErrNotFound = errors.New("experiment not found")

// Store is the persistence interface consumed by the coordinator. Kept
// minimal so tests can swap an in-memory implementation.
type Store interface {
	Save(ctx context.Context, exp *experiment.Experiment) error
	Get(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error)
	List(ctx context.Context) ([]*experiment.Experiment, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Close() error
}

// BadgerStore implements Store with Badger.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil // badger's own logging is too chatty for the hub
	opts = opts.WithValueLogFileSize(1 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func experimentKey(id uuid.UUID) []byte {
	return []byte("experiment:" + id.String())
}

func (s *BadgerStore) Save(ctx context.Context, exp *experiment.Experiment) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(exp)
		if err != nil {
			return err
		}
		return txn.Set(experimentKey(exp.ID), data)
	})
}

func (s *BadgerStore) Get(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error) {
	var out experiment.Experiment
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(experimentKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &out)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) List(ctx context.Context) ([]*experiment.Experiment, error) {
	var out []*experiment.Experiment
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("experiment:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var exp experiment.Experiment
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &exp)
			})
			if err != nil {
				return err
			}
			out = append(out, &exp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(experimentKey(id))
	})
}
