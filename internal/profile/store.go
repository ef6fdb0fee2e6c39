// Package profile persists per-user calendar profiles behind a small
// key/value interface.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	appLog "unical/internal/log"
	"unical/internal/model"
)

// ErrNotFound is returned by Get when no profile exists for the ID.
var ErrNotFound = errors.New("profile not found")

const keyPrefix = "profile:"

// Store is an opaque profile key/value store. Concurrent writers for the
// same ID race and the last write wins.
type Store interface {
	Get(ctx context.Context, id string) (model.Profile, error)
	Put(ctx context.Context, p model.Profile) error
	List(ctx context.Context) ([]model.Profile, error)
	Close() error
}

// NewID returns a fresh random profile ID.
func NewID() string {
	return uuid.NewString()
}

// BadgerStore keeps profiles as JSON values in a Badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens a store at path. An empty path opens an in-memory
// database whose contents are lost on Close.
func OpenBadger(path string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
		opts.SyncWrites = true
	}
	opts.Logger = nil // Disable Badger's internal logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	appLog.Info("profile store opened", "path", path, "in_memory", path == "")
	return &BadgerStore{db: db}, nil
}

func profileKey(id string) []byte {
	return []byte(keyPrefix + id)
}

func (s *BadgerStore) Get(_ context.Context, id string) (model.Profile, error) {
	var p model.Profile
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(profileKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if err != nil {
		return model.Profile{}, err
	}
	return p, nil
}

func (s *BadgerStore) Put(_ context.Context, p model.Profile) error {
	if p.ID == "" {
		return errors.New("profile id is empty")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(profileKey(p.ID), data)
	})
}

// List returns every stored profile in key order. Undecodable entries are
// logged and skipped.
func (s *BadgerStore) List(_ context.Context) ([]model.Profile, error) {
	out := make([]model.Profile, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var p model.Profile
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				appLog.Error("profile store: skipping undecodable entry", err, "key", string(item.Key()))
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
