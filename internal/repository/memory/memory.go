// Package memory is an in-process implementation of the repository layer.
// Units of work run against a copy of the data under one lock and replace it
// on success, so a failed unit leaves nothing behind.
package memory

import (
	"context"
	"sync"

	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/internal/repository"
)

type data struct {
	products map[domain.ProductKey]domain.Product
	events   map[string]domain.InventoryEvent
	order    []string
	central  map[string]domain.CentralInventory
	registry map[domain.ProductKey]domain.StoreInventory
	stores   map[string]domain.StoreDetails
}

func newData() *data {
	return &data{
		products: make(map[domain.ProductKey]domain.Product),
		events:   make(map[string]domain.InventoryEvent),
		central:  make(map[string]domain.CentralInventory),
		registry: make(map[domain.ProductKey]domain.StoreInventory),
		stores:   make(map[string]domain.StoreDetails),
	}
}

func (d *data) clone() *data {
	c := &data{
		products: make(map[domain.ProductKey]domain.Product, len(d.products)),
		events:   make(map[string]domain.InventoryEvent, len(d.events)),
		order:    append([]string(nil), d.order...),
		central:  make(map[string]domain.CentralInventory, len(d.central)),
		registry: make(map[domain.ProductKey]domain.StoreInventory, len(d.registry)),
		stores:   make(map[string]domain.StoreDetails, len(d.stores)),
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	for k, v := range d.central {
		c.central[k] = v
	}
	for k, v := range d.registry {
		c.registry[k] = v
	}
	for k, v := range d.stores {
		c.stores[k] = v
	}
	return c
}

// Store is a repository.Store kept in memory.
type Store struct {
	mu   sync.Mutex
	data *data
}

var _ repository.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: newData()}
}

// Repositories returns repositories that lock the store for each call.
func (s *Store) Repositories() repository.Repositories {
	return newRepositories(&session{store: s})
}

// WithinTx runs fn on a private copy of the data and publishes the copy when
// fn succeeds. Units of work are serialised.
func (s *Store) WithinTx(ctx context.Context, fn func(r repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.data.clone()
	if err := fn(newRepositories(&session{store: s, tx: working})); err != nil {
		return err
	}
	s.data = working
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// session resolves which copy of the data a call works on. Outside a unit of
// work every call takes the store lock; inside one the lock is already held.
type session struct {
	store *Store
	tx    *data
}

func (s *session) read(fn func(d *data) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return fn(s.store.data)
}

// write mutates a copy outside a unit of work so a failing call changes nothing.
func (s *session) write(fn func(d *data) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	working := s.store.data.clone()
	if err := fn(working); err != nil {
		return err
	}
	s.store.data = working
	return nil
}

func newRepositories(s *session) repository.Repositories {
	return repository.Repositories{
		Products: &ProductRepository{s: s},
		Events:   &EventRepository{s: s},
		Central:  &CentralRepository{s: s},
		Registry: &RegistryRepository{s: s},
	}
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
