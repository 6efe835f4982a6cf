// Package catalog registers one field index per named field over a
// shared record store, and keeps every registered index in sync with
// record inserts and deletes.
package catalog

import (
	"context"
	"sync"

	"btreedb/pkg/record"

	"github.com/pkg/errors"
)

func New(store *record.Store, rows record.RowCodec) *Catalog {
	return &Catalog{
		store:   store,
		rows:    rows,
		indexes: map[string]FieldIndex{},
	}
}

type Catalog struct {
	mu      sync.RWMutex
	store   *record.Store
	rows    record.RowCodec
	indexes map[string]FieldIndex
}

func (c *Catalog) Store() *record.Store {
	return c.store
}

func (c *Catalog) RowCodec() record.RowCodec {
	return c.rows
}

// Attach registers the field index. An existing index for the same
// field is replaced.
func (c *Catalog) Attach(fi FieldIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes[fi.FieldName()] = fi
}

// Index returns the index registered for the field, if any.
func (c *Catalog) Index(field string) (FieldIndex, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fi, ok := c.indexes[field]
	return fi, ok
}

// Insert stores the row and updates every registered index whose field
// the row carries. A failed index update leaves earlier updates in
// place; the error is reported, not repaired.
func (c *Catalog) Insert(ctx context.Context, row record.Row) (record.ID, error) {
	data, err := c.rows.Encode(row)
	if err != nil {
		return record.Empty, err
	}

	id, err := c.store.Insert(data)
	if err != nil {
		return record.Empty, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for field, fi := range c.indexes {
		val, ok := row[field]
		if !ok {
			continue
		}
		if err := fi.Insert(ctx, val, id); err != nil {
			return id, errors.Wrapf(err, "failed to index field '%s'", field)
		}
	}

	return id, nil
}

// Delete removes the record and its associations from every registered
// index.
func (c *Catalog) Delete(ctx context.Context, id record.ID) (bool, error) {
	data, ok := c.store.Get(id)
	if !ok {
		return false, nil
	}

	row, err := c.rows.Decode(data)
	if err != nil {
		return false, err
	}

	c.mu.RLock()
	for field, fi := range c.indexes {
		val, ok := row[field]
		if !ok {
			continue
		}
		if _, err := fi.Delete(ctx, val, id); err != nil {
			c.mu.RUnlock()
			return false, errors.Wrapf(err, "failed to unindex field '%s'", field)
		}
	}
	c.mu.RUnlock()

	return c.store.Delete(id), nil
}
