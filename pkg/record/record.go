// Package record provides the record storage collaborator consumed by
// the query engine: opaque record bytes addressed by compact record
// identifiers, plus the demo row codec used by the front end.
package record

import (
	"context"
	"encoding/json"
	"sync"

	"btreedb/pkg/codec"
	"btreedb/util/stream"

	"github.com/pkg/errors"
)

// ID is a compact record identifier. Empty denotes absence.
type ID int64

const Empty = ID(-1)

func (id ID) IsEmpty() bool {
	return id < 0
}

// IDCodec serializes record ids for storage inside index nodes.
var IDCodec codec.Codec[ID] = idCodec{}

type idCodec struct{}

func (idCodec) Size(val ID) int {
	return 8
}

func (idCodec) Encode(val ID, buf []byte) {
	codec.Int64{}.Encode(int64(val), buf)
}

func (idCodec) Decode(buf []byte) (ID, error) {
	v, err := codec.Int64{}.Decode(buf)
	return ID(v), err
}

// Entry is one scanned record with its identifier.
type Entry struct {
	ID   ID
	Data []byte
}

// NewStore returns an empty in-memory record store.
func NewStore() *Store {
	return &Store{}
}

// Store keeps opaque record payloads in memory, addressed by ID.
// Deleted slots are reused by later inserts.
type Store struct {
	mu    sync.RWMutex
	slots [][]byte
	free  []ID
}

func (s *Store) Insert(data []byte) (ID, error) {
	cp := append(make([]byte, 0, len(data)), data...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[id] = cp
		return id, nil
	}

	s.slots = append(s.slots, cp)
	return ID(len(s.slots) - 1), nil
}

func (s *Store) Get(id ID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id.IsEmpty() || int(id) >= len(s.slots) || s.slots[id] == nil {
		return nil, false
	}
	return s.slots[id], true
}

func (s *Store) Update(id ID, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id.IsEmpty() || int(id) >= len(s.slots) || s.slots[id] == nil {
		return false
	}
	s.slots[id] = append(make([]byte, 0, len(data)), data...)
	return true
}

func (s *Store) Delete(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id.IsEmpty() || int(id) >= len(s.slots) || s.slots[id] == nil {
		return false
	}
	s.slots[id] = nil
	s.free = append(s.free, id)
	return true
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots) - len(s.free)
}

// Scan returns a lazy stream over all live records. The stream iterates
// a snapshot of the slot table taken at call time.
func (s *Store) Scan(ctx context.Context) stream.Reader[Entry] {
	s.mu.RLock()
	snapshot := append(make([][]byte, 0, len(s.slots)), s.slots...)
	s.mu.RUnlock()

	out := stream.New[Entry](len(snapshot))
	go func() {
		for i, data := range snapshot {
			if data == nil {
				continue
			}
			if err := out.Push(ctx, Entry{ID: ID(i), Data: data}); err != nil {
				out.Fail(err)
				return
			}
		}
		out.Close()
	}()

	return out
}

// Row is a materialized record with field access by name.
type Row map[string]any

// RowCodec encodes rows into the opaque payloads kept in record
// storage.
type RowCodec interface {
	Encode(row Row) ([]byte, error)
	Decode(data []byte) (Row, error)
}

// JSONCodec is the demo row codec.
type JSONCodec struct{}

func (JSONCodec) Encode(row Row) ([]byte, error) {
	d, err := json.Marshal(row)
	return d, errors.Wrap(err, "failed to encode row")
}

func (JSONCodec) Decode(data []byte) (Row, error) {
	row := Row{}
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, errors.Wrap(err, "failed to decode row")
	}
	return row, nil
}
