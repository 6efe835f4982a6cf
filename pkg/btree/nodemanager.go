package btree

import (
	"context"
	"encoding/binary"
	"sync"

	"btreedb/pkg/blockstore"
	"btreedb/pkg/cache"
	"btreedb/pkg/codec"
	"btreedb/pkg/customerrors"

	"github.com/pkg/errors"
)

// bin is the byte order used for all marshals/unmarshals.
var bin = binary.LittleEndian

// nodeHeaderSize is the fixed node prefix:
// is_leaf u8, key_count u32, value_bytes u32, children_count u32.
const nodeHeaderSize = 1 + 4 + 4 + 4

const (
	flagLeafNode     = uint8(0b00000001)
	flagInternalNode = uint8(0b00000000)
)

func newNodeManager[K any, V comparable](
	store *blockstore.Store,
	keyc codec.Codec[K],
	valc codec.Codec[V],
	cacheSize int,
) *nodeManager[K, V] {
	return &nodeManager[K, V]{
		store:     store,
		blockSize: store.BlockSize(),
		keyc:      keyc,
		valc:      valc,
		cache:     cache.NewCache[blockstore.BlockID, *node[K, V]](cacheSize),
	}
}

// nodeManager maps tree nodes onto blocks. It serializes nodes, routes
// them through the block store and keeps a bounded cache of recently
// used nodes. Saves update the cache before enqueuing the block write,
// so reads through the manager always observe submitted writes.
type nodeManager[K any, V comparable] struct {
	store     *blockstore.Store
	blockSize int
	keyc      codec.Codec[K]
	valc      codec.Codec[V]

	mu    sync.Mutex
	cache *cache.Cache[blockstore.BlockID, *node[K, V]]
}

// getRoot returns the root node recorded in the store header.
func (nm *nodeManager[K, V]) getRoot(ctx context.Context) (*node[K, V], error) {
	return nm.get(ctx, nm.store.RootID())
}

// makeRoot records the node as the tree root in the store header.
func (nm *nodeManager[K, V]) makeRoot(ctx context.Context, n *node[K, V]) error {
	return nm.store.SetRoot(ctx, n.id)
}

// create allocates a block and returns a fresh empty node backed by it.
func (nm *nodeManager[K, V]) create(ctx context.Context, leaf bool) (*node[K, V], error) {
	id, err := nm.store.Allocate(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate node block")
	}

	return &node[K, V]{id: id, leaf: leaf}, nil
}

func (nm *nodeManager[K, V]) get(ctx context.Context, id blockstore.BlockID) (*node[K, V], error) {
	nm.mu.Lock()
	n, ok := nm.cache.Get(id)
	nm.mu.Unlock()
	if ok {
		return n, nil
	}

	d, err := nm.store.Read(ctx, id)
	if err != nil {
		return nil, err
	}

	n = &node[K, V]{id: id}
	if err := nm.unmarshal(n, d); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal node %d", id)
	}

	nm.mu.Lock()
	nm.cache.Put(id, n)
	nm.mu.Unlock()
	return n, nil
}

// save serializes the node, updates the cache and submits the block
// write. The write is submitted, not awaited.
func (nm *nodeManager[K, V]) save(ctx context.Context, n *node[K, V]) error {
	d, err := nm.marshal(n)
	if err != nil {
		return err
	}

	nm.mu.Lock()
	nm.cache.Put(n.id, n)
	nm.mu.Unlock()

	return nm.store.Write(ctx, n.id, d)
}

// delete drops the node from the cache and returns its block to the
// free list.
func (nm *nodeManager[K, V]) delete(ctx context.Context, n *node[K, V]) error {
	nm.mu.Lock()
	nm.cache.Del(n.id)
	nm.mu.Unlock()

	return nm.store.Free(ctx, n.id)
}

func (nm *nodeManager[K, V]) marshal(n *node[K, V]) ([]byte, error) {
	valueBytes := 0
	for _, v := range n.values {
		valueBytes += 4 + nm.valc.Size(v)
	}

	size := nodeHeaderSize + valueBytes + 4*len(n.children)
	for _, k := range n.keys {
		size += 4 + nm.keyc.Size(k)
	}

	if size > nm.blockSize {
		return nil, errors.Wrapf(
			customerrors.ErrNodeOverflow,
			"node %d needs %d bytes, block size is %d",
			n.id, size, nm.blockSize,
		)
	}

	buf := make([]byte, nm.blockSize)
	flag := flagInternalNode
	if n.leaf {
		flag = flagLeafNode
	}
	buf[0] = flag
	bin.PutUint32(buf[1:5], uint32(len(n.keys)))
	bin.PutUint32(buf[5:9], uint32(valueBytes))
	bin.PutUint32(buf[9:13], uint32(len(n.children)))

	off := nodeHeaderSize
	for _, k := range n.keys {
		sz := nm.keyc.Size(k)
		bin.PutUint32(buf[off:off+4], uint32(sz))
		nm.keyc.Encode(k, buf[off+4:off+4+sz])
		off += 4 + sz
	}
	for _, v := range n.values {
		sz := nm.valc.Size(v)
		bin.PutUint32(buf[off:off+4], uint32(sz))
		nm.valc.Encode(v, buf[off+4:off+4+sz])
		off += 4 + sz
	}
	for _, c := range n.children {
		bin.PutUint32(buf[off:off+4], uint32(c))
		off += 4
	}

	return buf, nil
}

func (nm *nodeManager[K, V]) unmarshal(n *node[K, V], d []byte) error {
	if len(d) < nodeHeaderSize {
		return errors.Errorf("node block too short: %d bytes", len(d))
	}

	n.leaf = d[0] == flagLeafNode
	keyCount := int(bin.Uint32(d[1:5]))
	childrenCount := int(bin.Uint32(d[9:13]))

	n.keys = make([]K, 0, keyCount)
	n.values = make([]V, 0, keyCount)
	n.children = nil
	if childrenCount > 0 {
		n.children = make([]blockstore.BlockID, 0, childrenCount)
	}

	off := nodeHeaderSize
	for i := 0; i < keyCount; i++ {
		sz := int(bin.Uint32(d[off : off+4]))
		k, err := nm.keyc.Decode(d[off+4 : off+4+sz])
		if err != nil {
			return errors.Wrapf(err, "failed to decode key %d", i)
		}
		n.keys = append(n.keys, k)
		off += 4 + sz
	}
	for i := 0; i < keyCount; i++ {
		sz := int(bin.Uint32(d[off : off+4]))
		v, err := nm.valc.Decode(d[off+4 : off+4+sz])
		if err != nil {
			return errors.Wrapf(err, "failed to decode value %d", i)
		}
		n.values = append(n.values, v)
		off += 4 + sz
	}
	for i := 0; i < childrenCount; i++ {
		n.children = append(n.children, blockstore.BlockID(bin.Uint32(d[off:off+4])))
		off += 4
	}

	return nil
}
