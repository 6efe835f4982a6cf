// Package btree implements a disk-backed B-tree index of minimum degree
// t that maps ordered keys to opaque values and supports duplicate
// keys. Every node access is routed through a node manager, keeping the
// tree storage-agnostic.
package btree

import (
	"context"
	"sync"

	"btreedb/pkg/blockstore"
	"btreedb/pkg/codec"
	"btreedb/pkg/customerrors"
	"btreedb/util/stream"

	"github.com/pkg/errors"
)

// Open attaches an index to the given block store. The root node is
// created on first open and recorded in the store header.
func Open[K any, V comparable](
	ctx context.Context,
	store *blockstore.Store,
	keyc codec.Codec[K],
	valc codec.Codec[V],
	opts *Options[K],
) (*Index[K, V], error) {
	if opts == nil || opts.Compare == nil {
		return nil, errors.New("missing index options")
	}
	if opts.Degree < 2 {
		return nil, errors.Wrapf(customerrors.ErrBadDegree, "degree %d", opts.Degree)
	}

	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	idx := &Index[K, V]{
		field:  opts.Field,
		degree: opts.Degree,
		mu:     &sync.RWMutex{},
		cmp:    opts.Compare,
		nm:     newNodeManager(store, keyc, valc, cacheSize),
	}

	if store.RootID() == blockstore.NilBlock {
		root, err := idx.nm.create(ctx, true)
		if err != nil {
			return nil, err
		}
		if err := idx.nm.save(ctx, root); err != nil {
			return nil, err
		}
		if err := idx.nm.makeRoot(ctx, root); err != nil {
			return nil, err
		}
	}

	return idx, nil
}

// Index is a disk-backed B-tree over one field. A single exclusive
// permit serializes mutations; lookups run concurrently under the read
// side of the same lock.
type Index[K any, V comparable] struct {
	field  string
	degree int

	mu  *sync.RWMutex
	nm  *nodeManager[K, V]
	cmp func(a, b K) int
}

func (idx *Index[K, V]) FieldName() string {
	return idx.field
}

// Insert adds the key/value association. Duplicate keys are permitted;
// an equal key is inserted in front of existing equal keys, and
// traversal descends left of equal separators.
func (idx *Index[K, V]) Insert(ctx context.Context, key K, val V) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	root, err := idx.nm.getRoot(ctx)
	if err != nil {
		return err
	}

	if len(root.keys) == 2*idx.degree-1 {
		newRoot, err := idx.nm.create(ctx, false)
		if err != nil {
			return err
		}
		newRoot.children = append(newRoot.children, root.id)

		if err := idx.splitChild(ctx, newRoot, 0, root); err != nil {
			return err
		}
		if err := idx.nm.makeRoot(ctx, newRoot); err != nil {
			return err
		}
		root = newRoot
	}

	return idx.insertNonFull(ctx, root, key, val)
}

// splitChild splits the full child at position i of the parent. The
// median entry moves up into the parent; the last t-1 entries (and last
// t children for internal nodes) move into a new right sibling. All
// three nodes are saved before returning.
func (idx *Index[K, V]) splitChild(ctx context.Context, parent *node[K, V], i int, child *node[K, V]) error {
	t := idx.degree

	sibling, err := idx.nm.create(ctx, child.leaf)
	if err != nil {
		return err
	}

	sibling.keys = append(sibling.keys, child.keys[t:]...)
	sibling.values = append(sibling.values, child.values[t:]...)
	if !child.leaf {
		sibling.children = append(sibling.children, child.children[t:]...)
		child.children = child.children[:t]
	}

	medianKey, medianVal := child.keys[t-1], child.values[t-1]
	child.keys = child.keys[:t-1]
	child.values = child.values[:t-1]

	parent.insertEntry(i, medianKey, medianVal)
	parent.insertChild(i+1, sibling.id)

	if err := idx.nm.save(ctx, parent); err != nil {
		return err
	}
	if err := idx.nm.save(ctx, child); err != nil {
		return err
	}
	return idx.nm.save(ctx, sibling)
}

func (idx *Index[K, V]) insertNonFull(ctx context.Context, n *node[K, V], key K, val V) error {
	if n.leaf {
		n.insertEntry(n.lowerBound(idx.cmp, key), key, val)
		return idx.nm.save(ctx, n)
	}

	i := n.lowerBound(idx.cmp, key)
	child, err := idx.nm.get(ctx, n.children[i])
	if err != nil {
		return err
	}

	if len(child.keys) == 2*idx.degree-1 {
		if err := idx.splitChild(ctx, n, i, child); err != nil {
			return err
		}

		// re-select the descent side against the promoted median;
		// equality stays left
		if idx.cmp(key, n.keys[i]) > 0 {
			i++
		}
		if child, err = idx.nm.get(ctx, n.children[i]); err != nil {
			return err
		}
	}

	return idx.insertNonFull(ctx, child, key, val)
}

// Delete removes one association matching the exact (key, value) pair
// and reports whether such a pair existed.
func (idx *Index[K, V]) Delete(ctx context.Context, key K, val V) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	root, err := idx.nm.getRoot(ctx)
	if err != nil {
		return false, err
	}

	found, err := idx.remove(ctx, root, key, val)
	if err != nil {
		return found, err
	}

	// root collapse
	if !root.leaf && len(root.keys) == 0 {
		child, err := idx.nm.get(ctx, root.children[0])
		if err != nil {
			return found, err
		}
		if err := idx.nm.makeRoot(ctx, child); err != nil {
			return found, err
		}
		if err := idx.nm.delete(ctx, root); err != nil {
			return found, err
		}
	}

	return found, nil
}

// remove deletes the pair from the subtree rooted at n. Every child is
// topped up to at least t keys before descending, so any node being
// mutated below the root can afford to lose one entry.
//
// With duplicates permitted on both sides of an equal separator, the
// pair may live under any child adjacent to the equal-key run; those
// candidates are tried left to right. A fill reshapes the node, so the
// node is rescanned after one, but the candidate cursor never moves
// back past children already searched.
func (idx *Index[K, V]) remove(ctx context.Context, n *node[K, V], key K, val V) (bool, error) {
	t := idx.degree
	ci := -1

	for {
		lo := n.lowerBound(idx.cmp, key)
		for j := lo; j < len(n.keys) && idx.cmp(n.keys[j], key) == 0; j++ {
			if n.values[j] != val {
				continue
			}

			if n.leaf {
				n.removeEntry(j)
				return true, idx.nm.save(ctx, n)
			}
			return idx.removeFromInternal(ctx, n, j, key, val)
		}

		if n.leaf {
			return false, nil
		}

		if ci < lo {
			ci = lo
		}
		if hi := n.upperBound(idx.cmp, key); ci > hi {
			return false, nil
		}

		child, err := idx.nm.get(ctx, n.children[ci])
		if err != nil {
			return false, err
		}

		if len(child.keys) < t {
			if ci, err = idx.fill(ctx, n, ci); err != nil {
				return false, err
			}
			continue
		}

		found, err := idx.remove(ctx, child, key, val)
		if err != nil || found {
			return found, err
		}
		ci++
	}
}

// removeFromInternal deletes the entry at position j of the internal
// node n: replace it with the in-order predecessor (or successor) when
// the adjacent child can afford to lose a key, merge around it
// otherwise.
func (idx *Index[K, V]) removeFromInternal(ctx context.Context, n *node[K, V], j int, key K, val V) (bool, error) {
	t := idx.degree

	left, err := idx.nm.get(ctx, n.children[j])
	if err != nil {
		return false, err
	}

	if len(left.keys) >= t {
		pk, pv, err := idx.maxEntry(ctx, left)
		if err != nil {
			return false, err
		}
		n.keys[j], n.values[j] = pk, pv
		if err := idx.nm.save(ctx, n); err != nil {
			return false, err
		}
		return idx.remove(ctx, left, pk, pv)
	}

	right, err := idx.nm.get(ctx, n.children[j+1])
	if err != nil {
		return false, err
	}

	if len(right.keys) >= t {
		sk, sv, err := idx.minEntry(ctx, right)
		if err != nil {
			return false, err
		}
		n.keys[j], n.values[j] = sk, sv
		if err := idx.nm.save(ctx, n); err != nil {
			return false, err
		}
		return idx.remove(ctx, right, sk, sv)
	}

	if err := idx.merge(ctx, n, j); err != nil {
		return false, err
	}
	merged, err := idx.nm.get(ctx, n.children[j])
	if err != nil {
		return false, err
	}
	return idx.remove(ctx, merged, key, val)
}

// fill tops the child at position i up to at least t keys: borrow from
// the left sibling, else from the right sibling, else merge with a
// sibling (preferring the left one). Returns the position of the filled
// child, which shifts by one on a left merge.
func (idx *Index[K, V]) fill(ctx context.Context, n *node[K, V], i int) (int, error) {
	t := idx.degree

	if i > 0 {
		left, err := idx.nm.get(ctx, n.children[i-1])
		if err != nil {
			return i, err
		}
		if len(left.keys) >= t {
			return i, idx.borrowFromLeft(ctx, n, i, left)
		}
	}

	if i < len(n.children)-1 {
		right, err := idx.nm.get(ctx, n.children[i+1])
		if err != nil {
			return i, err
		}
		if len(right.keys) >= t {
			return i, idx.borrowFromRight(ctx, n, i, right)
		}
	}

	if i > 0 {
		return i - 1, idx.merge(ctx, n, i-1)
	}
	return i, idx.merge(ctx, n, i)
}

// borrowFromLeft rotates the parent separator into the child front and
// the left sibling's last entry into the separator slot.
func (idx *Index[K, V]) borrowFromLeft(ctx context.Context, n *node[K, V], i int, left *node[K, V]) error {
	child, err := idx.nm.get(ctx, n.children[i])
	if err != nil {
		return err
	}

	child.insertEntry(0, n.keys[i-1], n.values[i-1])

	last := len(left.keys) - 1
	n.keys[i-1], n.values[i-1] = left.keys[last], left.values[last]
	left.removeEntry(last)

	if !child.leaf {
		lastChild := len(left.children) - 1
		child.insertChild(0, left.children[lastChild])
		left.removeChild(lastChild)
	}

	if err := idx.nm.save(ctx, n); err != nil {
		return err
	}
	if err := idx.nm.save(ctx, left); err != nil {
		return err
	}
	return idx.nm.save(ctx, child)
}

// borrowFromRight is the mirror of borrowFromLeft.
func (idx *Index[K, V]) borrowFromRight(ctx context.Context, n *node[K, V], i int, right *node[K, V]) error {
	child, err := idx.nm.get(ctx, n.children[i])
	if err != nil {
		return err
	}

	child.keys = append(child.keys, n.keys[i])
	child.values = append(child.values, n.values[i])

	n.keys[i], n.values[i] = right.keys[0], right.values[0]
	right.removeEntry(0)

	if !child.leaf {
		child.children = append(child.children, right.children[0])
		right.removeChild(0)
	}

	if err := idx.nm.save(ctx, n); err != nil {
		return err
	}
	if err := idx.nm.save(ctx, right); err != nil {
		return err
	}
	return idx.nm.save(ctx, child)
}

// merge folds the separator at position i and the right sibling into
// child i, then frees the sibling's block.
func (idx *Index[K, V]) merge(ctx context.Context, n *node[K, V], i int) error {
	child, err := idx.nm.get(ctx, n.children[i])
	if err != nil {
		return err
	}
	sibling, err := idx.nm.get(ctx, n.children[i+1])
	if err != nil {
		return err
	}

	child.keys = append(child.keys, n.keys[i])
	child.values = append(child.values, n.values[i])
	child.keys = append(child.keys, sibling.keys...)
	child.values = append(child.values, sibling.values...)
	if !child.leaf {
		child.children = append(child.children, sibling.children...)
	}

	n.removeEntry(i)
	n.removeChild(i + 1)

	if err := idx.nm.save(ctx, n); err != nil {
		return err
	}
	if err := idx.nm.save(ctx, child); err != nil {
		return err
	}
	return idx.nm.delete(ctx, sibling)
}

// maxEntry returns the rightmost pair of the subtree rooted at n.
func (idx *Index[K, V]) maxEntry(ctx context.Context, n *node[K, V]) (K, V, error) {
	for !n.leaf {
		next, err := idx.nm.get(ctx, n.children[len(n.children)-1])
		if err != nil {
			var zk K
			var zv V
			return zk, zv, err
		}
		n = next
	}

	last := len(n.keys) - 1
	return n.keys[last], n.values[last], nil
}

// minEntry returns the leftmost pair of the subtree rooted at n.
func (idx *Index[K, V]) minEntry(ctx context.Context, n *node[K, V]) (K, V, error) {
	for !n.leaf {
		next, err := idx.nm.get(ctx, n.children[0])
		if err != nil {
			var zk K
			var zv V
			return zk, zv, err
		}
		n = next
	}

	return n.keys[0], n.values[0], nil
}

// Find returns a lazy stream of all values associated with the key. A
// value is emitted before its right subtree is descended into.
func (idx *Index[K, V]) Find(ctx context.Context, key K) (stream.Reader[V], error) {
	idx.mu.RLock()

	root, err := idx.nm.getRoot(ctx)
	if err != nil {
		idx.mu.RUnlock()
		return nil, err
	}

	out := stream.New[V](streamBufferSize)
	go func() {
		defer idx.mu.RUnlock()

		if err := idx.find(ctx, out, root, key); err != nil {
			out.Fail(err)
			return
		}
		out.Close()
	}()

	return out, nil
}

func (idx *Index[K, V]) find(ctx context.Context, out stream.Writer[V], n *node[K, V], key K) error {
	i := n.lowerBound(idx.cmp, key)

	if !n.leaf {
		child, err := idx.nm.get(ctx, n.children[i])
		if err != nil {
			return err
		}
		if err := idx.find(ctx, out, child, key); err != nil {
			return err
		}
	}

	for ; i < len(n.keys) && idx.cmp(n.keys[i], key) == 0; i++ {
		if err := out.Push(ctx, n.values[i]); err != nil {
			return err
		}
		if !n.leaf {
			child, err := idx.nm.get(ctx, n.children[i+1])
			if err != nil {
				return err
			}
			if err := idx.find(ctx, out, child, key); err != nil {
				return err
			}
		}
	}

	return nil
}

// FindRange returns a lazy stream of values whose keys fall between min
// and max under the inclusivity flags. A nil bound is unbounded. Values
// are emitted in ascending key order; values sharing a key are emitted
// in node order.
func (idx *Index[K, V]) FindRange(ctx context.Context, min, max *K, inclMin, inclMax bool) (stream.Reader[V], error) {
	idx.mu.RLock()

	root, err := idx.nm.getRoot(ctx)
	if err != nil {
		idx.mu.RUnlock()
		return nil, err
	}

	out := stream.New[V](streamBufferSize)
	go func() {
		defer idx.mu.RUnlock()

		if err := idx.findRange(ctx, out, root, min, max, inclMin, inclMax); err != nil {
			out.Fail(err)
			return
		}
		out.Close()
	}()

	return out, nil
}

func (idx *Index[K, V]) findRange(
	ctx context.Context,
	out stream.Writer[V],
	n *node[K, V],
	min, max *K,
	inclMin, inclMax bool,
) error {
	i := 0
	if min != nil {
		if inclMin {
			i = n.lowerBound(idx.cmp, *min)
		} else {
			i = n.upperBound(idx.cmp, *min)
		}
	}

	if !n.leaf {
		child, err := idx.nm.get(ctx, n.children[i])
		if err != nil {
			return err
		}
		if err := idx.findRange(ctx, out, child, min, max, inclMin, inclMax); err != nil {
			return err
		}
	}

	for ; i < len(n.keys); i++ {
		if max != nil {
			c := idx.cmp(n.keys[i], *max)
			if c > 0 || (c == 0 && !inclMax) {
				return nil
			}
		}

		if err := out.Push(ctx, n.values[i]); err != nil {
			return err
		}

		if !n.leaf {
			child, err := idx.nm.get(ctx, n.children[i+1])
			if err != nil {
				return err
			}
			if err := idx.findRange(ctx, out, child, min, max, inclMin, inclMax); err != nil {
				return err
			}
		}
	}

	return nil
}

// MinKey returns the smallest key of the index.
func (idx *Index[K, V]) MinKey(ctx context.Context) (K, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var zero K
	root, err := idx.nm.getRoot(ctx)
	if err != nil {
		return zero, err
	}
	if root.leaf && len(root.keys) == 0 {
		return zero, customerrors.ErrEmptyIndex
	}

	k, _, err := idx.minEntry(ctx, root)
	return k, err
}

// MaxKey returns the largest key of the index.
func (idx *Index[K, V]) MaxKey(ctx context.Context) (K, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var zero K
	root, err := idx.nm.getRoot(ctx)
	if err != nil {
		return zero, err
	}
	if root.leaf && len(root.keys) == 0 {
		return zero, customerrors.ErrEmptyIndex
	}

	k, _, err := idx.maxEntry(ctx, root)
	return k, err
}
