package btree

const (
	defaultCacheSize = 10000
	streamBufferSize = 100
)

type Options[K any] struct {
	// Field is the name of the indexed field.
	Field string

	// Degree is the minimum degree t of the tree. Every non-root node
	// holds between t-1 and 2t-1 keys. Must be >= 2.
	Degree int

	// CacheSize bounds the node cache of the node manager.
	CacheSize int

	// Compare is the total ordering of the key domain.
	Compare func(a, b K) int
}
