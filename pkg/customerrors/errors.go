// Package customerrors defines common errors surfaced by the storage,
// indexing and query packages.
package customerrors

import (
	"errors"
)

var (
	// ErrStoreDisposed should be returned by the block store when an
	// operation is attempted after Close.
	ErrStoreDisposed = errors.New("store disposed")

	// ErrShortRead is returned when a block read crosses the end of the
	// backing file.
	ErrShortRead = errors.New("short read")

	// ErrShortWrite denotes a block write that persists fewer bytes than
	// a full block. The block store does not return it: block writes
	// happen in the drainer, which logs a failed write and goes on.
	ErrShortWrite = errors.New("short write")

	// ErrBadBlockSize is returned on writes whose payload length does not
	// match the store block size.
	ErrBadBlockSize = errors.New("bad block size")

	// ErrBadDegree is returned when a tree is constructed with minimum
	// degree less than 2.
	ErrBadDegree = errors.New("bad tree degree")

	// ErrEmptyIndex is returned by min/max lookups on an empty index.
	ErrEmptyIndex = errors.New("empty index")

	// ErrNodeOverflow is returned when a serialized node does not fit
	// into a single block.
	ErrNodeOverflow = errors.New("node overflow")

	// ErrPredicateTypeMismatch is returned when a predicate value is not
	// comparable with the field it is matched against.
	ErrPredicateTypeMismatch = errors.New("predicate type mismatch")

	// ErrIndexInconsistency is returned when an index references a record
	// id that record storage does not resolve.
	ErrIndexInconsistency = errors.New("index inconsistency")

	// ErrEmptyKey should be returned by backends when an operation is
	// requested with an empty key.
	ErrEmptyKey = errors.New("empty key")
)
