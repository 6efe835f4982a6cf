// Package blockstore implements fixed-size block storage over a single
// file. Writes are submitted into a bounded queue and drained in order
// by a single background writer; reads go straight to the file.
package blockstore

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"btreedb/pkg/customerrors"
	"btreedb/util/logger"

	"github.com/pkg/errors"
	logrus "github.com/sirupsen/logrus"
)

// bin is the byte order used for all marshals/unmarshals.
var bin = binary.LittleEndian

// BlockID addresses one block of the file by its ordinal.
type BlockID uint32

// NilBlock is the "no block" sentinel used for the root pointer and the
// free list terminator.
const NilBlock = BlockID(0xFFFFFFFF)

type request struct {
	id   BlockID
	data []byte

	// done marks a sync barrier. The drainer flushes the file and
	// reports the result instead of writing a block.
	done chan error
}

// Open opens the named file as a block store, creating and initializing
// it if it does not exist. If nil options are provided, defaultOptions
// will be used.
func Open(fileName string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &defaultOptions
	}
	if opts.BlockSize < headerSize {
		return nil, errors.Wrapf(customerrors.ErrBadBlockSize, "block size %d", opts.BlockSize)
	}

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultOptions.QueueSize
	}

	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file '%s'", fileName)
	}

	s := &Store{
		file:  f,
		queue: make(chan request, queueSize),
		log:   logger.WithPrefix("blockstore"),
	}

	if err := s.init(opts); err != nil {
		_ = f.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.drain()

	return s, nil
}

// Store is a single-file block store. Block 0 holds the header; blocks
// 1..N hold payloads and free-list chain entries.
type Store struct {
	file      *os.File
	blockSize int

	// mu guards disposed against in-flight submissions.
	mu       sync.RWMutex
	disposed bool
	queue    chan request
	wg       sync.WaitGroup

	// readMu serializes the read path on the shared file handle.
	readMu sync.Mutex

	// hmu guards the header, the free stack and the file length.
	hmu    sync.Mutex
	header header
	free   []BlockID
	blocks int64

	log *logrus.Entry
}

func (s *Store) init(opts *Options) error {
	stat, err := s.file.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat file")
	}

	if stat.Size() == 0 {
		s.blockSize = opts.BlockSize
		s.header = header{
			blockSize: uint32(opts.BlockSize),
			root:      NilBlock,
			freeHead:  NilBlock,
		}
		s.blocks = 1

		if _, err := s.file.WriteAt(s.header.MarshalBinary(s.blockSize), 0); err != nil {
			return errors.Wrap(err, "failed to write fresh header")
		}
		return errors.Wrap(s.file.Sync(), "failed to flush fresh header")
	}

	buf := make([]byte, headerSize)
	if _, err := s.file.ReadAt(buf, 0); err != nil {
		return errors.Wrap(err, "failed to read header")
	}
	if err := s.header.UnmarshalBinary(buf); err != nil {
		return err
	}

	s.blockSize = int(s.header.blockSize)
	if stat.Size()%int64(s.blockSize) != 0 {
		return errors.Errorf(
			"file size %d is not a multiple of block size %d",
			stat.Size(), s.blockSize,
		)
	}
	s.blocks = stat.Size() / int64(s.blockSize)

	return s.loadFreeList()
}

// loadFreeList walks the on-disk chain into the in-memory stack. The
// head of the chain must end up on top of the stack.
func (s *Store) loadFreeList() error {
	chain := []BlockID{}
	buf := make([]byte, 4)

	for id := s.header.freeHead; id != NilBlock; {
		if int64(id) >= s.blocks {
			return errors.Errorf("free list references block %d beyond file end", id)
		}
		if _, err := s.file.ReadAt(buf, int64(id)*int64(s.blockSize)); err != nil {
			return errors.Wrapf(err, "failed to read free block %d", id)
		}

		chain = append(chain, id)
		id = BlockID(bin.Uint32(buf))
	}

	s.free = make([]BlockID, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		s.free = append(s.free, chain[i])
	}
	return nil
}

func (s *Store) drain() {
	defer s.wg.Done()

	for req := range s.queue {
		if req.done != nil {
			req.done <- s.file.Sync()
			continue
		}

		if _, err := s.file.WriteAt(req.data, int64(req.id)*int64(s.blockSize)); err != nil {
			s.log.WithError(err).Errorf("failed to write block %d", req.id)
		}
	}
}

// submit enqueues a request, blocking while the queue is full.
func (s *Store) submit(ctx context.Context, req request) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.disposed {
		return customerrors.ErrStoreDisposed
	}

	select {
	case s.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) BlockSize() int {
	return s.blockSize
}

// Read returns the content of the given block. Reads bypass the write
// queue, so a read issued after a write submission observes the write
// only once the drainer has processed it.
func (s *Store) Read(ctx context.Context, id BlockID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	disposed := s.disposed
	s.mu.RUnlock()
	if disposed {
		return nil, customerrors.ErrStoreDisposed
	}

	buf := make([]byte, s.blockSize)

	s.readMu.Lock()
	n, err := s.file.ReadAt(buf, int64(id)*int64(s.blockSize))
	s.readMu.Unlock()

	if err != nil {
		if errors.Is(err, io.EOF) || n < s.blockSize {
			return nil, errors.Wrapf(customerrors.ErrShortRead, "block %d, got %d bytes", id, n)
		}
		return nil, errors.Wrapf(err, "failed to read block %d", id)
	}
	return buf, nil
}

// Write submits the payload for the given block into the write queue.
// The payload must be exactly one block long and must not be reused by
// the caller afterwards.
func (s *Store) Write(ctx context.Context, id BlockID, data []byte) error {
	if len(data) != s.blockSize {
		return errors.Wrapf(
			customerrors.ErrBadBlockSize,
			"payload is %d bytes, block size is %d",
			len(data), s.blockSize,
		)
	}
	return s.submit(ctx, request{id: id, data: data})
}

// Allocate returns a reusable freed block if any, extending the file by
// one block otherwise.
func (s *Store) Allocate(ctx context.Context) (BlockID, error) {
	s.hmu.Lock()
	defer s.hmu.Unlock()

	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]

		if n > 1 {
			s.header.freeHead = s.free[n-2]
		} else {
			s.header.freeHead = NilBlock
		}
		return id, s.writeHeader(ctx)
	}

	id := BlockID(s.blocks)
	if err := s.file.Truncate((s.blocks + 1) * int64(s.blockSize)); err != nil {
		return NilBlock, errors.Wrapf(err, "failed to extend file for block %d", id)
	}
	s.blocks++
	return id, nil
}

// Free pushes the block onto the free chain. The chain is threaded
// through the first 4 bytes of each freed block's payload.
func (s *Store) Free(ctx context.Context, id BlockID) error {
	s.hmu.Lock()
	defer s.hmu.Unlock()

	buf := make([]byte, s.blockSize)
	bin.PutUint32(buf[0:4], uint32(s.header.freeHead))
	if err := s.submit(ctx, request{id: id, data: buf}); err != nil {
		return err
	}

	s.header.freeHead = id
	s.free = append(s.free, id)
	return s.writeHeader(ctx)
}

// RootID returns the root block id recorded in the header, NilBlock if
// none was set.
func (s *Store) RootID() BlockID {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return s.header.root
}

// SetRoot records the root block id in the header and submits the
// header write. Header updates are ordered with all other writes of the
// same caller through the queue.
func (s *Store) SetRoot(ctx context.Context, id BlockID) error {
	s.hmu.Lock()
	defer s.hmu.Unlock()

	s.header.root = id
	return s.writeHeader(ctx)
}

func (s *Store) writeHeader(ctx context.Context) error {
	return s.submit(ctx, request{id: 0, data: s.header.MarshalBinary(s.blockSize)})
}

// Sync blocks until every previously submitted write is drained and
// flushed to disk.
func (s *Store) Sync(ctx context.Context) error {
	done := make(chan error, 1)
	if err := s.submit(ctx, request{done: done}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return errors.Wrap(err, "failed to flush file")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue to completion, flushes and releases the file.
// All operations after Close fail with ErrStoreDisposed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.mu.Unlock()

	close(s.queue)
	s.wg.Wait()

	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		return errors.Wrap(err, "failed to flush file on close")
	}
	return errors.Wrap(s.file.Close(), "failed to close file")
}
