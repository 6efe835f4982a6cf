package blockstore

import (
	"github.com/pkg/errors"
)

const (
	magic   = uint32(0x42444E31)
	version = uint16(1)

	headerSize = 4 + 2 + 4 + 4 + 4
)

// header is the content of block 0. Remaining header bytes are
// reserved zero.
type header struct {
	blockSize uint32
	root      BlockID
	freeHead  BlockID
}

func (h *header) MarshalBinary(blockSize int) []byte {
	buf := make([]byte, blockSize)
	bin.PutUint32(buf[0:4], magic)
	bin.PutUint16(buf[4:6], version)
	bin.PutUint32(buf[6:10], h.blockSize)
	bin.PutUint32(buf[10:14], uint32(h.root))
	bin.PutUint32(buf[14:18], uint32(h.freeHead))
	return buf
}

func (h *header) UnmarshalBinary(d []byte) error {
	if len(d) < headerSize {
		return errors.Errorf("header too short: %d bytes", len(d))
	}
	if m := bin.Uint32(d[0:4]); m != magic {
		return errors.Errorf("bad magic 0x%08X", m)
	}
	if v := bin.Uint16(d[4:6]); v != version {
		return errors.Errorf("unsupported version %d", v)
	}

	h.blockSize = bin.Uint32(d[6:10])
	h.root = BlockID(bin.Uint32(d[10:14]))
	h.freeHead = BlockID(bin.Uint32(d[14:18]))
	return nil
}
