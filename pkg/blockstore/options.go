package blockstore

type Options struct {
	// BlockSize is the fixed size of every block of the file.
	BlockSize int

	// QueueSize bounds the write pipeline. Submissions block once the
	// queue is full.
	QueueSize int
}

var defaultOptions = Options{
	BlockSize: 8192,
	QueueSize: 1000,
}
