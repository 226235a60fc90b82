package session

// Buffer is a bounded FIFO of bytes. Writing past capacity evicts the
// oldest bytes and marks the buffer truncated until the next read reports
// it. Buffer is not safe for concurrent use.
type Buffer struct {
	data    []byte
	start   int
	size    int
	dropped int64
}

// Chunk is the result of reading a Buffer.
type Chunk struct {
	Data      []byte
	Truncated bool
	// Dropped is the number of bytes evicted since the previous read.
	Dropped int64
}

// NewBuffer returns an empty buffer holding at most capacity bytes.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Cap returns the capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return b.size
}

// Write appends p, evicting the oldest bytes as needed. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	n := len(p)
	capacity := len(b.data)

	if len(p) >= capacity {
		b.dropped += int64(b.size + len(p) - capacity)
		copy(b.data, p[len(p)-capacity:])
		b.start = 0
		b.size = capacity
		return n, nil
	}

	if over := b.size + len(p) - capacity; over > 0 {
		b.start = (b.start + over) % capacity
		b.size -= over
		b.dropped += int64(over)
	}

	end := (b.start + b.size) % capacity
	c := copy(b.data[end:], p)
	copy(b.data, p[c:])
	b.size += len(p)
	return n, nil
}

// Peek returns the buffered bytes without removing them. A pending
// truncation is reported and then cleared.
func (b *Buffer) Peek() Chunk {
	chunk := Chunk{Data: b.bytes(), Truncated: b.dropped > 0, Dropped: b.dropped}
	b.dropped = 0
	return chunk
}

// Drain returns and removes the buffered bytes.
func (b *Buffer) Drain() Chunk {
	chunk := b.Peek()
	b.start = 0
	b.size = 0
	return chunk
}

// Reset discards the buffered bytes and any pending truncation.
func (b *Buffer) Reset() {
	b.start = 0
	b.size = 0
	b.dropped = 0
}

func (b *Buffer) bytes() []byte {
	out := make([]byte, b.size)
	c := copy(out, b.data[b.start:min(b.start+b.size, len(b.data))])
	copy(out[c:], b.data[:b.size-c])
	return out
}
