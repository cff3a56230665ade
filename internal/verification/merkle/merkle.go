// Package merkle computes the data root of a payload the way the network
// defines it: the payload is partitioned into bounded chunks, each chunk is
// hashed, and the chunk hashes are combined into a balanced binary tree
// whose leaves and branches are domain-separated by hashing their inputs
// individually before combining.
package merkle

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
)

const (
	// MaxChunkSize is the largest chunk the partitioner emits.
	MaxChunkSize = 256 * 1024

	// MinChunkSize is the smallest chunk allowed outside the rebalanced
	// tail: when the remainder after a full chunk would fall below it, the
	// final two chunks are split evenly instead.
	MinChunkSize = 32 * 1024

	noteSize = 32
)

// Chunk is one partition of the payload.
type Chunk struct {
	DataHash     [sha256.Size]byte
	MinByteRange int64
	MaxByteRange int64
}

// node is a tree node during root computation.
type node struct {
	id           [sha256.Size]byte
	maxByteRange int64
}

// Chunker partitions a stream incrementally.
//
// It buffers at most MaxChunkSize + MinChunkSize bytes: once the buffer
// exceeds that high-water mark a full chunk can be emitted without ever
// producing an undersized tail.
type Chunker struct {
	buf    []byte
	cursor int64
	chunks []Chunk
	closed bool
}

// NewChunker returns an empty chunker.
func NewChunker() *Chunker {
	return &Chunker{}
}

// Write feeds payload bytes. It never fails; the signature satisfies
// io.Writer so the chunker can sit on a TeeReader.
func (c *Chunker) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	for len(c.buf) >= MaxChunkSize+MinChunkSize {
		c.emit(MaxChunkSize)
	}
	return len(p), nil
}

// Close flushes the tail. When the remaining bytes exceed MaxChunkSize the
// tail is split into two even chunks so neither falls below MinChunkSize.
func (c *Chunker) Close() {
	if c.closed {
		return
	}
	c.closed = true

	if len(c.buf) > MaxChunkSize {
		c.emit((len(c.buf) + 1) / 2)
	}
	c.emit(len(c.buf))
}

// Chunks returns the partitions accumulated so far. Call after Close for
// the complete set.
func (c *Chunker) Chunks() []Chunk {
	return c.chunks
}

func (c *Chunker) emit(size int) {
	data := c.buf[:size]
	c.buf = c.buf[size:]

	chunk := Chunk{
		DataHash:     sha256.Sum256(data),
		MinByteRange: c.cursor,
		MaxByteRange: c.cursor + int64(size),
	}
	c.cursor += int64(size)
	c.chunks = append(c.chunks, chunk)
}

// Root computes the data root over chunks.
func Root(chunks []Chunk) [sha256.Size]byte {
	if len(chunks) == 0 {
		return [sha256.Size]byte{}
	}

	layer := make([]node, len(chunks))
	for i, ch := range chunks {
		layer[i] = leaf(ch)
	}

	for len(layer) > 1 {
		next := make([]node, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 == len(layer) {
				next = append(next, layer[i])
				continue
			}
			next = append(next, branch(layer[i], layer[i+1]))
		}
		layer = next
	}

	return layer[0].id
}

// RootOfReader partitions r and returns the data root with the total byte
// count.
func RootOfReader(r io.Reader) ([sha256.Size]byte, int64, error) {
	c := NewChunker()
	n, err := io.Copy(c, r)
	if err != nil {
		return [sha256.Size]byte{}, n, err
	}
	c.Close()
	return Root(c.Chunks()), n, nil
}

func leaf(ch Chunk) node {
	dataHash := sha256.Sum256(ch.DataHash[:])
	noteHash := sha256.Sum256(note(ch.MaxByteRange))

	h := sha256.New()
	h.Write(dataHash[:])
	h.Write(noteHash[:])

	var id [sha256.Size]byte
	copy(id[:], h.Sum(nil))
	return node{id: id, maxByteRange: ch.MaxByteRange}
}

func branch(left, right node) node {
	leftHash := sha256.Sum256(left.id[:])
	rightHash := sha256.Sum256(right.id[:])
	noteHash := sha256.Sum256(note(left.maxByteRange))

	h := sha256.New()
	h.Write(leftHash[:])
	h.Write(rightHash[:])
	h.Write(noteHash[:])

	var id [sha256.Size]byte
	copy(id[:], h.Sum(nil))
	return node{id: id, maxByteRange: right.maxByteRange}
}

// note encodes a byte offset as the fixed-width big-endian buffer the tree
// hashes alongside each node.
func note(value int64) []byte {
	buf := make([]byte, noteSize)
	binary.BigEndian.PutUint64(buf[noteSize-8:], uint64(value))
	return buf
}
