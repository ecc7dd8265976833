package vfs

import (
	"context"
	"encoding/hex"
	"hash"
	"io"
)

// ReadableFile is a scoped download handle. The caller owns it exclusively
// and must Close it on every path. Seek positions the next Read at an
// absolute remote offset.
type ReadableFile interface {
	io.Reader
	io.Seeker
	io.Closer
	Node() *Node
}

// WritableFile is a scoped upload handle. Close commits the upload; Node
// returns the resulting node once Close has succeeded. Offset asks the
// remote how many bytes it has durably received, which is where a resumed
// write must continue.
type WritableFile interface {
	io.Writer
	io.Seeker
	io.Closer
	Offset(ctx context.Context) (int64, error)
	Node() (*Node, error)
}

// Hasher computes a backend-specific content checksum.
type Hasher interface {
	Update(p []byte)
	Digest() []byte
}

// NewHasher adapts a standard library hash into a Hasher.
func NewHasher(h hash.Hash) Hasher {
	return &stdHasher{h: h}
}

type stdHasher struct {
	h hash.Hash
}

func (s *stdHasher) Update(p []byte) {
	// hash.Hash.Write never returns an error.
	s.h.Write(p) //nolint:errcheck
}

func (s *stdHasher) Digest() []byte {
	return s.h.Sum(nil)
}

// HexDigest returns the lowercase hex encoding of h's digest, the form
// stored in Node.Hash.
func HexDigest(h Hasher) string {
	return hex.EncodeToString(h.Digest())
}
