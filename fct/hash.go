package fct

import (
	"io"

	"github.com/zeebo/blake3"
)

// ContentHasher is an external collaborator: it produces a content hash
// from a byte stream. This package never verifies the hashes it is handed
// — content verification is out of scope — but it ships one concrete
// implementation so tests and cmd/fctinspect don't need an external
// dependency wired in just to exercise Record/Probe.
type ContentHasher interface {
	Algorithm() Algorithm
	Hash(r io.Reader) ([]byte, error)
}

// Blake3Hasher is the default ContentHasher, grounded on the corpus's own
// use of BLAKE3 as its content-addressing hash (server/remote_cache/digest
// defaults new CAS writes to repb.DigestFunction_BLAKE3).
type Blake3Hasher struct{}

const blake3Size = 32

func (Blake3Hasher) Algorithm() Algorithm {
	return Algorithm{Name: "blake3", Size: blake3Size}
}

func (Blake3Hasher) Hash(r io.Reader) ([]byte, error) {
	h := blake3.New()
	if _, err := io.Copy(h, r); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
