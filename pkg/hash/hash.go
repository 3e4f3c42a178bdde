package hash

import (
	"encoding"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// SecBytes is the size of decommitment nonces and other secret randomness.
const SecBytes = 32

// DigestLengthBytes is the length of commitments and plain digests.
const DigestLengthBytes = 2 * SecBytes

// Hash is the domain-separated transcript hash used for protocol challenges,
// binding factors and commitments.
//
// Internally, this is a wrapper around blake3, but any hash function with an
// easily extendable output would work as well.
type Hash struct {
	h *blake3.Hasher
}

// New creates a Hash initialized with the given data.
func New(initialData ...WriterToWithDomain) *Hash {
	hash := &Hash{h: blake3.New()}
	for _, d := range initialData {
		_ = hash.WriteAny(d)
	}
	return hash
}

// Digest returns a reader for the current output of the function.
//
// This finalizes the current state of the hash, and returns what's essentially
// a stream of random bytes.
func (hash *Hash) Digest() io.Reader {
	return hash.h.Digest()
}

// Sum returns a slice of length DigestLengthBytes resulting from the current hash state.
// If a different length is required, use io.ReadFull(hash.Digest(), out) instead.
func (hash *Hash) Sum() []byte {
	out := make([]byte, DigestLengthBytes)
	if _, err := io.ReadFull(hash.Digest(), out); err != nil {
		panic(fmt.Sprintf("hash.Sum: internal hash failure: %v", err))
	}
	return out
}

// writeWithDomain writes out a piece of data, using its domain.
func writeWithDomain(w io.Writer, object WriterToWithDomain) error {
	// Write out `(<domain><data>)`, so that each domain separated piece of data
	// is distinguished from others.
	if _, err := w.Write([]byte("(")); err != nil {
		return err
	}
	if _, err := w.Write([]byte(object.Domain())); err != nil {
		return err
	}
	if _, err := object.WriteTo(w); err != nil {
		return err
	}
	if _, err := w.Write([]byte(")")); err != nil {
		return err
	}
	return nil
}

// WriteAny takes many different data types and writes them to the hash state.
//
// Currently supported types:
//
//   - []byte
//   - WriterToWithDomain
//   - encoding.BinaryMarshaler
//
// This function applies its own domain separation for raw byte slices.
func (hash *Hash) WriteAny(data ...interface{}) error {
	for _, d := range data {
		switch t := d.(type) {
		case []byte:
			err := writeWithDomain(hash.h, &BytesWithDomain{
				TheDomain: "[]byte",
				Bytes:     t,
			})
			if err != nil {
				return fmt.Errorf("hash.Hash: write []byte: %w", err)
			}
		case WriterToWithDomain:
			if err := writeWithDomain(hash.h, t); err != nil {
				return fmt.Errorf("hash.Hash: write %q: %w", t.Domain(), err)
			}
		case encoding.BinaryMarshaler:
			bytes, err := t.MarshalBinary()
			if err != nil {
				return fmt.Errorf("hash.Hash: marshal: %w", err)
			}
			err = writeWithDomain(hash.h, &BytesWithDomain{
				TheDomain: "BinaryMarshaler",
				Bytes:     bytes,
			})
			if err != nil {
				return fmt.Errorf("hash.Hash: write BinaryMarshaler: %w", err)
			}
		default:
			panic("hash.Hash: unsupported type")
		}
	}
	return nil
}

// Clone returns a copy of the Hash in its current state.
func (hash *Hash) Clone() *Hash {
	return &Hash{h: hash.h.Clone()}
}
