package types

import (
	"errors"
	"io"
)

// SecBytes is the size of a random identifier contribution.
const SecBytes = 32

// RID represents a byte slice of whose size equals the security parameter.
// It can be easily XOR'ed with other RID. An empty slice is considered invalid.
type RID []byte

// EmptyRID returns a zeroed-out RID of the correct length.
func EmptyRID() RID {
	return make(RID, SecBytes)
}

// NewRID returns a RID filled with fresh randomness.
func NewRID(rand io.Reader) (RID, error) {
	rid := EmptyRID()
	_, err := io.ReadFull(rand, rid)
	return rid, err
}

// XOR modifies the receiver by taking the XOR with the argument.
func (rid RID) XOR(otherRID RID) {
	for b := 0; b < SecBytes; b++ {
		rid[b] ^= otherRID[b]
	}
}

// WriteTo implements io.WriterTo.
func (rid RID) WriteTo(w io.Writer) (int64, error) {
	if rid == nil {
		return 0, io.ErrUnexpectedEOF
	}
	n, err := w.Write(rid[:])
	return int64(n), err
}

// Domain implements hash.WriterToWithDomain.
func (RID) Domain() string { return "RID" }

// Validate returns an error if the RID is not exactly SecBytes long.
func (rid RID) Validate() error {
	if l := len(rid); l != SecBytes {
		return errors.New("rid: incorrect length")
	}
	return nil
}

// Copy returns a copy of the RID.
func (rid RID) Copy() RID {
	other := EmptyRID()
	copy(other, rid)
	return other
}
