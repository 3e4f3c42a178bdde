package party

import (
	"errors"
	"io"

	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
)

// ID is the name of a physical device participating in a wallet.
//
// IDs are stable across sessions and restarts, and are what the signaling
// layer uses to address peers.
type ID string

// Validate returns an error if the ID is not suitable as a device name.
func (id ID) Validate() error {
	if id == "" {
		return errors.New("party.ID: empty device name")
	}
	return nil
}

// Scalar maps a 1-based identifier rank to the corresponding non-zero field
// element. rank must be >= 1.
func Scalar(group curve.Curve, rank int) curve.Scalar {
	return group.NewScalar().SetUInt32(uint32(rank))
}

// WriteTo implements io.WriterTo interface.
func (id ID) WriteTo(w io.Writer) (int64, error) {
	if id == "" {
		return 0, io.ErrUnexpectedEOF
	}
	n, err := w.Write([]byte(id))
	return int64(n), err
}

// Domain implements hash.WriterToWithDomain, and separates this type within hash.Hash.
func (ID) Domain() string {
	return "ID"
}
