package sample

import (
	"fmt"
	"io"

	"github.com/cronokirby/saferith"
	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
)

const maxIterations = 255

var ErrMaxIterations = fmt.Errorf("sample: failed to generate after %d iterations", maxIterations)

func mustReadBits(rand io.Reader, buf []byte) {
	for i := 0; i < maxIterations; i++ {
		if _, err := io.ReadFull(rand, buf); err == nil {
			return
		}
	}
	panic(ErrMaxIterations)
}

// Scalar returns a new curve.Scalar by reading bytes from rand.
//
// We read twice as many bytes as the scalar size, so that the reduction
// modulo the group order has negligible bias.
func Scalar(rand io.Reader, group curve.Curve) curve.Scalar {
	buffer := make([]byte, 2*group.SafeScalarBytes())
	mustReadBits(rand, buffer)
	n := new(saferith.Nat).SetBytes(buffer)
	return group.NewScalar().SetNat(n)
}

// ScalarUnit returns a new non-zero curve.Scalar by reading bytes from rand.
func ScalarUnit(rand io.Reader, group curve.Curve) curve.Scalar {
	for i := 0; i < maxIterations; i++ {
		s := Scalar(rand, group)
		if !s.IsZero() {
			return s
		}
	}
	panic(ErrMaxIterations)
}
