package keygen

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/math/polynomial"
	zksch "github.com/vaultmesh/frost-wallet/pkg/zk/sch"
)

// CommitmentFromMessage extracts the polynomial commitment a participant
// broadcast during the first key generation exchange. Orchestrators use it to
// recompute the group key from the summed commitments and cross-check the
// final public key package.
func CommitmentFromMessage(group curve.Curve, data []byte) (*polynomial.Exponent, error) {
	content := &broadcast2{
		Phi_i:   polynomial.EmptyExponent(group),
		Sigma_i: zksch.EmptyProof(group),
	}
	if err := cbor.Unmarshal(data, content); err != nil {
		return nil, fmt.Errorf("keygen: decode commitment broadcast: %w", err)
	}
	if content.Phi_i == nil {
		return nil, fmt.Errorf("keygen: commitment broadcast without polynomial")
	}
	return content.Phi_i, nil
}

// GroupKeyFromCommitments sums the constant terms of every participant's
// polynomial commitment, which is the group public key a correct key
// generation must produce.
func GroupKeyFromCommitments(commitments []*polynomial.Exponent) (curve.Point, error) {
	if len(commitments) == 0 {
		return nil, fmt.Errorf("keygen: no commitments")
	}
	sum, err := polynomial.Sum(commitments)
	if err != nil {
		return nil, fmt.Errorf("keygen: sum commitments: %w", err)
	}
	return sum.Constant(), nil
}
