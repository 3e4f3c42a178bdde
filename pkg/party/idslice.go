package party

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
)

// IDSlice is a sorted slice of unique IDs.
//
// The sorted order is what determines each participant's identifier: the
// device at index i holds identifier i+1. Every honest node derives the same
// mapping from the same participant set.
type IDSlice []ID

// NewIDSlice returns a sorted copy of ids without duplicates.
func NewIDSlice(ids []ID) IDSlice {
	res := IDSlice(make([]ID, len(ids))).copyFrom(ids)
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	out := res[:0]
	for i, id := range res {
		if i > 0 && res[i-1] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (partyIDs IDSlice) copyFrom(ids []ID) IDSlice {
	copy(partyIDs, ids)
	return partyIDs
}

// Contains returns true if partyIDs contains every id given.
func (partyIDs IDSlice) Contains(ids ...ID) bool {
	for _, id := range ids {
		if partyIDs.search(id) < 0 {
			return false
		}
	}
	return true
}

// Valid returns true if the IDSlice is sorted, contains no duplicates, and no
// empty names.
func (partyIDs IDSlice) Valid() bool {
	for i, id := range partyIDs {
		if id == "" {
			return false
		}
		if i > 0 && partyIDs[i-1] >= id {
			return false
		}
	}
	return true
}

func (partyIDs IDSlice) search(id ID) int {
	idx := sort.Search(len(partyIDs), func(i int) bool { return partyIDs[i] >= id })
	if idx < len(partyIDs) && partyIDs[idx] == id {
		return idx
	}
	return -1
}

// Rank returns the 1-based identifier rank of id within this sorted set,
// or 0 if id is not present.
func (partyIDs IDSlice) Rank(id ID) int {
	return partyIDs.search(id) + 1
}

// Identifier returns the protocol identifier scalar for id, derived from its
// rank in the sorted participant set.
func (partyIDs IDSlice) Identifier(group curve.Curve, id ID) curve.Scalar {
	rank := partyIDs.Rank(id)
	if rank == 0 {
		// Unknown parties have no identifier; a zero scalar is never valid
		// and is rejected by all consumers.
		return group.NewScalar()
	}
	return Scalar(group, rank)
}

// Remove returns a new IDSlice with id removed, if present.
func (partyIDs IDSlice) Remove(id ID) IDSlice {
	out := make(IDSlice, 0, len(partyIDs))
	for _, other := range partyIDs {
		if other != id {
			out = append(out, other)
		}
	}
	return out
}

// Copy returns a deep copy.
func (partyIDs IDSlice) Copy() IDSlice {
	out := make(IDSlice, len(partyIDs))
	copy(out, partyIDs)
	return out
}

// WriteTo implements io.WriterTo interface.
func (partyIDs IDSlice) WriteTo(w io.Writer) (int64, error) {
	if err := binary.Write(w, binary.BigEndian, uint64(len(partyIDs))); err != nil {
		return 0, err
	}
	nAll := int64(8)
	for _, id := range partyIDs {
		n, err := id.WriteTo(w)
		nAll += n
		if err != nil {
			return nAll, err
		}
	}
	return nAll, nil
}

// Domain implements hash.WriterToWithDomain, and separates this type within hash.Hash.
func (IDSlice) Domain() string {
	return "IDSlice"
}
