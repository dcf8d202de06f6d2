package merkle

import (
	"github.com/ethereum/go-ethereum/common"
)

// Leaf adapts a precomputed hash to the Hashable interface.
type Leaf common.Hash

// Hash implements the Hashable interface.
func (l Leaf) Hash() ([]byte, error) {
	return l[:], nil
}

// Equals implements the Hashable interface.
func (l Leaf) Equals(other Leaf) bool {
	return l == other
}

// RootOf computes the merkle root over an ordered list of hashes. An empty
// list produces the zero hash.
func RootOf(hashes []common.Hash) common.Hash {
	leafs := make([]Leaf, len(hashes))
	for i, h := range hashes {
		leafs[i] = Leaf(h)
	}

	// Leaf hashing can't fail so neither can building the tree.
	tree, err := NewTree(leafs)
	if err != nil {
		return common.Hash{}
	}

	return tree.RootHash()
}
