// Package merkletree implements C6: the two-level sorted-pair sha256
// merkle tree used for reward distribution proofs, grounded in shape on
// crypto/merkle_multi_proof.go's generalized-index proof style but built
// around the domain's own leaf/internal-node hashing rules.
package merkletree

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// ErrLeafNotFound is returned when a proof is requested for a hash that
// was never inserted as a leaf.
var ErrLeafNotFound = errors.New("merkletree: leaf not found")

// leafPrefix and internalPrefix domain-separate leaf hashes from internal
// node hashes, resisting the classic second-preimage attack where an
// internal node is replayed as a leaf. The spec fixes the leaf prefix at
// 0x00; it is silent on internal nodes, so 0x01 is this repository's own
// decision (recorded in the design notes).
const (
	leafPrefix     = 0x00
	internalPrefix = 0x01
)

// HashLeaf hashes arbitrary leaf data with the domain-separating leaf
// prefix.
func HashLeaf(data []byte) common.Hash {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(data)
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// hashInternal combines two child hashes, sorted ascending so the pairing
// order never affects the resulting root.
func hashInternal(a, b common.Hash) common.Hash {
	if bytesGreater(a, b) {
		a, b = b, a
	}
	h := sha256.New()
	h.Write([]byte{internalPrefix})
	h.Write(a[:])
	h.Write(b[:])
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func bytesGreater(a, b common.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// Tree is a standard sorted-pair sha256 merkle tree: leaves are sorted by
// hash before construction, and every internal node combines its two
// children in sorted order, so the root is independent of insertion order.
type Tree struct {
	levels [][]common.Hash // levels[0] = sorted leaves, levels[len-1] = [root]
}

// Build constructs a Tree from a set of leaf hashes (already hashed via
// HashLeaf), sorting them by hash first.
func Build(leaves []common.Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("merkletree: cannot build a tree with zero leaves")
	}
	sorted := make([]common.Hash, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool { return bytesGreater(sorted[j], sorted[i]) })

	levels := [][]common.Hash{sorted}
	for len(levels[len(levels)-1]) > 1 {
		cur := levels[len(levels)-1]
		next := make([]common.Hash, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 == len(cur) {
				// odd node carries up unchanged to the next level; it is
				// never hashed with itself.
				next = append(next, cur[i])
				continue
			}
			next = append(next, hashInternal(cur[i], cur[i+1]))
		}
		levels = append(levels, next)
	}
	return &Tree{levels: levels}, nil
}

// Root returns the tree's root hash.
func (t *Tree) Root() common.Hash {
	return t.levels[len(t.levels)-1][0]
}

// NumLeaves returns the number of leaves the tree was built from.
func (t *Tree) NumLeaves() int {
	return len(t.levels[0])
}

// Proof returns the sibling hashes (bottom to top) needed to verify that
// leaf belongs to the tree. No left/right side information is returned:
// pairs are hashed in sorted order, so verification re-derives the order by
// comparison.
func (t *Tree) Proof(leaf common.Hash) ([]common.Hash, error) {
	idx := -1
	for i, l := range t.levels[0] {
		if l == leaf {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, ErrLeafNotFound
	}

	proof := make([]common.Hash, 0, len(t.levels)-1)
	for level := 0; level < len(t.levels)-1; level++ {
		cur := t.levels[level]
		var siblingIdx int
		if idx%2 == 0 {
			siblingIdx = idx + 1
		} else {
			siblingIdx = idx - 1
		}
		if siblingIdx < len(cur) {
			proof = append(proof, cur[siblingIdx])
		}
		idx /= 2
	}
	return proof, nil
}

// Verify reports whether proof opens leaf to root under the sorted-pair
// hashing scheme.
func Verify(leaf common.Hash, proof []common.Hash, root common.Hash) bool {
	cur := leaf
	for _, sibling := range proof {
		cur = hashInternal(cur, sibling)
	}
	return cur == root
}
