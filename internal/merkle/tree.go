package merkle

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrNoLeaves = errors.New("merkle tree needs at least one leaf")

// Proof is the inclusion proof for one leaf of a batch.
type Proof struct {
	Index      int      `json:"index"`
	Proof      []string `json:"proof"`
	TargetHash string   `json:"targetHash"`
}

// Tree is a keccak256 merkle tree whose pairs are sorted before hashing,
// so a proof does not need to record left/right positions.
type Tree struct {
	levels [][][]byte
}

// LeafHash hashes a canonical document into a leaf.
func LeafHash(canonical []byte) []byte {
	sum := sha256.Sum256(canonical)
	return sum[:]
}

// HashPair hashes two nodes in sorted order.
func HashPair(a, b []byte) []byte {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256(a, b)
}

// New builds the tree over pre-hashed leaves. An unpaired node at the end
// of a level is promoted unchanged.
func New(leaves [][]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}

	level := make([][]byte, len(leaves))
	copy(level, leaves)
	levels := [][][]byte{level}

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, HashPair(level[i], level[i+1]))
		}
		levels = append(levels, next)
		level = next
	}

	return &Tree{levels: levels}, nil
}

// FromDocuments hashes each canonical document with sha256 and builds the tree.
func FromDocuments(canonical [][]byte) (*Tree, error) {
	leaves := make([][]byte, len(canonical))
	for i, doc := range canonical {
		leaves[i] = LeafHash(doc)
	}
	return New(leaves)
}

// Root returns the root node.
func (t *Tree) Root() []byte {
	return t.levels[len(t.levels)-1][0]
}

// HexRoot returns the 0x-prefixed root.
func (t *Tree) HexRoot() string {
	return hexutil.Encode(t.Root())
}

// Leaves returns the number of leaves.
func (t *Tree) Leaves() int {
	return len(t.levels[0])
}

// Proof returns the sibling path of leaf index, bottom-up.
func (t *Tree) Proof(index int) ([][]byte, error) {
	if index < 0 || index >= t.Leaves() {
		return nil, fmt.Errorf("leaf index %d out of range", index)
	}

	var path [][]byte
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := index ^ 1
		if sibling < len(level) {
			path = append(path, level[sibling])
		}
		index /= 2
	}
	return path, nil
}

// Proofs returns the hex proof of every leaf, in leaf order.
func (t *Tree) Proofs() []Proof {
	proofs := make([]Proof, t.Leaves())
	for i, leaf := range t.levels[0] {
		path, _ := t.Proof(i)
		hexPath := make([]string, len(path))
		for j, node := range path {
			hexPath[j] = hexutil.Encode(node)
		}
		proofs[i] = Proof{
			Index:      i,
			Proof:      hexPath,
			TargetHash: hexutil.Encode(leaf),
		}
	}
	return proofs
}

// Verify folds proof into target with sorted-pair hashing and compares the
// result against root.
func Verify(target []byte, proof [][]byte, root []byte) bool {
	node := target
	for _, sibling := range proof {
		node = HashPair(node, sibling)
	}
	return bytes.Equal(node, root)
}

// VerifyHex is Verify over 0x-prefixed hex strings. Malformed input fails
// verification.
func VerifyHex(target string, proof []string, root string) bool {
	t, err := decodeHex(target)
	if err != nil {
		return false
	}
	r, err := decodeHex(root)
	if err != nil {
		return false
	}
	path := make([][]byte, len(proof))
	for i, p := range proof {
		node, err := decodeHex(p)
		if err != nil {
			return false
		}
		path[i] = node
	}
	return Verify(t, path, r)
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}
