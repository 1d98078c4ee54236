package merkle

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func documents(n int) [][]byte {
	docs := make([][]byte, n)
	for i := range docs {
		docs[i] = []byte(fmt.Sprintf(`{"id":"urn:uuid:%d","name":"student %d"}`, i, i))
	}
	return docs
}

func Test_EveryLeafVerifies(t *testing.T) {
	for n := 1; n <= 17; n++ {
		t.Run(fmt.Sprintf("%d leaves", n), func(t *testing.T) {
			tree, err := FromDocuments(documents(n))
			require.NoError(t, err)

			proofs := tree.Proofs()
			require.Len(t, proofs, n)
			for i, p := range proofs {
				assert.Equal(t, i, p.Index)
				if !VerifyHex(p.TargetHash, p.Proof, tree.HexRoot()) {
					t.Fatalf("leaf %d failed verification", i)
				}
			}
		})
	}
}

func Test_SingleLeaf(t *testing.T) {
	docs := documents(1)
	tree, err := FromDocuments(docs)
	require.NoError(t, err)

	leaf := LeafHash(docs[0])
	assert.Equal(t, hexutil.Encode(leaf), tree.HexRoot())

	proofs := tree.Proofs()
	require.Len(t, proofs, 1)
	assert.Empty(t, proofs[0].Proof)
	assert.Equal(t, tree.HexRoot(), proofs[0].TargetHash)
}

func Test_EmptyTree(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrNoLeaves)
}

func Test_TamperingFailsVerification(t *testing.T) {
	tree, err := FromDocuments(documents(6))
	require.NoError(t, err)

	for _, p := range tree.Proofs() {
		for j := range p.Proof {
			tampered := append([]string(nil), p.Proof...)
			node, err := hexutil.Decode(tampered[j])
			require.NoError(t, err)
			node[0] ^= 0xff
			tampered[j] = hexutil.Encode(node)
			if VerifyHex(p.TargetHash, tampered, tree.HexRoot()) {
				t.Fatalf("leaf %d verified with tampered proof element %d", p.Index, j)
			}
		}

		target, err := hexutil.Decode(p.TargetHash)
		require.NoError(t, err)
		target[len(target)-1] ^= 0x01
		if VerifyHex(hexutil.Encode(target), p.Proof, tree.HexRoot()) {
			t.Fatalf("leaf %d verified with tampered target hash", p.Index)
		}
	}
}

func Test_PairHashIsOrderIndependent(t *testing.T) {
	a := LeafHash([]byte("a"))
	b := LeafHash([]byte("b"))
	assert.True(t, bytes.Equal(HashPair(a, b), HashPair(b, a)))
}

func Test_ProofOutOfRange(t *testing.T) {
	tree, err := FromDocuments(documents(3))
	require.NoError(t, err)
	_, err = tree.Proof(3)
	require.Error(t, err)
}

func Test_VerifyHexRejectsMalformed(t *testing.T) {
	tree, err := FromDocuments(documents(2))
	require.NoError(t, err)
	p := tree.Proofs()[0]
	assert.False(t, VerifyHex("0xzz", p.Proof, tree.HexRoot()))
	assert.False(t, VerifyHex(p.TargetHash, []string{"nothex"}, tree.HexRoot()))
}
