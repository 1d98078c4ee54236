package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const certificateNFTABI = `[
  {"type":"function","name":"incrementMintableNfts","stateMutability":"nonpayable",
   "inputs":[{"name":"recipient","type":"address"}],"outputs":[]},
  {"type":"function","name":"safeMint","stateMutability":"nonpayable",
   "inputs":[
     {"name":"recipient","type":"address"},
     {"name":"certificateId","type":"bytes32"},
     {"name":"theme","type":"bytes32"},
     {"name":"score","type":"uint256"},
     {"name":"tokenId","type":"uint256"},
     {"name":"data","type":"bytes32"}],
   "outputs":[]},
  {"type":"function","name":"totalSupply","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const hashRegistryABI = `[
  {"type":"function","name":"anchorHash","stateMutability":"nonpayable",
   "inputs":[{"name":"root","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"isAnchored","stateMutability":"view",
   "inputs":[{"name":"root","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	nftABI      = mustParseABI(certificateNFTABI)
	registryABI = mustParseABI(hashRegistryABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ShortString encodes s the way the contract stores short string fields:
// the ASCII bytes read as a big-endian integer, right-aligned in 32 bytes.
// Strings longer than 31 bytes are truncated.
func ShortString(s string) [32]byte {
	var out [32]byte
	if len(s) > 31 {
		s = s[:31]
	}
	v := new(big.Int).SetBytes([]byte(s))
	v.FillBytes(out[:])
	return out
}
