package wallet

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// DeploymentData describes the account contract the paymaster deploys.
type DeploymentData struct {
	ClassHash string   `json:"class_hash"`
	Salt      string   `json:"salt"`
	Unique    string   `json:"unique"`
	Calldata  []string `json:"calldata"`
}

// Account is the counterfactual account of one owner key.
type Account struct {
	Owner      common.Address
	Address    common.Address
	Deployment DeploymentData
}

// ownerWord is the owner address left-padded to a 32-byte word.
func ownerWord(owner common.Address) common.Hash {
	return common.BytesToHash(owner.Bytes())
}

// ConstructorCalldata is the account constructor input: the owner followed
// by an empty guardian.
func ConstructorCalldata(owner common.Address) []common.Hash {
	return []common.Hash{ownerWord(owner), {}}
}

// CounterfactualAddress computes where the account for owner will live once
// deployed by the zero deployer, with the owner word as salt.
func CounterfactualAddress(owner common.Address, classHash common.Hash, calldata []common.Hash) common.Address {
	var args []byte
	for _, word := range calldata {
		args = append(args, word.Bytes()...)
	}
	initHash := crypto.Keccak256(classHash.Bytes(), crypto.Keccak256(args))
	return crypto.CreateAddress2(common.Address{}, ownerWord(owner), initHash)
}

// NewAccount derives the owner and counterfactual address for the given
// account class.
func NewAccount(owner common.Address, classHash common.Hash) Account {
	calldata := ConstructorCalldata(owner)
	encoded := make([]string, len(calldata))
	for i, word := range calldata {
		encoded[i] = hexutil.EncodeBig(word.Big())
	}
	return Account{
		Owner:   owner,
		Address: CounterfactualAddress(owner, classHash, calldata),
		Deployment: DeploymentData{
			ClassHash: classHash.Hex(),
			Salt:      ownerWord(owner).Hex(),
			Unique:    "0x1",
			Calldata:  encoded,
		},
	}
}
