// Package wallet manages student account keys and their sponsored
// deployment through a paymaster.
package wallet

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// NewKey generates a fresh secp256k1 account key.
func NewKey() (*ecdsa.PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// EncodeKey returns the 0x-prefixed hex form of key.
func EncodeKey(key *ecdsa.PrivateKey) string {
	return hexutil.Encode(crypto.FromECDSA(key))
}

// DecodeKey parses a key produced by EncodeKey.
func DecodeKey(s string) (*ecdsa.PrivateKey, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}
	return key, nil
}

// OwnerAddress is the address derived from the key's public half.
func OwnerAddress(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// MessageHash is the keccak hash of the JSON encoding of message.
func MessageHash(message any) (common.Hash, error) {
	raw, err := json.Marshal(message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	return crypto.Keccak256Hash(raw), nil
}

// SignMessage signs the MessageHash of message.
func SignMessage(key *ecdsa.PrivateKey, message any) (hash common.Hash, sig []byte, err error) {
	hash, err = MessageHash(message)
	if err != nil {
		return common.Hash{}, nil, err
	}
	sig, err = crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return hash, sig, nil
}

// VerifySignature reports whether sig over hash was made by owner.
func VerifySignature(owner common.Address, hash common.Hash, sig []byte) bool {
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == owner
}
