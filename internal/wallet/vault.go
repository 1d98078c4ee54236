package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Material is a freshly created wallet ready to be stored.
type Material struct {
	EncryptedKey string
	Owner        common.Address
	Account      common.Address
}

// Vault creates wallets and opens their encrypted keys.
type Vault struct {
	cipher    *Cipher
	classHash common.Hash
}

func NewVault(c *Cipher, classHash common.Hash) *Vault {
	return &Vault{cipher: c, classHash: classHash}
}

// New generates a key and returns it encrypted along with its addresses.
func (v *Vault) New() (Material, error) {
	key, err := NewKey()
	if err != nil {
		return Material{}, err
	}
	encrypted, err := v.cipher.Encrypt([]byte(EncodeKey(key)))
	if err != nil {
		return Material{}, fmt.Errorf("failed to encrypt key: %w", err)
	}
	owner := OwnerAddress(key)
	return Material{
		EncryptedKey: encrypted,
		Owner:        owner,
		Account:      NewAccount(owner, v.classHash).Address,
	}, nil
}

// Open decrypts a stored key.
func (v *Vault) Open(encrypted string) (*ecdsa.PrivateKey, error) {
	raw, err := v.cipher.Decrypt(encrypted)
	if err != nil {
		return nil, err
	}
	return DecodeKey(string(raw))
}
