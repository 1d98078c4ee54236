package certificate

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateCertificate = errors.New("certificate already exists for this session")
	ErrNotFound             = errors.New("not found")
	ErrWalletExists         = errors.New("wallet already exists")
	ErrNoRecipient          = errors.New("no recipient address for minting")
	ErrTransactionRecorded  = errors.New("transaction hash already recorded")
	ErrTokenTaken           = errors.New("token id already belongs to another certificate")
)

// MintStatus tracks whether a certificate has been minted as an NFT.
type MintStatus string

const (
	MintNone    MintStatus = "none"
	MintPending MintStatus = "pending"
	MintMinted  MintStatus = "minted"
	MintFailed  MintStatus = "failed"
)

// MintMode selects when certificates are minted.
type MintMode string

const (
	MintModeSync  MintMode = "sync"
	MintModeAsync MintMode = "async"
	MintModeOff   MintMode = "off"
)

func ParseMintMode(s string) (MintMode, error) {
	switch m := MintMode(s); m {
	case MintModeSync, MintModeAsync, MintModeOff:
		return m, nil
	}
	return "", fmt.Errorf("unknown mint mode %q", s)
}

// Certificate represents a stored certificate
type Certificate struct {
	ID               int64
	UserID           string
	SessionID        string
	Theme            string
	StudentName      string
	Email            string
	Score            int
	IssuedAt         time.Time
	Image            string
	TokenID          sql.NullInt64
	TransactionHash  sql.NullString
	Credential       sql.NullString
	RecipientAddress string
	MintStatus       MintStatus
}

// Backfill carries the fields a student may fill in after issuance. Token
// ids only come from the minter.
type Backfill struct {
	Image           *string
	TransactionHash *string
}

// Wallet is a student's account key material.
type Wallet struct {
	UserID          string
	EncryptedKey    string
	OwnerAddress    string
	AccountAddress  string
	DeployTxHash    sql.NullString
	DeployedAddress sql.NullString
	CreatedAt       time.Time
}

// Address is where certificates for this wallet are minted to.
func (w Wallet) Address() string {
	if w.DeployedAddress.Valid && w.DeployedAddress.String != "" {
		return w.DeployedAddress.String
	}
	return w.AccountAddress
}

// NFTAttribute is one ERC-721 metadata trait.
type NFTAttribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// NFTMetadata is the ERC-721 metadata document of a certificate token.
type NFTMetadata struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Image       string         `json:"image"`
	Attributes  []NFTAttribute `json:"attributes"`
}

// Metadata builds the token metadata for c. imageURL replaces inline
// images, which are too large for marketplaces to embed.
func (c Certificate) Metadata(imageURL string) NFTMetadata {
	image := c.Image
	if imageURL != "" {
		image = imageURL
	}
	return NFTMetadata{
		Name:        fmt.Sprintf("Certificate #%d", c.ID),
		Description: fmt.Sprintf("Certificate of completion with score %d%%", c.Score),
		Image:       image,
		Attributes: []NFTAttribute{
			{TraitType: "Score", Value: c.Score},
			{TraitType: "Date", Value: c.IssuedAt.UTC().Format("2006-01-02")},
		},
	}
}
