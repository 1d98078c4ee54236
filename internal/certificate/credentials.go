package certificate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mentorcertai/cert-issuer/internal/credential"
	"github.com/mentorcertai/cert-issuer/internal/merkle"
	"github.com/mentorcertai/cert-issuer/internal/wallet"
)

const signatureType = "EcdsaSecp256k1Signature2019"

var ErrNoRecipients = errors.New("batch has no recipients")

// BatchResult is a Merkle batch of anchor packages.
type BatchResult struct {
	MerkleRoot      string               `json:"merkleRoot"`
	TransactionHash string               `json:"transactionHash,omitempty"`
	Packages        []credential.Package `json:"packages"`
}

// BatchCredentials builds one credential per recipient, commits them to a
// Merkle tree and, when anchor is set, records the root on chain.
func (s *Service) BatchCredentials(ctx context.Context, course string, recipients []credential.RecipientData, anchor bool) (BatchResult, error) {
	if len(recipients) == 0 {
		return BatchResult{}, ErrNoRecipients
	}
	if anchor && s.deps.Anchorer == nil {
		return BatchResult{}, errors.New("root anchoring is not configured")
	}

	issuedOn := s.opts.Now().UTC().Format(time.RFC3339)
	for i := range recipients {
		if recipients[i].IssuedOn == "" {
			recipients[i].IssuedOn = issuedOn
		}
		if recipients[i].IssuerID == "" {
			recipients[i].IssuerID = s.opts.IssuerID
		}
		if recipients[i].Course == "" {
			recipients[i].Course = course
		}
	}

	badge := credential.CourseBadge(course, s.opts.Issuer.Address, s.opts.BadgeBaseURL)
	docs := s.builder.BuildBatch(recipients, s.opts.Issuer, badge)
	tree, err := credential.Tree(docs)
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to build merkle tree: %w", err)
	}

	txHash := ""
	if anchor {
		ctx, cancel := context.WithTimeout(ctx, s.opts.ChainTimeout)
		defer cancel()
		hash, err := s.deps.Anchorer.AnchorRoot(ctx, common.BytesToHash(tree.Root()))
		if err != nil {
			return BatchResult{}, err
		}
		txHash = hash.Hex()
	}

	pkgs, err := credential.BatchPackages(docs, tree, txHash, s.opts.Anchor)
	if err != nil {
		return BatchResult{}, err
	}
	for i := range pkgs {
		if err := s.sign(&pkgs[i]); err != nil {
			return BatchResult{}, err
		}
	}

	return BatchResult{MerkleRoot: tree.HexRoot(), TransactionHash: txHash, Packages: pkgs}, nil
}

// VerifyResult reports each check made on an anchor package. Checks that do
// not apply to the package are omitted.
type VerifyResult struct {
	Valid          bool   `json:"valid"`
	SchemaValid    bool   `json:"schemaValid"`
	SchemaError    string `json:"schemaError,omitempty"`
	ProofValid     *bool  `json:"proofValid,omitempty"`
	SignatureValid *bool  `json:"signatureValid,omitempty"`
	Anchored       *bool  `json:"anchored,omitempty"`
}

// VerifyPackage checks the credential shape, its Merkle proof, the issuer
// signature and whether the root is anchored.
func (s *Service) VerifyPackage(ctx context.Context, pkg credential.Package) (VerifyResult, error) {
	var res VerifyResult

	if err := credential.Validate(pkg.Certificate); err != nil {
		res.SchemaError = err.Error()
	} else {
		res.SchemaValid = true
	}
	res.Valid = res.SchemaValid

	if pkg.MerkleRoot != "" {
		ok, err := proofValid(pkg)
		if err != nil {
			return VerifyResult{}, err
		}
		res.ProofValid = &ok
		res.Valid = res.Valid && ok

		// with a registry configured, an unanchored root proves nothing
		if s.deps.Anchorer != nil {
			anchored := false
			root, err := hexutil.Decode(pkg.MerkleRoot)
			if err == nil && len(root) == common.HashLength {
				anchored, err = s.deps.Anchorer.IsAnchored(ctx, common.BytesToHash(root))
				if err != nil {
					return VerifyResult{}, fmt.Errorf("failed to check anchor: %w", err)
				}
			}
			res.Anchored = &anchored
			res.Valid = res.Valid && anchored
		}
	}

	if pkg.Signature != nil {
		ok := signatureValid(pkg)
		res.SignatureValid = &ok
		res.Valid = res.Valid && ok
	}

	return res, nil
}

func proofValid(pkg credential.Package) (bool, error) {
	canonical, err := credential.Canonical(pkg.Certificate)
	if err != nil {
		return false, err
	}
	target := hexutil.Encode(merkle.LeafHash(canonical))
	if target != pkg.TargetHash {
		return false, nil
	}
	return merkle.VerifyHex(pkg.TargetHash, pkg.Proof, pkg.MerkleRoot), nil
}

func signatureValid(pkg credential.Package) bool {
	sig := *pkg.Signature
	if sig.Type != signatureType || !common.IsHexAddress(sig.Creator) {
		return false
	}
	raw, err := hexutil.Decode(sig.SignatureValue)
	if err != nil {
		return false
	}
	pkg.Signature = nil
	hash, err := wallet.MessageHash(pkg)
	if err != nil {
		return false
	}
	return wallet.VerifySignature(common.HexToAddress(sig.Creator), hash, raw)
}
