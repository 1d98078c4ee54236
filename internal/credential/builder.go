package credential

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/mentorcertai/cert-issuer/internal/merkle"
)

const (
	defaultKeyType      = "EthereumAddress"
	defaultEvidenceType = "DocumentVerification"
)

// Builder assembles credential documents. The zero value is ready to use.
type Builder struct {
	// Now stamps the issuer public key entry. Defaults to time.Now.
	Now func() time.Time
	// NewID returns the credential URN. Defaults to a random v4 UUID URN.
	NewID func() string
	// EvidenceText is the description of the evidence entry, if any.
	EvidenceText string
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b Builder) newID() string {
	if b.NewID != nil {
		return b.NewID()
	}
	return uuid.New().URN()
}

// Build assembles one credential. Inputs are not validated.
func (b Builder) Build(recipient RecipientData, issuer IssuerData, badge Badge) Document {
	keyType := issuer.KeyType
	if keyType == "" {
		keyType = defaultKeyType
	}

	doc := Document{
		Context: append([]string(nil), Contexts...),
		ID:      b.newID(),
		Type:    append([]string(nil), Types...),
		Recipient: Recipient{
			ID:    "mailto:" + recipient.Email,
			Name:  recipient.Name,
			Email: recipient.Email,
		},
		Issuer: Issuer{
			ID:    recipient.IssuerID,
			Name:  issuer.Name,
			Email: issuer.Email,
			URL:   issuer.URL,
			PublicKey: []PublicKey{{
				ID:      issuer.Address,
				Type:    keyType,
				Created: b.now().UTC().Format(time.RFC3339Nano),
			}},
		},
		IssuanceDate: recipient.IssuedOn,
		CredentialSubject: Subject{
			ID:   "mailto:" + recipient.Email,
			Name: recipient.Name,
		},
		Badge: badge,
	}

	if b.EvidenceText != "" {
		doc.Evidence = []Evidence{{Type: defaultEvidenceType, Description: b.EvidenceText}}
	}

	return doc
}

// BuildBatch builds one credential per recipient, in input order.
func (b Builder) BuildBatch(recipients []RecipientData, issuer IssuerData, badge Badge) []Document {
	docs := make([]Document, len(recipients))
	for i, r := range recipients {
		docs[i] = b.Build(r, issuer, badge)
	}
	return docs
}

// Build assembles a credential with the default builder.
func Build(recipient RecipientData, issuer IssuerData, badge Badge) Document {
	return Builder{}.Build(recipient, issuer, badge)
}

// CourseBadge is the badge awarded for completing a mentoring course.
func CourseBadge(course, issuerAddress, badgeBaseURL string) Badge {
	return Badge{
		ID:          badgeBaseURL + "/" + url.PathEscape(course),
		Name:        course,
		Description: fmt.Sprintf("Completion of the %s mentoring session", course),
		Criteria: Criteria{
			Narrative: fmt.Sprintf("Passed the %s exam after a mentoring session", course),
		},
		Issuer: issuerAddress,
	}
}

// SinglePackage wraps doc for direct anchoring. The anchor is attached
// only when txHash is set.
func SinglePackage(doc Document, txHash string, anchor Anchor) Package {
	pkg := Package{Certificate: doc}
	if txHash != "" {
		anchor.TransactionID = txHash
		pkg.Anchors = []Anchor{anchor}
	}
	return pkg
}

// BatchPackages wraps each document with its merkle proof against tree.
// docs must be the documents the tree was built from, in the same order.
func BatchPackages(docs []Document, tree *merkle.Tree, txHash string, anchor Anchor) ([]Package, error) {
	if tree.Leaves() != len(docs) {
		return nil, fmt.Errorf("tree has %d leaves for %d documents", tree.Leaves(), len(docs))
	}

	root := tree.HexRoot()
	proofs := tree.Proofs()
	pkgs := make([]Package, len(docs))
	for i, doc := range docs {
		pkg := Package{
			Certificate: doc,
			MerkleRoot:  root,
			TargetHash:  proofs[i].TargetHash,
			Proof:       proofs[i].Proof,
		}
		if txHash != "" {
			a := anchor
			a.TransactionID = txHash
			pkg.Anchors = []Anchor{a}
		}
		pkgs[i] = pkg
	}
	return pkgs, nil
}

// Canonical returns the JSON of doc with object keys sorted at every level
// and no HTML escaping, so the same document always hashes the same.
func Canonical(doc any) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to normalise document: %w", err)
	}

	// maps are encoded with sorted keys
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("failed to encode canonical document: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Tree builds the merkle tree over the canonical form of docs.
func Tree(docs []Document) (*merkle.Tree, error) {
	canonical := make([][]byte, len(docs))
	for i, doc := range docs {
		c, err := Canonical(doc)
		if err != nil {
			return nil, err
		}
		canonical[i] = c
	}
	return merkle.FromDocuments(canonical)
}
