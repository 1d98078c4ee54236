package credential

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorcertai/cert-issuer/internal/merkle"
)

var testIssuer = IssuerData{
	Name:    "Mensis",
	Email:   "info@mensismentor.com",
	URL:     "https://mensismentor.com/",
	Address: "0x1ecA2B2bC6C662BDc3FB3F46Fb99400A9F12121f",
}

var testAnchor = Anchor{
	Type:     "ETHData",
	Chain:    "ethereum",
	Network:  "sepolia",
	SourceID: "0x8267cf9254734c6eb452a7bb9aaf97b392258b21",
}

func janeDoe() RecipientData {
	return RecipientData{
		Name:     "Jane Doe",
		Email:    "jane@example.com",
		IssuedOn: "2026-10-16T00:00:00Z",
		Course:   "Data Science",
		IssuerID: testIssuer.Address,
	}
}

func Test_BuildScenario(t *testing.T) {
	recipient := janeDoe()
	badge := CourseBadge(recipient.Course, testIssuer.Address, "https://mentorcert.ai/badges")

	doc := Build(recipient, testIssuer, badge)

	assert.Equal(t, "Data Science", doc.Badge.Name)
	assert.Equal(t, "https://mentorcert.ai/badges/Data%20Science", doc.Badge.ID)
	assert.Equal(t, "Jane Doe", doc.CredentialSubject.Name)
	assert.Equal(t, "mailto:jane@example.com", doc.Recipient.ID)
	assert.Equal(t, "mailto:jane@example.com", doc.CredentialSubject.ID)
	assert.True(t, strings.HasPrefix(doc.ID, "urn:uuid:"))
	assert.Equal(t, Contexts, doc.Context)
	assert.Equal(t, Types, doc.Type)
	require.Len(t, doc.Issuer.PublicKey, 1)
	assert.Equal(t, testIssuer.Address, doc.Issuer.PublicKey[0].ID)

	pkg := SinglePackage(doc, "0xabc", testAnchor)
	require.Len(t, pkg.Anchors, 1)
	assert.Equal(t, "0xabc", pkg.Anchors[0].TransactionID)
	assert.Empty(t, pkg.MerkleRoot)
	assert.Empty(t, pkg.Proof)

	require.NoError(t, Validate(doc))
}

func Test_SinglePackageWithoutTransaction(t *testing.T) {
	pkg := SinglePackage(Build(janeDoe(), testIssuer, Badge{}), "", testAnchor)
	assert.Empty(t, pkg.Anchors)

	raw, err := json.Marshal(pkg)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "anchors")
	assert.NotContains(t, string(raw), "merkleRoot")
}

func Test_BuildIsDeterministicApartFromIDAndTimestamp(t *testing.T) {
	b := Builder{EvidenceText: "Verified by Mensis Issuer"}
	badge := CourseBadge("Data Science", testIssuer.Address, "https://mentorcert.ai/badges")

	first := b.Build(janeDoe(), testIssuer, badge)
	time.Sleep(time.Millisecond)
	second := b.Build(janeDoe(), testIssuer, badge)

	assert.NotEqual(t, first.ID, second.ID)

	strip := func(d Document) Document {
		d.ID = ""
		d.Issuer.PublicKey = append([]PublicKey(nil), d.Issuer.PublicKey...)
		d.Issuer.PublicKey[0].Created = ""
		return d
	}
	assert.Equal(t, strip(first), strip(second))
}

func Test_BuildWithFixedClockAndID(t *testing.T) {
	fixed := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	b := Builder{
		Now:   func() time.Time { return fixed },
		NewID: func() string { return "urn:uuid:00000000-0000-4000-8000-000000000000" },
	}

	first, err := Canonical(b.Build(janeDoe(), testIssuer, Badge{Name: "Data Science"}))
	require.NoError(t, err)
	second, err := Canonical(b.Build(janeDoe(), testIssuer, Badge{Name: "Data Science"}))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func Test_IDsAreUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		doc := Build(janeDoe(), testIssuer, Badge{})
		if _, ok := seen[doc.ID]; ok {
			t.Fatalf("duplicate credential id %s", doc.ID)
		}
		seen[doc.ID] = struct{}{}
	}
}

func Test_MalformedInputPropagates(t *testing.T) {
	doc := Build(RecipientData{}, IssuerData{}, Badge{})
	assert.Equal(t, "mailto:", doc.Recipient.ID)
	assert.Error(t, Validate(Document{}))
}

func Test_BuildBatchKeepsOrder(t *testing.T) {
	recipients := make([]RecipientData, 5)
	for i := range recipients {
		recipients[i] = janeDoe()
		recipients[i].Name = fmt.Sprintf("student %d", i)
	}
	docs := Builder{}.BuildBatch(recipients, testIssuer, Badge{})
	require.Len(t, docs, 5)
	for i, doc := range docs {
		assert.Equal(t, fmt.Sprintf("student %d", i), doc.Recipient.Name)
	}
}

func Test_BatchPackagesVerify(t *testing.T) {
	recipients := []RecipientData{janeDoe(), janeDoe(), janeDoe()}
	docs := Builder{}.BuildBatch(recipients, testIssuer, Badge{Name: "Data Science"})

	tree, err := Tree(docs)
	require.NoError(t, err)

	pkgs, err := BatchPackages(docs, tree, "0xfeed", testAnchor)
	require.NoError(t, err)
	require.Len(t, pkgs, 3)

	for i, pkg := range pkgs {
		canonical, err := Canonical(pkg.Certificate)
		require.NoError(t, err)
		leaf := merkle.LeafHash(canonical)
		assert.Equal(t, pkg.TargetHash, fmt.Sprintf("0x%x", leaf), "leaf %d", i)
		assert.True(t, merkle.VerifyHex(pkg.TargetHash, pkg.Proof, pkg.MerkleRoot), "leaf %d", i)
		require.Len(t, pkg.Anchors, 1)
		assert.Equal(t, "0xfeed", pkg.Anchors[0].TransactionID)
	}

	_, err = BatchPackages(docs[:2], tree, "", testAnchor)
	require.Error(t, err)
}

func Test_CanonicalSortsKeys(t *testing.T) {
	out, err := Canonical(map[string]any{"b": 1, "a": map[string]any{"d": "<x>", "c": 2}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"c":2,"d":"<x>"},"b":1}`, string(out))
}

func Test_ValidateBytes(t *testing.T) {
	raw, err := json.Marshal(Build(janeDoe(), testIssuer, CourseBadge("Go", testIssuer.Address, "https://b")))
	require.NoError(t, err)
	require.NoError(t, ValidateBytes(raw))
	require.Error(t, ValidateBytes([]byte(`{"id":"nope"}`)))
}
