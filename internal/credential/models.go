package credential

// Contexts are the JSON-LD contexts of a Blockcerts V3 credential.
var Contexts = []string{
	"https://www.w3.org/2018/credentials/v1",
	"https://w3id.org/blockcerts/v3",
}

// Types is the fixed type array of a Blockcerts V3 credential.
var Types = []string{"VerifiableCredential", "BlockcertsCredential"}

type PublicKey struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created string `json:"created"`
}

type Issuer struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	URL       string      `json:"url"`
	PublicKey []PublicKey `json:"publicKey"`
}

type Recipient struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Subject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Criteria struct {
	Narrative string `json:"narrative"`
}

type Badge struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Criteria    Criteria `json:"criteria"`
	Issuer      string   `json:"issuer"`
}

type Evidence struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Document is a Blockcerts V3 credential.
type Document struct {
	Context           []string   `json:"@context"`
	ID                string     `json:"id"`
	Type              []string   `json:"type"`
	Recipient         Recipient  `json:"recipient"`
	Issuer            Issuer     `json:"issuer"`
	IssuanceDate      string     `json:"issuanceDate"`
	CredentialSubject Subject    `json:"credentialSubject"`
	Badge             Badge      `json:"badge"`
	Evidence          []Evidence `json:"evidence,omitempty"`
}

// RecipientData is what the issuance flow knows about a student.
type RecipientData struct {
	Name     string
	Email    string
	IssuedOn string
	Course   string
	IssuerID string
}

// IssuerData identifies the issuing organisation and its chain account.
type IssuerData struct {
	Name    string
	Email   string
	URL     string
	Address string
	KeyType string
}

// Anchor ties a credential to a chain transaction.
type Anchor struct {
	Type          string `json:"type"`
	Chain         string `json:"chain"`
	Network       string `json:"network"`
	SourceID      string `json:"sourceId"`
	TransactionID string `json:"transactionId,omitempty"`
}

type Signature struct {
	Type           string `json:"type"`
	Creator        string `json:"creator"`
	SignatureValue string `json:"signatureValue"`
}

// Package wraps a credential with its anchoring information. The merkle
// fields are only set for batch anchoring.
type Package struct {
	Certificate Document   `json:"certificate"`
	MerkleRoot  string     `json:"merkleRoot,omitempty"`
	TargetHash  string     `json:"targetHash,omitempty"`
	Proof       []string   `json:"proof,omitempty"`
	Anchors     []Anchor   `json:"anchors,omitempty"`
	Signature   *Signature `json:"signature,omitempty"`
}
