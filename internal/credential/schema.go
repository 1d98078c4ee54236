package credential

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// documentSchema describes the Blockcerts V3 shape this service emits.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["@context", "id", "type", "recipient", "issuer", "issuanceDate", "credentialSubject", "badge"],
  "properties": {
    "@context": {
      "type": "array",
      "minItems": 2,
      "items": {"type": "string"}
    },
    "id": {"type": "string", "pattern": "^urn:uuid:[0-9a-f-]{36}$"},
    "type": {
      "type": "array",
      "items": {"enum": ["VerifiableCredential", "BlockcertsCredential"]},
      "minItems": 2,
      "maxItems": 2
    },
    "recipient": {
      "type": "object",
      "required": ["id", "name", "email"],
      "properties": {
        "id": {"type": "string", "pattern": "^mailto:"},
        "name": {"type": "string"},
        "email": {"type": "string"}
      }
    },
    "issuer": {
      "type": "object",
      "required": ["id", "name", "email", "url", "publicKey"],
      "properties": {
        "publicKey": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["id", "type", "created"]
          }
        }
      }
    },
    "issuanceDate": {"type": "string", "minLength": 1},
    "credentialSubject": {
      "type": "object",
      "required": ["id", "name"]
    },
    "badge": {
      "type": "object",
      "required": ["id", "name", "description", "criteria", "issuer"],
      "properties": {
        "criteria": {
          "type": "object",
          "required": ["narrative"]
        }
      }
    },
    "evidence": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "description"]
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

// Validate checks a credential against the Blockcerts V3 shape. The builder
// never calls it; it is used when credentials come back from clients.
func Validate(doc Document) error {
	return ValidateJSON(gojsonschema.NewGoLoader(doc))
}

// ValidateBytes validates a raw JSON credential.
func ValidateBytes(raw []byte) error {
	return ValidateJSON(gojsonschema.NewBytesLoader(raw))
}

func ValidateJSON(documentLoader gojsonschema.JSONLoader) error {
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("credential failed schema validation: %s", strings.Join(msgs, "; "))
	}
	return nil
}
