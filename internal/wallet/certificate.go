package wallet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
)

// Certificate is the signed statement produced for SIGN_CERTIFICATE and
// certificate-based logins.
type Certificate struct {
	Domain    string           `json:"domain"`
	Payload   dapp.CertContent `json:"payload"`
	Purpose   string           `json:"purpose"`
	Signer    string           `json:"signer"`
	Timestamp int64            `json:"timestamp"`
}

// NewCertificate binds msg to signer, domain and a unix timestamp.
func NewCertificate(msg dapp.CertMessage, domain, signer string, timestamp int64) Certificate {
	return Certificate{
		Domain:    domain,
		Payload:   msg.Payload,
		Purpose:   msg.Purpose,
		Signer:    signer,
		Timestamp: timestamp,
	}
}

type canonicalContent struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

type canonicalCertificate struct {
	Domain    string           `json:"domain"`
	Payload   canonicalContent `json:"payload"`
	Purpose   string           `json:"purpose"`
	Signer    string           `json:"signer"`
	Timestamp int64            `json:"timestamp"`
}

// Encode returns the canonical JSON: sorted keys, lower-case signer, no HTML escaping.
func (c Certificate) Encode() ([]byte, error) {
	canonical := canonicalCertificate{
		Domain:    c.Domain,
		Payload:   canonicalContent{Content: c.Payload.Content, Type: c.Payload.Type},
		Purpose:   c.Purpose,
		Signer:    strings.ToLower(c.Signer),
		Timestamp: c.Timestamp,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonical); err != nil {
		return nil, fmt.Errorf("encode certificate: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Digest is blake2b-256 over the canonical encoding.
func (c Certificate) Digest() ([]byte, error) {
	encoded, err := c.Encode()
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(encoded)
	return sum[:], nil
}

// Annex is the part of a certificate returned to the dApp next to the signature.
type Annex struct {
	Domain    string `json:"domain"`
	Timestamp int64  `json:"timestamp"`
	Signer    string `json:"signer"`
}

// Annex extracts the annex of c. The signer is lower-cased as in the encoding.
func (c Certificate) Annex() Annex {
	return Annex{Domain: c.Domain, Timestamp: c.Timestamp, Signer: strings.ToLower(c.Signer)}
}

// CertificateResponse is the data of a successful certificate signature.
type CertificateResponse struct {
	Annex     Annex  `json:"annex"`
	Signature string `json:"signature"`
}
