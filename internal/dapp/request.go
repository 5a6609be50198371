package dapp

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Request is the canonical form of a dApp call, whatever channel it came from.
// Payload holds the method-specific body; its dynamic type follows Method.
type Request struct {
	ID        string  `json:"id"`
	Method    Method  `json:"method"`
	Channel   Channel `json:"-"`
	GenesisID string  `json:"genesisId"`
	AppURL    string  `json:"appUrl"`
	AppName   string  `json:"appName"`
	Options   Options `json:"options"`
	Payload   Payload `json:"payload,omitempty"`

	// Source identifies the bridge connection (webview tab) for in-app requests.
	Source string `json:"-"`
	// Event is the originating WalletConnect request event.
	Event *WalletConnectEvent `json:"-"`
	// External carries the callback target of an external-app request.
	External *ExternalTarget `json:"-"`
}

// Origin returns scheme://host[:port] of the requesting app, the key sessions are bound to.
func (r *Request) Origin() string {
	return OriginOf(r.AppURL)
}

// OriginOf normalises a page URL to its origin. Inputs that do not parse as
// absolute URLs are returned trimmed and lower-cased.
func OriginOf(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.ToLower(raw)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// Hostname returns the host of AppURL without port, used as certificate domain.
func (r *Request) Hostname() string {
	u, err := url.Parse(r.AppURL)
	if err != nil || u.Host == "" {
		return r.AppURL
	}
	return u.Hostname()
}

// Options are the signer hints a dApp may attach.
type Options struct {
	Signer    string     `json:"signer,omitempty"`
	Gas       uint64     `json:"gas,omitempty"`
	DependsOn string     `json:"dependsOn,omitempty"`
	Link      string     `json:"link,omitempty"`
	Comment   string     `json:"comment,omitempty"`
	Delegator *Delegator `json:"delegator,omitempty"`
}

// Delegator describes fee delegation requested by the dApp.
type Delegator struct {
	URL    string `json:"url"`
	Signer string `json:"signer,omitempty"`
}

// Payload is the method-specific body of a Request.
type Payload interface {
	payloadMethod() Method
}

// Clause is one call inside a transaction request.
type Clause struct {
	To      *string         `json:"to"`
	Value   json.RawMessage `json:"value,omitempty"`
	Data    string          `json:"data,omitempty"`
	Comment string          `json:"comment,omitempty"`
	ABI     json.RawMessage `json:"abi,omitempty"`
}

// TransactionPayload carries REQUEST_TRANSACTION clauses.
type TransactionPayload struct {
	Clauses []Clause `json:"message"`
}

// CertMessage is the dApp-supplied part of a certificate.
type CertMessage struct {
	Purpose string      `json:"purpose"`
	Payload CertContent `json:"payload"`
}

// CertContent is the human-readable certificate body.
type CertContent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// CertificatePayload carries SIGN_CERTIFICATE content.
type CertificatePayload struct {
	Message CertMessage `json:"message"`
}

// TypedField is one member of an EIP-712 struct type.
type TypedField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TypedData is the Connex flavour of EIP-712 data: domain, types and value.
type TypedData struct {
	Domain map[string]any          `json:"domain"`
	Types  map[string][]TypedField `json:"types"`
	Value  map[string]any          `json:"value"`
}

// Clone returns a deep enough copy to mutate Types and Value safely.
func (t TypedData) Clone() TypedData {
	out := TypedData{
		Domain: make(map[string]any, len(t.Domain)),
		Types:  make(map[string][]TypedField, len(t.Types)),
		Value:  make(map[string]any, len(t.Value)),
	}
	for k, v := range t.Domain {
		out.Domain[k] = v
	}
	for k, v := range t.Types {
		out.Types[k] = append([]TypedField(nil), v...)
	}
	for k, v := range t.Value {
		out.Value[k] = v
	}
	return out
}

// TypedDataPayload carries SIGN_TYPED_DATA content.
type TypedDataPayload struct {
	TypedData
}

// LoginKind is derived from the shape of a CONNECT payload.
type LoginKind string

const (
	LoginSimple      LoginKind = "simple"
	LoginCertificate LoginKind = "certificate"
	LoginTypedData   LoginKind = "typed-data"
)

// ConnectPayload carries a CONNECT (login) request. Exactly one of Certificate
// and TypedData is set unless Kind is LoginSimple.
type ConnectPayload struct {
	Kind        LoginKind    `json:"kind"`
	Certificate *CertMessage `json:"certificate,omitempty"`
	TypedData   *TypedData   `json:"typedData,omitempty"`
}

// EmptyPayload is used by WALLET, SWITCH_WALLET, DISCONNECT and METHODS.
type EmptyPayload struct {
	Method Method `json:"-"`
}

func (TransactionPayload) payloadMethod() Method { return MethodRequestTransaction }
func (CertificatePayload) payloadMethod() Method { return MethodSignCertificate }
func (TypedDataPayload) payloadMethod() Method   { return MethodSignTypedData }
func (ConnectPayload) payloadMethod() Method     { return MethodConnect }
func (p EmptyPayload) payloadMethod() Method     { return p.Method }

// PayloadMethod exposes the discriminant a payload was built for.
func PayloadMethod(p Payload) Method {
	if p == nil {
		return ""
	}
	return p.payloadMethod()
}

// WalletConnectEvent is the session_request event a WalletConnect reply is keyed by.
type WalletConnectEvent struct {
	Topic         string          `json:"topic"`
	ID            int64           `json:"id"`
	Params        json.RawMessage `json:"params"`
	VerifyContext json.RawMessage `json:"verifyContext,omitempty"`
}

// ExternalTarget is where an external-app reply is delivered.
type ExternalTarget struct {
	RedirectURL string `json:"redirectUrl"`
	PublicKey   string `json:"publicKey"`
}
