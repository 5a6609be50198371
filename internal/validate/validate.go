// Package validate performs the structural checks a request payload must pass
// before any approval surface is shown.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/wallet"
)

// LoginClaimField is the typed-data member a login signature is bound through.
const (
	LoginClaimField = "veworld_login_address"
	LoginClaimType  = "VeWorldLogin"
)

var (
	ErrNoClauses        = errors.New("transaction has no clauses")
	ErrClauseTo         = errors.New("clause recipient is not an address")
	ErrClauseValue      = errors.New("clause value is not a non-negative integer")
	ErrClauseData       = errors.New("clause data is not hex")
	ErrCertPurpose      = errors.New("certificate purpose must be identification or agreement")
	ErrCertType         = errors.New("certificate payload type must be text")
	ErrTypedDataShape   = errors.New("typed data requires domain, types and value")
	ErrNoPrimaryType    = errors.New("typed data has no primary type")
	ErrAmbiguousPrimary = errors.New("typed data has more than one primary type")
)

// Clauses checks a transaction clause list.
func Clauses(clauses []dapp.Clause) error {
	if len(clauses) == 0 {
		return ErrNoClauses
	}
	for i, c := range clauses {
		if c.To != nil && !wallet.IsAddress(*c.To) {
			return fmt.Errorf("clause %d: %w", i, ErrClauseTo)
		}
		if err := clauseValue(c.Value); err != nil {
			return fmt.Errorf("clause %d: %w", i, err)
		}
		if c.Data != "" {
			if _, err := hexutil.Decode(c.Data); err != nil {
				return fmt.Errorf("clause %d: %w", i, ErrClauseData)
			}
		}
	}
	return nil
}

func clauseValue(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ErrClauseValue
	}
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		if _, ok := math.ParseBig256(val); !ok {
			return ErrClauseValue
		}
	case float64:
		if val < 0 || val != float64(int64(val)) {
			return ErrClauseValue
		}
	default:
		return ErrClauseValue
	}
	return nil
}

// Certificate checks a certificate message.
func Certificate(msg dapp.CertMessage) error {
	if msg.Purpose != "identification" && msg.Purpose != "agreement" {
		return ErrCertPurpose
	}
	if msg.Payload.Type != "text" {
		return ErrCertType
	}
	return nil
}

// TypedData checks that td is well-formed EIP-712 data whose value encodes
// against its primary type. A login claim member is ignored when the primary
// type does not declare it.
func TypedData(td dapp.TypedData) error {
	if td.Domain == nil || len(td.Types) == 0 || td.Value == nil {
		return ErrTypedDataShape
	}
	primary, err := PrimaryType(td)
	if err != nil {
		return err
	}

	types := apitypes.Types{}
	for name, fields := range td.Types {
		if name == "EIP712Domain" {
			continue
		}
		members := make([]apitypes.Type, 0, len(fields))
		for _, f := range fields {
			members = append(members, apitypes.Type{Name: f.Name, Type: f.Type})
		}
		types[name] = members
	}

	message := make(apitypes.TypedDataMessage, len(td.Value))
	for k, v := range td.Value {
		if k == LoginClaimField && !declares(td.Types[primary], k) {
			continue
		}
		message[k] = v
	}

	domain, err := typedDomain(td.Domain)
	if err != nil {
		return err
	}
	typed := apitypes.TypedData{Types: types, PrimaryType: primary, Domain: domain, Message: message}
	if _, err := typed.HashStruct(primary, message); err != nil {
		return fmt.Errorf("typed data %s: %w", primary, err)
	}
	return nil
}

// PrimaryType returns the single struct type no other type references,
// ignoring EIP712Domain and the login claim type.
func PrimaryType(td dapp.TypedData) (string, error) {
	referenced := make(map[string]bool)
	for _, fields := range td.Types {
		for _, f := range fields {
			referenced[baseType(f.Type)] = true
		}
	}
	var roots []string
	for name := range td.Types {
		if name == "EIP712Domain" || name == LoginClaimType || referenced[name] {
			continue
		}
		roots = append(roots, name)
	}
	switch len(roots) {
	case 0:
		return "", ErrNoPrimaryType
	case 1:
		return roots[0], nil
	default:
		sort.Strings(roots)
		return "", fmt.Errorf("%w: %v", ErrAmbiguousPrimary, roots)
	}
}

// LoginClaim returns the pre-filled login address of a typed-data login, if any.
func LoginClaim(td dapp.TypedData) (string, bool) {
	v, ok := td.Value[LoginClaimField]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprint(v), true
	}
	return s, true
}

func typedDomain(raw map[string]any) (apitypes.TypedDataDomain, error) {
	var d apitypes.TypedDataDomain
	d.Name, _ = raw["name"].(string)
	d.Version, _ = raw["version"].(string)
	d.VerifyingContract, _ = raw["verifyingContract"].(string)
	d.Salt, _ = raw["salt"].(string)
	switch id := raw["chainId"].(type) {
	case nil:
	case float64:
		d.ChainId = math.NewHexOrDecimal256(int64(id))
	case string:
		n, ok := math.ParseBig256(id)
		if !ok {
			return d, fmt.Errorf("%w: chainId %q", ErrTypedDataShape, id)
		}
		d.ChainId = (*math.HexOrDecimal256)(n)
	default:
		return d, fmt.Errorf("%w: chainId", ErrTypedDataShape)
	}
	return d, nil
}

func declares(fields []dapp.TypedField, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func baseType(t string) string {
	for i := 0; i < len(t); i++ {
		if t[i] == '[' {
			return t[:i]
		}
	}
	return t
}

// Payload validates the structural part of req, returning a pre-presentation
// error carrying the dApp-facing message for its category.
func Payload(req *dapp.Request) *dapp.Error {
	switch p := req.Payload.(type) {
	case dapp.TransactionPayload:
		if err := Clauses(p.Clauses); err != nil {
			return dapp.Wrap(dapp.KindMalformedPayload, dapp.MsgInvalidTransaction, err)
		}
	case dapp.CertificatePayload:
		if err := Certificate(p.Message); err != nil {
			return dapp.Wrap(dapp.KindMalformedPayload, dapp.MsgInvalidCertificate, err)
		}
	case dapp.TypedDataPayload:
		if err := TypedData(p.TypedData); err != nil {
			return dapp.Wrap(dapp.KindMalformedPayload, dapp.MsgInvalidTypedData, err)
		}
	case dapp.ConnectPayload:
		return Connect(p)
	}
	return nil
}

// Connect validates a login payload by kind.
func Connect(p dapp.ConnectPayload) *dapp.Error {
	switch p.Kind {
	case dapp.LoginSimple:
		return nil
	case dapp.LoginCertificate:
		if p.Certificate == nil {
			return dapp.NewError(dapp.KindMalformedPayload, dapp.MsgInvalidConnect)
		}
		if p.Certificate.Purpose != "identification" {
			return dapp.NewError(dapp.KindMalformedPayload, dapp.MsgInvalidLoginPurpose)
		}
		if err := Certificate(*p.Certificate); err != nil {
			return dapp.Wrap(dapp.KindMalformedPayload, dapp.MsgInvalidConnect, err)
		}
		return nil
	case dapp.LoginTypedData:
		if p.TypedData == nil {
			return dapp.NewError(dapp.KindMalformedPayload, dapp.MsgInvalidConnect)
		}
		if claim, ok := LoginClaim(*p.TypedData); ok && !wallet.IsZeroAddress(claim) {
			return dapp.NewError(dapp.KindMalformedPayload, dapp.MsgPrefilledLoginClaim)
		}
		if err := TypedData(*p.TypedData); err != nil {
			return dapp.Wrap(dapp.KindMalformedPayload, dapp.MsgInvalidConnect, err)
		}
		return nil
	default:
		return dapp.NewError(dapp.KindMalformedPayload, dapp.MsgInvalidConnect)
	}
}
