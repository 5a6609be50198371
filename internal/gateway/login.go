package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/notify"
	"github.com/R3E-Network/dapp_gateway/internal/session"
	"github.com/R3E-Network/dapp_gateway/internal/validate"
	"github.com/R3E-Network/dapp_gateway/internal/wallet"
)

// LoginPlaceholder in a login certificate's content is replaced with the
// selected address before signing.
const LoginPlaceholder = "<<veworld_address>>"

// LoginInput is the login surface's input.
type LoginInput struct {
	Account string              `json:"account"`
	Payload dapp.ConnectPayload `json:"payload"`
}

// LoginResult is the data of a successful login. Simple logins carry only the
// signer, certificate logins the signature and annex, typed-data logins the
// signature and signer.
type LoginResult struct {
	Signature string        `json:"signature,omitempty"`
	Signer    string        `json:"signer,omitempty"`
	Annex     *wallet.Annex `json:"annex,omitempty"`
}

func (g *Gateway) executeLogin(ctx context.Context, req *dapp.Request, in LoginInput) (LoginResult, error) {
	acct, err := g.signingAccount(in.Account)
	if err != nil {
		return LoginResult{}, err
	}

	var result LoginResult
	switch in.Payload.Kind {
	case dapp.LoginSimple:
		result = LoginResult{Signer: acct.Address}

	case dapp.LoginCertificate:
		if in.Payload.Certificate == nil {
			return LoginResult{}, fmt.Errorf("certificate login without certificate")
		}
		msg := BindCertificate(*in.Payload.Certificate, acct.Address)
		cert, sig, err := g.certify(ctx, req, acct, msg)
		if err != nil {
			return LoginResult{}, err
		}
		annex := cert.Annex()
		result = LoginResult{Signature: sig, Annex: &annex}

	case dapp.LoginTypedData:
		if in.Payload.TypedData == nil {
			return LoginResult{}, fmt.Errorf("typed-data login without typed data")
		}
		data := BindTypedData(*in.Payload.TypedData, acct.Address)
		sig, err := g.signer.SignTypedData(ctx, acct, data)
		if err != nil {
			return LoginResult{}, fmt.Errorf("sign login typed data: %w", err)
		}
		result = LoginResult{Signature: sig, Signer: acct.Address}

	default:
		return LoginResult{}, fmt.Errorf("unknown login kind %q", in.Payload.Kind)
	}

	if err := g.wallet.SelectAccount(acct.Address); err != nil {
		return LoginResult{}, err
	}
	if err := g.bindSession(ctx, req, session.KindPermanent, acct.Address); err != nil {
		return LoginResult{}, err
	}
	return result, nil
}

// BindCertificate replaces the login placeholder in msg's content with address.
func BindCertificate(msg dapp.CertMessage, address string) dapp.CertMessage {
	msg.Payload.Content = strings.ReplaceAll(msg.Payload.Content, LoginPlaceholder, wallet.Checksum(address))
	return msg
}

// BindTypedData returns a copy of td carrying the login claim for address.
// The claim type is declared unless the dApp already declared it.
func BindTypedData(td dapp.TypedData, address string) dapp.TypedData {
	out := td.Clone()
	if _, ok := out.Types[validate.LoginClaimType]; !ok {
		out.Types[validate.LoginClaimType] = []dapp.TypedField{{Name: validate.LoginClaimField, Type: "address"}}
	}
	out.Value[validate.LoginClaimField] = wallet.Checksum(address)
	return out
}

// bindSession creates or replaces the session for req's origin and network.
func (g *Gateway) bindSession(ctx context.Context, req *dapp.Request, kind session.Kind, address string) error {
	s := session.Session{
		Origin:    req.Origin(),
		GenesisID: req.GenesisID,
		Kind:      kind,
		Address:   wallet.Checksum(address),
		Name:      req.AppName,
	}
	if err := g.sessions.Put(ctx, s); err != nil {
		return fmt.Errorf("store %s session: %w", kind, err)
	}
	g.log.WithFields(map[string]interface{}{
		"origin":  s.Origin,
		"genesis": s.GenesisID,
		"kind":    kind.String(),
	}).Info("session bound")
	notify.New(notify.TypeSessionCreated).
		Origin(s.Origin).
		Request(req.ID, string(req.Method)).
		Metadata("kind", kind.String()).
		Metadata("address", s.Address).
		SendTo(g.notifier)
	return nil
}
