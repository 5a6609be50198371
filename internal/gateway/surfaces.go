package gateway

import (
	"context"
	"fmt"

	"github.com/R3E-Network/dapp_gateway/internal/approval"
	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/notify"
	"github.com/R3E-Network/dapp_gateway/internal/wallet"
)

// TxInput is what the transaction surface shows and the user may amend.
type TxInput struct {
	Account string        `json:"account"`
	Clauses []dapp.Clause `json:"clauses"`
	Options dapp.Options  `json:"options"`
	// Pending is set while gas estimation or delegation is unresolved.
	Pending bool `json:"pending"`
}

// CertInput is the certificate surface's input.
type CertInput struct {
	Account string           `json:"account"`
	Message dapp.CertMessage `json:"message"`
}

// TypedInput is the typed-data surface's input.
type TypedInput struct {
	Account string         `json:"account"`
	Data    dapp.TypedData `json:"data"`
}

// SwitchInput is the switch-wallet surface's input. Bound is the session's
// current address, answered when the user keeps it.
type SwitchInput struct {
	Bound   string `json:"bound"`
	Account string `json:"account"`
}

func (g *Gateway) buildSurfaces() {
	log := g.log.WithComponent("approval")

	g.tx = approval.NewSurface(approval.Config[TxInput, wallet.TransactionResponse]{
		Category:       approval.CategoryTransaction,
		Execute:        g.sendTransaction,
		Guard:          g.transactionReady,
		CancelMessage:  dapp.MsgUserRejectedThe,
		FailureMessage: dapp.MsgTransactionFailed,
		Respond:        g.surfaceResponder(approval.CategoryTransaction),
		Presenter:      g.presenter,
		OnSuperseded:   g.superseded,
		OnFailed:       g.signingFailed,
		Log:            log,
	})

	g.cert = approval.NewSurface(approval.Config[CertInput, wallet.CertificateResponse]{
		Category: approval.CategoryCertificate,
		Execute:  g.signCertificate,
		Guard: func(_ *dapp.Request, in CertInput) error {
			_, err := g.signingAccount(in.Account)
			return err
		},
		CancelMessage:  dapp.MsgUserRejected,
		FailureMessage: dapp.MsgInternal,
		Respond:        g.surfaceResponder(approval.CategoryCertificate),
		Presenter:      g.presenter,
		OnSuperseded:   g.superseded,
		OnFailed:       g.signingFailed,
		Log:            log,
	})

	g.typed = approval.NewSurface(approval.Config[TypedInput, string]{
		Category: approval.CategoryTypedData,
		Execute:  g.signTypedData,
		Guard: func(_ *dapp.Request, in TypedInput) error {
			_, err := g.signingAccount(in.Account)
			return err
		},
		CancelMessage:  dapp.MsgUserRejected,
		FailureMessage: dapp.MsgInternal,
		Respond:        g.surfaceResponder(approval.CategoryTypedData),
		Presenter:      g.presenter,
		OnSuperseded:   g.superseded,
		OnFailed:       g.signingFailed,
		Log:            log,
	})

	g.login = approval.NewSurface(approval.Config[LoginInput, LoginResult]{
		Category: approval.CategoryLogin,
		Execute:  g.executeLogin,
		Guard: func(_ *dapp.Request, in LoginInput) error {
			_, err := g.signingAccount(in.Account)
			return err
		},
		CancelMessage:  dapp.MsgUserRejected,
		FailureMessage: dapp.MsgLoginFailed,
		Respond:        g.surfaceResponder(approval.CategoryLogin),
		Presenter:      g.presenter,
		OnSuperseded:   g.superseded,
		OnFailed:       g.signingFailed,
		Log:            log,
	})

	g.switcher = approval.NewSurface(approval.Config[SwitchInput, string]{
		Category: approval.CategorySwitchWallet,
		Execute:  g.switchWallet,
		Guard: func(_ *dapp.Request, in SwitchInput) error {
			_, err := g.signingAccount(in.Account)
			return err
		},
		Reject: func(req *dapp.Request, in SwitchInput) dapp.Response {
			return dapp.Success(req, in.Bound)
		},
		Respond:      g.surfaceResponder(approval.CategorySwitchWallet),
		Presenter:    g.presenter,
		OnSuperseded: g.superseded,
		Log:          log,
	})
}

// surfaceResponder adapts the gateway responder to a surface callback.
// Surface answers are not tied to the inbound call, so they use a fresh
// context; the responder bounds delivery itself.
func (g *Gateway) surfaceResponder(category approval.Category) func(*dapp.Request, dapp.Response) {
	return func(req *dapp.Request, resp dapp.Response) {
		g.metrics.RecordPending(string(category), g.awaiting(category))
		g.respond(context.Background(), req, resp)
	}
}

func (g *Gateway) awaiting(category approval.Category) bool {
	switch category {
	case approval.CategoryTransaction:
		return g.tx.State().AwaitsUser()
	case approval.CategoryCertificate:
		return g.cert.State().AwaitsUser()
	case approval.CategoryTypedData:
		return g.typed.State().AwaitsUser()
	case approval.CategoryLogin:
		return g.login.State().AwaitsUser()
	case approval.CategorySwitchWallet:
		return g.switcher.State().AwaitsUser()
	}
	return false
}

// present hands an admitted signing or login request to its surface.
func (g *Gateway) present(req *dapp.Request) {
	account := req.Options.Signer
	if account == "" {
		if active, ok := g.wallet.ActiveAccount(); ok {
			account = active.Address
		}
	}
	account = wallet.Checksum(account)

	var (
		category approval.Category
		err      error
	)
	switch p := req.Payload.(type) {
	case dapp.TransactionPayload:
		category = approval.CategoryTransaction
		err = g.tx.Present(req, TxInput{Account: account, Clauses: p.Clauses, Options: req.Options})
	case dapp.CertificatePayload:
		category = approval.CategoryCertificate
		err = g.cert.Present(req, CertInput{Account: account, Message: p.Message})
	case dapp.TypedDataPayload:
		category = approval.CategoryTypedData
		err = g.typed.Present(req, TypedInput{Account: account, Data: p.TypedData})
	case dapp.ConnectPayload:
		category = approval.CategoryLogin
		err = g.login.Present(req, LoginInput{Account: account, Payload: p})
	default:
		g.fail(context.Background(), req, "present", fmt.Errorf("no surface for method %s", req.Method))
		return
	}
	if err != nil {
		return
	}
	g.metrics.RecordPresented(string(category))
	g.metrics.RecordPending(string(category), true)
}

// signingAccount returns the owned, non-observed account for address.
func (g *Gateway) signingAccount(address string) (wallet.Account, error) {
	if address == "" {
		return wallet.Account{}, notReady("no account selected")
	}
	acct, ok := g.wallet.Account(address)
	if !ok {
		return wallet.Account{}, notReady("account %s is not in the wallet", address)
	}
	if acct.Observed {
		return wallet.Account{}, notReady("account %s is watch-only", acct.Address)
	}
	return acct, nil
}

func (g *Gateway) transactionReady(_ *dapp.Request, in TxInput) error {
	if _, err := g.signingAccount(in.Account); err != nil {
		return err
	}
	if in.Pending {
		return notReady("gas and delegation are not resolved")
	}
	return nil
}

func (g *Gateway) sendTransaction(ctx context.Context, req *dapp.Request, in TxInput) (wallet.TransactionResponse, error) {
	acct, err := g.signingAccount(in.Account)
	if err != nil {
		return wallet.TransactionResponse{}, err
	}
	network, ok := g.wallet.Network(req.GenesisID)
	if !ok {
		return wallet.TransactionResponse{}, fmt.Errorf("%w: %s", wallet.ErrNetworkNotFound, req.GenesisID)
	}
	txid, err := g.signer.SendTransaction(ctx, wallet.TxRequest{
		Account: acct,
		Network: network,
		Clauses: in.Clauses,
		Options: in.Options,
		AppURL:  req.AppURL,
		AppName: req.AppName,
	})
	if err != nil {
		return wallet.TransactionResponse{}, fmt.Errorf("send transaction: %w", err)
	}
	return wallet.TransactionResponse{TxID: txid, Signer: acct.Address}, nil
}

func (g *Gateway) signCertificate(ctx context.Context, req *dapp.Request, in CertInput) (wallet.CertificateResponse, error) {
	acct, err := g.signingAccount(in.Account)
	if err != nil {
		return wallet.CertificateResponse{}, err
	}
	cert, sig, err := g.certify(ctx, req, acct, in.Message)
	if err != nil {
		return wallet.CertificateResponse{}, err
	}
	return wallet.CertificateResponse{Annex: cert.Annex(), Signature: sig}, nil
}

// certify builds the certificate for msg bound to acct and the request's
// domain, and signs its digest.
func (g *Gateway) certify(ctx context.Context, req *dapp.Request, acct wallet.Account, msg dapp.CertMessage) (wallet.Certificate, string, error) {
	cert := wallet.NewCertificate(msg, req.Hostname(), acct.Address, g.now().Unix())
	digest, err := cert.Digest()
	if err != nil {
		return wallet.Certificate{}, "", fmt.Errorf("certificate digest: %w", err)
	}
	sig, err := g.signer.SignCertificate(ctx, acct, cert, digest)
	if err != nil {
		return wallet.Certificate{}, "", fmt.Errorf("sign certificate: %w", err)
	}
	return cert, sig, nil
}

func (g *Gateway) signTypedData(ctx context.Context, _ *dapp.Request, in TypedInput) (string, error) {
	acct, err := g.signingAccount(in.Account)
	if err != nil {
		return "", err
	}
	sig, err := g.signer.SignTypedData(ctx, acct, in.Data)
	if err != nil {
		return "", fmt.Errorf("sign typed data: %w", err)
	}
	return sig, nil
}

func (g *Gateway) superseded(req *dapp.Request) {
	notify.New(notify.TypeRequestSuperseded).
		Severity(notify.SeverityWarning).
		Origin(req.Origin()).
		Request(req.ID, string(req.Method)).
		Message(dapp.MsgSuperseded).
		SendTo(g.notifier)
}

func (g *Gateway) signingFailed(req *dapp.Request, err error) {
	notify.New(notify.TypeSigningFailed).
		Severity(notify.SeverityError).
		Origin(req.Origin()).
		Request(req.ID, string(req.Method)).
		Err(err).
		SendTo(g.notifier)
}
