package gateway

import (
	"context"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/session"
	"github.com/R3E-Network/dapp_gateway/internal/validate"
	"github.com/R3E-Network/dapp_gateway/internal/wallet"
)

// route runs the consistency checks for signing and login requests, then
// admits the request directly or through reconciliation.
func (g *Gateway) route(ctx context.Context, req *dapp.Request) {
	if derr := validate.Payload(req); derr != nil {
		g.reject(ctx, req, derr)
		return
	}

	if req.Method.Signing() {
		s, found, err := g.session(ctx, req)
		if err != nil {
			g.fail(ctx, req, "session lookup", err)
			return
		}
		if found && s.Kind != session.KindPermanent && req.Options.Signer != "" &&
			!wallet.SameAddress(req.Options.Signer, s.Address) {
			g.reject(ctx, req, dapp.NewError(dapp.KindSessionMismatch, dapp.MsgSessionMismatch))
			return
		}
	}

	if g.matchesActive(req) {
		g.admit(ctx, req)
		return
	}
	g.reconcile(ctx, req)
}

// matchesActive reports whether req targets the active account (or none) on
// the active network.
func (g *Gateway) matchesActive(req *dapp.Request) bool {
	if !equalGenesis(req.GenesisID, g.wallet.ActiveNetwork().GenesisID) {
		return false
	}
	if req.Options.Signer == "" {
		return true
	}
	active, ok := g.wallet.ActiveAccount()
	return ok && wallet.SameAddress(active.Address, req.Options.Signer)
}

// admit records the implicit temporary session of a signer-bound request and
// presents the request.
func (g *Gateway) admit(ctx context.Context, req *dapp.Request) {
	if req.Method.Signing() && req.Options.Signer != "" {
		_, found, err := g.session(ctx, req)
		if err != nil {
			g.fail(ctx, req, "session lookup", err)
			return
		}
		if !found {
			if err := g.bindSession(ctx, req, session.KindTemporary, req.Options.Signer); err != nil {
				g.fail(ctx, req, "session create", err)
				return
			}
		}
	}
	g.present(req)
}
