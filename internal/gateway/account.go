package gateway

import (
	"context"
	"fmt"

	"github.com/R3E-Network/dapp_gateway/internal/approval"
	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/notify"
	"github.com/R3E-Network/dapp_gateway/internal/session"
	"github.com/R3E-Network/dapp_gateway/internal/wallet"
)

func (g *Gateway) handleWallet(ctx context.Context, req *dapp.Request) {
	s, found, err := g.session(ctx, req)
	if err != nil {
		g.fail(ctx, req, "session lookup", err)
		return
	}
	if !found {
		g.respond(ctx, req, dapp.Success(req, nil))
		return
	}

	if s.Kind != session.KindPermanent {
		g.respond(ctx, req, dapp.Success(req, s.Address))
		return
	}
	active, ok := g.wallet.ActiveAccount()
	if !ok || active.Observed {
		g.presentSwitch(req, SwitchInput{Bound: s.Address})
		return
	}
	g.respond(ctx, req, dapp.Success(req, active.Address))
}

func (g *Gateway) handleSwitchWallet(ctx context.Context, req *dapp.Request) {
	s, found, err := g.session(ctx, req)
	if err != nil {
		g.fail(ctx, req, "session lookup", err)
		return
	}
	if !found || s.Kind != session.KindPermanent {
		g.reject(ctx, req, dapp.NewError(dapp.KindUnsupported, dapp.MsgCannotSwitchWallet))
		return
	}
	in := SwitchInput{Bound: s.Address}
	if active, ok := g.wallet.ActiveAccount(); ok && !active.Observed {
		in.Account = active.Address
	}
	g.presentSwitch(req, in)
}

func (g *Gateway) presentSwitch(req *dapp.Request, in SwitchInput) {
	if err := g.switcher.Present(req, in); err != nil {
		return
	}
	g.metrics.RecordPresented(string(approval.CategorySwitchWallet))
	g.metrics.RecordPending(string(approval.CategorySwitchWallet), true)
}

// switchWallet selects the chosen account and rebinds the permanent session.
func (g *Gateway) switchWallet(ctx context.Context, req *dapp.Request, in SwitchInput) (string, error) {
	acct, err := g.signingAccount(in.Account)
	if err != nil {
		return "", err
	}
	if err := g.wallet.SelectAccount(acct.Address); err != nil {
		return "", err
	}
	if err := g.bindSession(ctx, req, session.KindPermanent, acct.Address); err != nil {
		return "", err
	}
	return acct.Address, nil
}

func (g *Gateway) handleDisconnect(ctx context.Context, req *dapp.Request) {
	removed, err := g.sessions.Delete(ctx, req.Origin(), req.GenesisID)
	if err != nil {
		g.fail(ctx, req, "session delete", err)
		return
	}
	if removed {
		g.sessionRemoved(req.Origin(), req.GenesisID, "disconnect")
	}
	g.respond(ctx, req, dapp.Success(req, nil))
}

func (g *Gateway) handleMethods(ctx context.Context, req *dapp.Request) {
	s, found, err := g.session(ctx, req)
	if err != nil {
		g.fail(ctx, req, "session lookup", err)
		return
	}
	g.respond(ctx, req, dapp.Success(req, dapp.Advertised(found && s.Kind == session.KindPermanent)))
}

// OpenExternalSession records the session an external app established
// through its handshake.
func (g *Gateway) OpenExternalSession(ctx context.Context, appURL, appName, genesisID, address string) error {
	if _, ok := g.wallet.Account(address); !ok {
		return fmt.Errorf("%w: %s", wallet.ErrAccountNotFound, address)
	}
	if _, ok := g.wallet.Network(genesisID); !ok {
		return fmt.Errorf("%w: %s", wallet.ErrNetworkNotFound, genesisID)
	}
	req := &dapp.Request{
		Method:    dapp.MethodConnect,
		Channel:   dapp.ChannelExternalApp,
		AppURL:    appURL,
		AppName:   appName,
		GenesisID: genesisID,
	}
	return g.bindSession(ctx, req, session.KindExternal, address)
}

// RemoveAccount removes address from the wallet and destroys every session
// bound to it.
func (g *Gateway) RemoveAccount(ctx context.Context, address string) (int, error) {
	if err := g.wallet.RemoveAccount(address); err != nil {
		return 0, err
	}
	n, err := g.sessions.DeleteByAddress(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("delete sessions for %s: %w", address, err)
	}
	if n > 0 {
		notify.New(notify.TypeSessionRemoved).
			Message(fmt.Sprintf("%d session(s) removed with account", n)).
			Metadata("address", wallet.Checksum(address)).
			Metadata("reason", "account removed").
			SendTo(g.notifier)
	}
	g.log.WithField("address", address).WithField("sessions", n).Info("account removed")
	return n, nil
}

// Sessions lists every stored session.
func (g *Gateway) Sessions(ctx context.Context) ([]session.Session, error) {
	return g.sessions.List(ctx)
}

// DeleteSession removes one session, as a disconnect initiated by the wallet.
func (g *Gateway) DeleteSession(ctx context.Context, origin, genesisID string) (bool, error) {
	removed, err := g.sessions.Delete(ctx, origin, genesisID)
	if err != nil {
		return false, err
	}
	if removed {
		g.sessionRemoved(origin, genesisID, "wallet")
	}
	return removed, nil
}

func (g *Gateway) sessionRemoved(origin, genesisID, reason string) {
	g.log.WithFields(map[string]interface{}{
		"origin":  origin,
		"genesis": genesisID,
		"reason":  reason,
	}).Info("session removed")
	notify.New(notify.TypeSessionRemoved).
		Origin(dapp.OriginOf(origin)).
		Metadata("genesisId", genesisID).
		Metadata("reason", reason).
		SendTo(g.notifier)
}
