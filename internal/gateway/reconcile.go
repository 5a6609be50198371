package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/R3E-Network/dapp_gateway/internal/approval"
	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/notify"
	"github.com/R3E-Network/dapp_gateway/internal/wallet"
)

var (
	// ErrNoReconciliation is returned when no confirmation is awaiting an answer.
	ErrNoReconciliation = errors.New("no reconciliation pending")
	// ErrReconciliationMismatch is returned for an answer to another request.
	ErrReconciliationMismatch = errors.New("reconciliation is for another request")
)

// Reconciliation is a request waiting for the user to switch the active
// account and/or network. A nil target already matches.
type Reconciliation struct {
	Request       *dapp.Request   `json:"request"`
	TargetAccount *wallet.Account `json:"targetAccount,omitempty"`
	TargetNetwork *wallet.Network `json:"targetNetwork,omitempty"`
}

// reconcile asks the user to switch to the account and network req targets.
// Unknown targets are rejected without asking; a second request while one is
// awaiting an answer is rejected as busy.
func (g *Gateway) reconcile(ctx context.Context, req *dapp.Request) {
	r := &Reconciliation{Request: req}

	if req.Options.Signer != "" {
		acct, ok := g.wallet.Account(req.Options.Signer)
		if !ok {
			g.reject(ctx, req, dapp.NewError(dapp.KindUnknownAccount, dapp.MsgInvalidAccount))
			return
		}
		if active, ok := g.wallet.ActiveAccount(); !ok || !wallet.SameAddress(active.Address, acct.Address) {
			r.TargetAccount = &acct
		}
	}

	network, ok := g.wallet.Network(req.GenesisID)
	if !ok {
		g.reject(ctx, req, dapp.NewError(dapp.KindUnknownNetwork, dapp.MsgInvalidNetwork))
		return
	}
	if !equalGenesis(network.GenesisID, g.wallet.ActiveNetwork().GenesisID) {
		r.TargetNetwork = &network
	}

	g.mu.Lock()
	if g.pending != nil {
		busy := g.pending.Request.ID
		g.mu.Unlock()
		g.log.WithField("id", req.ID).WithField("pending", busy).Debug("reconciliation busy")
		g.reject(ctx, req, dapp.NewError(dapp.KindBusy, dapp.MsgConfirmationPending))
		return
	}
	g.pending = r
	g.mu.Unlock()

	g.log.WithFields(map[string]interface{}{
		"id":             req.ID,
		"switch_account": r.TargetAccount != nil,
		"switch_network": r.TargetNetwork != nil,
	}).Debug("awaiting reconciliation")
	g.metrics.RecordPresented(string(approval.CategoryReconcile))
	g.metrics.RecordPending(string(approval.CategoryReconcile), true)
	g.presenter.Present(approval.CategoryReconcile, req, *r)
}

// PendingReconciliation returns the confirmation awaiting the user, if any.
func (g *Gateway) PendingReconciliation() (Reconciliation, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Reconciliation{}, false
	}
	return *g.pending, true
}

// ConfirmReconciliation applies the pending switch once and resumes the
// request it was raised for.
func (g *Gateway) ConfirmReconciliation(ctx context.Context, requestID string) error {
	r, err := g.takeReconciliation(requestID)
	if err != nil {
		return err
	}
	g.metrics.RecordReconciliation("confirmed")

	if r.TargetNetwork != nil {
		if err := g.wallet.SelectNetwork(r.TargetNetwork.GenesisID); err != nil {
			g.fail(ctx, r.Request, "switch network", err)
			return err
		}
	}
	if r.TargetAccount != nil {
		if err := g.wallet.SelectAccount(r.TargetAccount.Address); err != nil {
			g.fail(ctx, r.Request, "switch account", err)
			return err
		}
	}
	g.log.WithField("id", r.Request.ID).Debug("reconciliation confirmed")
	g.admit(ctx, r.Request)
	return nil
}

// DeclineReconciliation discards the pending switch and raises a warning.
// The request is rejected unless the gateway was built with SilentDecline.
func (g *Gateway) DeclineReconciliation(requestID string) error {
	r, err := g.takeReconciliation(requestID)
	if err != nil {
		return err
	}
	g.metrics.RecordReconciliation("declined")

	notify.New(notify.TypeReconciliationDeclined).
		Severity(notify.SeverityWarning).
		Origin(r.Request.Origin()).
		Request(r.Request.ID, string(r.Request.Method)).
		Message("Request declined: active account or network not switched").
		SendTo(g.notifier)

	if g.silentDecline {
		g.log.WithField("id", r.Request.ID).Warn("reconciliation declined, request left unanswered")
		return nil
	}
	g.respond(context.Background(), r.Request,
		dapp.Failure(r.Request, dapp.NewError(dapp.KindUserRejected, dapp.MsgUserRejectedThe)))
	return nil
}

func (g *Gateway) takeReconciliation(requestID string) (*Reconciliation, error) {
	g.mu.Lock()
	r := g.pending
	if r == nil {
		g.mu.Unlock()
		return nil, ErrNoReconciliation
	}
	if r.Request.ID != requestID {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: pending %s, got %s", ErrReconciliationMismatch, r.Request.ID, requestID)
	}
	g.pending = nil
	g.mu.Unlock()

	g.metrics.RecordPending(string(approval.CategoryReconcile), false)
	g.presenter.Close(approval.CategoryReconcile, requestID)
	return r, nil
}

func equalGenesis(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
