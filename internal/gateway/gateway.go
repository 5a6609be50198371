// Package gateway is the dApp request gateway: it normalises inbound channel
// payloads, checks them against the wallet and its sessions, reconciles the
// active account and network when a request targets others, and routes the
// request to the approval surface for its category. Every request admitted to
// Handle is answered exactly once through the configured Responder.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/dapp_gateway/internal/approval"
	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/metrics"
	"github.com/R3E-Network/dapp_gateway/internal/normalize"
	"github.com/R3E-Network/dapp_gateway/internal/notify"
	"github.com/R3E-Network/dapp_gateway/internal/ratelimit"
	"github.com/R3E-Network/dapp_gateway/internal/session"
	"github.com/R3E-Network/dapp_gateway/internal/wallet"
	"github.com/R3E-Network/dapp_gateway/pkg/logger"
)

// Responder delivers a response over the channel its request arrived on.
type Responder interface {
	Dispatch(ctx context.Context, req *dapp.Request, resp dapp.Response) error
}

// Config holds the gateway's collaborators.
type Config struct {
	Wallet    wallet.Context
	Sessions  session.Store
	Signer    wallet.Signer
	Responder Responder

	// Optional.
	Presenter approval.Presenter
	Notifier  notify.Notifier
	Metrics   metrics.Recorder
	Limiter   *ratelimit.Limiter
	Log       *logger.Logger
	Now       func() time.Time

	// SilentDecline leaves a request unanswered when the user declines the
	// account/network switch it needs. By default it is rejected.
	SilentDecline bool
}

// Gateway routes dApp requests. It is safe for concurrent use.
type Gateway struct {
	wallet     wallet.Context
	sessions   session.Store
	signer     wallet.Signer
	responder  Responder
	presenter  approval.Presenter
	notifier   notify.Notifier
	metrics    metrics.Recorder
	limiter    *ratelimit.Limiter
	log        *logger.Logger
	now        func() time.Time
	normalizer *normalize.Normalizer

	silentDecline bool

	tx       *approval.Surface[TxInput, wallet.TransactionResponse]
	cert     *approval.Surface[CertInput, wallet.CertificateResponse]
	typed    *approval.Surface[TypedInput, string]
	login    *approval.Surface[LoginInput, LoginResult]
	switcher *approval.Surface[SwitchInput, string]

	mu      sync.Mutex
	pending *Reconciliation
}

// New validates cfg and builds a gateway with idle surfaces.
func New(cfg Config) (*Gateway, error) {
	if cfg.Wallet == nil {
		return nil, fmt.Errorf("gateway: wallet context is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("gateway: session store is required")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("gateway: signer is required")
	}
	if cfg.Responder == nil {
		return nil, fmt.Errorf("gateway: responder is required")
	}

	g := &Gateway{
		wallet:        cfg.Wallet,
		sessions:      cfg.Sessions,
		signer:        cfg.Signer,
		responder:     cfg.Responder,
		presenter:     cfg.Presenter,
		notifier:      cfg.Notifier,
		metrics:       cfg.Metrics,
		limiter:       cfg.Limiter,
		log:           cfg.Log,
		now:           cfg.Now,
		silentDecline: cfg.SilentDecline,
	}
	if g.presenter == nil {
		g.presenter = nopPresenter{}
	}
	if g.notifier == nil {
		g.notifier = notify.Discard{}
	}
	if g.metrics == nil {
		g.metrics = metrics.NewNoOpCollector()
	}
	if g.log == nil {
		g.log = logger.NewDefault("gateway")
	}
	if g.now == nil {
		g.now = time.Now
	}
	g.normalizer = normalize.New(g.log.WithComponent("normalize"))
	g.buildSurfaces()
	return g, nil
}

// Handle processes one inbound request. It returns once the request has been
// answered or handed to a surface or the reconciliation flow.
func (g *Gateway) Handle(ctx context.Context, in normalize.Inbound) {
	req, derr := g.normalizer.Normalize(in)
	g.metrics.RecordRequest(req.Method.Label(), req.Channel.String())
	if g.limited(req) {
		g.metrics.RecordRateLimited(req.Channel.String())
		g.reject(ctx, req, dapp.NewError(dapp.KindRateLimited, dapp.MsgTooManyRequests))
		return
	}
	if derr != nil {
		g.reject(ctx, req, derr)
		return
	}

	if req.GenesisID == "" {
		req.GenesisID = g.wallet.ActiveNetwork().GenesisID
	}

	g.log.WithFields(map[string]interface{}{
		"id":      req.ID,
		"method":  req.Method,
		"channel": req.Channel.String(),
		"origin":  req.Origin(),
	}).Debug("request received")

	switch req.Method {
	case dapp.MethodWallet:
		g.handleWallet(ctx, req)
	case dapp.MethodSwitchWallet:
		g.handleSwitchWallet(ctx, req)
	case dapp.MethodDisconnect:
		g.handleDisconnect(ctx, req)
	case dapp.MethodMethods:
		g.handleMethods(ctx, req)
	default:
		g.route(ctx, req)
	}
}

func (g *Gateway) limited(req *dapp.Request) bool {
	if g.limiter == nil {
		return false
	}
	if req.Channel != dapp.ChannelInApp && req.Channel != dapp.ChannelWalletConnect {
		return false
	}
	return !g.limiter.Allow(req.Origin())
}

// Dismiss handles a non-programmatic close of the surface for category. For
// the reconciliation prompt it is a decline.
func (g *Gateway) Dismiss(category approval.Category) bool {
	var answered bool
	switch category {
	case approval.CategoryTransaction:
		answered = g.tx.Dismiss()
	case approval.CategoryCertificate:
		answered = g.cert.Dismiss()
	case approval.CategoryTypedData:
		answered = g.typed.Dismiss()
	case approval.CategoryLogin:
		answered = g.login.Dismiss()
	case approval.CategorySwitchWallet:
		answered = g.switcher.Dismiss()
	case approval.CategoryReconcile:
		g.mu.Lock()
		r := g.pending
		g.mu.Unlock()
		if r == nil {
			return false
		}
		return g.DeclineReconciliation(r.Request.ID) == nil
	}
	g.metrics.RecordPending(string(category), false)
	return answered
}

// Transactions returns the transaction approval surface.
func (g *Gateway) Transactions() *approval.Surface[TxInput, wallet.TransactionResponse] {
	return g.tx
}

// Certificates returns the certificate approval surface.
func (g *Gateway) Certificates() *approval.Surface[CertInput, wallet.CertificateResponse] {
	return g.cert
}

// TypedData returns the typed-data approval surface.
func (g *Gateway) TypedData() *approval.Surface[TypedInput, string] {
	return g.typed
}

// Logins returns the login approval surface.
func (g *Gateway) Logins() *approval.Surface[LoginInput, LoginResult] {
	return g.login
}

// SwitchWallets returns the switch-wallet approval surface.
func (g *Gateway) SwitchWallets() *approval.Surface[SwitchInput, string] {
	return g.switcher
}

// respond sends resp for req. Delivery errors are logged by the responder.
func (g *Gateway) respond(ctx context.Context, req *dapp.Request, resp dapp.Response) {
	_ = g.responder.Dispatch(ctx, req, resp)
}

// reject answers req with a pre-presentation error.
func (g *Gateway) reject(ctx context.Context, req *dapp.Request, derr *dapp.Error) {
	g.metrics.RecordRejected(req.Method.Label(), derr.Kind.String())
	g.log.WithFields(map[string]interface{}{
		"id":     req.ID,
		"method": req.Method,
		"kind":   derr.Kind.String(),
	}).WithError(derr).Debug("request rejected")
	g.respond(ctx, req, dapp.Failure(req, derr))
}

// fail answers req with an internal error for a collaborator failure.
func (g *Gateway) fail(ctx context.Context, req *dapp.Request, op string, err error) {
	g.log.WithField("id", req.ID).WithError(err).Errorf("%s failed", op)
	g.respond(ctx, req, dapp.Failure(req, fmt.Errorf("%s: %w", op, err)))
}

func (g *Gateway) session(ctx context.Context, req *dapp.Request) (session.Session, bool, error) {
	return session.Lookup(ctx, g.sessions, req.Origin(), req.GenesisID)
}

// errNotReady marks an approve attempt the surface refused to run.
var errNotReady = errors.New("approval not ready")

func notReady(format string, args ...any) *dapp.Error {
	return dapp.Wrap(dapp.KindNotReady, fmt.Sprintf(format, args...), errNotReady)
}

type nopPresenter struct{}

func (nopPresenter) Present(approval.Category, *dapp.Request, any) {}
func (nopPresenter) Close(approval.Category, string)               {}
