// Package transport delivers gateway responses over the channel each request
// arrived on and adapts channel-specific events into gateway input.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/metrics"
	"github.com/R3E-Network/dapp_gateway/pkg/logger"
)

// ErrNoTransport is logged when a response's channel has no adapter configured.
var ErrNoTransport = errors.New("no transport configured for channel")

// BridgePoster posts a message into the injected bridge of one webview tab.
type BridgePoster interface {
	PostMessage(ctx context.Context, source string, msg dapp.Message) error
}

// WalletConnectClient answers WalletConnect session requests.
type WalletConnectClient interface {
	ProcessRequest(ctx context.Context, event dapp.WalletConnectEvent, result any) error
	FailRequest(ctx context.Context, event dapp.WalletConnectEvent, rpcErr RPCError) error
}

// ExternalResponder answers external-app requests through their callback.
type ExternalResponder interface {
	OnSuccess(ctx context.Context, target dapp.ExternalTarget, req *dapp.Request, data any) error
	OnFailure(ctx context.Context, target dapp.ExternalTarget, req *dapp.Request, message string) error
	OnReject(ctx context.Context, target dapp.ExternalTarget, req *dapp.Request) error
}

// Dispatcher routes a response to the adapter for the request's channel.
// Delivery is fire-and-forget: failures are logged and counted, never retried.
type Dispatcher struct {
	bridge   BridgePoster
	wc       WalletConnectClient
	external ExternalResponder
	metrics  metrics.Recorder
	log      *logger.Logger
	timeout  time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithBridge(p BridgePoster) Option               { return func(d *Dispatcher) { d.bridge = p } }
func WithWalletConnect(c WalletConnectClient) Option { return func(d *Dispatcher) { d.wc = c } }
func WithExternal(r ExternalResponder) Option        { return func(d *Dispatcher) { d.external = r } }
func WithMetrics(m metrics.Recorder) Option          { return func(d *Dispatcher) { d.metrics = m } }
func WithLogger(l *logger.Logger) Option             { return func(d *Dispatcher) { d.log = l } }

// WithTimeout bounds each delivery. Zero means no bound.
func WithTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.timeout = t } }

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.NewNoOpCollector()
	}
	if d.log == nil {
		d.log = logger.NewDefault("dispatcher")
	}
	return d
}

// Dispatch delivers resp for req and returns the delivery error, which callers
// may ignore; it has already been logged.
func (d *Dispatcher) Dispatch(ctx context.Context, req *dapp.Request, resp dapp.Response) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	err := d.deliver(ctx, req, resp)
	d.metrics.RecordDispatch(req.Channel.String(), time.Since(start), err)
	d.metrics.RecordResponse(resp.Method.Label(), req.Channel.String(), resp.Outcome())

	entry := d.log.WithField("id", resp.ID).
		WithField("method", resp.Method).
		WithField("channel", req.Channel.String())
	if err != nil {
		entry.WithError(err).Error("response delivery failed")
		return err
	}
	entry.WithField("outcome", resp.Outcome()).Debug("response delivered")
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, req *dapp.Request, resp dapp.Response) error {
	switch req.Channel {
	case dapp.ChannelInApp:
		if d.bridge == nil {
			return ErrNoTransport
		}
		return d.bridge.PostMessage(ctx, req.Source, dapp.MessageOf(resp))

	case dapp.ChannelWalletConnect:
		if d.wc == nil {
			return ErrNoTransport
		}
		if req.Event == nil {
			return fmt.Errorf("walletconnect response %s: missing request event", resp.ID)
		}
		if resp.IsError() {
			return d.wc.FailRequest(ctx, *req.Event, RPCErrorFor(resp.Err))
		}
		return d.wc.ProcessRequest(ctx, *req.Event, resp.Data)

	case dapp.ChannelExternalApp:
		if d.external == nil {
			return ErrNoTransport
		}
		if req.External == nil {
			return fmt.Errorf("external response %s: missing callback target", resp.ID)
		}
		switch {
		case !resp.IsError():
			return d.external.OnSuccess(ctx, *req.External, req, resp.Data)
		case resp.Err.Kind == dapp.KindUserRejected:
			return d.external.OnReject(ctx, *req.External, req)
		default:
			return d.external.OnFailure(ctx, *req.External, req, resp.Err.Message)
		}

	default:
		return fmt.Errorf("%w: %s", ErrNoTransport, req.Channel)
	}
}
