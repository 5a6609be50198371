package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/notify"
)

// Opener hands a callback URL to whatever launches the external app.
type Opener func(ctx context.Context, callback string) error

// NotifyOpener publishes callbacks as notifications for the wallet UI to
// open, for deployments where the gateway cannot launch apps itself.
func NotifyOpener(n notify.Notifier) Opener {
	return func(_ context.Context, callback string) error {
		notify.New(notify.TypeExternalCallback).
			Message("Open external app").
			Metadata("callback", callback).
			SendTo(n)
		return nil
	}
}

// RedirectResponder answers external-app requests by opening the request's
// redirect URL with the outcome encoded in the query. Payload encryption
// towards the app's public key is the opener's concern.
type RedirectResponder struct {
	open Opener
}

var _ ExternalResponder = (*RedirectResponder)(nil)

// NewRedirectResponder creates a responder delivering through open.
func NewRedirectResponder(open Opener) *RedirectResponder {
	return &RedirectResponder{open: open}
}

func (r *RedirectResponder) OnSuccess(ctx context.Context, target dapp.ExternalTarget, req *dapp.Request, data any) error {
	payload, err := json.Marshal(dapp.MessageOf(dapp.Success(req, data)))
	if err != nil {
		return fmt.Errorf("encode external response: %w", err)
	}
	return r.redirect(ctx, target, url.Values{"response": {base64.RawURLEncoding.EncodeToString(payload)}})
}

func (r *RedirectResponder) OnFailure(ctx context.Context, target dapp.ExternalTarget, req *dapp.Request, message string) error {
	return r.redirect(ctx, target, url.Values{"id": {req.ID}, "errorCode": {"internal"}, "errorMessage": {message}})
}

func (r *RedirectResponder) OnReject(ctx context.Context, target dapp.ExternalTarget, req *dapp.Request) error {
	return r.redirect(ctx, target, url.Values{"id": {req.ID}, "errorCode": {"user_rejected"}, "errorMessage": {dapp.MsgUserRejectedThe}})
}

// CallbackURL merges params into the target's redirect URL.
func CallbackURL(target dapp.ExternalTarget, params url.Values) (string, error) {
	u, err := url.Parse(target.RedirectURL)
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("invalid redirect url %q", target.RedirectURL)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *RedirectResponder) redirect(ctx context.Context, target dapp.ExternalTarget, params url.Values) error {
	callback, err := CallbackURL(target, params)
	if err != nil {
		return err
	}
	return r.open(ctx, callback)
}
