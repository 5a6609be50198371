package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/normalize"
	"github.com/R3E-Network/dapp_gateway/internal/notify"
	"github.com/R3E-Network/dapp_gateway/internal/wallet"
	"github.com/R3E-Network/dapp_gateway/pkg/logger"
)

const (
	mainGenesis = "0x00000000851caf3cfdb6e899cf5958bfb1ac3413d346d43539627e6be7ec1b4a"
	testGenesis = "0x000000000b2bce3c70bc649a02749e8687721b09ed2e15997f466536b20bb127"
)

var networks = []wallet.Network{
	{Name: "main", GenesisID: mainGenesis},
	{Name: "test", GenesisID: testGenesis},
}

func TestRPCErrorFor(t *testing.T) {
	tests := []struct {
		name     string
		err      *dapp.Error
		expected RPCError
	}{
		{"nil", nil, RPCInternal},
		{"rejected", dapp.NewError(dapp.KindUserRejected, dapp.MsgUserRejectedThe), RPCUserRejected},
		{"unknown method", dapp.NewError(dapp.KindUnknownMethod, dapp.MsgUnknownMethod), RPCMethodNotFound},
		{"malformed", dapp.NewError(dapp.KindMalformedPayload, dapp.MsgInvalidTransaction), RPCError{Code: -32602, Message: dapp.MsgInvalidTransaction}},
		{"signing", dapp.NewError(dapp.KindSigningFailure, dapp.MsgInternal), RPCInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, RPCErrorFor(tc.err))
		})
	}
}

func TestChainMapping(t *testing.T) {
	chain := ChainFor(networks[0])
	assert.Equal(t, "vechain:b1ac3413d346d43539627e6be7ec1b4a", chain)

	n, err := NetworkForChain(chain, networks)
	require.NoError(t, err)
	assert.Equal(t, "main", n.Name)

	n, err = NetworkForChain(ChainFor(networks[1]), networks)
	require.NoError(t, err)
	assert.Equal(t, "test", n.Name)

	for _, bad := range []string{"eip155:1", "vechain:", "vechain:deadbeef", "nocolon"} {
		_, err := NetworkForChain(bad, networks)
		assert.ErrorIs(t, err, ErrUnknownChain, bad)
	}
}

func TestFromWalletConnect(t *testing.T) {
	ev := dapp.WalletConnectEvent{
		Topic: "topic-1",
		ID:    1700000000123,
		Params: json.RawMessage(`{
			"chainId": "vechain:b1ac3413d346d43539627e6be7ec1b4a",
			"request": {
				"method": "thor_signCertificate",
				"params": [{"message": {"purpose": "identification", "payload": {"type": "text", "content": "hello"}}}]
			}
		}`),
		VerifyContext: json.RawMessage(`{"verified":{"origin":"https://verified.example"}}`),
	}

	in, err := FromWalletConnect(ev, Peer{Name: "Example", URL: "https://peer.example"}, networks)
	require.NoError(t, err)
	assert.Equal(t, dapp.ChannelWalletConnect, in.Channel)
	assert.Equal(t, "https://verified.example", in.AppURL)
	assert.Equal(t, "Example", in.AppName)
	require.NotNil(t, in.Event)
	assert.Equal(t, "topic-1", in.Event.Topic)

	req, derr := normalize.New(logger.NewNop()).Normalize(in)
	require.Nil(t, derr)
	assert.Equal(t, "1700000000123", req.ID)
	assert.Equal(t, dapp.MethodSignCertificate, req.Method)
	assert.Equal(t, mainGenesis, req.GenesisID)
	cert, ok := req.Payload.(dapp.CertificatePayload)
	require.True(t, ok)
	assert.Equal(t, "hello", cert.Message.Payload.Content)
}

func TestFromWalletConnectPeerURLFallback(t *testing.T) {
	ev := dapp.WalletConnectEvent{
		ID:     2,
		Params: json.RawMessage(`{"chainId":"vechain:b1ac3413d346d43539627e6be7ec1b4a","request":{"method":"thor_wallet"}}`),
	}
	in, err := FromWalletConnect(ev, Peer{URL: "https://peer.example"}, networks)
	require.NoError(t, err)
	assert.Equal(t, "https://peer.example", in.AppURL)
}

func TestFromWalletConnectErrors(t *testing.T) {
	_, err := FromWalletConnect(dapp.WalletConnectEvent{Params: json.RawMessage(`{"chainId":"vechain:b1ac3413d346d43539627e6be7ec1b4a"}`)}, Peer{}, networks)
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = FromWalletConnect(dapp.WalletConnectEvent{Params: json.RawMessage(`{"chainId":"vechain:ffff","request":{"method":"thor_wallet"}}`)}, Peer{}, networks)
	assert.ErrorIs(t, err, ErrUnknownChain)
}

type fakeBridge struct {
	source string
	msgs   []dapp.Message
	err    error
}

func (f *fakeBridge) PostMessage(_ context.Context, source string, msg dapp.Message) error {
	f.source = source
	f.msgs = append(f.msgs, msg)
	return f.err
}

type fakeWC struct {
	results []any
	fails   []RPCError
}

func (f *fakeWC) ProcessRequest(_ context.Context, _ dapp.WalletConnectEvent, result any) error {
	f.results = append(f.results, result)
	return nil
}

func (f *fakeWC) FailRequest(_ context.Context, _ dapp.WalletConnectEvent, rpcErr RPCError) error {
	f.fails = append(f.fails, rpcErr)
	return nil
}

type fakeExternal struct {
	calls []string
}

func (f *fakeExternal) OnSuccess(context.Context, dapp.ExternalTarget, *dapp.Request, any) error {
	f.calls = append(f.calls, "success")
	return nil
}

func (f *fakeExternal) OnFailure(_ context.Context, _ dapp.ExternalTarget, _ *dapp.Request, message string) error {
	f.calls = append(f.calls, "failure:"+message)
	return nil
}

func (f *fakeExternal) OnReject(context.Context, dapp.ExternalTarget, *dapp.Request) error {
	f.calls = append(f.calls, "reject")
	return nil
}

func TestDispatchInApp(t *testing.T) {
	bridge := &fakeBridge{}
	d := NewDispatcher(WithBridge(bridge), WithLogger(logger.NewNop()))
	req := &dapp.Request{ID: "1", Method: dapp.MethodWallet, Channel: dapp.ChannelInApp, Source: "tab-1"}

	require.NoError(t, d.Dispatch(context.Background(), req, dapp.Success(req, "0xabc")))
	require.Len(t, bridge.msgs, 1)
	assert.Equal(t, "tab-1", bridge.source)
	assert.Equal(t, "0xabc", bridge.msgs[0].Data)

	bridge.err = errors.New("tab closed")
	err := d.Dispatch(context.Background(), req, dapp.Failure(req, dapp.NewError(dapp.KindUserRejected, dapp.MsgUserRejected)))
	assert.Error(t, err)
	assert.Equal(t, dapp.MsgUserRejected, bridge.msgs[1].Error)
}

func TestDispatchWalletConnect(t *testing.T) {
	wc := &fakeWC{}
	d := NewDispatcher(WithWalletConnect(wc), WithLogger(logger.NewNop()))
	req := &dapp.Request{ID: "9", Channel: dapp.ChannelWalletConnect, Event: &dapp.WalletConnectEvent{ID: 9}}

	require.NoError(t, d.Dispatch(context.Background(), req, dapp.Success(req, map[string]string{"txid": "0x1"})))
	require.NoError(t, d.Dispatch(context.Background(), req, dapp.Failure(req, dapp.NewError(dapp.KindUserRejected, dapp.MsgUserRejectedThe))))
	require.NoError(t, d.Dispatch(context.Background(), req, dapp.Failure(req, errors.New("boom"))))

	assert.Len(t, wc.results, 1)
	assert.Equal(t, []RPCError{RPCUserRejected, RPCInternal}, wc.fails)

	missing := &dapp.Request{ID: "10", Channel: dapp.ChannelWalletConnect}
	assert.Error(t, d.Dispatch(context.Background(), missing, dapp.Success(missing, nil)))
}

func TestDispatchExternal(t *testing.T) {
	ext := &fakeExternal{}
	d := NewDispatcher(WithExternal(ext), WithLogger(logger.NewNop()))
	req := &dapp.Request{ID: "x", Channel: dapp.ChannelExternalApp, External: &dapp.ExternalTarget{RedirectURL: "app://cb"}}

	_ = d.Dispatch(context.Background(), req, dapp.Success(req, nil))
	_ = d.Dispatch(context.Background(), req, dapp.Failure(req, dapp.NewError(dapp.KindUserRejected, dapp.MsgUserRejectedThe)))
	_ = d.Dispatch(context.Background(), req, dapp.Failure(req, dapp.NewError(dapp.KindSigningFailure, dapp.MsgTransactionFailed)))

	assert.Equal(t, []string{"success", "reject", "failure:" + dapp.MsgTransactionFailed}, ext.calls)
}

func TestDispatchWithoutTransport(t *testing.T) {
	d := NewDispatcher(WithLogger(logger.NewNop()))
	req := &dapp.Request{ID: "1", Channel: dapp.ChannelInApp}
	assert.ErrorIs(t, d.Dispatch(context.Background(), req, dapp.Success(req, nil)), ErrNoTransport)

	req.Channel = dapp.ChannelUnknown
	assert.ErrorIs(t, d.Dispatch(context.Background(), req, dapp.Success(req, nil)), ErrNoTransport)
}

func TestRedirectResponder(t *testing.T) {
	var opened []string
	r := NewRedirectResponder(func(_ context.Context, callback string) error {
		opened = append(opened, callback)
		return nil
	})
	target := dapp.ExternalTarget{RedirectURL: "myapp://callback?session=abc"}
	req := &dapp.Request{ID: "42", Method: dapp.MethodSignTypedData}

	require.NoError(t, r.OnSuccess(context.Background(), target, req, "0xsig"))
	require.NoError(t, r.OnReject(context.Background(), target, req))
	require.Len(t, opened, 2)

	u, err := url.Parse(opened[0])
	require.NoError(t, err)
	assert.Equal(t, "abc", u.Query().Get("session"))
	raw, err := base64.RawURLEncoding.DecodeString(u.Query().Get("response"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"42","method":"thor_signTypedData","data":"0xsig"}`, string(raw))

	u, err = url.Parse(opened[1])
	require.NoError(t, err)
	assert.Equal(t, "user_rejected", u.Query().Get("errorCode"))
	assert.Equal(t, "42", u.Query().Get("id"))

	err = r.OnFailure(context.Background(), dapp.ExternalTarget{RedirectURL: "no scheme"}, req, "x")
	assert.Error(t, err)
}

func TestNotifyOpener(t *testing.T) {
	rb := notify.NewRingBuffer(4)
	r := NewRedirectResponder(NotifyOpener(rb))
	req := &dapp.Request{ID: "7", Method: dapp.MethodSignCertificate}

	require.NoError(t, r.OnReject(context.Background(), dapp.ExternalTarget{RedirectURL: "myapp://cb"}, req))
	got := rb.RecentByType(notify.TypeExternalCallback, 1)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Metadata["callback"], "errorCode=user_rejected")
}
