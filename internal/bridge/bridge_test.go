package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/normalize"
	"github.com/R3E-Network/dapp_gateway/pkg/logger"
)

const genesis = "0x000000000b2bce3c70bc649a02749e8687721b09ed2e15997f466536b20bb127"

// page runs the provider script in a minimal window with a native channel
// that records posted frames.
type page struct {
	vm     *goja.Runtime
	frames []string
}

func newPage(t *testing.T) *page {
	t.Helper()
	p := &page{vm: goja.New()}

	window := p.vm.NewObject()
	require.NoError(t, window.Set("origin", "https://dapp.example"))
	require.NoError(t, window.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		_ = p.vm.Set("__listener", call.Argument(1))
		return goja.Undefined()
	}))
	native := p.vm.NewObject()
	require.NoError(t, native.Set("postMessage", func(frame string) {
		p.frames = append(p.frames, frame)
	}))
	require.NoError(t, window.Set("ReactNativeWebView", native))
	require.NoError(t, p.vm.Set("window", window))

	_, err := p.vm.RunString(Script(""))
	require.NoError(t, err)
	return p
}

func (p *page) run(t *testing.T, js string) goja.Value {
	t.Helper()
	v, err := p.vm.RunString(js)
	require.NoError(t, err)
	return v
}

func (p *page) normalize(t *testing.T, frame string) *dapp.Request {
	t.Helper()
	req, derr := normalize.New(logger.NewNop()).Normalize(normalize.Inbound{
		Channel: dapp.ChannelInApp,
		Body:    []byte(frame),
	})
	require.Nil(t, derr)
	return req
}

func TestScriptSignTxRoundTrip(t *testing.T) {
	p := newPage(t)
	p.run(t, `
		var result, failure;
		window.vechain.newConnexSigner("`+genesis+`")
			.signTx([{to: "0x2222222222222222222222222222222222222222", value: "0x1", data: "0x"}], {comment: "hi"})
			.then(function (r) { result = r; }, function (e) { failure = e.message; });
	`)
	require.Len(t, p.frames, 1)

	req := p.normalize(t, p.frames[0])
	assert.Equal(t, dapp.MethodRequestTransaction, req.Method)
	assert.Equal(t, genesis, req.GenesisID)
	assert.Equal(t, "https://dapp.example", req.AppURL)
	assert.Equal(t, "hi", req.Options.Comment)
	tx := req.Payload.(dapp.TransactionPayload)
	require.Len(t, tx.Clauses, 1)

	reply, err := json.Marshal(dapp.MessageOf(dapp.Success(req, map[string]string{"txid": "0xabc"})))
	require.NoError(t, err)
	p.run(t, `__listener({data: `+string(reply)+`});`)

	assert.Equal(t, "0xabc", p.run(t, `result.txid`).String())
	assert.True(t, goja.IsUndefined(p.run(t, `failure`)))
}

func TestScriptRejectsOnError(t *testing.T) {
	p := newPage(t)
	p.run(t, `
		var failure;
		window.vechain.newConnexSigner("`+genesis+`")
			.signCert({purpose: "identification", payload: {type: "text", content: "hello"}})
			.then(null, function (e) { failure = e.message; });
	`)
	require.Len(t, p.frames, 1)
	req := p.normalize(t, p.frames[0])
	assert.Equal(t, dapp.MethodSignCertificate, req.Method)

	reply, err := json.Marshal(dapp.MessageOf(dapp.Failure(req, dapp.NewError(dapp.KindUserRejected, dapp.MsgUserRejected))))
	require.NoError(t, err)
	// String frames are accepted too; unrelated ids are ignored.
	p.run(t, `__listener({data: '{"id":"other","data":1}'});`)
	p.run(t, `__listener({data: '`+string(reply)+`'});`)

	assert.Equal(t, dapp.MsgUserRejected, p.run(t, `failure`).String())
}

func TestScriptRequestAPI(t *testing.T) {
	p := newPage(t)
	p.run(t, `
		window.vechain.request({method: "thor_signTypedData", params: {
			domain: {name: "Example", version: "1", chainId: 1},
			types: {Mail: [{name: "body", type: "string"}]},
			value: {body: "hi"}
		}}, "`+genesis+`");
		window.vechain.request({method: "thor_wallet"}, "`+genesis+`");
	`)
	require.Len(t, p.frames, 2)

	req := p.normalize(t, p.frames[0])
	assert.Equal(t, dapp.MethodSignTypedData, req.Method)
	td := req.Payload.(dapp.TypedDataPayload)
	assert.Equal(t, "hi", td.Value["body"])

	req = p.normalize(t, p.frames[1])
	assert.Equal(t, dapp.MethodWallet, req.Method)
	assert.True(t, strings.Contains(p.frames[1], `"requestAPI":true`))
}

func TestScriptWithBridgeURL(t *testing.T) {
	s := Script("ws://127.0.0.1:8080/bridge")
	assert.True(t, strings.HasPrefix(s, "(function () {"))
	assert.Contains(t, s, `"ws://127.0.0.1:8080/bridge"`)
	assert.Contains(t, s, "window.vechain = {")
}

type recordingHandler struct {
	mu  sync.Mutex
	in  []normalize.Inbound
	got chan struct{}
}

func (r *recordingHandler) Handle(_ context.Context, in normalize.Inbound) {
	r.mu.Lock()
	r.in = append(r.in, in)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func TestHubRoundTrip(t *testing.T) {
	handler := &recordingHandler{got: make(chan struct{}, 1)}
	hub := NewHub(handler, logger.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/bridge?url=https%3A%2F%2Fdapp.example%2Fapp"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://dapp.example"}})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"1","method":"thor_wallet"}`)))
	select {
	case <-handler.got:
	case <-time.After(5 * time.Second):
		t.Fatal("frame not delivered")
	}

	handler.mu.Lock()
	in := handler.in[0]
	handler.mu.Unlock()
	assert.Equal(t, dapp.ChannelInApp, in.Channel)
	assert.Equal(t, "https://dapp.example/app", in.AppURL)
	assert.NotEmpty(t, in.Source)
	assert.Equal(t, 1, hub.Len())

	require.NoError(t, hub.PostMessage(context.Background(), in.Source, dapp.Message{ID: "1", Method: dapp.MethodWallet, Data: "0xabc"}))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1","method":"thor_wallet","data":"0xabc"}`, string(frame))

	err = hub.PostMessage(context.Background(), "gone", dapp.Message{ID: "2"})
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestHubBindsTabToOrigin(t *testing.T) {
	handler := &recordingHandler{got: make(chan struct{}, 1)}
	hub := NewHub(handler, logger.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/bridge"

	tests := []struct {
		name   string
		url    string
		origin string
	}{
		{"foreign page url", base + "?url=https%3A%2F%2Fvictim.example%2Fapp", "https://evil.example"},
		{"missing origin", base + "?url=https%3A%2F%2Fvictim.example%2Fapp", ""},
		{"opaque origin", base, "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(tt.url, header)
			if conn != nil {
				conn.Close()
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
	assert.Equal(t, 0, hub.Len())

	conn, _, err := websocket.DefaultDialer.Dial(base, http.Header{"Origin": {"https://dapp.example"}})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"1","method":"thor_wallet","origin":"https://victim.example"}`)))
	select {
	case <-handler.got:
	case <-time.After(5 * time.Second):
		t.Fatal("frame not delivered")
	}
	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, "https://dapp.example", handler.in[0].AppURL)
}
