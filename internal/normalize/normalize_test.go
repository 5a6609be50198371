package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/pkg/logger"
)

const testnet = "0x000000000b2bce3c70bc649a02749e8687721b09ed2e15997f466536b20bb127"

func normalizer() *Normalizer { return New(logger.NewNop()) }

func TestNormalizeTransactionShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "legacy",
			body: `{"id":"0x1","method":"thor_sendTransaction","origin":"https://app.example","genesisId":"` + testnet + `",
				"message":[{"to":"0x435933c8064b4Ae76bE665428e0307eF2cCFBD68","value":"0x1","data":"0x"}],
				"options":{"signer":"0xabc","comment":"swap"}}`,
		},
		{
			name: "enveloped clauses",
			body: `{"id":"0x1","method":"thor_sendTransaction","origin":"https://app.example","genesisId":"` + testnet + `","requestAPI":true,
				"params":{"clauses":[{"to":"0x435933c8064b4Ae76bE665428e0307eF2cCFBD68","value":"0x1","data":"0x"}],"options":{"signer":"0xabc","comment":"swap"}}}`,
		},
		{
			name: "enveloped message",
			body: `{"id":"0x1","method":"thor_sendTransaction","origin":"https://app.example","genesisId":"` + testnet + `","requestAPI":true,
				"params":{"message":[{"to":"0x435933c8064b4Ae76bE665428e0307eF2cCFBD68","value":"0x1","data":"0x"}],"options":{"signer":"0xabc","comment":"swap"}}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := normalizer().Normalize(Inbound{Channel: dapp.ChannelInApp, Body: []byte(tt.body), AppURL: "https://app.example", Source: "tab-1"})
			require.Nil(t, err)
			assert.Equal(t, "0x1", req.ID)
			assert.Equal(t, dapp.MethodRequestTransaction, req.Method)
			assert.Equal(t, dapp.ChannelInApp, req.Channel)
			assert.Equal(t, testnet, req.GenesisID)
			assert.Equal(t, "https://app.example", req.AppURL)
			assert.Equal(t, "tab-1", req.Source)
			assert.Equal(t, "0xabc", req.Options.Signer)
			assert.Equal(t, "swap", req.Options.Comment)

			p, ok := req.Payload.(dapp.TransactionPayload)
			require.True(t, ok)
			require.Len(t, p.Clauses, 1)
			require.NotNil(t, p.Clauses[0].To)
			assert.Equal(t, "0x435933c8064b4Ae76bE665428e0307eF2cCFBD68", *p.Clauses[0].To)
			assert.JSONEq(t, `"0x1"`, string(p.Clauses[0].Value))
		})
	}
}

func TestNormalizeInAppIgnoresBodyOrigin(t *testing.T) {
	body := `{"id":"7","method":"thor_wallet","origin":"https://victim.example"}`
	req, err := normalizer().Normalize(Inbound{Channel: dapp.ChannelInApp, Body: []byte(body)})
	require.Nil(t, err)
	assert.Empty(t, req.AppURL)

	req, err = normalizer().Normalize(Inbound{Channel: dapp.ChannelWalletConnect, Body: []byte(body)})
	require.Nil(t, err)
	assert.Equal(t, "https://victim.example", req.AppURL)
}

func TestNormalizeInboundAppURLWins(t *testing.T) {
	body := `{"id":"7","method":"thor_wallet","origin":"https://spoofed.example"}`
	req, err := normalizer().Normalize(Inbound{Channel: dapp.ChannelInApp, Body: []byte(body), AppURL: "https://real.example/page", AppName: "Real"})
	require.Nil(t, err)
	assert.Equal(t, "https://real.example/page", req.AppURL)
	assert.Equal(t, "Real", req.AppName)
	assert.Equal(t, dapp.EmptyPayload{Method: dapp.MethodWallet}, req.Payload)
}

func TestNormalizeNumericID(t *testing.T) {
	req, err := normalizer().Normalize(Inbound{Body: []byte(`{"id":42,"method":"thor_methods"}`)})
	require.Nil(t, err)
	assert.Equal(t, "42", req.ID)
}

func TestNormalizeCertificate(t *testing.T) {
	legacy := `{"id":"c1","method":"thor_signCertificate","message":{"purpose":"agreement","payload":{"type":"text","content":"terms"}}}`
	enveloped := `{"id":"c1","method":"thor_signCertificate","requestAPI":true,"params":{"message":{"purpose":"agreement","payload":{"type":"text","content":"terms"}}}}`
	for _, body := range []string{legacy, enveloped} {
		req, err := normalizer().Normalize(Inbound{Body: []byte(body)})
		require.Nil(t, err)
		p, ok := req.Payload.(dapp.CertificatePayload)
		require.True(t, ok)
		assert.Equal(t, "agreement", p.Message.Purpose)
		assert.Equal(t, "terms", p.Message.Payload.Content)
	}
}

func TestNormalizeTypedData(t *testing.T) {
	flat := `{"id":"t1","method":"thor_signTypedData","domain":{"name":"D"},"types":{"A":[{"name":"x","type":"uint256"}]},"value":{"x":1}}`
	enveloped := `{"id":"t1","method":"thor_signTypedData","requestAPI":true,"params":{"domain":{"name":"D"},"types":{"A":[{"name":"x","type":"uint256"}]},"value":{"x":1}}}`
	for _, body := range []string{flat, enveloped} {
		req, err := normalizer().Normalize(Inbound{Body: []byte(body)})
		require.Nil(t, err)
		p, ok := req.Payload.(dapp.TypedDataPayload)
		require.True(t, ok)
		assert.Equal(t, "D", p.Domain["name"])
		assert.Equal(t, []dapp.TypedField{{Name: "x", Type: "uint256"}}, p.Types["A"])
		assert.Equal(t, float64(1), p.Value["x"])
	}
}

func TestNormalizeConnectKinds(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind dapp.LoginKind
	}{
		{"null value", `{"id":"1","method":"thor_connect","value":null}`, dapp.LoginSimple},
		{"missing value", `{"id":"1","method":"thor_connect"}`, dapp.LoginSimple},
		{"certificate", `{"id":"1","method":"thor_connect","value":{"purpose":"identification","payload":{"type":"text","content":"hi"}}}`, dapp.LoginCertificate},
		{"typed data", `{"id":"1","method":"thor_connect","value":{"domain":{},"types":{},"value":{}}}`, dapp.LoginTypedData},
		{"enveloped", `{"id":"1","method":"thor_connect","requestAPI":true,"params":{"value":{"purpose":"identification","payload":{"type":"text","content":"hi"}}}}`, dapp.LoginCertificate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := normalizer().Normalize(Inbound{Body: []byte(tt.body)})
			require.Nil(t, err)
			p, ok := req.Payload.(dapp.ConnectPayload)
			require.True(t, ok)
			assert.Equal(t, tt.kind, p.Kind)
		})
	}
}

func TestNormalizeErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		kind    dapp.Kind
		message string
	}{
		{"unknown method", `{"id":"9","method":"eth_sendTransaction"}`, dapp.KindUnknownMethod, dapp.MsgUnknownMethod},
		{"personal sign is not handled", `{"id":"9","method":"personal_sign"}`, dapp.KindUnknownMethod, dapp.MsgUnknownMethod},
		{"clauses not array", `{"id":"9","method":"thor_sendTransaction","message":{"to":null}}`, dapp.KindMalformedPayload, dapp.MsgInvalidTransaction},
		{"certificate not object", `{"id":"9","method":"thor_signCertificate","message":"hello"}`, dapp.KindMalformedPayload, dapp.MsgInvalidCertificate},
		{"connect shape", `{"id":"9","method":"thor_connect","value":{"foo":1}}`, dapp.KindMalformedPayload, dapp.MsgInvalidConnect},
		{"connect scalar", `{"id":"9","method":"thor_connect","value":3}`, dapp.KindMalformedPayload, dapp.MsgInvalidConnect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := normalizer().Normalize(Inbound{Channel: dapp.ChannelWalletConnect, Body: []byte(tt.body)})
			require.NotNil(t, err)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.message, err.Message)
			require.NotNil(t, req)
			assert.Equal(t, "9", req.ID)
			assert.Equal(t, dapp.ChannelWalletConnect, req.Channel)
			assert.Nil(t, req.Payload)
		})
	}
}

func TestNormalizeInvalidJSON(t *testing.T) {
	req, err := normalizer().Normalize(Inbound{Body: []byte(`{"id":`)})
	require.NotNil(t, err)
	assert.Equal(t, dapp.KindMalformedPayload, err.Kind)
	assert.Empty(t, req.ID)
}

func TestNormalizeMalformedOptionsIgnored(t *testing.T) {
	body := `{"id":"1","method":"thor_wallet","options":{"gas":"lots"}}`
	req, err := normalizer().Normalize(Inbound{Body: []byte(body)})
	require.Nil(t, err)
	assert.Equal(t, dapp.Options{}, req.Options)
}
