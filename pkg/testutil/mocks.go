// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/R3E-Network/dapp_gateway/internal/approval"
	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/transport"
	"github.com/R3E-Network/dapp_gateway/internal/wallet"
)

// Well-known genesis ids used across tests.
const (
	MainGenesis = "0x00000000851caf3cfdb6e899cf5958bfb1ac3413d346d43539627e6be7ec1b4a"
	TestGenesis = "0x000000000b2bce3c70bc649a02749e8687721b09ed2e15997f466536b20bb127"
)

// Networks returns mainnet and testnet, mainnet first.
func Networks() []wallet.Network {
	return []wallet.Network{
		{Name: "main", GenesisID: MainGenesis, Type: "mainnet"},
		{Name: "test", GenesisID: TestGenesis, Type: "testnet"},
	}
}

// MockSigner is a test implementation of wallet.Signer that records calls.
type MockSigner struct {
	mu    sync.Mutex
	Err   error
	TxID  string
	Sig   string
	calls []string

	Transactions []wallet.TxRequest
	Certificates []wallet.Certificate
	TypedData    []dapp.TypedData
}

// NewMockSigner creates a signer answering with fixed values.
func NewMockSigner() *MockSigner {
	return &MockSigner{TxID: "0x" + repeat("ab", 32), Sig: "0x" + repeat("cd", 65)}
}

func (m *MockSigner) SendTransaction(_ context.Context, req wallet.TxRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "transaction")
	if m.Err != nil {
		return "", m.Err
	}
	m.Transactions = append(m.Transactions, req)
	return m.TxID, nil
}

func (m *MockSigner) SignCertificate(_ context.Context, _ wallet.Account, cert wallet.Certificate, _ []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "certificate")
	if m.Err != nil {
		return "", m.Err
	}
	m.Certificates = append(m.Certificates, cert)
	return m.Sig, nil
}

func (m *MockSigner) SignTypedData(_ context.Context, _ wallet.Account, data dapp.TypedData) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "typed-data")
	if m.Err != nil {
		return "", m.Err
	}
	m.TypedData = append(m.TypedData, data)
	return m.Sig, nil
}

// Calls returns the operations invoked so far.
func (m *MockSigner) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MockResponder records every dispatched response.
type MockResponder struct {
	mu        sync.Mutex
	responses []dapp.Response
	requests  []*dapp.Request
}

// NewMockResponder creates an empty responder.
func NewMockResponder() *MockResponder {
	return &MockResponder{}
}

// Dispatch records resp.
func (m *MockResponder) Dispatch(_ context.Context, req *dapp.Request, resp dapp.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.responses = append(m.responses, resp)
	return nil
}

// Responses returns every recorded response.
func (m *MockResponder) Responses() []dapp.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dapp.Response(nil), m.responses...)
}

// ForID returns the responses correlated with id.
func (m *MockResponder) ForID(id string) []dapp.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []dapp.Response
	for _, r := range m.responses {
		if r.ID == id {
			out = append(out, r)
		}
	}
	return out
}

// Count returns the number of recorded responses.
func (m *MockResponder) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.responses)
}

// MockPresenter records what the gateway shows.
type MockPresenter struct {
	mu        sync.Mutex
	presented []Presentation
	closed    []string
}

// Presentation is one recorded Present call.
type Presentation struct {
	Category approval.Category
	Request  *dapp.Request
	View     any
}

// NewMockPresenter creates an empty presenter.
func NewMockPresenter() *MockPresenter {
	return &MockPresenter{}
}

func (m *MockPresenter) Present(category approval.Category, req *dapp.Request, view any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presented = append(m.presented, Presentation{Category: category, Request: req, View: view})
}

func (m *MockPresenter) Close(_ approval.Category, requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, requestID)
}

// Presented returns every recorded presentation.
func (m *MockPresenter) Presented() []Presentation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Presentation(nil), m.presented...)
}

// Closed returns the ids of closed requests.
func (m *MockPresenter) Closed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.closed...)
}

// MockBridge is a test implementation of transport.BridgePoster.
type MockBridge struct {
	mu       sync.Mutex
	Err      error
	messages map[string][]dapp.Message
}

var _ transport.BridgePoster = (*MockBridge)(nil)

// NewMockBridge creates an empty bridge.
func NewMockBridge() *MockBridge {
	return &MockBridge{messages: make(map[string][]dapp.Message)}
}

func (m *MockBridge) PostMessage(_ context.Context, source string, msg dapp.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.messages[source] = append(m.messages[source], msg)
	return nil
}

// Messages returns the messages posted to source.
func (m *MockBridge) Messages(source string) []dapp.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dapp.Message(nil), m.messages[source]...)
}

// MockWalletConnect is a test implementation of transport.WalletConnectClient.
type MockWalletConnect struct {
	mu        sync.Mutex
	Processed map[int64]any
	Failed    map[int64]transport.RPCError
}

var _ transport.WalletConnectClient = (*MockWalletConnect)(nil)

// NewMockWalletConnect creates an empty client.
func NewMockWalletConnect() *MockWalletConnect {
	return &MockWalletConnect{Processed: make(map[int64]any), Failed: make(map[int64]transport.RPCError)}
}

func (m *MockWalletConnect) ProcessRequest(_ context.Context, event dapp.WalletConnectEvent, result any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Processed[event.ID] = result
	return nil
}

func (m *MockWalletConnect) FailRequest(_ context.Context, event dapp.WalletConnectEvent, rpcErr transport.RPCError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failed[event.ID] = rpcErr
	return nil
}

// NewHTTPTestServer starts an httptest server closed at test cleanup.
func NewHTTPTestServer(t testing.TB, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func repeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
