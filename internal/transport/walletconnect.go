package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/normalize"
	"github.com/R3E-Network/dapp_gateway/internal/wallet"
)

// ChainNamespace prefixes WalletConnect chain ids for VeChain networks.
const ChainNamespace = "vechain"

var (
	ErrUnknownChain   = errors.New("walletconnect chain does not match a configured network")
	ErrMalformedEvent = errors.New("malformed walletconnect request event")
)

// Peer describes the dApp on the other side of a WalletConnect session.
type Peer struct {
	Name string
	URL  string
}

// NetworkForChain resolves "vechain:<suffix>" against networks by genesis id suffix.
func NetworkForChain(chainID string, networks []wallet.Network) (wallet.Network, error) {
	ns, ref, ok := strings.Cut(chainID, ":")
	if !ok || ns != ChainNamespace || ref == "" {
		return wallet.Network{}, fmt.Errorf("%w: %q", ErrUnknownChain, chainID)
	}
	ref = strings.ToLower(ref)
	for _, n := range networks {
		if strings.HasSuffix(strings.ToLower(n.GenesisID), ref) {
			return n, nil
		}
	}
	return wallet.Network{}, fmt.Errorf("%w: %q", ErrUnknownChain, chainID)
}

// ChainFor returns the chain id WalletConnect uses for a network: the
// namespace plus the last 32 hex characters of the genesis id.
func ChainFor(n wallet.Network) string {
	id := strings.TrimPrefix(strings.ToLower(n.GenesisID), "0x")
	if len(id) > 32 {
		id = id[len(id)-32:]
	}
	return ChainNamespace + ":" + id
}

// FromWalletConnect converts a session_request event into an Inbound in the
// flat request shape. The method and body come from params.request, the
// network from params.chainId; the page URL prefers the verified origin.
func FromWalletConnect(ev dapp.WalletConnectEvent, peer Peer, networks []wallet.Network) (normalize.Inbound, error) {
	params := gjson.ParseBytes(ev.Params)
	method := params.Get("request.method").String()
	if method == "" {
		return normalize.Inbound{}, fmt.Errorf("%w: missing request.method", ErrMalformedEvent)
	}
	network, err := NetworkForChain(params.Get("chainId").String(), networks)
	if err != nil {
		return normalize.Inbound{}, err
	}

	body := map[string]json.RawMessage{}
	if first := params.Get("request.params.0"); first.IsObject() {
		if err := json.Unmarshal([]byte(first.Raw), &body); err != nil {
			return normalize.Inbound{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
	}
	body["id"] = mustJSON(strconv.FormatInt(ev.ID, 10))
	body["method"] = mustJSON(method)
	body["genesisId"] = mustJSON(network.GenesisID)
	delete(body, "requestAPI")

	raw, err := json.Marshal(body)
	if err != nil {
		return normalize.Inbound{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	appURL := peer.URL
	if origin := gjson.GetBytes(ev.VerifyContext, "verified.origin").String(); origin != "" {
		appURL = origin
	}
	event := ev
	return normalize.Inbound{
		Channel: dapp.ChannelWalletConnect,
		Body:    raw,
		AppURL:  appURL,
		AppName: peer.Name,
		Event:   &event,
	}, nil
}

func mustJSON(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
