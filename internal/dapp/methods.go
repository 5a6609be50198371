// Package dapp defines the canonical model shared by every stage of the dApp
// request gateway: the method catalogue, transport channels, the tagged
// Request union, correlated Responses and the error taxonomy.
package dapp

import "fmt"

// Method is the discriminant of a Request.
type Method string

const (
	MethodRequestTransaction Method = "thor_sendTransaction"
	MethodSignCertificate    Method = "thor_signCertificate"
	MethodSignTypedData      Method = "thor_signTypedData"
	MethodConnect            Method = "thor_connect"
	MethodWallet             Method = "thor_wallet"
	MethodDisconnect         Method = "thor_disconnect"
	MethodMethods            Method = "thor_methods"
	MethodSwitchWallet       Method = "thor_switchWallet"

	// MethodPersonalSign is part of the provider surface but is never advertised
	// and never handled.
	MethodPersonalSign Method = "personal_sign"
)

// Handled lists the methods the gateway accepts, in catalogue order.
var Handled = []Method{
	MethodRequestTransaction,
	MethodSignCertificate,
	MethodSignTypedData,
	MethodConnect,
	MethodWallet,
	MethodDisconnect,
	MethodMethods,
	MethodSwitchWallet,
}

// Catalogue is the full provider method list before advertisement filtering.
var Catalogue = append(append([]Method(nil), Handled...), MethodPersonalSign)

// Label returns m for use as a metric label. Methods outside the catalogue
// share one label.
func (m Method) Label() string {
	for _, c := range Catalogue {
		if c == m {
			return string(m)
		}
	}
	return "unknown"
}

// Known reports whether m is one of the handled methods.
func (m Method) Known() bool {
	for _, h := range Handled {
		if h == m {
			return true
		}
	}
	return false
}

// Signing reports whether m asks for a signature over dApp-supplied content.
func (m Method) Signing() bool {
	return m == MethodRequestTransaction || m == MethodSignCertificate || m == MethodSignTypedData
}

// Advertised returns the catalogue a dApp may call. personal_sign is always
// removed; thor_switchWallet is only offered alongside a permanent session.
func Advertised(permanentSession bool) []string {
	out := make([]string, 0, len(Catalogue))
	for _, m := range Catalogue {
		if m == MethodPersonalSign {
			continue
		}
		if m == MethodSwitchWallet && !permanentSession {
			continue
		}
		out = append(out, string(m))
	}
	return out
}

// Channel identifies the transport a request arrived on.
type Channel int32

const (
	ChannelUnknown Channel = iota
	ChannelInApp
	ChannelWalletConnect
	ChannelExternalApp
)

// String returns the channel label used in logs and metrics.
func (c Channel) String() string {
	switch c {
	case ChannelInApp:
		return "in-app"
	case ChannelWalletConnect:
		return "wallet-connect"
	case ChannelExternalApp:
		return "external-app"
	default:
		return fmt.Sprintf("channel(%d)", c)
	}
}
