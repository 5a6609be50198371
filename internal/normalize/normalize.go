// Package normalize turns raw channel payloads into canonical dapp.Requests.
//
// Two request shapes are accepted. The legacy flat shape carries the method
// body next to the header ({id, method, genesisId, message, options}); the
// enveloped shape sets requestAPI and nests the body under params. A single
// accessor table maps each method to the paths its payload is read from.
package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/pkg/logger"
)

// Inbound is a raw request as received by a transport adapter.
type Inbound struct {
	Channel dapp.Channel
	Body    []byte
	// AppURL and AppName describe the page or peer the request came from.
	// In-app requests never take it from the body; other channels fall back
	// to the body's origin field when it is empty.
	AppURL   string
	AppName  string
	Source   string
	Event    *dapp.WalletConnectEvent
	External *dapp.ExternalTarget
}

// accessor lists the gjson paths a value is read from, first match wins.
type accessor struct {
	legacy    []string
	enveloped []string
}

func (a accessor) lookup(root gjson.Result, enveloped bool) gjson.Result {
	paths := a.legacy
	if enveloped {
		paths = a.enveloped
	}
	for _, p := range paths {
		if r := root.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

type entry struct {
	payload accessor
	decode  func(gjson.Result) (dapp.Payload, error)
	// invalid is the dApp-facing message when the payload cannot be decoded.
	invalid string
}

var (
	optionsAccessor = accessor{
		legacy:    []string{"options"},
		enveloped: []string{"params.options", "options"},
	}
	emptyAccessor = accessor{}
)

var table = map[dapp.Method]entry{
	dapp.MethodRequestTransaction: {
		payload: accessor{
			legacy:    []string{"message"},
			enveloped: []string{"params.clauses", "params.message"},
		},
		decode:  decodeTransaction,
		invalid: dapp.MsgInvalidTransaction,
	},
	dapp.MethodSignCertificate: {
		payload: accessor{
			legacy:    []string{"message"},
			enveloped: []string{"params.message", "params"},
		},
		decode:  decodeCertificate,
		invalid: dapp.MsgInvalidCertificate,
	},
	dapp.MethodSignTypedData: {
		payload: accessor{
			legacy:    []string{"message", "{domain,types,value}"},
			enveloped: []string{"params.message", "params"},
		},
		decode:  decodeTypedData,
		invalid: dapp.MsgInvalidTypedData,
	},
	dapp.MethodConnect: {
		payload: accessor{
			legacy:    []string{"value"},
			enveloped: []string{"params.value"},
		},
		decode:  decodeConnect,
		invalid: dapp.MsgInvalidConnect,
	},
	dapp.MethodWallet:       {payload: emptyAccessor, decode: empty(dapp.MethodWallet)},
	dapp.MethodDisconnect:   {payload: emptyAccessor, decode: empty(dapp.MethodDisconnect)},
	dapp.MethodMethods:      {payload: emptyAccessor, decode: empty(dapp.MethodMethods)},
	dapp.MethodSwitchWallet: {payload: emptyAccessor, decode: empty(dapp.MethodSwitchWallet)},
}

// Normalizer is the pure mapping from Inbound to Request.
type Normalizer struct {
	log *logger.Logger
}

// New creates a Normalizer. A nil logger falls back to the default.
func New(log *logger.Logger) *Normalizer {
	if log == nil {
		log = logger.NewDefault("normalize")
	}
	return &Normalizer{log: log}
}

// Normalize maps in to a canonical request. On failure the returned request
// still carries whatever header could be read (id, method, channel) so the
// caller can correlate the error response.
func (n *Normalizer) Normalize(in Inbound) (*dapp.Request, *dapp.Error) {
	req := &dapp.Request{
		Channel:  in.Channel,
		AppURL:   in.AppURL,
		AppName:  in.AppName,
		Source:   in.Source,
		Event:    in.Event,
		External: in.External,
	}
	if !gjson.ValidBytes(in.Body) {
		return req, dapp.NewError(dapp.KindMalformedPayload, dapp.MsgInternal)
	}

	root := gjson.ParseBytes(in.Body)
	req.ID = root.Get("id").String()
	req.Method = dapp.Method(root.Get("method").String())
	req.GenesisID = root.Get("genesisId").String()
	if req.AppURL == "" && in.Channel != dapp.ChannelInApp {
		req.AppURL = root.Get("origin").String()
	}
	enveloped := root.Get("requestAPI").Bool()

	e, ok := table[req.Method]
	if !ok {
		n.log.WithFields(map[string]interface{}{
			"method":  req.Method,
			"id":      req.ID,
			"channel": req.Channel.String(),
			"app_url": req.AppURL,
		}).Warn("Unknown method called")
		return req, dapp.NewError(dapp.KindUnknownMethod, dapp.MsgUnknownMethod)
	}

	if opts := optionsAccessor.lookup(root, enveloped); opts.IsObject() {
		if err := json.Unmarshal([]byte(opts.Raw), &req.Options); err != nil {
			n.log.WithError(err).WithField("id", req.ID).Debug("ignoring malformed request options")
			req.Options = dapp.Options{}
		}
	}

	payload, err := e.decode(e.payload.lookup(root, enveloped))
	if err != nil {
		n.log.WithError(err).WithFields(map[string]interface{}{
			"method": req.Method,
			"id":     req.ID,
		}).Debug("payload rejected")
		return req, dapp.Wrap(dapp.KindMalformedPayload, e.invalid, err)
	}
	req.Payload = payload
	return req, nil
}

func decodeTransaction(r gjson.Result) (dapp.Payload, error) {
	if !r.IsArray() {
		return nil, fmt.Errorf("clauses must be an array")
	}
	var clauses []dapp.Clause
	if err := json.Unmarshal([]byte(r.Raw), &clauses); err != nil {
		return nil, fmt.Errorf("decode clauses: %w", err)
	}
	return dapp.TransactionPayload{Clauses: clauses}, nil
}

func decodeCertificate(r gjson.Result) (dapp.Payload, error) {
	msg, err := certMessage(r)
	if err != nil {
		return nil, err
	}
	return dapp.CertificatePayload{Message: msg}, nil
}

func decodeTypedData(r gjson.Result) (dapp.Payload, error) {
	td, err := typedData(r)
	if err != nil {
		return nil, err
	}
	return dapp.TypedDataPayload{TypedData: td}, nil
}

// decodeConnect derives the login kind from the shape of value: absent or null
// is a simple login, a purpose member a certificate, a domain member typed data.
func decodeConnect(r gjson.Result) (dapp.Payload, error) {
	if !r.Exists() || r.Type == gjson.Null {
		return dapp.ConnectPayload{Kind: dapp.LoginSimple}, nil
	}
	if !r.IsObject() {
		return nil, fmt.Errorf("connect value must be an object or null")
	}
	switch {
	case r.Get("purpose").Exists():
		msg, err := certMessage(r)
		if err != nil {
			return nil, err
		}
		return dapp.ConnectPayload{Kind: dapp.LoginCertificate, Certificate: &msg}, nil
	case r.Get("domain").Exists():
		td, err := typedData(r)
		if err != nil {
			return nil, err
		}
		return dapp.ConnectPayload{Kind: dapp.LoginTypedData, TypedData: &td}, nil
	default:
		return nil, fmt.Errorf("connect value has neither purpose nor domain")
	}
}

func empty(m dapp.Method) func(gjson.Result) (dapp.Payload, error) {
	return func(gjson.Result) (dapp.Payload, error) {
		return dapp.EmptyPayload{Method: m}, nil
	}
}

func certMessage(r gjson.Result) (dapp.CertMessage, error) {
	var msg dapp.CertMessage
	if !r.IsObject() {
		return msg, fmt.Errorf("certificate message must be an object")
	}
	if err := json.Unmarshal([]byte(r.Raw), &msg); err != nil {
		return msg, fmt.Errorf("decode certificate: %w", err)
	}
	return msg, nil
}

func typedData(r gjson.Result) (dapp.TypedData, error) {
	var td dapp.TypedData
	if !r.IsObject() {
		return td, fmt.Errorf("typed data must be an object")
	}
	if err := json.Unmarshal([]byte(r.Raw), &td); err != nil {
		return td, fmt.Errorf("decode typed data: %w", err)
	}
	return td, nil
}
