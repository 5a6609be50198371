package transport

import "github.com/R3E-Network/dapp_gateway/internal/dapp"

// RPCError is the {code, message} body of a WalletConnect failRequest.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e RPCError) Error() string { return e.Message }

var (
	RPCUserRejected   = RPCError{Code: 4001, Message: "User rejected the request."}
	RPCInternal       = RPCError{Code: -32603, Message: "Internal JSON-RPC error."}
	RPCInvalidParams  = RPCError{Code: -32602, Message: "Invalid method parameter(s)."}
	RPCMethodNotFound = RPCError{Code: -32601, Message: "The method does not exist / is not available."}
)

// RPCErrorFor maps a gateway error onto the WalletConnect error a dApp expects.
func RPCErrorFor(err *dapp.Error) RPCError {
	if err == nil {
		return RPCInternal
	}
	switch err.Kind {
	case dapp.KindUserRejected:
		return RPCUserRejected
	case dapp.KindUnknownMethod:
		return RPCMethodNotFound
	case dapp.KindMalformedPayload:
		return RPCError{Code: RPCInvalidParams.Code, Message: err.Message}
	default:
		return RPCInternal
	}
}
