package dapp

import (
	"errors"
	"fmt"
)

// Kind classifies a failure that ends a request.
type Kind int32

const (
	KindUnknown Kind = iota
	KindMalformedPayload
	KindSessionMismatch
	KindUnknownAccount
	KindUnknownNetwork
	KindUserRejected
	KindSigningFailure
	KindUnknownMethod
	KindUnsupported
	KindBusy
	KindSuperseded
	KindRateLimited
	KindNotReady
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindMalformedPayload:
		return "malformed_payload"
	case KindSessionMismatch:
		return "session_mismatch"
	case KindUnknownAccount:
		return "unknown_account"
	case KindUnknownNetwork:
		return "unknown_network"
	case KindUserRejected:
		return "user_rejected"
	case KindSigningFailure:
		return "signing_failure"
	case KindUnknownMethod:
		return "unknown_method"
	case KindUnsupported:
		return "unsupported"
	case KindBusy:
		return "busy"
	case KindSuperseded:
		return "superseded"
	case KindRateLimited:
		return "rate_limited"
	case KindNotReady:
		return "not_ready"
	default:
		return "unknown"
	}
}

// PrePresentation reports whether failures of this kind are resolved before any
// approval surface is shown.
func (k Kind) PrePresentation() bool {
	switch k {
	case KindMalformedPayload, KindSessionMismatch, KindUnknownAccount, KindUnknownNetwork,
		KindUnknownMethod, KindUnsupported, KindBusy, KindRateLimited:
		return true
	default:
		return false
	}
}

// Error is a classified gateway failure. Message is the exact text sent to the dApp.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies a collaborator error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// Messages sent verbatim to dApps.
const (
	MsgUnknownMethod        = "Unknown method called"
	MsgInvalidTransaction   = "Invalid transaction"
	MsgInvalidCertificate   = "Invalid certificate message"
	MsgInvalidTypedData     = "Invalid signed data message"
	MsgInvalidConnect       = "Invalid connect message"
	MsgInvalidLoginPurpose  = "Invalid certificate purpose for connecting"
	MsgPrefilledLoginClaim  = "Invalid veworld_login_address default value in typed data message for connecting"
	MsgSessionMismatch      = "Invalid request. Request signer is different from the session signer."
	MsgInvalidAccount       = "Invalid account"
	MsgInvalidNetwork       = "Invalid network"
	MsgCannotSwitchWallet   = "User cannot switch wallet"
	MsgUserRejectedThe      = "User rejected the request"
	MsgUserRejected         = "User rejected request"
	MsgTransactionFailed    = "There was an error processing the transaction"
	MsgInternal             = "Internal error"
	MsgLoginFailed          = "Login failed"
	MsgConfirmationPending  = "Another request is awaiting confirmation"
	MsgSuperseded           = "Request superseded by a newer request"
	MsgSurfaceBusy          = "Another request is being processed"
	MsgTooManyRequests      = "Too many requests"
	MsgSwitchWalletObserved = "Cannot select an observed account"
)
