package wallet

import (
	"context"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
)

// TxRequest is everything the signer needs to build, sign and broadcast a
// dApp transaction. Gas estimation and delegation are the signer's concern.
type TxRequest struct {
	Account Account       `json:"account"`
	Network Network       `json:"network"`
	Clauses []dapp.Clause `json:"clauses"`
	Options dapp.Options  `json:"options"`
	AppURL  string        `json:"appUrl"`
	AppName string        `json:"appName"`
}

// Signer performs the cryptographic operations behind an approval. The gateway
// never touches key material.
type Signer interface {
	SendTransaction(ctx context.Context, req TxRequest) (txid string, err error)
	SignCertificate(ctx context.Context, account Account, cert Certificate, digest []byte) (signature string, err error)
	SignTypedData(ctx context.Context, account Account, data dapp.TypedData) (signature string, err error)
}

// TransactionResponse is the data of a successful transaction request.
type TransactionResponse struct {
	TxID   string `json:"txid"`
	Signer string `json:"signer"`
}
