// Package signerclient implements wallet.Signer against a remote signing
// service reached over HTTP with a service token.
package signerclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
	"github.com/R3E-Network/dapp_gateway/internal/wallet"
	"github.com/R3E-Network/dapp_gateway/pkg/logger"
)

const (
	// ServiceTokenHeader carries the signed service token.
	ServiceTokenHeader = "X-Service-Token"

	// ServiceID identifies the gateway to the signing service.
	ServiceID = "dapp-gateway"

	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 2
	defaultTokenExpiry = 5 * time.Minute
	maxResponseBytes   = 1 << 20
)

// ErrSigner wraps errors reported by the signing service.
var ErrSigner = errors.New("signing service error")

// ServiceClaims are the claims of a gateway service token.
type ServiceClaims struct {
	ServiceID string `json:"service_id"`
	jwt.RegisteredClaims
}

// Config configures the client.
type Config struct {
	BaseURL    string
	Secret     []byte
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Log        *logger.Logger
}

// Client is a wallet.Signer backed by the signing service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secret     []byte
	maxRetries int
	backoff    time.Duration
	log        *logger.Logger
}

var _ wallet.Signer = (*Client)(nil)

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("signerclient: base url is required")
	}
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("signerclient: secret is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	log := cfg.Log
	if log == nil {
		log = logger.NewDefault("signerclient")
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secret:     cfg.Secret,
		maxRetries: maxRetries,
		backoff:    200 * time.Millisecond,
		log:        log,
	}, nil
}

type txBody struct {
	Request wallet.TxRequest `json:"request"`
}

type certBody struct {
	Account     wallet.Account     `json:"account"`
	Certificate wallet.Certificate `json:"certificate"`
	Digest      string             `json:"digest"`
}

type typedBody struct {
	Account   wallet.Account `json:"account"`
	TypedData dapp.TypedData `json:"typedData"`
}

type signResponse struct {
	TxID      string `json:"txid,omitempty"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SendTransaction asks the service to build, sign and broadcast req.
func (c *Client) SendTransaction(ctx context.Context, req wallet.TxRequest) (string, error) {
	var out signResponse
	if err := c.post(ctx, "/v1/sign/transaction", txBody{Request: req}, &out); err != nil {
		return "", err
	}
	if out.TxID == "" {
		return "", fmt.Errorf("%w: empty txid", ErrSigner)
	}
	return out.TxID, nil
}

// SignCertificate asks the service to sign digest for account.
func (c *Client) SignCertificate(ctx context.Context, account wallet.Account, cert wallet.Certificate, digest []byte) (string, error) {
	var out signResponse
	body := certBody{Account: account, Certificate: cert, Digest: "0x" + hex.EncodeToString(digest)}
	if err := c.post(ctx, "/v1/sign/certificate", body, &out); err != nil {
		return "", err
	}
	return signature(out)
}

// SignTypedData asks the service to sign data for account.
func (c *Client) SignTypedData(ctx context.Context, account wallet.Account, data dapp.TypedData) (string, error) {
	var out signResponse
	if err := c.post(ctx, "/v1/sign/typed-data", typedBody{Account: account, TypedData: data}, &out); err != nil {
		return "", err
	}
	return signature(out)
}

func signature(out signResponse) (string, error) {
	if out.Signature == "" {
		return "", fmt.Errorf("%w: empty signature", ErrSigner)
	}
	return out.Signature, nil
}

// Token returns a fresh service token.
func (c *Client) Token() (string, error) {
	now := time.Now()
	claims := &ServiceClaims{
		ServiceID: ServiceID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(defaultTokenExpiry)),
			Issuer:    ServiceID,
			Subject:   ServiceID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// post sends body and decodes the reply into out, retrying 5xx replies and
// transport errors up to maxRetries times.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}

		retry, err := c.do(ctx, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
		c.log.WithError(err).WithField("path", path).WithField("attempt", attempt+1).Warn("signing request failed, retrying")
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, path string, payload []byte, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.Token()
	if err != nil {
		return false, fmt.Errorf("generate service token: %w", err)
	}
	req.Header.Set(ServiceTokenHeader, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return true, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(raw))
		var se signResponse
		if json.Unmarshal(raw, &se) == nil && se.Error != "" {
			msg = se.Error
		}
		return resp.StatusCode >= 500, fmt.Errorf("%w: status %d: %s", ErrSigner, resp.StatusCode, msg)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}
