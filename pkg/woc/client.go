// Package woc is a minimal WhatsOnChain client for funding UTXO lookup and
// raw transaction broadcast.
package woc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/akua-anchor/pkg/bsv"
	"github.com/jpillora/backoff"
)

const (
	mainnetBaseURL = "https://api.whatsonchain.com/v1/bsv/main"
	testnetBaseURL = "https://api.whatsonchain.com/v1/bsv/test"

	responseBodyReadLimit int64 = 4096
	defaultFetchAttempts        = 4
)

// StatusError carries a non-2xx WhatsOnChain response verbatim.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("whatsonchain status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus exposes the upstream status to error diagnostics.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// Transient reports whether retrying the same request may succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Client talks to the WhatsOnChain REST API of one network.
type Client struct {
	httpClient *http.Client
	baseURL    string
	network    bsv.Network

	fetchAttempts int
	retryMin      time.Duration
	retryMax      time.Duration
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the network default API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithFetchRetry bounds UTXO fetch retries.
func WithFetchRetry(attempts int, minDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.fetchAttempts = attempts
		}
		c.retryMin = minDelay
		c.retryMax = maxDelay
	}
}

func NewClient(network bsv.Network, opts ...Option) *Client {
	client := &Client{
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		baseURL:       BaseURL(network),
		network:       network,
		fetchAttempts: defaultFetchAttempts,
		retryMin:      250 * time.Millisecond,
		retryMax:      4 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// BaseURL returns the public API root for network.
func BaseURL(network bsv.Network) string {
	if network == bsv.Mainnet {
		return mainnetBaseURL
	}
	return testnetBaseURL
}

type unspentOutput struct {
	TxHash string `json:"tx_hash"`
	TxPos  uint32 `json:"tx_pos"`
	Value  int64  `json:"value"`
	Height int64  `json:"height"`
}

// FetchUTXOs lists the unspent outputs of address with their P2PKH locking
// script filled in. Rate limiting, 5xx and network failures are retried.
func (c *Client) FetchUTXOs(ctx context.Context, address string) ([]bsv.UTXO, error) {
	script, err := bsv.PayToAddressScript(address, c.network)
	if err != nil {
		return nil, err
	}
	scriptHex := hex.EncodeToString(script)
	endpoint := c.buildURL(fmt.Sprintf("address/%s/unspent", url.PathEscape(address)))

	bo := &backoff.Backoff{Min: c.retryMin, Max: c.retryMax, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 1; attempt <= c.fetchAttempts; attempt++ {
		outputs, err := c.fetchUnspent(ctx, endpoint)
		if err == nil {
			utxos := make([]bsv.UTXO, 0, len(outputs))
			for _, out := range outputs {
				utxos = append(utxos, bsv.UTXO{
					TxID:     out.TxHash,
					Vout:     out.TxPos,
					Satoshis: out.Value,
					Script:   scriptHex,
				})
			}
			return utxos, nil
		}
		lastErr = err
		if !retryable(err) || attempt == c.fetchAttempts {
			break
		}

		timer := time.NewTimer(bo.Duration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("fetch utxos for %s: %w", address, lastErr)
}

func (c *Client) fetchUnspent(ctx context.Context, endpoint string) ([]unspentOutput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var outputs []unspentOutput
	if err := json.NewDecoder(resp.Body).Decode(&outputs); err != nil {
		return nil, fmt.Errorf("decode unspent response: %w", err)
	}
	return outputs, nil
}

// Broadcast submits a raw transaction and returns the txid reported by the
// node. Failures are returned as-is; callers decide on retries.
func (c *Client) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	payload, err := json.Marshal(map[string]string{"txhex": rawTxHex})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("tx/raw"), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return "", fmt.Errorf("read broadcast response: %w", err)
	}
	var txid string
	if err := json.Unmarshal(body, &txid); err != nil {
		txid = strings.TrimSpace(string(body))
	}
	if txid == "" {
		return "", errors.New("broadcast response carried no txid")
	}
	return txid, nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
}

func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var syntaxErr *json.SyntaxError
	return !errors.As(err, &syntaxErr)
}
