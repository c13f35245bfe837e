package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/akua-anchor/pkg/errors"
)

const errorBodyReadLimit int64 = 2048

// PublishResponse mirrors the publisher's POST /publish success body.
type PublishResponse struct {
	SHA256      string    `json:"sha256"`
	TxID        string    `json:"txid"`
	Status      string    `json:"status"`
	PublishedAt time.Time `json:"publishedAt"`
	Network     string    `json:"network"`
	Cached      bool      `json:"cached"`
}

type publishRequest struct {
	SHA256  string         `json:"sha256"`
	Meta    Meta           `json:"meta"`
	Options publishOptions `json:"options"`
}

type publishOptions struct {
	IdempotencyKey string `json:"idempotencyKey"`
}

// Publisher requests anchoring of a payload hash.
type Publisher interface {
	Publish(ctx context.Context, sha256 string, meta Meta) (*PublishResponse, error)
}

// HTTPPublisher calls the publisher service over HTTP.
type HTTPPublisher struct {
	url     string
	token   string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPPublisher(url, token string, timeout time.Duration, client *http.Client) (*HTTPPublisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("publisher url is required")
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPPublisher{
		url:     strings.TrimSpace(url),
		token:   strings.TrimSpace(token),
		timeout: timeout,
		client:  client,
	}, nil
}

// Publish posts the hash with the hash itself as idempotency key. Transport
// failures, timeouts, 408, 429 and 5xx come back as retryable errors; any
// other non-2xx status is CodeUpstreamRejected.
func (p *HTTPPublisher) Publish(ctx context.Context, sha256 string, meta Meta) (*PublishResponse, error) {
	payload, err := json.Marshal(publishRequest{
		SHA256:  sha256,
		Meta:    meta,
		Options: publishOptions{IdempotencyKey: sha256},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode publish request")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build publish request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	if meta.CorrelationID != nil {
		req.Header.Set("X-Correlation-Id", *meta.CorrelationID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publisher unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		cause := fmt.Errorf("publisher status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if transientStatus(resp.StatusCode) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "publisher temporarily failed")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstreamRejected, cause, "publisher rejected request")
	}

	var out PublishResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstreamRejected, err, "decode publish response")
	}
	return &out, nil
}

func transientStatus(status int) bool {
	return status >= http.StatusInternalServerError ||
		status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout
}
