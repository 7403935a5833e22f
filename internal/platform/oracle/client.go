// Package oracle is the HTTP client for the commit/reveal outcome oracle.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/marketsim/internal/crypto"
	"github.com/alanyoungcy/marketsim/internal/domain"
)

// DefaultKeyID identifies the engine to the oracle in signed requests.
const DefaultKeyID = "marketsim"

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	KeyID   string
	Timeout time.Duration
}

// Client implements domain.OracleClient. Batch calls are signed with
// HMAC-SHA256 over timestamp, method, path and body when an API key is set.
type Client struct {
	baseURL string
	signer  *crypto.RequestSigner
	http    *http.Client
	logger  *slog.Logger
}

// New creates an oracle Client.
func New(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var signer *crypto.RequestSigner
	if cfg.APIKey != "" {
		keyID := cfg.KeyID
		if keyID == "" {
			keyID = DefaultKeyID
		}
		signer = &crypto.RequestSigner{Key: keyID, Secret: cfg.APIKey}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		signer:  signer,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "oracle")),
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Healthy *bool  `json:"healthy,omitempty"`
}

// HealthCheck reports whether the oracle is ready to accept batches. A
// transport failure is returned as an error; a reachable but unhealthy
// oracle is (false, nil).
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("oracle: create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("oracle: health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return false, nil
	}
	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		// A 2xx without a JSON body still counts as up.
		return true, nil
	}
	if h.Healthy != nil {
		return *h.Healthy, nil
	}
	switch strings.ToLower(h.Status) {
	case "", "ok", "healthy", "up":
		return true, nil
	}
	return false, nil
}

type commitRequest struct {
	Items []domain.OracleCommitItem `json:"items"`
}

type commitResponse struct {
	Successful []struct {
		QuestionID  string `json:"questionId"`
		SessionID   string `json:"sessionId"`
		Commitment  string `json:"commitment"`
		TxHash      string `json:"txHash"`
		BlockNumber int64  `json:"blockNumber"`
	} `json:"successful"`
	Failed []domain.OracleFailure `json:"failed"`
}

// BatchCommit submits outcome commitments for items.
func (c *Client) BatchCommit(ctx context.Context, items []domain.OracleCommitItem) (domain.OracleCommitBatch, error) {
	var resp commitResponse
	if err := c.post(ctx, "/batch/commit", commitRequest{Items: items}, &resp); err != nil {
		return domain.OracleCommitBatch{}, err
	}
	out := domain.OracleCommitBatch{Failed: resp.Failed}
	for _, s := range resp.Successful {
		out.Successful = append(out.Successful, domain.OracleCommit{
			QuestionID:  s.QuestionID,
			SessionID:   s.SessionID,
			Commitment:  s.Commitment,
			TxHash:      s.TxHash,
			BlockNumber: s.BlockNumber,
		})
	}
	return out, nil
}

type revealRequest struct {
	Items []domain.OracleRevealItem `json:"items"`
}

type revealResponse struct {
	Successful []struct {
		QuestionID  string `json:"questionId"`
		TxHash      string `json:"txHash"`
		BlockNumber int64  `json:"blockNumber"`
	} `json:"successful"`
	Failed []domain.OracleFailure `json:"failed"`
}

// BatchReveal publishes previously committed outcomes.
func (c *Client) BatchReveal(ctx context.Context, items []domain.OracleRevealItem) (domain.OracleRevealBatch, error) {
	var resp revealResponse
	if err := c.post(ctx, "/batch/reveal", revealRequest{Items: items}, &resp); err != nil {
		return domain.OracleRevealBatch{}, err
	}
	out := domain.OracleRevealBatch{Failed: resp.Failed}
	for _, s := range resp.Successful {
		out.Successful = append(out.Successful, domain.OracleReveal{
			QuestionID:  s.QuestionID,
			TxHash:      s.TxHash,
			BlockNumber: s.BlockNumber,
		})
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("oracle: marshal %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("oracle: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.signer != nil {
		for k, v := range c.signer.Headers(http.MethodPost, path, string(payload)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("oracle: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("oracle: %s: status %d: %s", path, resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("oracle: decode %s: %w", path, err)
	}
	c.logger.DebugContext(ctx, "oracle batch sent", slog.String("path", path))
	return nil
}

var _ domain.OracleClient = (*Client)(nil)
