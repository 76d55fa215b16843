// Package anchor provides HTTP clients for the external collaborators
// the core depends on but does not implement: the timestamping anchor
// service and the credential trust-score service. Both are thin,
// contract-documented boundaries — the mock behavior seen in early
// prototypes stays out of the core.
package anchor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/agoralabs/agora/internal/security"
)

// Client posts Merkle roots to an external anchor service (typically a
// chain-writer gateway) and returns the transaction reference.
// Implements domain.Anchorer.
type Client struct {
	http     *resty.Client
	identity *security.Keypair
}

// NewClient creates an anchor client for the given base URL.
func NewClient(baseURL string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second)
	return &Client{http: c}
}

// SetIdentity attaches the node keypair. When set, each submission
// carries the node's public key and an Ed25519 signature over the root.
func (c *Client) SetIdentity(kp *security.Keypair) { c.identity = kp }

type anchorRequest struct {
	Root      string `json:"root"`
	Signer    string `json:"signer,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type anchorResponse struct {
	Ref   string `json:"ref"`
	Error string `json:"error,omitempty"`
}

// Anchor publishes a root hash. The service is expected to be
// idempotent on root: re-anchoring the same root returns the original
// reference.
func (c *Client) Anchor(ctx context.Context, root string) (string, error) {
	req := anchorRequest{Root: root}
	if c.identity != nil {
		req.Signer = c.identity.PublicKeyHex()
		req.Signature = c.identity.SignHex([]byte(root))
	}

	var out anchorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/v1/anchors")
	if err != nil {
		return "", fmt.Errorf("anchor request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("anchor service: status %d: %s", resp.StatusCode(), out.Error)
	}
	if out.Ref == "" {
		return "", fmt.Errorf("anchor service returned empty reference")
	}
	return out.Ref, nil
}

// CredentialClient fetches 0-100 trust scores for an agent's verifiable
// credentials. Implements domain.CredentialVerifier.
type CredentialClient struct {
	http *resty.Client
}

// NewCredentialClient creates a trust-score client for the given base URL.
func NewCredentialClient(baseURL string) *CredentialClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2)
	return &CredentialClient{http: c}
}

type trustResponse struct {
	Score float64 `json:"score"`
	Error string  `json:"error,omitempty"`
}

// TrustScore returns the credential trust score for an agent.
// Unknown agents score zero rather than erroring, so a missing
// verification record degrades the score instead of blocking it.
func (c *CredentialClient) TrustScore(ctx context.Context, agentID string) (float64, error) {
	var out trustResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/agents/" + agentID + "/trust")
	if err != nil {
		return 0, fmt.Errorf("trust score request: %w", err)
	}
	if resp.StatusCode() == 404 {
		return 0, nil
	}
	if resp.IsError() {
		return 0, fmt.Errorf("credential service: status %d: %s", resp.StatusCode(), out.Error)
	}
	if out.Score < 0 || out.Score > 100 {
		return 0, fmt.Errorf("credential service returned out-of-range score %.2f", out.Score)
	}
	return out.Score, nil
}
