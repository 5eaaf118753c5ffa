package snapshotClient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/merkle"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
)

var (
	// ErrInvalidProof is returned when a proof served by the API does not verify locally
	ErrInvalidProof = errors.New("proof does not verify against the snapshot root")
	// ErrUnexpectedRoot is returned when a proof verifies but against a different root than the caller expects
	ErrUnexpectedRoot = errors.New("proof root does not match the expected root")
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides default retry settings
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialBackoff:  100 * time.Millisecond,
	MaxBackoff:      5 * time.Second,
	BackoffMultiple: 2.0,
}

// retryPolicy says which failures of a request may be sent again
type retryPolicy int

const (
	// retryIdempotent retries transport errors, 429 and 5xx
	retryIdempotent retryPolicy = iota
	// retryRateLimited only retries 429, which the server returns before a write is applied
	retryRateLimited
)

// APIError is a non-2xx response from the snapshot API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("snapshot API returned %d: %s", e.StatusCode, e.Message)
}

// retryable reports whether the request may succeed if sent again
func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ClientConfig holds the configuration for the snapshot client
type ClientConfig struct {
	BaseURL    string
	Logger     *zap.Logger
	HTTPClient *http.Client
	// Retry defaults to DefaultRetryConfig
	Retry *RetryConfig
}

// Client talks to a snapshot server. Proofs and trees are verified locally,
// so the server is never trusted for correctness.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *zap.Logger
}

// NewClient creates a new snapshot client
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.ParseRequestURI(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	retry := DefaultRetryConfig
	if config.Retry != nil {
		retry = *config.Retry
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}

	return &Client{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		httpClient:  httpClient,
		retryConfig: retry,
		logger:      config.Logger,
	}, nil
}

// CreateSnapshot submits a chain snapshot and returns its id
func (c *Client) CreateSnapshot(ctx context.Context, req *types.CreateSnapshotRequest) (string, error) {
	var resp types.CreateSnapshotResponse
	if err := c.do(ctx, http.MethodPost, "/v1/snapshots", req, &resp, retryRateLimited); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// CreateSnapshotFromBalances builds a snapshot from an explicit balance list
func (c *Client) CreateSnapshotFromBalances(ctx context.Context, req *types.CreateSnapshotFromBalancesRequest) (*types.SnapshotResponse, error) {
	var resp types.SnapshotResponse
	if err := c.do(ctx, http.MethodPost, "/v1/snapshots/balances", req, &resp, retryRateLimited); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListSnapshots returns every snapshot summary
func (c *Client) ListSnapshots(ctx context.Context) ([]types.SnapshotResponse, error) {
	var resp types.SnapshotsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/snapshots", nil, &resp, retryIdempotent); err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}

// GetSnapshot returns one snapshot summary
func (c *Client) GetSnapshot(ctx context.Context, id string) (*types.SnapshotResponse, error) {
	var resp types.SnapshotResponse
	if err := c.do(ctx, http.MethodGet, "/v1/snapshots/"+url.PathEscape(id), nil, &resp, retryIdempotent); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteSnapshot removes a snapshot
func (c *Client) DeleteSnapshot(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/snapshots/"+url.PathEscape(id), nil, nil, retryIdempotent)
}

// WaitForSnapshot polls until the snapshot leaves PENDING
func (c *Client) WaitForSnapshot(ctx context.Context, id string, interval time.Duration) (*types.SnapshotResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snapshot, err := c.GetSnapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		if snapshot.Status != string(types.SnapshotStatusPending) {
			return snapshot, nil
		}

		c.logger.Sugar().Debugw("Snapshot still pending", "id", id)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetProof fetches the proof of address and verifies it locally against the
// root in the response. Use GetProofForRoot to check membership in a root
// obtained elsewhere, such as the one published on-chain.
func (c *Client) GetProof(ctx context.Context, id string, address common.Address) (*merkle.MerkleProof, error) {
	path := fmt.Sprintf("/v1/snapshots/%s/proof?address=%s", url.PathEscape(id), address.Hex())

	var resp types.ProofResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, retryIdempotent); err != nil {
		return nil, err
	}

	proof, err := merkle.ProofFromResponse(&resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse proof: %w", err)
	}
	if proof.AccountBalance.Address != address {
		return nil, fmt.Errorf("%w: proof is for %s, requested %s", ErrInvalidProof, proof.AccountBalance.Address.Hex(), address.Hex())
	}

	hashFn, err := merkle.HashFunctionFromName(resp.HashFunction)
	if err != nil {
		return nil, err
	}
	if !proof.Verify(hashFn) {
		return nil, ErrInvalidProof
	}

	c.logger.Sugar().Debugw("Verified proof",
		"snapshot", id,
		"address", address.Hex(),
		"root", proof.RootHash.Hex(),
	)
	return proof, nil
}

// GetProofForRoot is GetProof that also requires the proof to end at expectedRoot
func (c *Client) GetProofForRoot(ctx context.Context, id string, address common.Address, expectedRoot merkle.Hash) (*merkle.MerkleProof, error) {
	proof, err := c.GetProof(ctx, id, address)
	if err != nil {
		return nil, err
	}
	if !proof.RootHash.Equal(expectedRoot) {
		return nil, fmt.Errorf("%w: got %s, expected %s", ErrUnexpectedRoot, proof.RootHash.Hex(), expectedRoot.Hex())
	}
	return proof, nil
}

// GetTree fetches the full tree of a snapshot and audits every hash in it.
// The returned balances are the leaves of the audited tree.
func (c *Client) GetTree(ctx context.Context, id string) (*merkle.TreeView, []*types.AccountBalance, error) {
	var view merkle.TreeView
	if err := c.do(ctx, http.MethodGet, "/v1/snapshots/"+url.PathEscape(id)+"/tree", nil, &view, retryIdempotent); err != nil {
		return nil, nil, err
	}

	hashFn, err := merkle.HashFunctionFromName(view.HashFn)
	if err != nil {
		return nil, nil, err
	}

	balances, err := merkle.AuditTreeView(&view, hashFn)
	if err != nil {
		return nil, nil, fmt.Errorf("tree audit failed: %w", err)
	}
	return &view, balances, nil
}

// Verify asks the server to check a leaf against a root
func (c *Client) Verify(ctx context.Context, req *types.VerifyRequest) (bool, error) {
	var resp types.VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/v1/verify", req, &resp, retryIdempotent); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// do sends a JSON request with retries and decodes the response into out.
// Which failures are retried depends on policy; 4xx other than 429 never are.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}, policy retryPolicy) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var lastErr error
	backoff := c.retryConfig.InitialBackoff
	for attempt := 0; attempt < c.retryConfig.MaxAttempts; attempt++ {
		lastErr = c.doOnce(ctx, method, path, data, out)
		if lastErr == nil {
			return nil
		}

		var apiErr *APIError
		isAPIErr := errors.As(lastErr, &apiErr)
		if isAPIErr && !apiErr.retryable() {
			return lastErr
		}
		if policy == retryRateLimited && (!isAPIErr || apiErr.StatusCode != http.StatusTooManyRequests) {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < c.retryConfig.MaxAttempts-1 {
			c.logger.Sugar().Debugw("Retrying snapshot API request",
				"method", method,
				"path", path,
				"attempt", attempt+1,
				"backoff", backoff.String(),
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * c.retryConfig.BackoffMultiple)
			if backoff > c.retryConfig.MaxBackoff {
				backoff = c.retryConfig.MaxBackoff
			}
		}
	}

	return fmt.Errorf("%s %s failed after %d attempts: %w", method, path, c.retryConfig.MaxAttempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, data []byte, out interface{}) error {
	var reader io.Reader
	if data != nil {
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp types.ErrorResponse
		if raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)); readErr == nil {
			if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
				apiErr.Message = errResp.Error
			} else {
				apiErr.Message = strings.TrimSpace(string(raw))
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
