package chain

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stakewatch/internal/model"
)

// ClientConfig configures the sidecar client.
type ClientConfig struct {
	// BaseURL of a Substrate sidecar-style decode service.
	BaseURL string
	// RequestTimeout bounds one HTTP request. Defaults to 30s.
	RequestTimeout time.Duration
}

// Client fetches decoded blocks from a sidecar endpoint. The sidecar owns
// SCALE/metadata decoding; this client only maps its JSON onto the model.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

const maxResponseBytes = 32 * 1024 * 1024

// NewClient builds a sidecar client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("sidecar url is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// LatestBlockNumber returns the chain head height.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	body, err := c.get(ctx, "/blocks/head/header")
	if err != nil {
		return 0, err
	}
	number, err := decodeHeaderNumber(body)
	if err != nil {
		return 0, fmt.Errorf("decode header: %w", err)
	}
	return number, nil
}

// BlockByNumber fetches and decodes one block.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*model.Block, error) {
	body, err := c.get(ctx, fmt.Sprintf("/blocks/%d", number))
	if err != nil {
		return nil, err
	}
	block, err := DecodeBlock(body)
	if err != nil {
		return nil, fmt.Errorf("decode block %d: %w", number, err)
	}
	return block, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sidecar request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sidecar %s: status %d", path, resp.StatusCode)
	}
	return body, nil
}
