// Package client is the HTTP transport for the wordvault wire protocol. It
// carries the session cookie between calls and signs mutations with the
// X-HMAC header once a signing key is set. It never retries.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/wordvault/api"
	"github.com/jmcleod/wordvault/crypto"
	"github.com/jmcleod/wordvault/errs"
	icrypto "github.com/jmcleod/wordvault/internal/crypto"
)

const (
	apiPrefix       = "/api/v1"
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 32 << 20
)

// Client talks to a wordvault server.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	timeout    time.Duration
	provider   crypto.Provider

	mu      sync.Mutex
	signing *memguard.Enclave
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. A cookie jar is added to
// a copy of it when it has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithProvider sets the crypto provider used for request signing.
func WithProvider(p crypto.Provider) Option {
	return func(c *Client) {
		c.provider = p
	}
}

// New creates a client for the server at baseURL, e.g.
// "https://vault.example.com:8443".
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errs.Validationf("server", "base URL is required")
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "wordvault-client",
		timeout:   defaultTimeout,
		provider:  crypto.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	var hc http.Client
	if c.httpClient != nil {
		hc = *c.httpClient
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		hc.Jar = jar
	}
	if hc.Timeout == 0 {
		hc.Timeout = c.timeout
	}
	c.httpClient = &hc
	return c, nil
}

// SetSigningKey installs the request-signing key used for X-HMAC. The
// slice is wiped.
func (c *Client) SetSigningKey(requestKey []byte) {
	enclave := memguard.NewEnclave(requestKey)
	c.mu.Lock()
	c.signing = enclave
	c.mu.Unlock()
}

// ClearSigningKey drops the signing key. Signed calls fail afterwards.
func (c *Client) ClearSigningKey() {
	c.mu.Lock()
	c.signing = nil
	c.mu.Unlock()
}

func (c *Client) sign(body []byte) (string, error) {
	c.mu.Lock()
	enclave := c.signing
	c.mu.Unlock()
	if enclave == nil {
		return "", fmt.Errorf("%w: no signing key", errs.ErrProtocolState)
	}
	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("%w: opening signing key", errs.ErrCryptoProvider)
	}
	defer buf.Destroy()
	return icrypto.RequestMAC(c.provider, buf.Bytes(), body)
}

type request struct {
	method      string
	path        string
	contentType string
	body        []byte
	signed      bool
}

// do sends req once and returns the response body of a 2xx reply.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	var reader io.Reader
	if req.body != nil {
		reader = bytes.NewReader(req.body)
	}
	url := c.baseURL + apiPrefix + req.path
	httpReq, err := http.NewRequestWithContext(ctx, req.method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.signed {
		mac, err := c.sign(req.body)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set(api.RequestMACHeader, mac)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Err: err, URL: url}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &NetworkError{Err: err, URL: url}
	}
	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(resp, data)
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, signed bool) error {
	req := request{method: method, path: path, signed: signed}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		req.body = body
		req.contentType = "application/json"
	}
	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func parseErrorResponse(resp *http.Response, body []byte) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
	var er api.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		apiErr.Message = er.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
