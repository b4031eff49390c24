package plata

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/garrettladley/plata/internal/version"
	"github.com/garrettladley/plata/internal/xhttp"
	go_json "github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL = "https://api.monobank.ua"
	DefaultTimeout = 10 * time.Second

	headerToken      = "X-Token"
	headerCMS        = "X-Cms"
	headerCMSVersion = "X-Cms-Version"

	cmsName = "plata"
)

// Client talks to the acquiring API. Requests authenticate with the merchant
// token supplied by the token source.
type Client struct {
	Merchant MerchantService

	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(tokenSource oauth2.TokenSource, opts ...Option) *Client {
	cfg := &clientConfig{
		baseURL:     DefaultBaseURL,
		tokenSource: tokenSource,
		logger:      slog.Default(),
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	base := cfg.base
	if base == nil {
		base = xhttp.NewTransport()
	}

	transport := &plataTransport{
		base:        base,
		tokenSource: cfg.tokenSource,
	}

	c := &Client{
		baseURL:    cfg.baseURL,
		httpClient: &http.Client{Transport: transport, Timeout: cfg.timeout},
		logger:     cfg.logger,
	}

	c.Merchant = &merchantService{client: c}

	return c
}

type clientConfig struct {
	baseURL     string
	tokenSource oauth2.TokenSource
	logger      *slog.Logger
	timeout     time.Duration
	base        http.RoundTripper
}

type Option func(*clientConfig)

func WithBaseURL(baseURL string) Option {
	return func(cfg *clientConfig) { cfg.baseURL = baseURL }
}

func WithLogger(logger *slog.Logger) Option {
	return func(cfg *clientConfig) { cfg.logger = logger }
}

func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) { cfg.timeout = d }
}

// WithTransport replaces the underlying round tripper. The token and CMS
// headers are still applied.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *clientConfig) { cfg.base = rt }
}

func (c *Client) do(ctx context.Context, method string, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.DebugContext(ctx, "plata api request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		return parseAPIError(resp)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if err := go_json.NewDecoder(bytes.NewReader(body)).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

type plataTransport struct {
	base        http.RoundTripper
	tokenSource oauth2.TokenSource
}

var _ http.RoundTripper = (*plataTransport)(nil)

func (t *plataTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}

	req = req.Clone(req.Context())
	req.Header.Set(headerToken, token.AccessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerCMS, cmsName)
	req.Header.Set(headerCMSVersion, version.Get())

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("round trip: %w", err)
	}
	return resp, nil
}
