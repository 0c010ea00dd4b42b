package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/net/proxy"

	"subforge/internal/logger"
	"subforge/internal/model"
)

// Identity is one set of request headers mimicking a subscription client.
type Identity struct {
	Name    string            `yaml:"name"`
	Headers map[string]string `yaml:"headers"`
}

// DefaultIdentities is the order clients are impersonated in. Providers
// that sniff the User-Agent return their richest format to the first one.
func DefaultIdentities() []Identity {
	return []Identity{
		{Name: "sing-box", Headers: map[string]string{"User-Agent": "sing-box/1.10.7"}},
		{Name: "clash.meta", Headers: map[string]string{"User-Agent": "clash.meta"}},
		{Name: "clash-verge", Headers: map[string]string{"User-Agent": "clash-verge/v2.0.3"}},
		{Name: "v2rayN", Headers: map[string]string{"User-Agent": "v2rayN/6.45"}},
		{Name: "browser", Headers: map[string]string{
			"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			"Accept":     "*/*",
		}},
	}
}

// Fetcher is a blocking GET with redirects followed.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) (status int, body []byte, err error)
}

// HTTPFetcher implements Fetcher over net/http, optionally through an
// upstream SOCKS5 proxy.
type HTTPFetcher struct {
	Client       *http.Client
	MaxBodyBytes int64
}

// NewHTTPFetcher builds a fetcher. socksAddr may be empty for direct access.
func NewHTTPFetcher(timeout time.Duration, socksAddr string, maxBody int64) (*HTTPFetcher, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Compression is negotiated by hand so zstd works too.
	transport.DisableCompression = true

	if socksAddr != "" {
		dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create socks5 dialer: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
		logger.Log.Debugf("Subscription fetcher using proxy: %s", socksAddr)
	}
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	return &HTTPFetcher{
		Client:       &http.Client{Timeout: timeout, Transport: transport},
		MaxBodyBytes: maxBody,
	}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept-Encoding", "zstd, gzip")

	resp, err := f.Client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "zstd":
		dec, err := zstd.NewReader(resp.Body)
		if err != nil {
			return resp.StatusCode, nil, fmt.Errorf("zstd: %w", err)
		}
		defer dec.Close()
		body = dec
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return resp.StatusCode, nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	data, err := io.ReadAll(io.LimitReader(body, f.MaxBodyBytes+1))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > f.MaxBodyBytes {
		return resp.StatusCode, nil, fmt.Errorf("body exceeds %d bytes", f.MaxBodyBytes)
	}
	return resp.StatusCode, data, nil
}

// Strategy fetches a subscription once per identity until one of them
// yields a parseable body.
type Strategy struct {
	Fetcher    Fetcher
	Identities []Identity
}

// FetchAndParse returns the first Config with at least one outbound. When
// every identity fails, the last error is returned; network failures are
// *FetchError values.
func (s *Strategy) FetchAndParse(ctx context.Context, url string) (*model.Config, error) {
	identities := s.Identities
	if len(identities) == 0 {
		identities = DefaultIdentities()
	}

	var lastErr error
	for _, id := range identities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		status, body, err := s.Fetcher.Fetch(ctx, url, id.Headers)
		if err != nil {
			lastErr = &FetchError{Kind: Classify(err), URL: url, Identity: id.Name, Err: err}
			logger.Log.Debugf("Fetch as %s failed: %v", id.Name, lastErr)
			continue
		}
		if status < 200 || status > 299 {
			lastErr = &FetchError{Kind: KindHTTPStatus, URL: url, Identity: id.Name, Status: status}
			logger.Log.Debugf("Fetch as %s failed: %v", id.Name, lastErr)
			continue
		}

		cfg, err := Parse(string(body))
		if err != nil {
			lastErr = fmt.Errorf("content fetched as %s: %w", id.Name, err)
			logger.Log.Debugf("Unparseable body as %s (%d bytes)", id.Name, len(body))
			continue
		}
		logger.Log.Debugf("Parsed %d outbounds from %s as %s", len(cfg.Outbounds), url, id.Name)
		return cfg, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no identities configured")
	}
	return nil, lastErr
}
