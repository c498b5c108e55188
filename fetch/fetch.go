// Package fetch downloads remote scripts with a browser-like TLS fingerprint.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

const (
	defaultTimeoutSeconds = 30
	maxScriptSize         = 32 * 1024 * 1024
	userAgent             = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.StatusCode)
}

// TooLargeError reports a body over the size limit. Nothing is returned
// rather than a truncated script.
type TooLargeError struct {
	URL   string
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("fetching %s: script exceeds %d bytes", e.URL, e.Limit)
}

type Fetcher struct {
	client  tls_client.HttpClient
	maxSize int64
}

// New builds a Fetcher with a Chrome client profile. A timeout of zero or
// less uses the default of 30 seconds.
func New(timeoutSeconds int) (*Fetcher, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}

	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(timeoutSeconds),
		tls_client.WithClientProfile(profiles.Chrome_133),
		tls_client.WithCookieJar(tls_client.NewCookieJar()),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithDisableHttp3(),
	}

	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tls client: %w", err)
	}
	return NewWithClient(client), nil
}

func NewWithClient(client tls_client.HttpClient) *Fetcher {
	return &Fetcher{client: client, maxSize: maxScriptSize}
}

// IsURL reports whether input names an http(s) resource rather than a file.
func IsURL(input string) bool {
	u, err := url.Parse(input)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Script downloads the script at rawURL.
func (f *Fetcher) Script(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	setScriptHeaders(req, rawURL)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read script body: %w", err)
	}
	if int64(len(body)) > f.maxSize {
		return "", &TooLargeError{URL: rawURL, Limit: f.maxSize}
	}
	return string(body), nil
}

func setScriptHeaders(req *http.Request, rawURL string) {
	req.Header = http.Header{
		"sec-ch-ua-platform": {`"Windows"`},
		"user-agent":         {userAgent},
		"sec-ch-ua":          {`"Not(A:Brand";v="99", "Google Chrome";v="133", "Chromium";v="133"`},
		"sec-ch-ua-mobile":   {"?0"},
		"accept":             {"*/*"},
		"sec-fetch-site":     {"same-origin"},
		"sec-fetch-mode":     {"no-cors"},
		"sec-fetch-dest":     {"script"},
		"referer":            {originFromURL(rawURL) + "/"},
		"accept-encoding":    {"gzip, deflate, br, zstd"},
		"accept-language":    {"en-US,en;q=0.9"},
		http.HeaderOrderKey: {
			"sec-ch-ua-platform",
			"user-agent",
			"sec-ch-ua",
			"sec-ch-ua-mobile",
			"accept",
			"sec-fetch-site",
			"sec-fetch-mode",
			"sec-fetch-dest",
			"referer",
			"accept-encoding",
			"accept-language",
			"cookie",
		},
	}
}

func originFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimSuffix(raw, "/")
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
