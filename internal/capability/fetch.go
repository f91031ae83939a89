package capability

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
)

// ErrHostNotAllowed is returned for URLs whose host is not allowlisted.
var ErrHostNotAllowed = errors.New("fetch: host not allowed")

// defaultMaxBody caps response bodies returned into the sandbox.
const defaultMaxBody = 4 << 20

// maxRedirects matches the net/http default.
const maxRedirects = 10

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Status)
}

// FetchRequest describes one HTTP request made from sandboxed code.
type FetchRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Params  map[string]string
	// Data is sent verbatim as the body. Ignored when JSON is set.
	Data string
	// JSON is marshalled as the body with a JSON content type.
	JSON any
}

// Fetcher performs HTTP requests on behalf of sandboxed code.
type Fetcher struct {
	Client *http.Client

	// AllowedHosts limits reachable hosts. Empty allows every host.
	AllowedHosts []string

	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration

	// MaxBodyBytes caps the returned body. Zero uses 4 MiB.
	MaxBodyBytes int64
}

// NewFetcher creates a Fetcher with its own HTTP client.
func NewFetcher(timeout time.Duration, allowedHosts []string) *Fetcher {
	return &Fetcher{
		Client:       &http.Client{},
		AllowedHosts: allowedHosts,
		Timeout:      timeout,
	}
}

// Fetch performs req and returns the response body as text.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (string, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return "", fmt.Errorf("fetch: invalid url: %w", err)
	}
	if err := f.checkURL(u); err != nil {
		return "", err
	}
	if len(req.Params) > 0 {
		q := u.Query()
		for k, v := range req.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return "", fmt.Errorf("fetch: encode json body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	case req.Data != "":
		body = strings.NewReader(req.Data)
	}

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return "", fmt.Errorf("fetch: build request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	// Every redirect hop is held to the same scheme and host rules.
	client := http.Client{}
	if f.Client != nil {
		client = *f.Client
	}
	client.CheckRedirect = f.checkRedirect
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{URL: u.String(), StatusCode: resp.StatusCode, Status: resp.Status}
	}

	limit := f.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBody
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", fmt.Errorf("fetch: read body: %w", err)
	}
	return string(data), nil
}

func (f *Fetcher) checkURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("fetch: unsupported scheme %q", u.Scheme)
	}
	if !f.hostAllowed(u.Hostname()) {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Hostname())
	}
	return nil
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("fetch: stopped after %d redirects", maxRedirects)
	}
	return f.checkURL(req.URL)
}

func (f *Fetcher) hostAllowed(host string) bool {
	if len(f.AllowedHosts) == 0 {
		return true
	}
	for _, allowed := range f.AllowedHosts {
		if strings.EqualFold(allowed, host) {
			return true
		}
	}
	return false
}
