// Package woocommerce validates WooCommerce REST API credentials.
package woocommerce

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/storchat/api/internal/httputil"
)

var (
	// ErrInvalidStoreURL is returned when the store URL is not an absolute
	// http(s) URL.
	ErrInvalidStoreURL = errors.New("invalid store url")
	// ErrInvalidCredentials is returned when the store rejects the key pair.
	ErrInvalidCredentials = errors.New("invalid woocommerce credentials")
	// ErrUpstream is returned for any other store failure.
	ErrUpstream = errors.New("woocommerce request failed")
)

const (
	systemStatusPath = "/wp-json/wc/v3/system_status"
	maxResponseBytes = 4 << 20 // 4 MiB
	maxErrorBytes    = 4 << 10
)

// Credentials is a WooCommerce consumer key pair for one store.
type Credentials struct {
	StoreURL       string `json:"store_url"`
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

// StoreInfo is what TestConnection reports about a reachable store.
type StoreInfo struct {
	URL                string `json:"url"`
	WooCommerceVersion string `json:"woocommerce_version,omitempty"`
	WordPressVersion   string `json:"wordpress_version,omitempty"`
	Currency           string `json:"currency,omitempty"`
}

// Client talks to WooCommerce stores.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client with the given request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := http.DefaultTransport
	if base, ok := http.DefaultTransport.(*http.Transport); ok {
		cloned := base.Clone()
		cloned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		transport = cloned
	}
	return &Client{httpClient: &http.Client{Timeout: timeout, Transport: transport}}
}

// NewClientWithHTTP wraps an existing http.Client.
func NewClientWithHTTP(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient}
}

// NormalizeStoreURL validates raw and strips trailing slashes.
func NormalizeStoreURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", ErrInvalidStoreURL
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", ErrInvalidStoreURL
	}
	if parsed.User != nil {
		return "", ErrInvalidStoreURL
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}

// TestConnection calls the system status endpoint with creds and returns basic
// store details when the credentials are accepted.
func (c *Client) TestConnection(ctx context.Context, creds Credentials) (*StoreInfo, error) {
	base, err := NormalizeStoreURL(creds.StoreURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+systemStatusPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrUpstream, err)
	}
	req.SetBasicAuth(creds.ConsumerKey, creds.ConsumerSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrInvalidCredentials
	}
	if resp.StatusCode >= 400 {
		body, _, _ := httputil.ReadAllWithLimit(resp.Body, maxErrorBytes)
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, msg)
	}

	body, err := httputil.ReadAllStrict(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: response is not JSON", ErrUpstream)
	}

	info := &StoreInfo{URL: base}
	result := gjson.ParseBytes(body)
	if v := result.Get("environment.site_url"); v.Exists() && v.String() != "" {
		info.URL = v.String()
	}
	info.WooCommerceVersion = result.Get("environment.version").String()
	info.WordPressVersion = result.Get("environment.wp_version").String()
	info.Currency = result.Get("settings.currency").String()
	return info, nil
}
