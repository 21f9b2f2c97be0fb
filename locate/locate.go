// Package locate implements a client for a service that tells which
// measurement server a probe should use.
//
// The service answers a GET request with a JSON object like
//
//	{"url": "https://speed-01.example.org/speedprobe"}
//
// where url is the base URL of the measurement endpoints. An empty body
// with status 204 means that no server is currently available.
package locate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrQueryFailed indicates a non-200 status code.
	ErrQueryFailed = errors.New("locate: query failed")

	// ErrNoAvailableServers is returned when there are no available servers.
	ErrNoAvailableServers = errors.New("locate: no available servers")
)

const (
	defaultTimeout = 14 * time.Second
	maxBodySize    = 1 << 16
)

// Client is a locate client.
type Client struct {
	// BaseURL is the URL of the locate service.
	BaseURL string

	// HTTPClient is the client that will perform the request. By default
	// it is initialized to an http.Client with a timeout.
	HTTPClient *http.Client

	// RequestMaker is the function that creates a request. By default
	// it is http.NewRequest; you may override it in tests.
	RequestMaker func(method, url string, body io.Reader) (*http.Request, error)

	// UserAgent is the user-agent that will be used.
	UserAgent string
}

// NewClient creates a new locate client for the service at baseURL.
func NewClient(baseURL, userAgent string) *Client {
	return &Client{
		BaseURL:      baseURL,
		HTTPClient:   &http.Client{Timeout: defaultTimeout},
		RequestMaker: http.NewRequest,
		UserAgent:    userAgent,
	}
}

type serverRecord struct {
	URL string `json:"url"`
}

// Query returns the base URL of the measurement server to use.
func (c *Client) Query(ctx context.Context) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	req, err := c.RequestMaker(http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", c.UserAgent)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return "", ErrNoAvailableServers
	}
	if resp.StatusCode != http.StatusOK {
		return "", ErrQueryFailed
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}
	var record serverRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return "", err
	}
	if record.URL == "" {
		return "", ErrNoAvailableServers
	}
	return record.URL, nil
}
