// Package nocache builds HTTP requests that no cache along the path
// should be able to answer.
package nocache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// BusterParam is the query parameter carrying the cache-busting token.
const BusterParam = "r"

// Token returns a new cache-busting token.
func Token() string {
	return uuid.NewString()
}

// URL parses rawURL, merges extra into its query and sets the cache
// busting parameter to token.
func URL(rawURL string, extra url.Values, token string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL %q has no host", rawURL)
	}
	query := u.Query()
	for key, values := range extra {
		query.Del(key)
		for _, value := range values {
			query.Add(key, value)
		}
	}
	query.Set(BusterParam, token)
	u.RawQuery = query.Encode()
	return u, nil
}

// NewRequest creates a request for rawURL with a fresh cache-busting
// token and headers asking intermediaries not to serve or store it.
func NewRequest(
	ctx context.Context, method, rawURL string, extra url.Values, body io.Reader,
) (*http.Request, error) {
	u, err := URL(rawURL, extra, Token())
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")
	// Count bytes as they travel on the wire.
	req.Header.Set("Accept-Encoding", "identity")
	return req, nil
}
