package locate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"testing"
)

// reponseBody is a fake HTTP response body.
type reponseBody struct {
	reader io.Reader
}

// newResponseBody creates a new response body.
func newResponseBody(data []byte) io.ReadCloser {
	return &reponseBody{
		reader: bytes.NewReader(data),
	}
}

// Read reads the response body.
func (r *reponseBody) Read(p []byte) (n int, err error) {
	return r.reader.Read(p)
}

// Close closes the response body.
func (r *reponseBody) Close() error {
	return nil
}

type httpTransport struct {
	Response *http.Response
	Error    error
	Request  *http.Request
}

// newHTTPClient returns a mocked *http.Client.
func newHTTPClient(code int, body []byte, err error) (*http.Client, *httpTransport) {
	txp := &httpTransport{
		Error: err,
		Response: &http.Response{
			Body:       newResponseBody(body),
			StatusCode: code,
		},
	}
	return &http.Client{Transport: txp}, txp
}

func (r *httpTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r.Request = req
	// http.Client.Do warns if both Error and Response are non nil
	if r.Error != nil {
		return nil, r.Error
	}
	return r.Response, nil
}

const (
	baseURL   = "https://locate.invalid/v1/speedprobe"
	userAgent = "speedprobe-go/0.1.0"
)

func TestQueryCommonCase(t *testing.T) {
	const expectedURL = "https://speed-01.invalid/speedprobe"
	client := NewClient(baseURL, userAgent)
	var txp *httpTransport
	client.HTTPClient, txp = newHTTPClient(
		200, []byte(fmt.Sprintf(`{"url":"%s"}`, expectedURL)), nil,
	)
	got, err := client.Query(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != expectedURL {
		t.Fatal("Not the URL we were expecting")
	}
	if txp.Request.Header.Get("User-Agent") != userAgent {
		t.Fatal("User-Agent was not set")
	}
}

func TestQueryURLError(t *testing.T) {
	client := NewClient("\t", userAgent) // breaks the parser
	_, err := client.Query(context.Background())
	if err == nil {
		t.Fatal("We were expecting an error here")
	}
}

func TestQueryNewRequestError(t *testing.T) {
	mockedError := errors.New("mocked error")
	client := NewClient(baseURL, userAgent)
	client.RequestMaker = func(
		method, url string, body io.Reader) (*http.Request, error,
	) {
		return nil, mockedError
	}
	_, err := client.Query(context.Background())
	if err != mockedError {
		t.Fatal("Not the error we were expecting")
	}
}

func TestQueryNetworkError(t *testing.T) {
	mockedError := errors.New("mocked error")
	client := NewClient(baseURL, userAgent)
	client.HTTPClient, _ = newHTTPClient(0, []byte{}, mockedError)
	_, err := client.Query(context.Background())
	// The return value of http.Client.Do is always a *url.Error.
	var urlErr *url.Error
	if !errors.As(err, &urlErr) || urlErr.Err != mockedError {
		t.Fatal("Not the error we were expecting")
	}
}

func TestQueryInvalidStatusCode(t *testing.T) {
	client := NewClient(baseURL, userAgent)
	client.HTTPClient, _ = newHTTPClient(500, []byte{}, nil)
	_, err := client.Query(context.Background())
	if err != ErrQueryFailed {
		t.Fatal("Not the error we were expecting")
	}
}

func TestQueryJSONParseError(t *testing.T) {
	client := NewClient(baseURL, userAgent)
	client.HTTPClient, _ = newHTTPClient(200, []byte("{"), nil)
	_, err := client.Query(context.Background())
	if err == nil {
		t.Fatal("We expected an error here")
	}
}

func TestQueryNoServers(t *testing.T) {
	client := NewClient(baseURL, userAgent)
	client.HTTPClient, _ = newHTTPClient(204, []byte(""), nil)
	_, err := client.Query(context.Background())
	if err != ErrNoAvailableServers {
		t.Fatal("Not the error we were expecting")
	}
}

func TestQueryEmptyURL(t *testing.T) {
	client := NewClient(baseURL, userAgent)
	client.HTTPClient, _ = newHTTPClient(200, []byte(`{"url":""}`), nil)
	_, err := client.Query(context.Background())
	if err != ErrNoAvailableServers {
		t.Fatal("Not the error we were expecting")
	}
}
