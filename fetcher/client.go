package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http2"
)

// SendResponseKind discriminates the outcomes of a single no-follow
// request.
type SendResponseKind int

const (
	// SendNotModified is a 304 answer to a conditional request.
	SendNotModified SendResponseKind = iota
	// SendRedirect is a 3xx answer; Headers carries the location.
	SendRedirect
	// SendSuccess is a 2xx answer with the body in Body.
	SendSuccess
)

// SendResponse is the result of HTTPClient.SendNoFollow.
type SendResponse struct {
	Kind    SendResponseKind
	Headers http.Header
	Body    []byte
}

// ErrNotFound is returned by HTTPClient implementations when the server
// answers 404.
var ErrNotFound = errors.New("not found")

// StatusError is returned by HTTPClient implementations for any other
// non-success status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status code %d", e.StatusCode)
}

// HTTPClient sends a single request. Implementations MUST NOT follow
// redirects; they return a SendRedirect response instead. They may retry
// the request on failure.
type HTTPClient interface {
	SendNoFollow(ctx context.Context, u *url.URL, headers http.Header) (*SendResponse, error)
}

// NetHTTPClient is the default HTTPClient backed by net/http with an
// HTTP/2-enabled transport.
type NetHTTPClient struct {
	Client *http.Client
}

// NewNetHTTPClient creates a NetHTTPClient with a configured
// http.Transport. Redirects are surfaced to the caller, never followed.
func NewNetHTTPClient() *NetHTTPClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
	}
	// opt the transport into HTTP/2 for https origins
	_ = http2.ConfigureTransport(transport)
	return &NetHTTPClient{
		Client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *NetHTTPClient) SendNoFollow(ctx context.Context, u *url.URL, headers http.Header) (*SendResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for key, values := range headers {
		req.Header[key] = values
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &SendResponse{Kind: SendNotModified}, nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return &SendResponse{Kind: SendRedirect, Headers: resp.Header}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return &SendResponse{Kind: SendSuccess, Headers: resp.Header, Body: body}, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
}
