// Package http provides the shared pooled HTTP client used by the HTTP
// sources, plus a JSON fetch helper that maps failures to monitor errors.
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	perrors "perfwatch/internal/errors"
)

// MaxBodySize bounds the documents Fetch reads.
const MaxBodySize = 32 << 20

// globalClient is the shared HTTP client with pooled connections.
var globalClient *http.Client

func init() {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	globalClient = &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// GetClient returns the global HTTP client.
func GetClient() *http.Client {
	return globalClient
}

// GetClientWithTimeout returns a client with a custom timeout sharing the
// global transport.
func GetClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: globalClient.Transport,
		Timeout:   timeout,
	}
}

// GetInsecureClient returns a client that skips TLS certificate checks, for
// appliances with self-signed certificates. It has its own transport.
func GetInsecureClient(timeout time.Duration) *http.Client {
	transport := globalClient.Transport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// Fetch performs a GET and returns the body of a 2xx response. Transport
// failures are Network errors, other statuses are Protocol errors.
func Fetch(ctx context.Context, client *http.Client, component, url string, header http.Header) ([]byte, error) {
	if client == nil {
		client = globalClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, perrors.ConfigError(fmt.Sprintf("%s: bad url %q: %v", component, url, err), "url")
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, perrors.NewError(perrors.ErrTypeTimeout, fmt.Sprintf("%s: GET %s timed out", component, url)).
				WithCause(err).
				WithComponent(component).
				Build()
		}
		return nil, perrors.NetworkError(fmt.Sprintf("%s: GET %s", component, url), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, perrors.NetworkError(fmt.Sprintf("%s: read %s", component, url), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, perrors.ProtocolError(component, fmt.Sprintf("GET %s: status %d", url, resp.StatusCode), nil)
	}
	return body, nil
}
