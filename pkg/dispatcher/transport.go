package dispatcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const transportLogPrefix = "dispatcher:transport"

// Transport performs a synchronous HTTP exchange and returns the response
// body. Implementations block the caller until the body is available.
type Transport interface {
	Request(ctx context.Context, method, url, body string) (string, error)
}

// HTTPTransport is the net/http backed Transport. The zero value uses
// http.DefaultClient: no timeout, preserving the blocking-until-response
// contract of the dispatch surface. Response status codes are not inspected;
// the body passes through as-is.
type HTTPTransport struct {
	Client *http.Client
}

// Request performs the exchange and returns the response body.
func (t *HTTPTransport) Request(ctx context.Context, method, url, body string) (string, error) {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return "", fmt.Errorf("%s - failed to build %s request to %s: %w", transportLogPrefix, method, url, err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s - %s %s failed: %w", transportLogPrefix, method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%s - failed to read response from %s: %w", transportLogPrefix, url, err)
	}
	return string(data), nil
}
