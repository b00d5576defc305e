package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// HTTPDeliverer posts payloads over HTTP.
type HTTPDeliverer struct {
	client    *http.Client
	userAgent string
}

// NewHTTPDeliverer constructs a deliverer. Attempt timeouts come from the
// caller's context.
func NewHTTPDeliverer(client *http.Client, userAgent string) *HTTPDeliverer {
	if client == nil {
		client = &http.Client{}
	}
	if userAgent == "" {
		userAgent = "odyssey-gateway-webhooks/1"
	}
	return &HTTPDeliverer{client: client, userAgent: userAgent}
}

// Post implements Deliverer.
func (d *HTTPDeliverer) Post(ctx context.Context, url string, payload []byte, headers http.Header) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", d.userAgent)
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}
