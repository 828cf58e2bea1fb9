package webhook

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/barterlabs/go-barter/util"
)

// HTTPTransport is the default Transport: a plain POST with a bounded
// request timeout. Retries are the dispatcher's concern, not the
// transport's.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport returns a transport with the default 10s request timeout.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{client: &http.Client{Timeout: defaultTimeout}}
}

// NewHTTPTransportWithTimeout returns a transport with a custom timeout.
func NewHTTPTransportWithTimeout(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) Deliver(ctx context.Context, d Delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Body))
	if err != nil {
		return err
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return util.BodyAsError(res)
	}
	return nil
}
