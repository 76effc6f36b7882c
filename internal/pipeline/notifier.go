package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseSize caps how much of a webhook response is recorded.
const maxResponseSize = 64 << 10

// Notifier posts webhook bodies.
type Notifier struct {
	client  *http.Client
	timeout time.Duration
}

func NewNotifier(client *http.Client, timeout time.Duration) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Notifier{client: client, timeout: timeout}
}

// Post sends body as JSON and returns the response status and text. A
// delivery failure is not an error: it comes back as code 0 with the error
// text as the response. err is only set when the request cannot be built.
func (n *Notifier) Post(ctx context.Context, url string, body any) (int, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to encode webhook body: %w", err)
	}
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", invalidInput("invalid callback url: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err.Error(), nil
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, err.Error(), nil
	}
	return resp.StatusCode, string(raw), nil
}
