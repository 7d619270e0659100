package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"i4.energy/across/smsrx/modem"
)

// Webhook POSTs the JSON Envelope of every message to URL.
type Webhook struct {
	URL string
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

func (w Webhook) Deliver(ctx context.Context, msg *modem.Message) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: unexpected status %s", resp.Status)
	}
	return nil
}
