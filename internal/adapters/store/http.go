package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/televisit/internal/domain"
)

// HTTPSink posts call records to the relay's /api/calls endpoint.
type HTTPSink struct {
	url    string
	client *http.Client
}

func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *HTTPSink) WriteCallRecord(ctx context.Context, rec domain.CallRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post call record: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post call record: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

func (s *HTTPSink) Close() error { return nil }
