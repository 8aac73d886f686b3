package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Remote is a Generator backed by an HTTP gateway in front of the model.
// It POSTs {"prompt": ...} and decodes a Response. Each call is a single
// attempt; a non-2xx status is returned as an error.
type Remote struct {
	url  string
	http *http.Client
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithRemoteHTTPClient replaces the default HTTP client.
func WithRemoteHTTPClient(hc *http.Client) RemoteOption {
	return func(r *Remote) {
		if hc != nil {
			r.http = hc
		}
	}
}

// NewRemote creates a Remote posting to url.
func NewRemote(url string, opts ...RemoteOption) *Remote {
	r := &Remote{
		url:  url,
		http: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type remoteRequest struct {
	Prompt string `json:"prompt"`
}

// Generate implements Generator.
func (r *Remote) Generate(ctx context.Context, prompt string) (*Response, error) {
	body, err := json.Marshal(remoteRequest{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn().Str("url", r.url).Int("status", resp.StatusCode).Msg("generation gateway error")
		return nil, fmt.Errorf("generate status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
