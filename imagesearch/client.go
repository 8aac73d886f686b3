// Package imagesearch finds a stock photo for a search term through a
// Pexels-compatible search API.
package imagesearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the public Pexels API.
const DefaultBaseURL = "https://api.pexels.com/v1"

// ErrNoResults is returned when a search matched no photos.
var ErrNoResults = errors.New("no image results")

// APIError is a non-2xx response from the search API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("image search status %d: %s", e.StatusCode, e.Body)
}

// Photo is one search hit.
type Photo struct {
	ID           int64    `json:"id"`
	URL          string   `json:"url"`
	Alt          string   `json:"alt"`
	Photographer string   `json:"photographer"`
	Src          PhotoSrc `json:"src"`
}

// PhotoSrc lists the renditions of a photo.
type PhotoSrc struct {
	Original string `json:"original"`
	Large    string `json:"large"`
	Medium   string `json:"medium"`
}

type searchResponse struct {
	Photos []Photo `json:"photos"`
}

// Client queries the search API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New creates a Client. An empty baseURL uses DefaultBaseURL.
func New(baseURL, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Top returns the best match for query.
func (c *Client) Top(ctx context.Context, query string) (*Photo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("image search query cannot be empty")
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build image search request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode image search response: %w", err)
	}
	if len(out.Photos) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoResults, query)
	}

	log.Debug().Str("query", query).Int64("photo_id", out.Photos[0].ID).Msg("image search hit")
	return &out.Photos[0], nil
}
