// Package enrichment resolves provider links to popularity signals used by
// card generation.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"packmarket/internal/domain"
	"packmarket/internal/economy"
)

const DefaultBaseURL = "https://api.spotify.com/v1"

var (
	ErrNotFound       = errors.New("provider entity not found")
	ErrUnsupportedURL = errors.New("unsupported provider url")
)

// Provider turns a source URL into a signal
type Provider interface {
	Lookup(ctx context.Context, sourceURL string) (*domain.Signal, error)
}

// Client is a music provider API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a provider client. An empty baseURL uses the public API.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type Artist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Popularity int    `json:"popularity"`
	Followers  struct {
		Total int64 `json:"total"`
	} `json:"followers"`
}

type Track struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Popularity int    `json:"popularity"`
	Artists    []struct {
		ID string `json:"id"`
	} `json:"artists"`
}

// Lookup resolves an artist or track link. Tracks take their popularity from
// the track and their reach from the first credited artist.
func (c *Client) Lookup(ctx context.Context, sourceURL string) (*domain.Signal, error) {
	kind, id, ok := economy.SourceID(sourceURL)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, sourceURL)
	}

	switch kind {
	case "artist":
		artist, err := c.GetArtist(ctx, id)
		if err != nil {
			return nil, err
		}
		return &domain.Signal{Popularity: artist.Popularity, Followers: artist.Followers.Total}, nil
	case "track":
		track, err := c.GetTrack(ctx, id)
		if err != nil {
			return nil, err
		}
		sig := &domain.Signal{Popularity: track.Popularity}
		if len(track.Artists) > 0 {
			artist, err := c.GetArtist(ctx, track.Artists[0].ID)
			if err != nil {
				return nil, err
			}
			sig.Followers = artist.Followers.Total
		}
		return sig, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, sourceURL)
}

// GetArtist retrieves an artist by id
func (c *Client) GetArtist(ctx context.Context, id string) (*Artist, error) {
	var artist Artist
	if err := c.get(ctx, "/artists/"+id, &artist); err != nil {
		return nil, err
	}
	return &artist, nil
}

// GetTrack retrieves a track by id
func (c *Client) GetTrack(ctx context.Context, id string) (*Track, error) {
	var track Track
	if err := c.get(ctx, "/tracks/"+id, &track); err != nil {
		return nil, err
	}
	return &track, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
