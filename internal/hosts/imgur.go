// Package hosts talks to the media hosts' metadata APIs to turn the ids
// found in post URLs into direct media links.
package hosts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ImgurClient resolves image and album ids through the Imgur v3 API. When a
// Mashape key is configured, requests go through the Mashape gateway and
// carry the extra key header.
type ImgurClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	clientID   string
	mashapeKey string
}

type ImgurOption func(*ImgurClient)

func WithImgurHTTPClient(c *http.Client) ImgurOption {
	return func(ic *ImgurClient) { ic.httpClient = c }
}

func WithImgurLimiter(l *rate.Limiter) ImgurOption {
	return func(ic *ImgurClient) { ic.limiter = l }
}

func NewImgurClient(baseURL, clientID, mashapeKey string, opts ...ImgurOption) *ImgurClient {
	c := &ImgurClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		// Imgur allows 12,500 client requests a day.
		limiter:    rate.NewLimiter(rate.Every(500*time.Millisecond), 4),
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   clientID,
		mashapeKey: mashapeKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type imgurImage struct {
	ID     string `json:"id"`
	Link   string `json:"link"`
	Type   string `json:"type"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type imgurEnvelope[T any] struct {
	Data    T    `json:"data"`
	Success bool `json:"success"`
	Status  int  `json:"status"`
}

// Image returns the direct link for an image id.
func (c *ImgurClient) Image(ctx context.Context, id string) (string, error) {
	const op = "hosts.ImgurClient.Image"

	var env imgurEnvelope[imgurImage]
	if err := c.get(ctx, "/image/"+id, &env); err != nil {
		return "", fmt.Errorf("%s: %s: %w", op, id, err)
	}
	if env.Data.Link == "" {
		return "", fmt.Errorf("%s: %s: no link in response", op, id)
	}
	return env.Data.Link, nil
}

// Album returns the direct links of every image in an album, in album order.
func (c *ImgurClient) Album(ctx context.Context, id string) ([]string, error) {
	const op = "hosts.ImgurClient.Album"

	var env imgurEnvelope[[]imgurImage]
	if err := c.get(ctx, "/album/"+id+"/images", &env); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, id, err)
	}
	links := make([]string, 0, len(env.Data))
	for _, img := range env.Data {
		if img.Link != "" {
			links = append(links, img.Link)
		}
	}
	return links, nil
}

func (c *ImgurClient) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Client-ID "+c.clientID)
	req.Header.Set("Accept", "application/json")
	if c.mashapeKey != "" {
		req.Header.Set("X-Mashape-Key", c.mashapeKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("imgur status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
