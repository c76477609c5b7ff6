package hosts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var ErrGfyNotFound = errors.New("gfy not found")

// Gfy is the subset of a gfycat item the archiver needs.
type Gfy struct {
	WebmURL   string `json:"webmUrl"`
	Max2mbGif string `json:"max2mbGif"`
	Max5mbGif string `json:"max5mbGif"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// PreviewURL prefers the 2 MB gif and falls back to the 5 MB one.
func (g Gfy) PreviewURL() string {
	if g.Max2mbGif != "" {
		return g.Max2mbGif
	}
	return g.Max5mbGif
}

type GfycatClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
}

func NewGfycatClient(baseURL string, httpClient *http.Client) *GfycatClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &GfycatClient{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 2),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Query looks up a gfy by id.
func (c *GfycatClient) Query(ctx context.Context, id string) (Gfy, error) {
	const op = "hosts.GfycatClient.Query"

	if err := c.limiter.Wait(ctx); err != nil {
		return Gfy{}, fmt.Errorf("%s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/gfycats/"+id, nil)
	if err != nil {
		return Gfy{}, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Gfy{}, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Gfy{}, fmt.Errorf("%s: %s: %w", op, id, ErrGfyNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return Gfy{}, fmt.Errorf("%s: %s: status %d", op, id, resp.StatusCode)
	}

	var body struct {
		GfyItem *Gfy `json:"gfyItem"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Gfy{}, fmt.Errorf("%s: %w", op, err)
	}
	if body.GfyItem == nil || body.GfyItem.WebmURL == "" {
		return Gfy{}, fmt.Errorf("%s: %s: %w", op, id, ErrGfyNotFound)
	}
	return *body.GfyItem, nil
}
