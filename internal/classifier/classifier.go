// Package classifier maps a post URL to the remote assets it references.
//
// Rules are tried in order and the first match wins. The order matters
// because the patterns overlap: albums and galleries must be tried before
// hash lists, and hash lists before the generic page pattern, or multi-image
// posts are mistaken for single images.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"tweench/internal/hosts"
	"tweench/internal/models"
)

const (
	RuleAlbum    = "album"
	RuleGallery  = "gallery"
	RuleHashes   = "hashes"
	RulePage     = "page"
	RuleSingle   = "single"
	RuleMotion   = "motion"
	RuleExternal = "external"
)

var patterns = []struct {
	name    string
	pattern string
}{
	{RuleAlbum, `^https?://(?:m\.|www\.)?imgur\.com/a/([a-zA-Z0-9]+)`},
	{RuleGallery, `^https?://(?:m\.|www\.)?imgur\.com/gallery/([a-zA-Z0-9]+)`},
	{RuleHashes, `^https?://(?:m\.|www\.)?imgur\.com/((?:[a-zA-Z0-9]{5,7}[&,]?)+)`},
	{RulePage, `^https?://(?:www\.|m\.)?imgur\.com/(.*)`},
	{RuleSingle, `^https?://(?:i\.|www\.|m\.)?imgur\.com/(.*?)(?:\..*)`},
	{RuleMotion, `^https?://.*\.gfycat.com/(.*)`},
	{RuleExternal, `^(https?://.*/(?:.*?\.(?:jpe?g|gifv?|png)))`},
}

// ImageResolver turns image host ids into direct links.
type ImageResolver interface {
	Image(ctx context.Context, id string) (string, error)
	Album(ctx context.Context, id string) ([]string, error)
}

// MotionResolver looks up motion host items.
type MotionResolver interface {
	Query(ctx context.Context, id string) (hosts.Gfy, error)
}

type handler func(ctx context.Context, arg string) []models.RemoteAsset

type rule struct {
	name   string
	re     *regexp.Regexp
	handle handler
}

type Classifier struct {
	rules  []rule
	images ImageResolver
	motion MotionResolver
	log    *slog.Logger
}

func New(images ImageResolver, motion MotionResolver, log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	c := &Classifier{images: images, motion: motion, log: log.With("component", "classifier")}

	handlers := map[string]handler{
		RuleAlbum:    c.album,
		RuleGallery:  c.album,
		RuleHashes:   c.hashes,
		RulePage:     c.single,
		RuleSingle:   c.single,
		RuleMotion:   c.gfycat,
		RuleExternal: c.external,
	}
	for _, p := range patterns {
		c.rules = append(c.rules, rule{
			name:   p.name,
			re:     regexp.MustCompile(`(?i)` + p.pattern),
			handle: handlers[p.name],
		})
	}
	return c
}

// Match reports which rule url falls under and the captured argument,
// without calling any host.
func (c *Classifier) Match(url string) (name, arg string, ok bool) {
	for _, r := range c.rules {
		if m := r.re.FindStringSubmatch(url); m != nil {
			return r.name, m[1], true
		}
	}
	return "", "", false
}

// Classify returns the assets referenced by url. An unsupported URL yields
// an empty slice; host lookups that fail drop the affected ids.
func (c *Classifier) Classify(ctx context.Context, url string) []models.RemoteAsset {
	c.log.Info("determining type of image URL", "url", url)

	for _, r := range c.rules {
		if m := r.re.FindStringSubmatch(url); m != nil {
			return c.run(ctx, r, url, m[1])
		}
	}
	c.log.Info("unsupported URL", "url", url)
	return nil
}

func (c *Classifier) run(ctx context.Context, r rule, url, arg string) (assets []models.RemoteAsset) {
	defer func() {
		if p := recover(); p != nil {
			c.log.Error("classifier handler panicked", "rule", r.name, "url", url, "panic", fmt.Sprint(p))
			assets = nil
		}
	}()
	return r.handle(ctx, arg)
}

func (c *Classifier) single(ctx context.Context, id string) []models.RemoteAsset {
	c.log.Info("single imgur page detected", "id", id)
	link, err := c.images.Image(ctx, id)
	if err != nil {
		c.log.Warn("image lookup failed", "id", id, "err", err)
		return nil
	}
	return []models.RemoteAsset{{URL: link, Kind: models.KindSingleImage}}
}

func (c *Classifier) album(ctx context.Context, id string) []models.RemoteAsset {
	c.log.Info("album detected", "id", id)
	links, err := c.images.Album(ctx, id)
	if err != nil {
		c.log.Warn("album lookup failed", "id", id, "err", err)
		return nil
	}
	assets := make([]models.RemoteAsset, 0, len(links))
	for _, link := range links {
		assets = append(assets, models.RemoteAsset{URL: link, Kind: models.KindAlbumImage})
	}
	return assets
}

func (c *Classifier) hashes(ctx context.Context, arg string) []models.RemoteAsset {
	ids := splitHashes(arg)
	c.log.Info("image hashes detected", "ids", ids)

	var assets []models.RemoteAsset
	for _, id := range ids {
		link, err := c.images.Image(ctx, id)
		if err != nil {
			c.log.Warn("image lookup failed", "id", id, "err", err)
			continue
		}
		assets = append(assets, models.RemoteAsset{URL: link, Kind: models.KindAlbumImage})
	}
	return assets
}

func splitHashes(arg string) []string {
	fields := strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == '&' })
	ids := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			ids = append(ids, f)
		}
	}
	return ids
}

func (c *Classifier) gfycat(ctx context.Context, id string) []models.RemoteAsset {
	c.log.Info("gfycat detected", "id", id)
	gfy, err := c.motion.Query(ctx, id)
	if err != nil {
		c.log.Warn("gfycat lookup failed", "id", id, "err", err)
		return nil
	}
	return []models.RemoteAsset{{
		URL:        gfy.WebmURL,
		Kind:       models.KindVideoWithPreview,
		PreviewURL: gfy.PreviewURL(),
		Dimensions: &models.Dimensions{Height: gfy.Height, Width: gfy.Width},
	}}
}

func (c *Classifier) external(_ context.Context, url string) []models.RemoteAsset {
	c.log.Info("generic image URL detected", "url", url)
	return []models.RemoteAsset{{URL: url, Kind: models.KindExternalFile}}
}
