// Package collector reads subreddits and posts from the Reddit API.
package collector

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/loganintech/go-reddit/v2/reddit"
	"golang.org/x/time/rate"

	"tweench/internal/models"
)

const (
	QueryTopAll = "top_all"
	QueryTopDay = "top_day"
	QueryHot    = "hot"
)

type subredditService interface {
	Get(ctx context.Context, name string) (*reddit.Subreddit, *reddit.Response, error)
	TopPosts(ctx context.Context, subreddit string, opts *reddit.ListPostOptions) ([]*reddit.Post, *reddit.Response, error)
	HotPosts(ctx context.Context, subreddit string, opts *reddit.ListOptions) ([]*reddit.Post, *reddit.Response, error)
}

type postService interface {
	Get(ctx context.Context, id string) (*reddit.PostAndComments, *reddit.Response, error)
}

type Credentials struct {
	ID       string
	Secret   string
	Username string
	Password string
}

type RedditClient struct {
	subreddits subredditService
	posts      postService
	limiter    *rate.Limiter
}

// NewClient builds an authenticated client, or a read-only one when no
// credentials are given.
func NewClient(creds Credentials, userAgent string) (*RedditClient, error) {
	const op = "collector.NewClient"

	var (
		client *reddit.Client
		err    error
	)
	if creds.ID == "" {
		client, err = reddit.NewReadonlyClient(reddit.WithUserAgent(userAgent))
	} else {
		client, err = reddit.NewClient(reddit.Credentials{
			ID:       creds.ID,
			Secret:   creds.Secret,
			Username: creds.Username,
			Password: creds.Password,
		}, reddit.WithUserAgent(userAgent))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// 100 requests / 10 mins = ~1 request every 600ms
	limiter := rate.NewLimiter(rate.Every(600*time.Millisecond), 1)

	return &RedditClient{subreddits: client.Subreddit, posts: client.Post, limiter: limiter}, nil
}

func (rc *RedditClient) Subreddit(ctx context.Context, name string) (models.Subreddit, error) {
	const op = "collector.Subreddit"

	if err := rc.limiter.Wait(ctx); err != nil {
		return models.Subreddit{}, fmt.Errorf("%s: %w", op, err)
	}
	sr, _, err := rc.subreddits.Get(ctx, name)
	if err != nil {
		return models.Subreddit{}, fmt.Errorf("%s: %s: %w", op, name, err)
	}
	return models.Subreddit{ID: sr.ID, Name: sr.Name, Title: sr.Title}, nil
}

// Posts lists up to limit posts of a subreddit using one of the Query* orders.
func (rc *RedditClient) Posts(ctx context.Context, subreddit, query string, limit int) ([]models.Post, error) {
	const op = "collector.Posts"

	if err := rc.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		posts []*reddit.Post
		err   error
	)
	list := reddit.ListOptions{Limit: limit}
	switch query {
	case QueryTopAll:
		posts, _, err = rc.subreddits.TopPosts(ctx, subreddit, &reddit.ListPostOptions{ListOptions: list, Time: "all"})
	case QueryTopDay:
		posts, _, err = rc.subreddits.TopPosts(ctx, subreddit, &reddit.ListPostOptions{ListOptions: list, Time: "day"})
	case QueryHot:
		posts, _, err = rc.subreddits.HotPosts(ctx, subreddit, &list)
	default:
		return nil, fmt.Errorf("%s: unknown query %q", op, query)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, subreddit, err)
	}

	result := make([]models.Post, 0, len(posts))
	for _, p := range posts {
		result = append(result, toPost(p))
	}
	return result, nil
}

func (rc *RedditClient) Post(ctx context.Context, id string) (models.Post, error) {
	const op = "collector.Post"

	if err := rc.limiter.Wait(ctx); err != nil {
		return models.Post{}, fmt.Errorf("%s: %w", op, err)
	}
	pc, _, err := rc.posts.Get(ctx, PostID(id))
	if err != nil {
		return models.Post{}, fmt.Errorf("%s: %s: %w", op, id, err)
	}
	if pc == nil || pc.Post == nil {
		return models.Post{}, fmt.Errorf("%s: %s: empty response", op, id)
	}
	return toPost(pc.Post), nil
}

func toPost(p *reddit.Post) models.Post {
	post := models.Post{
		ID:        p.ID,
		Title:     p.Title,
		Permalink: p.Permalink,
		URL:       p.URL,
		User:      p.Author,
		Subreddit: p.SubredditName,
		NSFW:      p.NSFW,
	}
	if p.Created != nil {
		post.Created = p.Created.Time.UTC()
	}
	return post
}

var permalinkID = regexp.MustCompile(`/comments/([a-z0-9]+)`)

// PostID accepts either a bare post id or a permalink and returns the id.
func PostID(s string) string {
	if m := permalinkID.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}
