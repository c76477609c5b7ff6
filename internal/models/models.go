// internal/models/models.go
package models

import "time"

type AssetKind string

const (
	KindSingleImage      AssetKind = "single-image"
	KindAlbumImage       AssetKind = "album-image"
	KindExternalFile     AssetKind = "external-file"
	KindVideoWithPreview AssetKind = "video-with-preview"
)

// RemoteAsset is one fetchable unit produced by classifying a post URL.
type RemoteAsset struct {
	URL  string    `json:"url"`
	Kind AssetKind `json:"kind"`
	// Set only for KindVideoWithPreview; the host reports both up front.
	PreviewURL string      `json:"preview_url,omitempty"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`
}

type Dimensions struct {
	Height int `json:"height" dynamodbav:"height"`
	Width  int `json:"width" dynamodbav:"width"`
}

type Color struct {
	Value      string `json:"value" dynamodbav:"value"`           // #rrggbb
	Prominence int    `json:"prominence" dynamodbav:"prominence"` // percent of sampled pixels
}

// MediaRecord describes one processed asset. A record with only URL set is
// the degraded form: the link was seen but its content was unavailable.
type MediaRecord struct {
	URL        string      `json:"url" dynamodbav:"url"`
	Path       string      `json:"path,omitempty" dynamodbav:"path,omitempty"`
	Dimensions *Dimensions `json:"dimensions,omitempty" dynamodbav:"dimensions,omitempty"`
	Colors     []Color     `json:"colors,omitempty" dynamodbav:"colors,omitempty"`
}

func (r MediaRecord) Degraded() bool {
	return r.Path == ""
}

type Subreddit struct {
	ID    string `json:"id" dynamodbav:"id"`
	Name  string `json:"name" dynamodbav:"name"`
	Title string `json:"title" dynamodbav:"title"`
}

type Post struct {
	ID        string        `json:"id" dynamodbav:"id"`
	Title     string        `json:"title" dynamodbav:"title"`
	Permalink string        `json:"permalink" dynamodbav:"permalink"`
	URL       string        `json:"url" dynamodbav:"url"`
	User      string        `json:"user,omitempty" dynamodbav:"user,omitempty"`
	Subreddit string        `json:"subreddit" dynamodbav:"subreddit"`
	NSFW      bool          `json:"nsfw" dynamodbav:"nsfw"`
	Created   time.Time     `json:"created" dynamodbav:"created"`
	Images    []MediaRecord `json:"images,omitempty" dynamodbav:"images,omitempty"`
}
