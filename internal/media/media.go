// Package media wraps downloaded bytes, derives thumbnails and exposes the
// dimension and palette data recorded for each archived asset.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"tweench/internal/blob"
	"tweench/internal/models"
)

var (
	ErrInvalidThumbnailSize = errors.New("media: exactly one of thumbnail width or height must be set")
	ErrOriginalForbidden    = errors.New("media: originals are not stored for thumbnail-only media")
	ErrNotDecoded           = errors.New("media: image data could not be decoded")
)

// Kind selects which blobs a Media may write.
type Kind int

const (
	KindOriginal Kind = iota
	KindThumbnailOnly
)

func (k Kind) String() string {
	switch k {
	case KindOriginal:
		return "original"
	case KindThumbnailOnly:
		return "thumbnail-only"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Buckets names the two destinations a Media writes to.
type Buckets struct {
	Images string
	Thumbs string
}

// ThumbnailSize requests a proportional resize. Exactly one field is set.
type ThumbnailSize struct {
	Width  int
	Height int
}

func (s ThumbnailSize) valid() bool {
	return (s.Width > 0) != (s.Height > 0)
}

type Media struct {
	path    string
	data    []byte
	thumb   []byte
	kind    Kind
	typ     string
	format  string
	img     image.Image
	store   blob.Store
	buckets Buckets
	log     *slog.Logger
}

type Option func(*Media)

// WithThumbnail supplies ready-made thumbnail bytes, uploaded verbatim.
func WithThumbnail(data []byte) Option {
	return func(m *Media) { m.thumb = data }
}

// WithContentType overrides the type derived from decoding. A full MIME
// type such as "video/webm" contributes its subtype.
func WithContentType(ct string) Option {
	return func(m *Media) { m.typ = subtype(ct) }
}

func WithKind(k Kind) Option {
	return func(m *Media) { m.kind = k }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Media) { m.log = l }
}

// New wraps data stored under path. Decoding is best effort: on failure the
// Media still exists, but Dimensions and Colors report nil.
func New(store blob.Store, buckets Buckets, path string, data []byte, opts ...Option) *Media {
	m := &Media{
		path:    path,
		data:    data,
		store:   store,
		buckets: buckets,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "media", "path", path)

	img, format, err := decode(data)
	if err != nil {
		m.log.Info("image data not decodable", "err", err)
		return m
	}
	m.img = img
	m.format = format
	if m.typ == "" {
		m.typ = format
	}
	return m
}

func decode(data []byte) (img image.Image, format string, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, format, err = nil, "", fmt.Errorf("decoder panic: %v", r)
		}
	}()
	return image.Decode(bytes.NewReader(data))
}

func subtype(ct string) string {
	ct = strings.TrimSpace(ct)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	if i := strings.LastIndex(ct, "/"); i >= 0 {
		ct = ct[i+1:]
	}
	return strings.TrimSpace(ct)
}

func (m *Media) Path() string { return m.path }
func (m *Media) Kind() Kind   { return m.kind }
func (m *Media) Type() string { return m.typ }

// Decoded reports whether the bytes parsed as a known image format.
func (m *Media) Decoded() bool { return m.img != nil }

// ContentType is the type tag applied to both stored blobs. It is always of
// the form image/{type}, including for video payloads.
func (m *Media) ContentType() string {
	if m.typ == "" {
		return "application/octet-stream"
	}
	return "image/" + strings.ToLower(m.typ)
}

// Upload writes the original bytes to the image bucket.
func (m *Media) Upload(ctx context.Context) error {
	const op = "media.Upload"

	switch m.kind {
	case KindThumbnailOnly:
		return fmt.Errorf("%s: %w", op, ErrOriginalForbidden)
	case KindOriginal:
		m.log.Info("uploading original", "bucket", m.buckets.Images, "bytes", len(m.data))
		if err := m.store.Put(ctx, m.buckets.Images, m.path, m.data, m.ContentType()); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	default:
		return fmt.Errorf("%s: unknown kind %s", op, m.kind)
	}
}

// UploadThumbnail writes a thumbnail to the thumbnail bucket. Pre-supplied
// thumbnail bytes are used as-is; otherwise the decoded image is resized
// so that the given side equals the requested size.
func (m *Media) UploadThumbnail(ctx context.Context, size ThumbnailSize) error {
	const op = "media.UploadThumbnail"

	if !size.valid() {
		return fmt.Errorf("%s: %w (width=%d height=%d)", op, ErrInvalidThumbnailSize, size.Width, size.Height)
	}

	data := m.thumb
	if data == nil {
		var err error
		data, err = m.thumbnail(size)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := m.store.Put(ctx, m.buckets.Thumbs, m.path, data, m.ContentType()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (m *Media) thumbnail(size ThumbnailSize) ([]byte, error) {
	if m.img == nil {
		return nil, ErrNotDecoded
	}
	b := m.img.Bounds()
	w, h := Scale(b.Dx(), b.Dy(), size)
	m.log.Info("thumbnailing", "width", w, "height", h)

	resized := imaging.Resize(m.img, w, h, imaging.Lanczos)

	format, err := imaging.FormatFromExtension(m.format)
	if err != nil {
		format = imaging.JPEG
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// Scale returns the thumbnail size for a srcW x srcH image, deriving the
// side not given in size so the aspect ratio is preserved.
func Scale(srcW, srcH int, size ThumbnailSize) (w, h int) {
	if srcW <= 0 || srcH <= 0 {
		return size.Width, size.Height
	}
	if size.Width > 0 {
		w = size.Width
		h = int(math.Round(float64(srcH) * float64(size.Width) / float64(srcW)))
	} else {
		h = size.Height
		w = int(math.Round(float64(srcW) * float64(size.Height) / float64(srcH)))
	}
	return max(w, 1), max(h, 1)
}

// Dimensions returns the decoded size, or nil if decoding failed.
func (m *Media) Dimensions() *models.Dimensions {
	if m.img == nil {
		m.log.Info("can't calculate dimensions, no image data")
		return nil
	}
	b := m.img.Bounds()
	return &models.Dimensions{Height: b.Dy(), Width: b.Dx()}
}
