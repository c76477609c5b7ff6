// Package fetcher retrieves raw bytes for remote media URLs and reports
// failures as values the pipeline can degrade on.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
)

type Reason string

const (
	ReasonStatus    Reason = "status"
	ReasonTransport Reason = "transport"
	ReasonEmpty     Reason = "empty"
)

// FetchError is the typed outcome of a failed fetch.
type FetchError struct {
	URL        string
	Reason     Reason
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Reason {
	case ReasonStatus:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	case ReasonEmpty:
		return fmt.Sprintf("fetch %s: empty body", e.URL)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

type Content struct {
	Data        []byte
	ContentType string
}

type Fetcher struct {
	transport Transport
	log       *slog.Logger
}

func New(transport Transport, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{transport: transport, log: log.With("component", "fetcher")}
}

// Fetch GETs url. Any non-2xx status, transport error or empty body comes
// back as a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Content, error) {
	f.log.Debug("fetching", "url", url)

	resp, err := f.transport.Get(ctx, url)
	if err != nil {
		return Content{}, &FetchError{URL: url, Reason: ReasonTransport, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Content{}, &FetchError{URL: url, Reason: ReasonStatus, StatusCode: resp.StatusCode}
	}
	if len(resp.Body) == 0 {
		return Content{}, &FetchError{URL: url, Reason: ReasonEmpty, StatusCode: resp.StatusCode}
	}

	var contentType string
	if resp.Header != nil {
		contentType = resp.Header.Get("Content-Type")
	}
	return Content{Data: resp.Body, ContentType: contentType}, nil
}
