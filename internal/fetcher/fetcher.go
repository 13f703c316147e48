package fetcher

import (
	"context"
	"io"
	"net/url"

	"github.com/rotisserie/eris"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)

	// List returns the entry names (or hrefs) published under a directory URL.
	List(ctx context.Context, dirURL string) ([]string, error)
}

// SchemeFetcher routes each URL to the fetcher registered for its scheme.
type SchemeFetcher struct {
	bySchema map[string]Fetcher
}

// NewSchemeFetcher routes http/https to h and ftp to f. Either may be nil.
func NewSchemeFetcher(h, f Fetcher) *SchemeFetcher {
	m := make(map[string]Fetcher)
	if h != nil {
		m["http"] = h
		m["https"] = h
	}
	if f != nil {
		m["ftp"] = f
	}
	return &SchemeFetcher{bySchema: m}
}

func (s *SchemeFetcher) pick(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse url")
	}
	f, ok := s.bySchema[u.Scheme]
	if !ok {
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
	return f, nil
}

// Download implements Fetcher.
func (s *SchemeFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	f, err := s.pick(rawURL)
	if err != nil {
		return nil, err
	}
	return f.Download(ctx, rawURL)
}

// DownloadToFile implements Fetcher.
func (s *SchemeFetcher) DownloadToFile(ctx context.Context, rawURL, path string) (int64, error) {
	f, err := s.pick(rawURL)
	if err != nil {
		return 0, err
	}
	return f.DownloadToFile(ctx, rawURL, path)
}

// List implements Fetcher.
func (s *SchemeFetcher) List(ctx context.Context, dirURL string) ([]string, error) {
	f, err := s.pick(dirURL)
	if err != nil {
		return nil, err
	}
	return f.List(ctx, dirURL)
}
