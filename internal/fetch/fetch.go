package fetch

import (
	"context"
	"io"
	"net/url"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote document payload. The caller must close the
// returned ReadCloser.
type Fetcher interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Dispatcher routes downloads to the HTTP or FTP fetcher by URL scheme.
type Dispatcher struct {
	http *HTTPFetcher
	ftp  *FTPFetcher
}

func NewDispatcher(httpFetcher *HTTPFetcher, ftpFetcher *FTPFetcher) *Dispatcher {
	return &Dispatcher{http: httpFetcher, ftp: ftpFetcher}
}

func (d *Dispatcher) forURL(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: parse %s", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		return d.http, nil
	case "ftp":
		return d.ftp, nil
	default:
		return nil, eris.Errorf("fetch: unsupported scheme %q", u.Scheme)
	}
}

func (d *Dispatcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	f, err := d.forURL(rawURL)
	if err != nil {
		return nil, err
	}
	return f.Download(ctx, rawURL)
}

func (d *Dispatcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	f, err := d.forURL(rawURL)
	if err != nil {
		return 0, err
	}
	return f.DownloadToFile(ctx, rawURL, path)
}
