package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// ErrHTMLResponse is returned when a download URL answers with a web page
// instead of file content, which is what Google Drive does for links that
// need confirmation or are not shared publicly.
var ErrHTMLResponse = errors.New("modelstore: remote returned an html page instead of the artifact")

// HTTPFetcher downloads artifacts over http(s).
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher returns a fetcher using client, or a client without a
// timeout (model files can be large) when client is nil. Callers bound the
// download through the context instead.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, src *url.URL, w io.Writer) error {
	u := driveDownloadURL(src)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "text/html" {
		return ErrHTMLResponse
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	return nil
}

// driveDownloadURL rewrites Google Drive share links ("/uc?id=X" and
// "/file/d/X/view") to the direct download endpoint. Other URLs are
// returned unchanged.
func driveDownloadURL(u *url.URL) *url.URL {
	if !strings.EqualFold(u.Host, "drive.google.com") {
		return u
	}
	var id string
	switch {
	case u.Path == "/uc" || u.Path == "/open":
		id = u.Query().Get("id")
	case strings.HasPrefix(u.Path, "/file/d/"):
		rest := strings.TrimPrefix(u.Path, "/file/d/")
		id, _, _ = strings.Cut(rest, "/")
	}
	if id == "" {
		return u
	}
	q := url.Values{}
	q.Set("id", id)
	q.Set("export", "download")
	q.Set("confirm", "t")
	return &url.URL{
		Scheme:   "https",
		Host:     "drive.usercontent.google.com",
		Path:     "/download",
		RawQuery: q.Encode(),
	}
}

// FileFetcher copies artifacts from the local filesystem (file:// URLs).
type FileFetcher struct{}

func (FileFetcher) Fetch(_ context.Context, src *url.URL, w io.Writer) error {
	path := src.Path
	if path == "" {
		path = src.Opaque
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
