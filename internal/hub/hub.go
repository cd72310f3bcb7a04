// Package hub fetches model artifacts from a remote model repository and
// caches them on disk. A fetched file is immutable: once present in the
// cache it is never re-downloaded.
package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the default model repository endpoint.
const DefaultBaseURL = "https://huggingface.co"

// DownloadError reports a failure to fetch a remote artifact.
type DownloadError struct {
	Repo string
	File string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s/%s: %v", e.Repo, e.File, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Client downloads repository artifacts with a local cache.
type Client struct {
	baseURL    string
	cacheDir   string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the repository endpoint.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithCacheDir overrides the cache directory.
func WithCacheDir(dir string) ClientOption {
	return func(c *Client) {
		c.cacheDir = dir
	}
}

// WithHTTPClient overrides the HTTP client used for downloads.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a hub client. By default artifacts are cached under the
// user cache directory.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.cacheDir == "" {
		userCache, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		c.cacheDir = filepath.Join(userCache, "diffusers")
	}
	return c, nil
}

// Download fetches filename from the given repository and returns the local
// path of the cached copy. Returns a *DownloadError when the remote is
// unreachable or responds with a non-200 status.
func (c *Client) Download(ctx context.Context, repo, filename string) (string, error) {
	local := filepath.Join(c.cacheDir, strings.ReplaceAll(repo, "/", "--"), filename)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	url := fmt.Sprintf("%s/%s/resolve/main/%s", c.baseURL, repo, filename)
	log.Info().Str("repo", repo).Str("file", filename).Msg("downloading artifact")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &DownloadError{Repo: repo, File: filename, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &DownloadError{Repo: repo, File: filename, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &DownloadError{
			Repo: repo,
			File: filename,
			Err:  fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	// Write to a temp file first so a partial download never lands in the
	// cache under its final name.
	tmp, err := os.CreateTemp(filepath.Dir(local), filename+".partial-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", &DownloadError{Repo: repo, File: filename, Err: err}
	}

	if err := os.Rename(tmp.Name(), local); err != nil {
		return "", fmt.Errorf("finalize download: %w", err)
	}

	log.Info().Str("repo", repo).Str("file", filename).Int64("bytes", written).Msg("artifact cached")
	return local, nil
}
