package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const defaultRevision = "main"

// Client fetches model artifacts from a Hugging Face style repository and
// keeps them in a local cache directory laid out as <repo>/<revision>/<file>.
type Client struct {
	baseURL  string
	cacheDir string
	token    string
	http     *http.Client
	log      *zap.Logger
	maxRetry time.Duration
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMaxRetryTime bounds how long a single download keeps retrying.
func WithMaxRetryTime(d time.Duration) Option {
	return func(c *Client) { c.maxRetry = d }
}

func NewClient(baseURL, cacheDir string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		cacheDir: cacheDir,
		http:     &http.Client{Timeout: 5 * time.Minute},
		log:      zap.NewNop(),
		maxRetry: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Download returns the local path of repo/filename at revision, fetching it
// only when it is not cached yet.
func (c *Client) Download(ctx context.Context, repo, revision, filename string) (string, error) {
	if repo == "" || filename == "" {
		return "", fmt.Errorf("repo and filename are required")
	}
	if revision == "" {
		revision = defaultRevision
	}

	local := filepath.Join(c.cacheDir, filepath.FromSlash(repo), revision, filepath.FromSlash(filename))
	if info, err := os.Stat(local); err == nil && info.Size() > 0 {
		c.log.Debug("Hub cache hit", zap.String("repo", repo), zap.String("file", filename))
		return local, nil
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %w", err)
	}

	fileURL := fmt.Sprintf("%s/%s/resolve/%s/%s", c.baseURL, repo, url.PathEscape(revision), filename)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.maxRetry

	err := backoff.Retry(func() error {
		err := c.fetch(ctx, fileURL, local)
		if err != nil {
			c.log.Warn("Hub download failed", zap.String("url", fileURL), zap.Error(err))
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return "", fmt.Errorf("failed to download %s from %s: %w", filename, repo, err)
	}

	c.log.Info("Downloaded model artifact", zap.String("repo", repo), zap.String("file", filename), zap.String("path", local))
	return local, nil
}

// fetch streams into a temp file and renames it so a partial download never
// looks like a cache hit.
func (c *Client) fetch(ctx context.Context, fileURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return backoff.Permanent(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
