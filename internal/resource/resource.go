// Package resource resolves model artifacts to files on local disk.
//
// A Local resource is a path that must already exist. A Remote resource is
// a URL, usually on the Hugging Face hub, that is downloaded once into the
// cache directory and reused afterwards.
package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/samcharles93/zeroshot/internal/logger"
)

// HubBase is the download root for Hugging Face model repositories.
const HubBase = "https://huggingface.co"

// ErrNotFound is returned when a local resource does not exist.
var ErrNotFound = errors.New("resource not found")

// Resource is a handle to a model artifact.
type Resource interface {
	// Resolve returns a local file path, fetching the artifact if needed.
	Resolve(ctx context.Context) (string, error)
	String() string
}

// Local is a file that is already on disk.
type Local struct {
	Path string
}

func (l Local) Resolve(context.Context) (string, error) {
	if strings.TrimSpace(l.Path) == "" {
		return "", fmt.Errorf("%w: empty path", ErrNotFound)
	}
	if _, err := os.Stat(l.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, l.Path)
		}
		return "", err
	}
	return l.Path, nil
}

func (l Local) String() string { return l.Path }

// Remote is a file fetched over HTTP and cached under CacheDir()/Name.
type Remote struct {
	// Name is the cache subdirectory, e.g. "bart-large-mnli".
	Name string
	URL  string
	// Client overrides the default HTTP client.
	Client *http.Client
	// Dir overrides CacheDir().
	Dir string
}

// Hub returns the Remote for file in a Hugging Face repository at revision
// "main". The cache name is the repository name without its owner.
func Hub(repo, file string) Remote {
	return Remote{
		Name: path.Base(repo),
		URL:  HubBase + "/" + repo + "/resolve/main/" + file,
	}
}

func (r Remote) String() string { return r.URL }

// CachePath is the file Resolve writes to.
func (r Remote) CachePath() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", r.URL, err)
	}
	file := path.Base(u.Path)
	if file == "." || file == "/" || file == "" {
		return "", fmt.Errorf("url %q has no file name", r.URL)
	}
	dir := r.Dir
	if dir == "" {
		if dir, err = CacheDir(); err != nil {
			return "", err
		}
	}
	name := r.Name
	if name == "" {
		name = u.Host
	}
	return filepath.Join(dir, name, file), nil
}

func (r Remote) Resolve(ctx context.Context) (string, error) {
	dst, err := r.CachePath()
	if err != nil {
		return "", err
	}
	if st, err := os.Stat(dst); err == nil && st.Size() > 0 {
		return dst, nil
	}
	log := logger.FromContext(ctx)
	log.Info("downloading resource", "url", r.URL, "dest", dst)
	start := time.Now()
	n, err := r.download(ctx, dst)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", r.URL, err)
	}
	log.Info("downloaded resource", "url", r.URL, "bytes", n, "elapsed", time.Since(start).Round(time.Millisecond))
	return dst, nil
}

func (r Remote) download(ctx context.Context, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return 0, fmt.Errorf("mkdir: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	if token := os.Getenv("HF_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	// Write to a sibling temp file so an interrupted download never leaves a
	// truncated artifact at dst.
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.part")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}

// CacheDir returns $ZEROSHOT_CACHE_DIR, or the "zeroshot" directory inside
// the user cache directory.
func CacheDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("ZEROSHOT_CACHE_DIR")); dir != "" {
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate cache dir: %w", err)
	}
	return filepath.Join(base, "zeroshot"), nil
}

// ResolveOptional resolves r, returning "" for a nil resource.
func ResolveOptional(ctx context.Context, r Resource) (string, error) {
	if r == nil {
		return "", nil
	}
	return r.Resolve(ctx)
}
