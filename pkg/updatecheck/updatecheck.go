// Package updatecheck looks up the latest published release of the model
// server and compares it with the running version.
package updatecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labelkit/model-server/pkg/logging"
	"golang.org/x/mod/semver"
)

const (
	defaultBaseURL = "https://api.github.com"
	defaultRepo    = "CVHub520/X-AnyLabeling-Server"
	defaultTimeout = 5 * time.Second
)

// Version information, set at build time via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info describes the outcome of an update check.
type Info struct {
	HasUpdate      bool   `json:"has_update"`
	CurrentVersion string `json:"current_version"`
	LatestVersion  string `json:"latest_version"`
	DownloadURL    string `json:"download_url"`
	ReleaseNotes   string `json:"release_notes"`
	PublishedAt    string `json:"published_at"`
}

type release struct {
	TagName     string `json:"tag_name"`
	HTMLURL     string `json:"html_url"`
	Body        string `json:"body"`
	PublishedAt string `json:"published_at"`
}

type options struct {
	baseURL string
	repo    string
	token   string
}

// Option configures Check.
type Option func(*options)

// WithBaseURL points the check at another API root (useful for testing).
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		if baseURL != "" {
			o.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithRepo selects the owner/name repository whose releases are queried.
func WithRepo(repo string) Option {
	return func(o *options) {
		if repo != "" {
			o.repo = repo
		}
	}
}

// WithToken authenticates the request. GITHUB_TOKEN is used when unset.
func WithToken(token string) Option {
	return func(o *options) {
		o.token = token
	}
}

// Check fetches the latest release and reports whether it is newer than
// current. A nil client uses a client with a short timeout.
func Check(ctx context.Context, client *http.Client, current string, opts ...Option) (*Info, error) {
	o := options{
		baseURL: defaultBaseURL,
		repo:    defaultRepo,
		token:   os.Getenv("GITHUB_TOKEN"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	url := fmt.Sprintf("%s/repos/%s/releases/latest", o.baseURL, o.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "model-server/"+current)
	if o.token != "" {
		req.Header.Set("Authorization", "token "+o.token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch latest release: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}

	latest := strings.TrimPrefix(rel.TagName, "v")
	return &Info{
		HasUpdate:      Newer(latest, current),
		CurrentVersion: current,
		LatestVersion:  latest,
		DownloadURL:    rel.HTMLURL,
		ReleaseNotes:   rel.Body,
		PublishedAt:    rel.PublishedAt,
	}, nil
}

// Newer reports whether latest is a strictly higher semantic version than
// current. Versions are accepted with or without a leading "v"; anything
// that is not valid semver never counts as newer.
func Newer(latest, current string) bool {
	l, c := canonical(latest), canonical(current)
	if !semver.IsValid(l) || !semver.IsValid(c) {
		return false
	}
	return semver.Compare(l, c) > 0
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// CheckAsync runs Check in the background and logs the outcome. Failures are
// logged at debug level only; the returned channel is closed when done.
func CheckAsync(ctx context.Context, client *http.Client, current string, log logging.Logger, opts ...Option) <-chan struct{} {
	if log == nil {
		log = logging.Discard()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		info, err := Check(ctx, client, current, opts...)
		if err != nil {
			log.Debugf("Update check failed: %v", err)
			return
		}
		if info.HasUpdate {
			log.WithField("download_url", info.DownloadURL).
				Infof("A new version is available: %s (current %s)", info.LatestVersion, info.CurrentVersion)
			return
		}
		log.Debugf("Model server is up to date (%s)", info.CurrentVersion)
	}()
	return done
}
