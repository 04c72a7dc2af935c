// Package source resolves per-title artifact sets from an ordered list of
// mirrors: GitHub-style manifest repositories (one branch per AppID) and
// fixed archive hosts (one zip per AppID). A source not carrying a title
// is a normal outcome, reported as a NotFound value the fallback chain
// consumes; only non-recoverable failures stop the chain.
package source

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"depotkit/internal/fault"
	"depotkit/internal/logx"
	"depotkit/internal/region"
)

const (
	defaultAPIBase    = "https://api.github.com"
	defaultRawTimeout = 30 * time.Second
)

type Locator struct {
	Client  *http.Client
	APIBase string
	Gate    *region.Gate
	Log     logx.Logger

	// RawURLs overrides the mirror list for raw file fetches; defaults
	// to the region gate's selection.
	RawURLs func(ctx context.Context, repo, sha, path string) []string
}

// Options tune one resolution pass.
type Options struct {
	// SkipManifests keeps manifest names (for version pins) but does not
	// download their bytes. Used by the floating/auto-update mode.
	SkipManifests bool
}

// NewLocator builds a locator. When token is non-empty the repo-tree API
// client carries it as a static bearer credential.
func NewLocator(base *http.Client, token string, gate *region.Gate, log logx.Logger) *Locator {
	if base == nil {
		base = &http.Client{Timeout: defaultRawTimeout}
	}
	if log == nil {
		log = logx.Nop()
	}
	client := base
	if token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	return &Locator{
		Client:  client,
		APIBase: defaultAPIBase,
		Gate:    gate,
		Log:     log,
	}
}

// Resolve attempts a single source once. A miss comes back as a NotFound
// fault; the caller decides whether to continue down its list.
func (l *Locator) Resolve(ctx context.Context, desc Descriptor, appID string, opts Options) (*ResolvedSet, error) {
	switch desc.Kind {
	case KindArchiveMirror:
		return l.resolveArchive(ctx, desc, appID)
	default:
		return l.resolveRepoTree(ctx, desc, appID, opts)
	}
}

// ResolveFirst walks the descriptors in order and returns the first
// source's full artifact set. Recoverable misses advance the chain; the
// remaining sources are never touched once one yields.
func (l *Locator) ResolveFirst(ctx context.Context, descs []Descriptor, appID string, opts Options) (*ResolvedSet, error) {
	if len(descs) == 0 {
		return nil, fault.New(fault.KindNotFound, "SRC_RESOLVE: no sources configured")
	}
	var lastErr error
	for _, desc := range descs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		set, err := l.Resolve(ctx, desc, appID, opts)
		if err == nil {
			return set, nil
		}
		if !fault.Recoverable(err) {
			return nil, err
		}
		l.Log.Warning("source miss, trying next", "source", desc.Name, "app", appID, "reason", err)
		lastErr = err
	}
	return nil, fault.Wrap(fault.KindNotFound, lastErr, "SRC_RESOLVE: no source carries app %s", appID)
}

// SearchAll queries every repo-tree descriptor concurrently and returns
// the hits ordered newest-first by commit author date. Misses and
// archive-mirror descriptors are ignored.
func (l *Locator) SearchAll(ctx context.Context, descs []Descriptor, appID string) []Hit {
	var (
		mu   sync.Mutex
		hits []Hit
		wg   sync.WaitGroup
	)
	for _, desc := range descs {
		if desc.Kind != KindRepoTree {
			continue
		}
		wg.Add(1)
		go func(d Descriptor) {
			defer wg.Done()
			branch, found, err := l.branch(ctx, d.Repo, appID)
			if err != nil || !found {
				if err != nil {
					l.Log.Warning("search: source errored", "source", d.Name, "err", err)
				}
				return
			}
			mu.Lock()
			hits = append(hits, Hit{Desc: d, SHA: branch.SHA, TreeURL: branch.TreeURL, UpdatedAt: branch.UpdatedAt})
			mu.Unlock()
		}(desc)
	}
	wg.Wait()
	sort.Slice(hits, func(i, j int) bool { return hits[i].UpdatedAt.After(hits[j].UpdatedAt) })
	return hits
}

func (l *Locator) rawURLs(ctx context.Context, repo, sha, path string) []string {
	if l.RawURLs != nil {
		return l.RawURLs(ctx, repo, sha, path)
	}
	return l.Gate.RawURLs(ctx, repo, sha, path)
}
