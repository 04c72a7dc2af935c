package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"depotkit/internal/fault"
	"depotkit/internal/script"
	"depotkit/internal/stfile"
	"depotkit/internal/vdf"
)

type branchInfo struct {
	SHA       string
	TreeURL   string
	UpdatedAt time.Time
}

type branchPayload struct {
	Commit struct {
		SHA    string `json:"sha"`
		Commit struct {
			Tree struct {
				URL string `json:"url"`
			} `json:"tree"`
			Author struct {
				Date time.Time `json:"date"`
			} `json:"author"`
		} `json:"commit"`
	} `json:"commit"`
}

type treePayload struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	} `json:"tree"`
}

// branch resolves the per-AppID branch to its head commit. Absence of the
// branch is the normal "source does not carry this title" outcome.
func (l *Locator) branch(ctx context.Context, repo, appID string) (branchInfo, bool, error) {
	url := fmt.Sprintf("%s/repos/%s/branches/%s", l.APIBase, repo, appID)
	status, body, err := l.getAPI(ctx, url)
	if err != nil {
		return branchInfo{}, false, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return branchInfo{}, false, nil
	case http.StatusForbidden, http.StatusTooManyRequests:
		return branchInfo{}, false, fault.New(fault.KindRateLimited, "SRC_BRANCH: API quota exhausted for %s", repo)
	default:
		return branchInfo{}, false, fault.New(fault.KindNotFound, "SRC_BRANCH: %s returned status %d", repo, status)
	}
	var payload branchPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return branchInfo{}, false, fault.Wrap(fault.KindMalformed, err, "SRC_BRANCH: bad payload from %s", repo)
	}
	if payload.Commit.SHA == "" || payload.Commit.Commit.Tree.URL == "" {
		return branchInfo{}, false, fault.New(fault.KindMalformed, "SRC_BRANCH: payload from %s missing commit", repo)
	}
	return branchInfo{
		SHA:       payload.Commit.SHA,
		TreeURL:   payload.Commit.Commit.Tree.URL,
		UpdatedAt: payload.Commit.Commit.Author.Date,
	}, true, nil
}

func (l *Locator) tree(ctx context.Context, treeURL string) ([]string, error) {
	status, body, err := l.getAPI(ctx, treeURL)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fault.New(fault.KindNotFound, "SRC_TREE: status %d", status)
	}
	var payload treePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fault.Wrap(fault.KindMalformed, err, "SRC_TREE: bad payload")
	}
	paths := make([]string, 0, len(payload.Tree))
	for _, item := range payload.Tree {
		if item.Type == "tree" {
			continue
		}
		paths = append(paths, item.Path)
	}
	return paths, nil
}

func (l *Locator) resolveRepoTree(ctx context.Context, desc Descriptor, appID string, opts Options) (*ResolvedSet, error) {
	branch, found, err := l.branch(ctx, desc.Repo, appID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fault.New(fault.KindNotFound, "SRC_BRANCH: %s has no branch %s", desc.Repo, appID)
	}
	return l.ResolveTree(ctx, desc, appID, branch.SHA, branch.TreeURL, branch.UpdatedAt, opts)
}

// ResolveTree downloads and decodes a known commit's file set. Search-all
// callers reuse it to avoid a second branch lookup.
func (l *Locator) ResolveTree(ctx context.Context, desc Descriptor, appID, sha, treeURL string, updatedAt time.Time, opts Options) (*ResolvedSet, error) {
	paths, err := l.tree(ctx, treeURL)
	if err != nil {
		return nil, err
	}

	set := &ResolvedSet{
		AppID:     appID,
		Source:    desc.Name,
		Repo:      desc.Repo,
		SHA:       sha,
		UpdatedAt: updatedAt,
		Keys:      map[string]string{},
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := path[strings.LastIndex(path, "/")+1:]
		switch {
		case strings.HasSuffix(name, ".manifest"):
			depotID, manifestID, ok := ParseManifestName(name)
			if !ok {
				l.Log.Warning("skipping manifest with unexpected name", "path", path)
				continue
			}
			m := Manifest{DepotID: depotID, ManifestID: manifestID, Name: name}
			if !opts.SkipManifests {
				data, err := l.fetchRaw(ctx, desc.Repo, sha, path)
				if err != nil {
					return nil, err
				}
				m.Data = data
			}
			set.Manifests = append(set.Manifests, m)
		case strings.Contains(strings.ToLower(name), "key.vdf"):
			data, err := l.fetchRaw(ctx, desc.Repo, sha, path)
			if err != nil {
				return nil, err
			}
			keys, err := ParseKeyVDF(data)
			if err != nil {
				l.Log.Warning("key file unreadable, skipping", "path", path, "err", err)
				continue
			}
			mergeKeys(set.Keys, keys)
		case strings.HasSuffix(name, ".lua"):
			data, err := l.fetchRaw(ctx, desc.Repo, sha, path)
			if err != nil {
				return nil, err
			}
			mergeKeys(set.Keys, keysFromScript(data))
		case strings.HasSuffix(name, ".st"):
			data, err := l.fetchRaw(ctx, desc.Repo, sha, path)
			if err != nil {
				return nil, err
			}
			text, _, decErr := stfile.Decode(data)
			if decErr != nil {
				l.Log.Warning("st container unreadable, skipping", "path", path, "err", decErr)
				continue
			}
			mergeKeys(set.Keys, keysFromScript([]byte(text)))
		}
	}
	return set, nil
}

// fetchRaw tries each mirror in order; any failure (including timeout)
// advances to the next. One attempt per mirror per call.
func (l *Locator) fetchRaw(ctx context.Context, repo, sha, path string) ([]byte, error) {
	urls := l.rawURLs(ctx, repo, sha, path)
	var lastErr error
	for _, url := range urls {
		fetchCtx, cancel := context.WithTimeout(ctx, defaultRawTimeout)
		data, err := l.getRaw(fetchCtx, url)
		cancel()
		if err == nil {
			return data, nil
		}
		lastErr = err
		l.Log.Warning("raw fetch failed, trying next mirror", "path", path, "err", err)
	}
	return nil, fault.Wrap(fault.KindNotFound, lastErr, "SRC_RAW: all mirrors failed for %s", path)
}

func (l *Locator) getAPI(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := l.Client.Do(req)
	if err != nil {
		return 0, nil, fault.Wrap(fault.KindNotFound, err, "SRC_HTTP: %s", url)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, nil, fault.Wrap(fault.KindNotFound, err, "SRC_HTTP: %s", url)
	}
	return resp.StatusCode, body, nil
}

func (l *Locator) getRaw(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 256<<20))
}

// ParseKeyVDF extracts depot decryption keys from a key.vdf document.
func ParseKeyVDF(data []byte) (map[string]string, error) {
	root, err := vdf.Parse(data)
	if err != nil {
		return nil, err
	}
	depots, ok := root.ChildFold("depots")
	if !ok {
		return nil, fault.New(fault.KindMalformed, "SRC_KEYS: no depots section")
	}
	out := map[string]string{}
	for _, e := range depots.Entries() {
		if e.Sub == nil {
			continue
		}
		if key, ok := e.Sub.String("DecryptionKey"); ok && key != "" {
			out[e.Key] = key
		}
	}
	return out, nil
}

// keysFromScript pulls keyed registrations out of unlock script text.
// "None" marks the main-app placeholder, not a depot key.
func keysFromScript(data []byte) map[string]string {
	out := map[string]string{}
	for id, key := range script.Parse(data).Apps() {
		if key == "" || key == "None" {
			continue
		}
		out[fmt.Sprintf("%d", id)] = key
	}
	return out
}

func mergeKeys(dst, src map[string]string) {
	for id, key := range src {
		dst[id] = key
	}
}
