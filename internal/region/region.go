// Package region decides which raw-file mirror set to use and tracks the
// repo-tree API quota.
package region

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"depotkit/internal/fault"
	"depotkit/internal/logx"
)

type Region string

const (
	RegionUnknown Region = ""
	RegionCN      Region = "cn"
	RegionGlobal  Region = "global"
)

const (
	defaultProbeURL = "https://mips.kugou.com/check/iscn?&format=json"
	defaultAPIBase  = "https://api.github.com"
)

// Gate caches the detected region for the process lifetime and exposes
// the mirror list for raw file fetches.
type Gate struct {
	Client   *http.Client
	Log      logx.Logger
	ProbeURL string
	APIBase  string

	mu     sync.Mutex
	region Region
}

func NewGate(client *http.Client, log logx.Logger) *Gate {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = logx.Nop()
	}
	return &Gate{Client: client, Log: log, ProbeURL: defaultProbeURL, APIBase: defaultAPIBase}
}

type probePayload struct {
	Flag    any    `json:"flag"`
	Country string `json:"country"`
}

// Detect probes the region service once and caches the answer. A failed
// probe defaults to CN so downloads prefer the mirror CDNs, matching the
// safer degradation for the common case.
func (g *Gate) Detect(ctx context.Context) Region {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.region != RegionUnknown {
		return g.region
	}
	g.region = g.probe(ctx)
	return g.region
}

func (g *Gate) probe(ctx context.Context) Region {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.ProbeURL, nil)
	if err != nil {
		return RegionCN
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		g.Log.Warning("region probe failed, defaulting to mirror CDNs", "err", err)
		return RegionCN
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return RegionCN
	}
	var payload probePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return RegionCN
	}
	if truthy(payload.Flag) {
		g.Log.Info("region: CN, using mirror CDNs")
		return RegionCN
	}
	g.Log.Info("region: outside CN, using origin host", "country", payload.Country)
	return RegionGlobal
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t == "1" || t == "true"
	default:
		return false
	}
}

// RawURLs returns the ordered mirror candidates for one raw file at
// (repo, commit, path).
func (g *Gate) RawURLs(ctx context.Context, repo, sha, path string) []string {
	if g.Detect(ctx) == RegionCN {
		return []string{
			fmt.Sprintf("https://cdn.jsdmirror.com/gh/%s@%s/%s", repo, sha, path),
			fmt.Sprintf("https://raw.gitmirror.com/%s/%s/%s", repo, sha, path),
		}
	}
	return []string{
		fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s", repo, sha, path),
	}
}

// RateStatus is the repo-tree API core quota snapshot.
type RateStatus struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	Reset     time.Time `json:"reset"`
}

type rateLimitPayload struct {
	Resources struct {
		Core struct {
			Limit     int   `json:"limit"`
			Remaining int   `json:"remaining"`
			Reset     int64 `json:"reset"`
		} `json:"core"`
	} `json:"resources"`
}

// CheckRateLimit queries the API quota. Exhausted quota is surfaced as
// RateLimited carrying the reset time so callers can skip repo-tree
// sources instead of burning requests into 403s.
func (g *Gate) CheckRateLimit(ctx context.Context) (RateStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.APIBase+"/rate_limit", nil)
	if err != nil {
		return RateStatus{}, err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return RateStatus{}, fmt.Errorf("SRC_RATE: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return RateStatus{}, fmt.Errorf("SRC_RATE: %w", err)
	}
	var payload rateLimitPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return RateStatus{}, fmt.Errorf("SRC_RATE: bad payload: %w", err)
	}
	status := RateStatus{
		Remaining: payload.Resources.Core.Remaining,
		Limit:     payload.Resources.Core.Limit,
		Reset:     time.Unix(payload.Resources.Core.Reset, 0),
	}
	// a payload without a core quota unmarshals to all zeros; that is not
	// exhaustion, just an answer we cannot read
	if status.Limit > 0 && status.Remaining == 0 {
		return status, fault.New(fault.KindRateLimited, "SRC_RATE: API quota exhausted, resets %s", status.Reset.Format(time.RFC3339))
	}
	return status, nil
}
