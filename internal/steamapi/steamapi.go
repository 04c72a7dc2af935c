// Package steamapi wraps the three public metadata surfaces the pipeline
// reads: the steamcmd info API (DLC and depot listings), the store
// appdetails endpoint (display names), and the steamui listing (title
// search). Requests are paced through one shared limiter since none of
// the hosts publish a quota.
package steamapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"depotkit/internal/logx"
)

const (
	defaultInfoBase   = "https://api.steamcmd.net"
	defaultStoreBase  = "https://store.steampowered.com"
	defaultSearchBase = "https://steamui.com"
)

type Client struct {
	HTTP       *http.Client
	InfoBase   string
	StoreBase  string
	SearchBase string
	Limiter    *rate.Limiter
	Log        logx.Logger
}

func New(httpClient *http.Client, log logx.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if log == nil {
		log = logx.Nop()
	}
	return &Client{
		HTTP:       httpClient,
		InfoBase:   defaultInfoBase,
		StoreBase:  defaultStoreBase,
		SearchBase: defaultSearchBase,
		Limiter:    rate.NewLimiter(rate.Limit(5), 1),
		Log:        log,
	}
}

func (c *Client) get(ctx context.Context, fullURL string) ([]byte, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API_HTTP: status %d from %s", resp.StatusCode, fullURL)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

func (c *Client) appInfo(ctx context.Context, appID string) (map[string]any, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/v1/info/%s", c.InfoBase, url.PathEscape(appID)))
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("API_INFO: bad payload for %s: %w", appID, err)
	}
	data, _ := payload["data"].(map[string]any)
	info, _ := data[appID].(map[string]any)
	if info == nil {
		return nil, fmt.Errorf("API_INFO: no data for %s", appID)
	}
	return info, nil
}

// DLCList returns the app's candidate DLC IDs: the union of the
// comma-delimited listofdlc field (common or extended block) and the dlc
// map's keys, digits only, sorted numerically.
func (c *Client) DLCList(ctx context.Context, appID string) ([]string, error) {
	info, err := c.appInfo(ctx, appID)
	if err != nil {
		return nil, err
	}
	ids := map[string]struct{}{}

	listOf := stringField(info, "common", "listofdlc")
	if listOf == "" {
		listOf = stringField(info, "extended", "listofdlc")
	}
	for _, part := range strings.Split(listOf, ",") {
		part = strings.TrimSpace(part)
		if part != "" && isDigits(part) {
			ids[part] = struct{}{}
		}
	}
	if dlcMap, ok := info["dlc"].(map[string]any); ok {
		for id := range dlcMap {
			if isDigits(id) {
				ids[id] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.ParseInt(out[i], 10, 64)
		b, _ := strconv.ParseInt(out[j], 10, 64)
		return a < b
	})
	return out, nil
}

// Depot is one content unit with a published public manifest.
type Depot struct {
	DepotID  string
	Size     int64
	DLCAppID string
}

// Depots lists the app's depots that carry a public manifest. Depot
// presence is the free/paid heuristic's input.
func (c *Client) Depots(ctx context.Context, appID string) ([]Depot, error) {
	info, err := c.appInfo(ctx, appID)
	if err != nil {
		return nil, err
	}
	depots, _ := info["depots"].(map[string]any)
	var out []Depot
	for depotID, raw := range depots {
		depotInfo, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		manifests, _ := depotInfo["manifests"].(map[string]any)
		public, ok := manifests["public"].(map[string]any)
		if !ok {
			continue
		}
		d := Depot{DepotID: depotID}
		switch v := public["download"].(type) {
		case string:
			d.Size, _ = strconv.ParseInt(v, 10, 64)
		case float64:
			d.Size = int64(v)
		}
		if dlcAppID, ok := depotInfo["dlcappid"].(string); ok {
			d.DLCAppID = dlcAppID
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepotID < out[j].DepotID })
	return out, nil
}

// GameName looks up a display name, degrading to "DLC <id>" when the
// store has nothing.
func (c *Client) GameName(ctx context.Context, appID string) string {
	fallback := "DLC " + appID
	body, err := c.get(ctx, fmt.Sprintf("%s/api/appdetails?appids=%s", c.StoreBase, url.QueryEscape(appID)))
	if err != nil {
		return fallback
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return fallback
	}
	entry, _ := payload[appID].(map[string]any)
	if ok, _ := entry["success"].(bool); !ok {
		return fallback
	}
	data, _ := entry["data"].(map[string]any)
	if name, ok := data["name"].(string); ok && name != "" {
		return name
	}
	return fallback
}

// Game is one title-search result.
type Game struct {
	AppID string `json:"appid"`
	Name  string `json:"name"`
	Type  string `json:"type"`
}

// SearchGames queries the listing API by name, keeping only Game and
// Application entries.
func (c *Client) SearchGames(ctx context.Context, name string) ([]Game, error) {
	q := url.Values{}
	q.Set("page", "1")
	q.Set("search", name)
	q.Set("sort", "update")
	body, err := c.get(ctx, fmt.Sprintf("%s/api/loadGames.php?%s", c.SearchBase, q.Encode()))
	if err != nil {
		return nil, err
	}
	var payload struct {
		Games []Game `json:"games"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("API_SEARCH: bad payload: %w", err)
	}
	out := make([]Game, 0, len(payload.Games))
	for _, g := range payload.Games {
		if g.Type == "Game" || g.Type == "Application" {
			out = append(out, g)
		}
	}
	return out, nil
}

func stringField(info map[string]any, section, key string) string {
	sec, _ := info[section].(map[string]any)
	if v, ok := sec[key].(string); ok {
		return v
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
