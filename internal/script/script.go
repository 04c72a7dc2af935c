// Package script models the unlock script consumed by the script-based
// back-end as a typed directive list instead of text. Files written by
// earlier runs (or by other tools) are parsed back through a small
// line-kind schema, merged, and re-rendered deterministically: directives
// dedupe by numeric ID and sort ascending, so regeneration is idempotent.
package script

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Script is the in-memory directive set for one title.
type Script struct {
	apps  map[int64]string // app or depot ID → decryption key; "" = bare registration
	pins  map[pinKey]bool  // → disabled
	other []string
}

type pinKey struct {
	depot    int64
	manifest string
}

func New() *Script {
	return &Script{apps: map[int64]string{}, pins: map[pinKey]bool{}}
}

// AddApp registers an ID with an optional key. A keyed registration
// always wins over a bare one for the same ID.
func (s *Script) AddApp(id int64, key string) {
	if existing, ok := s.apps[id]; ok && existing != "" && key == "" {
		return
	}
	s.apps[id] = key
}

// PinManifest records a manifest-version pin for a depot. Disabled pins
// render commented out; an incoming pin replaces the stored state for the
// same (depot, manifest) pair.
func (s *Script) PinManifest(depot int64, manifest string, disabled bool) {
	s.pins[pinKey{depot: depot, manifest: manifest}] = disabled
}

// Apps returns a copy of the registration map (ID → key).
func (s *Script) Apps() map[int64]string {
	out := make(map[int64]string, len(s.apps))
	for id, key := range s.apps {
		out[id] = key
	}
	return out
}

// Merge folds other's directives into s with the same precedence rules as
// direct adds. Passthrough lines are appended once.
func (s *Script) Merge(other *Script) {
	if other == nil {
		return
	}
	for id, key := range other.apps {
		s.AddApp(id, key)
	}
	for k, disabled := range other.pins {
		s.pins[k] = disabled
	}
	seen := map[string]struct{}{}
	for _, line := range s.other {
		seen[line] = struct{}{}
	}
	for _, line := range other.other {
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		s.other = append(s.other, line)
	}
}

// Render serializes the directive set: addappid block sorted by ID, then
// setManifestid block sorted by depot and manifest, then passthrough
// lines. Identical input renders byte-identical output.
func (s *Script) Render() []byte {
	ids := make([]int64, 0, len(s.apps))
	for id := range s.apps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	keys := make([]pinKey, 0, len(s.pins))
	for k := range s.pins {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].depot != keys[j].depot {
			return keys[i].depot < keys[j].depot
		}
		return keys[i].manifest < keys[j].manifest
	})

	var buf bytes.Buffer
	for _, id := range ids {
		if key := s.apps[id]; key != "" {
			fmt.Fprintf(&buf, "addappid(%d, 1, %q)\n", id, key)
		} else {
			fmt.Fprintf(&buf, "addappid(%d)\n", id)
		}
	}
	for _, k := range keys {
		if s.pins[k] {
			fmt.Fprintf(&buf, "--setManifestid(%d, %q)\n", k.depot, k.manifest)
		} else {
			fmt.Fprintf(&buf, "setManifestid(%d, %q)\n", k.depot, k.manifest)
		}
	}
	for _, line := range s.other {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

type lineKind int

const (
	lineBlank lineKind = iota
	lineAddApp
	linePin
	lineOther
)

var (
	// Accepts addappid(id), addappid(id, 1, "key") and the two-argument
	// addappid(id, "key") spelling other tools emit.
	addAppRe = regexp.MustCompile(`^addappid\(\s*(\d+)\s*(?:,\s*\d+\s*,\s*"([^"]*)"\s*|,\s*"([^"]*)"\s*)?\)$`)
	pinRe    = regexp.MustCompile(`^(--)?setManifestid\(\s*(\d+)\s*,\s*"([^"]*)"\s*(?:,\s*\d+\s*)?\)$`)
)

func classify(line string) lineKind {
	switch {
	case line == "":
		return lineBlank
	case strings.HasPrefix(line, "addappid("):
		if addAppRe.MatchString(line) {
			return lineAddApp
		}
		return lineOther
	case strings.HasPrefix(line, "setManifestid(") || strings.HasPrefix(line, "--setManifestid("):
		if pinRe.MatchString(line) {
			return linePin
		}
		return lineOther
	default:
		return lineOther
	}
}

// Parse reads a script written by a previous run (or a foreign tool) back
// into directive form. Lines that match no known kind pass through
// untouched so re-rendering never destroys them.
func Parse(data []byte) *Script {
	s := New()
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		switch classify(line) {
		case lineBlank:
		case lineAddApp:
			m := addAppRe.FindStringSubmatch(line)
			id, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				s.other = append(s.other, line)
				continue
			}
			key := m[2]
			if key == "" {
				key = m[3]
			}
			s.AddApp(id, key)
		case linePin:
			m := pinRe.FindStringSubmatch(line)
			depot, err := strconv.ParseInt(m[2], 10, 64)
			if err != nil {
				s.other = append(s.other, line)
				continue
			}
			s.PinManifest(depot, m[3], m[1] == "--")
		default:
			s.other = append(s.other, line)
		}
	}
	return s
}
