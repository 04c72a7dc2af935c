package source

import (
	"regexp"
	"strings"
	"time"

	"depotkit/internal/config"
	"depotkit/internal/fault"
)

// Kind is the closed set of source strategies.
type Kind int

const (
	KindRepoTree Kind = iota
	KindArchiveMirror
)

func (k Kind) String() string {
	if k == KindArchiveMirror {
		return "archive-mirror"
	}
	return "repo-tree"
}

// Descriptor is one resolvable source. Callers pass descriptors in
// fallback priority order.
type Descriptor struct {
	Name     string
	Kind     Kind
	Repo     string // owner/name, repo-tree only
	Endpoint string // URL template with {appid}, archive-mirror only
}

// DescriptorFrom lifts a config entry into the tagged form, replacing the
// config file's string kinds with the closed variant.
func DescriptorFrom(sc config.SourceConfig) (Descriptor, error) {
	switch sc.Kind {
	case config.KindRepoTree:
		return Descriptor{Name: sc.Name, Kind: KindRepoTree, Repo: sc.Repo}, nil
	case config.KindArchiveMirror:
		return Descriptor{Name: sc.Name, Kind: KindArchiveMirror, Endpoint: sc.Endpoint}, nil
	default:
		return Descriptor{}, fault.New(fault.KindMalformed, "SRC_KIND: unsupported source kind %q", sc.Kind)
	}
}

func DescriptorsFrom(scs []config.SourceConfig) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(scs))
	for _, sc := range scs {
		d, err := DescriptorFrom(sc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ArchiveURL substitutes the AppID into an archive-mirror endpoint.
func (d Descriptor) ArchiveURL(appID string) string {
	return strings.ReplaceAll(d.Endpoint, "{appid}", appID)
}

// Manifest is one depot manifest artifact. Data is nil when manifest
// downloads were skipped (floating mode); the name alone still carries
// the version pin.
type Manifest struct {
	DepotID    string
	ManifestID string
	Name       string
	Data       []byte
}

var manifestNameRe = regexp.MustCompile(`^(\d+)_(\w+)\.manifest$`)

// ParseManifestName splits "depot_manifest.manifest" into its IDs.
func ParseManifestName(name string) (depotID, manifestID string, ok bool) {
	m := manifestNameRe.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// ResolvedSet is everything one source yielded for one AppID, fully
// downloaded and decoded. Installation never starts from a partial set.
type ResolvedSet struct {
	AppID     string
	Source    string
	Repo      string
	SHA       string
	UpdatedAt time.Time
	Manifests []Manifest
	// Keys maps depot ID to its decryption key, unioned from every
	// key-bearing file the source carried.
	Keys map[string]string
}

// Hit is one repo-tree source that has a branch for the AppID, as found
// by search-all.
type Hit struct {
	Desc      Descriptor
	SHA       string
	TreeURL   string
	UpdatedAt time.Time
}
