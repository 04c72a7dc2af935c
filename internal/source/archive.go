package source

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"depotkit/internal/fault"
	"depotkit/internal/stfile"
)

const archiveFetchTimeout = 60 * time.Second

// resolveArchive downloads the source's per-AppID zip and decodes its
// contents into a ResolvedSet. Any non-200 answer is a normal miss.
func (l *Locator) resolveArchive(ctx context.Context, desc Descriptor, appID string) (*ResolvedSet, error) {
	url := desc.ArchiveURL(appID)
	fetchCtx, cancel := context.WithTimeout(ctx, archiveFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindNotFound, err, "SRC_ARCHIVE: %s unreachable", desc.Name)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fault.New(fault.KindNotFound, "SRC_ARCHIVE: %s returned status %d for app %s", desc.Name, resp.StatusCode, appID)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 512<<20))
	if err != nil {
		return nil, fault.Wrap(fault.KindNotFound, err, "SRC_ARCHIVE: %s download interrupted", desc.Name)
	}
	return l.extractArchive(desc, appID, data)
}

func (l *Locator) extractArchive(desc Descriptor, appID string, data []byte) (*ResolvedSet, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fault.Wrap(fault.KindMalformed, err, "SRC_ARCHIVE: %s sent an unreadable archive", desc.Name)
	}

	set := &ResolvedSet{AppID: appID, Source: desc.Name, Keys: map[string]string{}}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Base(f.Name)
		switch {
		case strings.HasSuffix(name, ".manifest"):
			depotID, manifestID, ok := ParseManifestName(name)
			if !ok {
				l.Log.Warning("skipping manifest with unexpected name", "source", desc.Name, "file", f.Name)
				continue
			}
			content, err := readZipFile(f)
			if err != nil {
				return nil, fault.Wrap(fault.KindMalformed, err, "SRC_ARCHIVE: %s entry %s unreadable", desc.Name, f.Name)
			}
			set.Manifests = append(set.Manifests, Manifest{
				DepotID:    depotID,
				ManifestID: manifestID,
				Name:       name,
				Data:       content,
			})
		case strings.Contains(strings.ToLower(name), "key.vdf"):
			content, err := readZipFile(f)
			if err != nil {
				return nil, fault.Wrap(fault.KindMalformed, err, "SRC_ARCHIVE: %s entry %s unreadable", desc.Name, f.Name)
			}
			keys, parseErr := ParseKeyVDF(content)
			if parseErr != nil {
				l.Log.Warning("key file unreadable, skipping", "source", desc.Name, "file", f.Name, "err", parseErr)
				continue
			}
			mergeKeys(set.Keys, keys)
		case strings.HasSuffix(name, ".lua"):
			content, err := readZipFile(f)
			if err != nil {
				return nil, fault.Wrap(fault.KindMalformed, err, "SRC_ARCHIVE: %s entry %s unreadable", desc.Name, f.Name)
			}
			mergeKeys(set.Keys, keysFromScript(content))
		case strings.HasSuffix(name, ".st"):
			content, err := readZipFile(f)
			if err != nil {
				return nil, fault.Wrap(fault.KindMalformed, err, "SRC_ARCHIVE: %s entry %s unreadable", desc.Name, f.Name)
			}
			text, _, decErr := stfile.Decode(content)
			if decErr != nil {
				l.Log.Warning("st container unreadable, skipping", "source", desc.Name, "file", f.Name, "err", decErr)
				continue
			}
			mergeKeys(set.Keys, keysFromScript([]byte(text)))
		}
	}
	return set, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, 512<<20))
}
