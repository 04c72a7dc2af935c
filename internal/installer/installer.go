// Package installer commits a resolved artifact set into the Steam tree
// for whichever unlocker profile the session detected. Every mutation is
// staged or backed up first; on any failure the install rolls back so the
// tree is never left half-written.
package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"depotkit/internal/audit"
	"depotkit/internal/fault"
	"depotkit/internal/fsutil"
	"depotkit/internal/logx"
	"depotkit/internal/script"
	"depotkit/internal/source"
	"depotkit/internal/steam"
	"depotkit/internal/store"
	"depotkit/internal/vdf"
)

type Writer struct {
	Session     steam.Session
	StorageRoot string
	Audit       *audit.Logger
	Log         logx.Logger

	// vdfMu serialises config.vdf read-merge-write cycles. The file is a
	// single shared document, so concurrent merges would lose keys.
	vdfMu sync.Mutex
}

type Options struct {
	// OnlyScripts writes the unlock script but skips manifest copies.
	OnlyScripts bool
	// LockManifest pins depot manifest versions; when false the pins are
	// written disabled so the unlocker floats to the latest version.
	LockManifest bool
}

type Result struct {
	Profile    steam.Profile
	ScriptPath string
	Manifests  int
	AppList    []string
}

func New(session steam.Session, storageRoot string, auditLog *audit.Logger, log logx.Logger) *Writer {
	if log == nil {
		log = logx.Nop()
	}
	return &Writer{Session: session, StorageRoot: storageRoot, Audit: auditLog, Log: log}
}

// tx tracks everything an install changed so a failure can undo it.
// backups hold prior file contents; nil content means the file did not
// exist and rollback removes it.
type tx struct {
	created []string
	backups map[string][]byte
}

func newTx() *tx { return &tx{backups: map[string][]byte{}} }

func (t *tx) track(path string) { t.created = append(t.created, path) }

func (t *tx) backup(path string) error {
	if _, seen := t.backups[path]; seen {
		return nil
	}
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		t.backups[path] = nil
		return nil
	}
	if err != nil {
		return err
	}
	t.backups[path] = blob
	return nil
}

func (t *tx) rollback() {
	for _, p := range t.created {
		_ = os.Remove(p)
	}
	for p, blob := range t.backups {
		if blob == nil {
			_ = os.Remove(p)
			continue
		}
		_ = fsutil.AtomicWrite(p, blob, 0o644)
	}
}

// Install writes the set for the detected profile. The artifact set must
// already be fully resolved; nothing is fetched here.
func (w *Writer) Install(ctx context.Context, set *source.ResolvedSet, opts Options) (Result, error) {
	if w.Session.Profile == steam.ProfileNone {
		return Result{}, fault.New(fault.KindIOFailure, "INS_PROFILE: no unlocker detected under %s", w.Session.Root)
	}
	if w.Session.Profile == steam.ProfileConflict {
		return Result{}, fault.New(fault.KindIOFailure, "INS_PROFILE: both unlockers present, refusing to write")
	}
	if err := store.EnsureLayout(w.StorageRoot); err != nil {
		return Result{}, fault.Wrap(fault.KindIOFailure, err, "INS_STAGE_CREATE: storage root")
	}
	_ = w.Audit.Log(audit.Event{Operation: "install", AppID: set.AppID, Phase: "start", Status: "ok",
		Message: fmt.Sprintf("source=%s manifests=%d keys=%d", set.Source, len(set.Manifests), len(set.Keys))})

	stage := filepath.Join(store.StagingRoot(w.StorageRoot), "install-"+uuid.NewString())
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return Result{}, fault.Wrap(fault.KindIOFailure, err, "INS_STAGE_CREATE: %s", stage)
	}
	defer os.RemoveAll(stage)

	t := newTx()
	res, err := w.install(ctx, t, stage, set, opts)
	if err != nil {
		t.rollback()
		_ = w.Audit.Log(audit.Event{Operation: "install", AppID: set.AppID, Phase: "rollback", Status: "error", Message: err.Error()})
		return Result{}, err
	}
	_ = w.Audit.Log(audit.Event{Operation: "install", AppID: set.AppID, Phase: "commit", Status: "ok",
		Message: fmt.Sprintf("profile=%s manifests=%d", res.Profile, res.Manifests)})
	return res, nil
}

func (w *Writer) install(ctx context.Context, t *tx, stage string, set *source.ResolvedSet, opts Options) (Result, error) {
	res := Result{Profile: w.Session.Profile}

	if !opts.OnlyScripts {
		// A manifest whose depot has no key would install content Steam
		// cannot decrypt; refuse rather than report a partial success.
		for _, m := range set.Manifests {
			if m.Data == nil {
				continue
			}
			if _, ok := set.Keys[m.DepotID]; !ok {
				return Result{}, fault.New(fault.KindMalformed, "INS_CONSISTENCY: depot %s has a manifest but no key", m.DepotID)
			}
		}
		n, err := w.copyManifests(ctx, t, stage, set)
		if err != nil {
			return Result{}, err
		}
		res.Manifests = n
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	switch w.Session.Profile {
	case steam.ProfileSteamTools:
		path, err := w.writeScript(t, set, opts)
		if err != nil {
			return Result{}, err
		}
		res.ScriptPath = path
	case steam.ProfileGreenLuma:
		if err := w.mergeConfigKeys(t, set.Keys); err != nil {
			return Result{}, err
		}
		ids := []string{set.AppID}
		for depot := range set.Keys {
			ids = append(ids, depot)
		}
		added, err := w.AddAppListIDs(t, ids)
		if err != nil {
			return Result{}, err
		}
		res.AppList = added
	}
	return res, nil
}

// copyManifests stages each manifest then places it in both depot cache
// directories; the client reads one or the other depending on version.
func (w *Writer) copyManifests(ctx context.Context, t *tx, stage string, set *source.ResolvedSet) (int, error) {
	dirs := []string{w.Session.DepotCacheDir(), w.Session.ConfigDepotCacheDir()}
	if err := fsutil.EnsureDirs(dirs...); err != nil {
		return 0, fault.Wrap(fault.KindIOFailure, err, "INS_CACHE_CREATE: depot cache")
	}

	n := 0
	for _, m := range set.Manifests {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if m.Data == nil {
			continue
		}
		staged := filepath.Join(stage, m.Name)
		if err := os.WriteFile(staged, m.Data, 0o644); err != nil {
			return 0, fault.Wrap(fault.KindIOFailure, err, "INS_STAGE_WRITE: %s", m.Name)
		}
		for _, dir := range dirs {
			dst := filepath.Join(dir, m.Name)
			if err := t.backup(dst); err != nil {
				return 0, fault.Wrap(fault.KindIOFailure, err, "INS_COMMIT_BACKUP: %s", dst)
			}
			if t.backups[dst] == nil {
				t.track(dst)
			}
			if err := fsutil.CopyFile(staged, dst); err != nil {
				return 0, fault.Wrap(fault.KindIOFailure, err, "INS_COMMIT_COPY: %s", dst)
			}
		}
		n++
	}
	return n, nil
}

// writeScript builds the per-app unlock script and merges it over any
// existing one, new registrations winning.
func (w *Writer) writeScript(t *tx, set *source.ResolvedSet, opts Options) (string, error) {
	appID, err := strconv.ParseInt(set.AppID, 10, 64)
	if err != nil {
		return "", fault.Wrap(fault.KindMalformed, err, "INS_SCRIPT: bad app id %q", set.AppID)
	}

	fresh := script.New()
	fresh.AddApp(appID, "None")
	for depot, key := range set.Keys {
		id, err := strconv.ParseInt(depot, 10, 64)
		if err != nil {
			w.Log.Warning("skipping non-numeric depot id", "depot", depot)
			continue
		}
		fresh.AddApp(id, key)
	}
	for _, m := range set.Manifests {
		depot, err := strconv.ParseInt(m.DepotID, 10, 64)
		if err != nil {
			continue
		}
		fresh.PinManifest(depot, m.ManifestID, !opts.LockManifest)
	}

	path := w.Session.ScriptPath(set.AppID)
	if err := t.backup(path); err != nil {
		return "", fault.Wrap(fault.KindIOFailure, err, "INS_COMMIT_BACKUP: %s", path)
	}
	merged := fresh
	if prior := t.backups[path]; prior != nil {
		existing := script.Parse(prior)
		existing.Merge(fresh)
		merged = existing
	} else {
		t.track(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fault.Wrap(fault.KindIOFailure, err, "INS_SCRIPT_DIR: %s", path)
	}
	if err := fsutil.AtomicWrite(path, merged.Render(), 0o644); err != nil {
		return "", fault.Wrap(fault.KindIOFailure, err, "INS_SCRIPT_WRITE: %s", path)
	}
	return path, nil
}

// mergeConfigKeys folds depot keys into Steam's config.vdf, preserving
// every unrelated section byte-for-byte in structure.
func (w *Writer) mergeConfigKeys(t *tx, keys map[string]string) error {
	if len(keys) == 0 {
		return nil
	}
	w.vdfMu.Lock()
	defer w.vdfMu.Unlock()

	path := w.Session.ConfigVDFPath()
	blob, err := os.ReadFile(path)
	if err != nil {
		return fault.Wrap(fault.KindIOFailure, err, "INS_VDF_READ: %s", path)
	}
	if err := t.backup(path); err != nil {
		return fault.Wrap(fault.KindIOFailure, err, "INS_COMMIT_BACKUP: %s", path)
	}
	root, err := vdf.Parse(blob)
	if err != nil {
		return err
	}
	if err := vdf.MergeDepotKeys(root, keys); err != nil {
		return err
	}
	if err := fsutil.AtomicWrite(path, root.Dump(), 0o644); err != nil {
		return fault.Wrap(fault.KindIOFailure, err, "INS_VDF_WRITE: %s", path)
	}
	return nil
}

// AddAppListIDs writes one flag file per ID into the GreenLuma AppList
// directory. Files are named by the ID they unlock, so a reinstall is a
// no-op and the file name alone identifies the entry.
func (w *Writer) AddAppListIDs(t *tx, ids []string) ([]string, error) {
	dir := w.Session.AppListDir()
	if err := fsutil.EnsureDirs(dir); err != nil {
		return nil, fault.Wrap(fault.KindIOFailure, err, "INS_APPLIST_CREATE: %s", dir)
	}

	sort.Strings(ids)
	var added []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		path := filepath.Join(dir, id+".txt")
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return nil, fault.Wrap(fault.KindIOFailure, err, "INS_APPLIST_READ: %s", path)
		}
		if t != nil {
			t.track(path)
		}
		if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
			return nil, fault.Wrap(fault.KindIOFailure, err, "INS_APPLIST_WRITE: %s", path)
		}
		added = append(added, id)
	}
	return added, nil
}

// AppendFreeApps registers IDs that need no key: a bare addappid line on
// SteamTools, an AppList flag file on GreenLuma.
func (w *Writer) AppendFreeApps(mainAppID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	switch w.Session.Profile {
	case steam.ProfileSteamTools:
		path := w.Session.ScriptPath(mainAppID)
		blob, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return fault.Wrap(fault.KindIOFailure, err, "INS_SCRIPT_READ: %s", path)
		}
		doc := script.Parse(blob)
		for _, id := range ids {
			n, err := strconv.ParseInt(id, 10, 64)
			if err != nil {
				continue
			}
			doc.AddApp(n, "")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fault.Wrap(fault.KindIOFailure, err, "INS_SCRIPT_DIR: %s", path)
		}
		return fsutil.AtomicWrite(path, doc.Render(), 0o644)
	case steam.ProfileGreenLuma:
		_, err := w.AddAppListIDs(nil, ids)
		return err
	default:
		return fault.New(fault.KindIOFailure, "INS_PROFILE: no unlocker detected")
	}
}

// RecordInstalled upserts the state-file record after a successful
// install. The timestamp is stamped here.
func (w *Writer) RecordInstalled(appID, name string, set *source.ResolvedSet) error {
	st, err := store.LoadState(w.StorageRoot)
	if err != nil {
		return err
	}
	store.UpsertInstalled(&st, store.InstalledTitle{
		AppID:       appID,
		Name:        name,
		Profile:     string(w.Session.Profile),
		Source:      set.Source,
		SHA:         set.SHA,
		InstalledAt: time.Now().UTC(),
	})
	return store.SaveState(w.StorageRoot, st)
}
