package installer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"depotkit/internal/fault"
	"depotkit/internal/logx"
	"depotkit/internal/source"
	"depotkit/internal/steam"
	"depotkit/internal/store"
)

func steamToolsSession(t *testing.T) steam.Session {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "config", "stplug-in"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return steam.Session{Root: root, Profile: steam.ProfileSteamTools}
}

func greenLumaSession(t *testing.T) steam.Session {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	seed := "\"InstallConfigStore\"\n{\n\t\"Software\"\n\t{\n\t\t\"Valve\"\n\t\t{\n\t\t\t\"Steam\"\n\t\t\t{\n\t\t\t}\n\t\t}\n\t}\n}\n"
	if err := os.WriteFile(filepath.Join(root, "config", "config.vdf"), []byte(seed), 0o644); err != nil {
		t.Fatalf("seed config.vdf: %v", err)
	}
	return steam.Session{Root: root, Profile: steam.ProfileGreenLuma}
}

func sampleSet() *source.ResolvedSet {
	return &source.ResolvedSet{
		AppID:  "730",
		Source: "hub",
		SHA:    "abc123",
		Manifests: []source.Manifest{
			{DepotID: "731", ManifestID: "999", Name: "731_999.manifest", Data: []byte("manifest-bytes")},
		},
		Keys: map[string]string{"731": "DEADBEEF"},
	}
}

func TestInstallSteamTools(t *testing.T) {
	sess := steamToolsSession(t)
	w := New(sess, t.TempDir(), nil, logx.Nop())

	res, err := w.Install(context.Background(), sampleSet(), Options{LockManifest: true})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if res.Manifests != 1 {
		t.Fatalf("expected 1 manifest copy, got %d", res.Manifests)
	}
	for _, dir := range []string{sess.DepotCacheDir(), sess.ConfigDepotCacheDir()} {
		if _, err := os.Stat(filepath.Join(dir, "731_999.manifest")); err != nil {
			t.Fatalf("manifest missing from %s: %v", dir, err)
		}
	}

	blob, err := os.ReadFile(res.ScriptPath)
	if err != nil {
		t.Fatalf("script missing: %v", err)
	}
	text := string(blob)
	for _, want := range []string{
		`addappid(730, 1, "None")`,
		`addappid(731, 1, "DEADBEEF")`,
		`setManifestid(731, "999")`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("script missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, `--setManifestid`) {
		t.Fatalf("locked install must not disable pins:\n%s", text)
	}
}

func TestInstallFloatingDisablesPins(t *testing.T) {
	sess := steamToolsSession(t)
	w := New(sess, t.TempDir(), nil, logx.Nop())

	res, err := w.Install(context.Background(), sampleSet(), Options{})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	blob, _ := os.ReadFile(res.ScriptPath)
	if !strings.Contains(string(blob), `--setManifestid(731, "999")`) {
		t.Fatalf("floating install must comment out pins:\n%s", blob)
	}
}

func TestInstallOnlyScriptsSkipsManifests(t *testing.T) {
	sess := steamToolsSession(t)
	w := New(sess, t.TempDir(), nil, logx.Nop())

	res, err := w.Install(context.Background(), sampleSet(), Options{OnlyScripts: true})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if res.Manifests != 0 {
		t.Fatalf("only-scripts must not copy manifests")
	}
	if _, err := os.Stat(filepath.Join(sess.DepotCacheDir(), "731_999.manifest")); !os.IsNotExist(err) {
		t.Fatalf("depot cache written in only-scripts mode")
	}
	if _, err := os.Stat(res.ScriptPath); err != nil {
		t.Fatalf("script must still be written: %v", err)
	}
}

func TestInstallMergesExistingScript(t *testing.T) {
	sess := steamToolsSession(t)
	prior := "addappid(111)\naddappid(730, 1, \"OLDKEY\")\n-- hand note\n"
	if err := os.WriteFile(sess.ScriptPath("730"), []byte(prior), 0o644); err != nil {
		t.Fatalf("seed script: %v", err)
	}
	w := New(sess, t.TempDir(), nil, logx.Nop())

	res, err := w.Install(context.Background(), sampleSet(), Options{LockManifest: true})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	blob, _ := os.ReadFile(res.ScriptPath)
	text := string(blob)
	if !strings.Contains(text, "addappid(111)") {
		t.Fatalf("prior bare registration lost:\n%s", text)
	}
	if !strings.Contains(text, "-- hand note") {
		t.Fatalf("passthrough line lost:\n%s", text)
	}
	if !strings.Contains(text, `addappid(730, 1, "None")`) {
		t.Fatalf("new registration must win:\n%s", text)
	}
	if strings.Contains(text, "OLDKEY") {
		t.Fatalf("stale key survived merge:\n%s", text)
	}
}

func TestInstallGreenLuma(t *testing.T) {
	sess := greenLumaSession(t)
	w := New(sess, t.TempDir(), nil, logx.Nop())

	res, err := w.Install(context.Background(), sampleSet(), Options{})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if len(res.AppList) != 2 {
		t.Fatalf("expected app and depot flag files, got %v", res.AppList)
	}
	for _, id := range []string{"730", "731"} {
		blob, err := os.ReadFile(filepath.Join(sess.AppListDir(), id+".txt"))
		if err != nil {
			t.Fatalf("flag file %s.txt must be named by ID: %v", id, err)
		}
		if string(blob) != id {
			t.Fatalf("flag file %s.txt content = %q, want the ID", id, blob)
		}
	}
	blob, err := os.ReadFile(sess.ConfigVDFPath())
	if err != nil {
		t.Fatalf("config.vdf: %v", err)
	}
	if !strings.Contains(string(blob), "DEADBEEF") {
		t.Fatalf("depot key not merged:\n%s", blob)
	}
	if !strings.Contains(string(blob), `"Steam"`) {
		t.Fatalf("unrelated section lost:\n%s", blob)
	}

	// second install is idempotent for the applist
	res2, err := w.Install(context.Background(), sampleSet(), Options{})
	if err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	if len(res2.AppList) != 0 {
		t.Fatalf("reinstall must not duplicate flag files: %v", res2.AppList)
	}
}

func TestInstallRollsBackOnVDFFailure(t *testing.T) {
	sess := greenLumaSession(t)
	// corrupt config.vdf so the merge fails after manifests were copied
	if err := os.WriteFile(sess.ConfigVDFPath(), []byte(`"broken`), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	w := New(sess, t.TempDir(), nil, logx.Nop())

	_, err := w.Install(context.Background(), sampleSet(), Options{})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if _, statErr := os.Stat(filepath.Join(sess.DepotCacheDir(), "731_999.manifest")); !os.IsNotExist(statErr) {
		t.Fatalf("manifest copy must be rolled back")
	}
}

func TestInstallRefusesManifestWithoutKey(t *testing.T) {
	sess := steamToolsSession(t)
	w := New(sess, t.TempDir(), nil, logx.Nop())
	set := sampleSet()
	set.Keys = map[string]string{}

	_, err := w.Install(context.Background(), set, Options{LockManifest: true})
	if fault.KindOf(err) != fault.KindMalformed {
		t.Fatalf("expected consistency refusal, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(sess.DepotCacheDir(), "731_999.manifest")); !os.IsNotExist(statErr) {
		t.Fatalf("nothing may be written on refusal")
	}
}

func TestInstallRefusesConflictProfile(t *testing.T) {
	w := New(steam.Session{Root: t.TempDir(), Profile: steam.ProfileConflict}, t.TempDir(), nil, logx.Nop())
	_, err := w.Install(context.Background(), sampleSet(), Options{})
	if fault.KindOf(err) != fault.KindIOFailure {
		t.Fatalf("expected io-failure refusal, got %v", err)
	}
}

func TestAppendFreeAppsSteamTools(t *testing.T) {
	sess := steamToolsSession(t)
	w := New(sess, t.TempDir(), nil, logx.Nop())
	if _, err := w.Install(context.Background(), sampleSet(), Options{LockManifest: true}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := w.AppendFreeApps("730", []string{"810", "811"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	blob, _ := os.ReadFile(sess.ScriptPath("730"))
	text := string(blob)
	if !strings.Contains(text, "addappid(810)\n") || !strings.Contains(text, "addappid(811)\n") {
		t.Fatalf("free registrations missing:\n%s", text)
	}
	if !strings.Contains(text, `addappid(731, 1, "DEADBEEF")`) {
		t.Fatalf("existing keyed registration lost:\n%s", text)
	}
}

func TestRecordInstalled(t *testing.T) {
	storage := t.TempDir()
	w := New(steamToolsSession(t), storage, nil, logx.Nop())
	if err := w.RecordInstalled("730", "CS2", sampleSet()); err != nil {
		t.Fatalf("record: %v", err)
	}
	st, err := store.LoadState(storage)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if len(st.Installed) != 1 || st.Installed[0].AppID != "730" || st.Installed[0].Name != "CS2" {
		t.Fatalf("record wrong: %+v", st.Installed)
	}
	if st.Installed[0].InstalledAt.IsZero() {
		t.Fatalf("timestamp not stamped")
	}
}
