package store

import (
	"os"
	"testing"
	"time"
)

func TestStateRoundTrip(t *testing.T) {
	root := t.TempDir()
	st, err := LoadState(root)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if st.Version != StateVersion || len(st.Installed) != 0 {
		t.Fatalf("unexpected empty state: %+v", st)
	}

	UpsertInstalled(&st, InstalledTitle{AppID: "730", Name: "CS2", Profile: "steamtools", Source: "hub", InstalledAt: time.Now().UTC()})
	UpsertInstalled(&st, InstalledTitle{AppID: "440", Name: "TF2", Profile: "steamtools", Source: "hub", InstalledAt: time.Now().UTC()})
	if err := SaveState(root, st); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := LoadState(root)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got.Installed) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got.Installed))
	}
	if got.Installed[0].AppID != "440" {
		t.Fatalf("records not sorted by app id: %+v", got.Installed)
	}
}

func TestUpsertReplaces(t *testing.T) {
	var st State
	UpsertInstalled(&st, InstalledTitle{AppID: "10", Name: "old"})
	UpsertInstalled(&st, InstalledTitle{AppID: "10", Name: "new"})
	if len(st.Installed) != 1 || st.Installed[0].Name != "new" {
		t.Fatalf("upsert did not replace: %+v", st.Installed)
	}
}

func TestRemoveInstalled(t *testing.T) {
	var st State
	UpsertInstalled(&st, InstalledTitle{AppID: "10"})
	if !RemoveInstalled(&st, "10") {
		t.Fatalf("expected removal")
	}
	if RemoveInstalled(&st, "10") {
		t.Fatalf("second removal must report absence")
	}
}

func TestStateRejectsUnknownVersion(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(StatePath(root), []byte("version = 99\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := LoadState(root); err == nil {
		t.Fatalf("expected version error")
	}
}
