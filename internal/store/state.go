// Package store persists the tool's own records under the storage root:
// the installed-titles state file and the staging area used during
// installs. Steam's directories are never touched from here.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const StateVersion = 1

type State struct {
	Version   int              `toml:"version"`
	Installed []InstalledTitle `toml:"installed"`
}

type InstalledTitle struct {
	AppID       string    `toml:"app_id"`
	Name        string    `toml:"name"`
	Profile     string    `toml:"profile"`
	Source      string    `toml:"source"`
	SHA         string    `toml:"sha,omitempty"`
	InstalledAt time.Time `toml:"installed_at"`
}

func EnsureLayout(root string) error {
	for _, d := range []string{root, StagingRoot(root)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func LoadState(root string) (State, error) {
	if err := EnsureLayout(root); err != nil {
		return State{}, err
	}
	blob, err := os.ReadFile(StatePath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return State{Version: StateVersion}, nil
		}
		return State{}, err
	}
	var st State
	if err := toml.Unmarshal(blob, &st); err != nil {
		return State{}, fmt.Errorf("DOC_STATE_PARSE: %w", err)
	}
	if st.Version == 0 {
		st.Version = StateVersion
	}
	if st.Version != StateVersion {
		return State{}, fmt.Errorf("DOC_STATE_VERSION: unsupported state version %d", st.Version)
	}
	for i := range st.Installed {
		if st.Installed[i].AppID == "" {
			return State{}, fmt.Errorf("DOC_STATE_SCHEMA: installed entry missing app_id")
		}
	}
	return st, nil
}

func SaveState(root string, st State) error {
	if err := EnsureLayout(root); err != nil {
		return err
	}
	st.Version = StateVersion
	sort.Slice(st.Installed, func(i, j int) bool {
		return st.Installed[i].AppID < st.Installed[j].AppID
	})
	blob, err := toml.Marshal(st)
	if err != nil {
		return fmt.Errorf("DOC_STATE_ENCODE: %w", err)
	}
	path := StatePath(root)
	tmp := filepath.Join(filepath.Dir(path), ".state.toml.tmp")
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func UpsertInstalled(st *State, rec InstalledTitle) {
	for i := range st.Installed {
		if st.Installed[i].AppID == rec.AppID {
			st.Installed[i] = rec
			return
		}
	}
	st.Installed = append(st.Installed, rec)
}

func RemoveInstalled(st *State, appID string) bool {
	for i := range st.Installed {
		if st.Installed[i].AppID == appID {
			st.Installed = append(st.Installed[:i], st.Installed[i+1:]...)
			return true
		}
	}
	return false
}
