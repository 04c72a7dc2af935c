// Package steam locates the local Steam installation and the unlocker
// back-end its layout implies. Detection runs once per Session; the result
// is threaded through the pipeline instead of living in package state so
// parallel sessions (and tests) cannot interfere.
package steam

import (
	"os"
	"path/filepath"
	"runtime"

	"depotkit/internal/config"
	"depotkit/internal/fault"
)

// Profile is the unlocker back-end operating mode.
type Profile string

const (
	ProfileSteamTools Profile = "steamtools" // script-based
	ProfileGreenLuma  Profile = "greenluma"  // flat-file-based
	ProfileConflict   Profile = "conflict"
	ProfileNone       Profile = "none"
)

// Session holds the detected environment for one run.
type Session struct {
	Root    string
	Profile Profile
}

var greenLumaMarkers = []string{
	"GreenLuma_2025_x86.dll",
	"GreenLuma_2025_x64.dll",
}

// Detect resolves the Steam root and unlocker profile per the config's
// path and unlocker modes.
func Detect(cfg config.Config) (Session, error) {
	root, err := resolveRoot(cfg)
	if err != nil {
		return Session{}, err
	}
	s := Session{Root: root}
	if cfg.Unlocker.Mode == "manual" {
		s.Profile = Profile(cfg.Unlocker.Manual)
		return s, nil
	}
	s.Profile = detectProfile(root)
	return s, nil
}

func resolveRoot(cfg config.Config) (string, error) {
	if cfg.Steam.PathMode == "manual" {
		custom, err := config.ExpandPath(cfg.Steam.Path)
		if err != nil {
			return "", fault.Wrap(fault.KindIOFailure, err, "STM_PATH: invalid manual path")
		}
		return filepath.Clean(custom), nil
	}
	if cfg.Steam.Path != "" {
		custom, err := config.ExpandPath(cfg.Steam.Path)
		if err == nil {
			if _, statErr := os.Stat(custom); statErr == nil {
				return filepath.Clean(custom), nil
			}
		}
	}
	for _, candidate := range wellKnownRoots() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fault.New(fault.KindNotFound, "STM_PATH: steam installation not found; set steam.path in config")
}

func wellKnownRoots() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	switch runtime.GOOS {
	case "windows":
		return []string{
			`C:\Program Files (x86)\Steam`,
			`C:\Program Files\Steam`,
		}
	case "darwin":
		return []string{filepath.Join(home, "Library", "Application Support", "Steam")}
	default:
		return []string{
			filepath.Join(home, ".steam", "steam"),
			filepath.Join(home, ".local", "share", "Steam"),
		}
	}
}

func detectProfile(root string) Profile {
	if root == "" {
		return ProfileNone
	}
	st := false
	if info, err := os.Stat(filepath.Join(root, "config", "stplug-in")); err == nil && info.IsDir() {
		st = true
	}
	gl := false
	for _, dll := range greenLumaMarkers {
		if _, err := os.Stat(filepath.Join(root, dll)); err == nil {
			gl = true
			break
		}
	}
	switch {
	case st && gl:
		return ProfileConflict
	case st:
		return ProfileSteamTools
	case gl:
		return ProfileGreenLuma
	default:
		return ProfileNone
	}
}

// Redetect re-runs layout probing against the session's root, for callers
// that changed the environment mid-process.
func (s *Session) Redetect() {
	s.Profile = detectProfile(s.Root)
}

func (s Session) IsSteamTools() bool { return s.Profile == ProfileSteamTools }
func (s Session) IsGreenLuma() bool  { return s.Profile == ProfileGreenLuma }

// Layout paths consumed by the installation writer.

func (s Session) DepotCacheDir() string       { return filepath.Join(s.Root, "depotcache") }
func (s Session) ConfigDepotCacheDir() string { return filepath.Join(s.Root, "config", "depotcache") }
func (s Session) PluginDir() string           { return filepath.Join(s.Root, "config", "stplug-in") }
func (s Session) AppListDir() string          { return filepath.Join(s.Root, "AppList") }
func (s Session) ConfigVDFPath() string       { return filepath.Join(s.Root, "config", "config.vdf") }

func (s Session) ScriptPath(appID string) string {
	return filepath.Join(s.PluginDir(), appID+".lua")
}
