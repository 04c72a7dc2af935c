package config

import (
	"fmt"
	"strings"
)

var allowedPathModes = map[string]struct{}{
	"auto":   {},
	"manual": {},
}

var allowedProfiles = map[string]struct{}{
	"steamtools": {},
	"greenluma":  {},
}

var allowedSourceKinds = map[string]struct{}{
	KindRepoTree:      {},
	KindArchiveMirror: {},
}

func Validate(cfg Config) error {
	if cfg.Version != SchemaVersion {
		return fmt.Errorf("CFG_VERSION: unsupported version %d", cfg.Version)
	}
	if _, ok := allowedPathModes[cfg.Steam.PathMode]; !ok {
		return fmt.Errorf("CFG_STEAM: invalid path_mode %q", cfg.Steam.PathMode)
	}
	if cfg.Steam.PathMode == "manual" && strings.TrimSpace(cfg.Steam.Path) == "" {
		return fmt.Errorf("CFG_STEAM: manual path_mode requires steam.path")
	}
	if _, ok := allowedPathModes[cfg.Unlocker.Mode]; !ok {
		return fmt.Errorf("CFG_UNLOCKER: invalid mode %q", cfg.Unlocker.Mode)
	}
	if _, ok := allowedProfiles[cfg.Unlocker.Manual]; !ok {
		return fmt.Errorf("CFG_UNLOCKER: invalid manual profile %q", cfg.Unlocker.Manual)
	}
	if cfg.Storage.Root == "" {
		return fmt.Errorf("CFG_STORAGE: missing storage root")
	}

	names := map[string]struct{}{}
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		if s.Name == "" {
			return fmt.Errorf("SRC_CONFIG: source name is required")
		}
		if _, ok := names[s.Name]; ok {
			return fmt.Errorf("SRC_CONFIG: duplicate source name %q", s.Name)
		}
		names[s.Name] = struct{}{}
		if _, ok := allowedSourceKinds[s.Kind]; !ok {
			return fmt.Errorf("SRC_CONFIG: unsupported source kind %q", s.Kind)
		}
		switch s.Kind {
		case KindRepoTree:
			if !strings.Contains(s.Repo, "/") {
				return fmt.Errorf("SRC_CONFIG: repo-tree source %q needs owner/name repo, got %q", s.Name, s.Repo)
			}
		case KindArchiveMirror:
			if !strings.Contains(s.Endpoint, "{appid}") {
				return fmt.Errorf("SRC_CONFIG: archive-mirror source %q endpoint missing {appid} placeholder", s.Name)
			}
		}
	}
	return nil
}
