package config

// Config is the frozen v1 schema persisted at ~/.depotkit/config.toml.
type Config struct {
	Version  int            `toml:"version"`
	GitHub   GitHubConfig   `toml:"github"`
	Steam    SteamConfig    `toml:"steam"`
	Unlocker UnlockerConfig `toml:"unlocker"`
	Storage  StorageConfig  `toml:"storage"`
	Logging  LoggingConfig  `toml:"logging"`
	Sources  []SourceConfig `toml:"sources"`
}

type GitHubConfig struct {
	// Token is an optional personal access token for the repo-tree API;
	// without it the anonymous quota applies.
	Token string `toml:"token,omitempty"`
}

type SteamConfig struct {
	Path     string `toml:"path,omitempty"`
	PathMode string `toml:"path_mode"` // auto or manual
}

type UnlockerConfig struct {
	Mode   string `toml:"mode"`   // auto or manual
	Manual string `toml:"manual"` // steamtools or greenluma
	// OnlyScripts skips manifest downloads for the script profile; depot
	// versions then float with the remote.
	OnlyScripts bool `toml:"only_scripts"`
	// LockManifestVersion pins depots to the downloaded manifest even in
	// only-scripts mode.
	LockManifestVersion bool `toml:"lock_manifest_version"`
}

type StorageConfig struct {
	Root string `toml:"root"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// SourceConfig describes one manifest source. Kind selects the fetch
// strategy: "repo-tree" walks a repository branch named after the AppID,
// "archive-mirror" downloads a per-AppID archive from Endpoint.
type SourceConfig struct {
	Name string `toml:"name" json:"name"`
	Kind string `toml:"kind" json:"kind"`
	// Repo is owner/name for repo-tree sources.
	Repo string `toml:"repo,omitempty" json:"repo,omitempty"`
	// Endpoint is a URL template for archive-mirror sources; {appid} is
	// replaced with the title's ID.
	Endpoint string `toml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

const (
	KindRepoTree      = "repo-tree"
	KindArchiveMirror = "archive-mirror"
)
