package config

const (
	SchemaVersion = 1
)

// DefaultConfig returns a fully-populated v1 config document. The source
// table lists the public mirrors in fallback order: archive mirrors first,
// then the manifest repositories.
func DefaultConfig() Config {
	return Config{
		Version: SchemaVersion,
		Steam: SteamConfig{
			PathMode: "auto",
		},
		Unlocker: UnlockerConfig{
			Mode:   "auto",
			Manual: "steamtools",
		},
		Storage: StorageConfig{
			Root: "~/.depotkit",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Sources: DefaultSources(),
	}
}

func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{Name: "swa", Kind: KindArchiveMirror, Endpoint: "https://api.printedwaste.com/gfk/download/{appid}"},
		{Name: "cysaw", Kind: KindArchiveMirror, Endpoint: "https://cysaw.top/uploads/{appid}.zip"},
		{Name: "furcate", Kind: KindArchiveMirror, Endpoint: "https://furcate.eu/files/{appid}.zip"},
		{Name: "cngs", Kind: KindArchiveMirror, Endpoint: "https://assiw.cngames.site/qindan/{appid}.zip"},
		{Name: "steamdatabase", Kind: KindArchiveMirror, Endpoint: "https://steamdatabase.s3.eu-north-1.amazonaws.com/{appid}.zip"},
		{Name: "manifesthub", Kind: KindRepoTree, Repo: "SteamAutoCracks/ManifestHub"},
		{Name: "autoupdate", Kind: KindRepoTree, Repo: "Auiowu/ManifestAutoUpdate"},
	}
}
