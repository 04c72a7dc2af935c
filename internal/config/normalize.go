package config

func Normalize(cfg Config) Config {
	if cfg.Version == 0 {
		cfg.Version = SchemaVersion
	}
	if cfg.Steam.PathMode == "" {
		cfg.Steam.PathMode = "auto"
	}
	if cfg.Unlocker.Mode == "" {
		cfg.Unlocker.Mode = "auto"
	}
	if cfg.Unlocker.Manual == "" {
		cfg.Unlocker.Manual = "steamtools"
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "~/.depotkit"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources()
	}
	return cfg
}
