package config

import "fmt"

func AddSource(cfg *Config, src SourceConfig) error {
	if cfg == nil {
		return fmt.Errorf("SRC_CONFIG: nil config")
	}
	for _, existing := range cfg.Sources {
		if existing.Name == src.Name {
			return fmt.Errorf("SRC_CONFIG: source %q already exists", src.Name)
		}
	}
	cfg.Sources = append(cfg.Sources, src)
	*cfg = Normalize(*cfg)
	return Validate(*cfg)
}

func RemoveSource(cfg *Config, name string) error {
	if cfg == nil {
		return fmt.Errorf("SRC_CONFIG: nil config")
	}
	for i, s := range cfg.Sources {
		if s.Name == name {
			cfg.Sources = append(cfg.Sources[:i], cfg.Sources[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("SRC_CONFIG: source %q not found", name)
}

func FindSource(cfg Config, name string) (SourceConfig, bool) {
	for _, s := range cfg.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// SelectSources returns the sources named in order, or every configured
// source when names is empty. Unknown names are an error so a typo cannot
// silently shrink the fallback chain.
func SelectSources(cfg Config, names []string) ([]SourceConfig, error) {
	if len(names) == 0 {
		out := make([]SourceConfig, len(cfg.Sources))
		copy(out, cfg.Sources)
		return out, nil
	}
	out := make([]SourceConfig, 0, len(names))
	for _, name := range names {
		s, ok := FindSource(cfg, name)
		if !ok {
			return nil, fmt.Errorf("SRC_CONFIG: source %q not found", name)
		}
		out = append(out, s)
	}
	return out, nil
}
