// Package app wires the pipeline together behind one Service the CLI
// calls into. Construction loads config and detects the environment; the
// operations are thin orchestrations over the internal packages.
package app

import (
	"context"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"time"

	"depotkit/internal/audit"
	"depotkit/internal/config"
	"depotkit/internal/dlc"
	"depotkit/internal/fault"
	"depotkit/internal/installer"
	"depotkit/internal/logx"
	"depotkit/internal/region"
	"depotkit/internal/selfupdate"
	"depotkit/internal/source"
	"depotkit/internal/steam"
	"depotkit/internal/steamapi"
	"depotkit/internal/store"
)

type Options struct {
	ConfigPath string
	HTTPClient *http.Client
	Log        logx.Logger
}

type Service struct {
	ConfigPath  string
	Config      config.Config
	StorageRoot string

	Session    steam.Session
	SessionErr error

	Gate    *region.Gate
	Locator *source.Locator
	API     *steamapi.Client
	Writer  *installer.Writer
	DLC     *dlc.Resolver
	Updater *selfupdate.Service
	Audit   *audit.Logger
	Log     logx.Logger
}

func New(opts Options) (*Service, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Ensure(configPath)
	if err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		log = logx.New(os.Stderr)
		logx.SetLevel(log, cfg.Logging.Level)
	}

	storageRoot, err := config.ResolveStorageRoot(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureLayout(storageRoot); err != nil {
		return nil, err
	}
	auditLog := audit.New(store.AuditPath(storageRoot))

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	gate := region.NewGate(httpClient, log)
	locator := source.NewLocator(httpClient, cfg.GitHub.Token, gate, log)
	api := steamapi.New(httpClient, log)

	// Detection failure is deferred: metadata-only commands still work
	// without a Steam installation.
	session, sessionErr := steam.Detect(cfg)
	writer := installer.New(session, storageRoot, auditLog, log)

	return &Service{
		ConfigPath:  configPath,
		Config:      cfg,
		StorageRoot: storageRoot,
		Session:     session,
		SessionErr:  sessionErr,
		Gate:        gate,
		Locator:     locator,
		API:         api,
		Writer:      writer,
		DLC:         dlc.NewResolver(api, locator, writer, log),
		Updater:     selfupdate.New(httpClient),
		Audit:       auditLog,
		Log:         log,
	}, nil
}

var appURLRes = []*regexp.Regexp{
	regexp.MustCompile(`store\.steampowered\.com/app/(\d+)`),
	regexp.MustCompile(`steamdb\.info/app/(\d+)`),
}

var bareIDRe = regexp.MustCompile(`^\d+$`)

// ExtractAppID accepts a bare numeric ID or a store/steamdb app URL.
func ExtractAppID(raw string) (string, error) {
	if bareIDRe.MatchString(raw) {
		return raw, nil
	}
	for _, re := range appURLRes {
		if m := re.FindStringSubmatch(raw); m != nil {
			return m[1], nil
		}
	}
	return "", fault.New(fault.KindMalformed, "APP_ID: %q is neither an id nor a store url", raw)
}

func (s *Service) descriptors(sourceNames []string) ([]source.Descriptor, error) {
	picked, err := config.SelectSources(s.Config, sourceNames)
	if err != nil {
		return nil, err
	}
	return source.DescriptorsFrom(picked)
}

func (s *Service) installOptions() installer.Options {
	return installer.Options{
		OnlyScripts:  s.Config.Unlocker.OnlyScripts,
		LockManifest: s.Config.Unlocker.LockManifestVersion,
	}
}

func (s *Service) requireSession() error {
	if s.SessionErr != nil {
		return s.SessionErr
	}
	switch s.Session.Profile {
	case steam.ProfileSteamTools, steam.ProfileGreenLuma:
		return nil
	case steam.ProfileConflict:
		return fault.New(fault.KindIOFailure, "STM_PROFILE: both unlockers present under %s", s.Session.Root)
	default:
		return fault.New(fault.KindIOFailure, "STM_PROFILE: no unlocker found under %s", s.Session.Root)
	}
}

// InstallReport is the outcome of one title install.
type InstallReport struct {
	AppID      string `json:"appId"`
	Name       string `json:"name"`
	Source     string `json:"source"`
	Profile    string `json:"profile"`
	ScriptPath string `json:"scriptPath,omitempty"`
	Manifests  int    `json:"manifests"`
	Keys       int    `json:"keys"`
}

// Install resolves the title from the configured (or selected) sources
// and commits it for the detected profile.
func (s *Service) Install(ctx context.Context, rawApp string, sourceNames []string) (InstallReport, error) {
	appID, err := ExtractAppID(rawApp)
	if err != nil {
		return InstallReport{}, err
	}
	if err := s.requireSession(); err != nil {
		return InstallReport{}, err
	}
	descs, err := s.descriptors(sourceNames)
	if err != nil {
		return InstallReport{}, err
	}
	// Quota exhaustion is only advisory here: archive and raw mirrors never
	// touch the repo-tree API, and ResolveFirst already skips rate-limited
	// repo-tree sources on its own.
	if status, err := s.Gate.CheckRateLimit(ctx); err != nil && fault.IsRateLimited(err) {
		s.Log.Warning("repo-tree API quota exhausted, relying on mirrors", "resets", status.Reset)
	}

	opts := s.installOptions()
	set, err := s.Locator.ResolveFirst(ctx, descs, appID, source.Options{SkipManifests: opts.OnlyScripts})
	if err != nil {
		return InstallReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return InstallReport{}, err
	}

	name := s.API.GameName(ctx, appID)
	res, err := s.Writer.Install(ctx, set, opts)
	if err != nil {
		return InstallReport{}, err
	}
	if err := s.Writer.RecordInstalled(appID, name, set); err != nil {
		return InstallReport{}, err
	}
	return InstallReport{
		AppID:      appID,
		Name:       name,
		Source:     set.Source,
		Profile:    string(res.Profile),
		ScriptPath: res.ScriptPath,
		Manifests:  res.Manifests,
		Keys:       len(set.Keys),
	}, nil
}

// DLCReport summarises a full DLC pass for one title.
type DLCReport struct {
	AppID      string   `json:"appId"`
	Candidates int      `json:"candidates"`
	Free       []string `json:"free,omitempty"`
	Installed  []string `json:"installed,omitempty"`
	Failed     []string `json:"failed,omitempty"`
}

// InstallDLC enumerates, classifies and installs every DLC of a title.
// progress may be nil.
func (s *Service) InstallDLC(ctx context.Context, rawApp string, sourceNames []string, progress dlc.Progress) (DLCReport, error) {
	appID, err := ExtractAppID(rawApp)
	if err != nil {
		return DLCReport{}, err
	}
	if err := s.requireSession(); err != nil {
		return DLCReport{}, err
	}
	descs, err := s.descriptors(sourceNames)
	if err != nil {
		return DLCReport{}, err
	}

	ids, err := s.DLC.Enumerate(ctx, appID)
	if err != nil {
		return DLCReport{}, err
	}
	cands, err := s.DLC.Classify(ctx, ids, progress)
	if err != nil {
		return DLCReport{}, err
	}
	sum, err := s.DLC.InstallAll(ctx, appID, descs, cands, s.installOptions(), progress)
	if err != nil {
		return DLCReport{}, err
	}
	_ = s.Audit.Log(audit.Event{Operation: "dlc", AppID: appID, Phase: "commit", Status: "ok",
		Fields: map[string]string{
			"free":      strconv.Itoa(len(sum.Free)),
			"installed": strconv.Itoa(len(sum.Installed)),
			"failed":    strconv.Itoa(len(sum.Failed)),
		}})
	return DLCReport{
		AppID:      appID,
		Candidates: len(ids),
		Free:       sum.Free,
		Installed:  sum.Installed,
		Failed:     sum.Failed,
	}, nil
}

// SearchSources reports which repo-tree sources carry the title, newest
// first.
func (s *Service) SearchSources(ctx context.Context, rawApp string) ([]source.Hit, error) {
	appID, err := ExtractAppID(rawApp)
	if err != nil {
		return nil, err
	}
	descs, err := s.descriptors(nil)
	if err != nil {
		return nil, err
	}
	return s.Locator.SearchAll(ctx, descs, appID), nil
}

// SearchTitles finds titles by name through the listing API.
func (s *Service) SearchTitles(ctx context.Context, name string) ([]steamapi.Game, error) {
	return s.API.SearchGames(ctx, name)
}

// ListInstalled returns the state-file records.
func (s *Service) ListInstalled() ([]store.InstalledTitle, error) {
	st, err := store.LoadState(s.StorageRoot)
	if err != nil {
		return nil, err
	}
	return st.Installed, nil
}

// RateStatus reports the repo-tree API quota.
func (s *Service) RateStatus(ctx context.Context) (region.RateStatus, error) {
	return s.Gate.CheckRateLimit(ctx)
}

func (s *Service) SourceList() []config.SourceConfig {
	out := make([]config.SourceConfig, len(s.Config.Sources))
	copy(out, s.Config.Sources)
	return out
}

func (s *Service) SourceAdd(src config.SourceConfig) error {
	if err := config.AddSource(&s.Config, src); err != nil {
		return err
	}
	return config.Save(s.ConfigPath, s.Config)
}

func (s *Service) SourceRemove(name string) error {
	if err := config.RemoveSource(&s.Config, name); err != nil {
		return err
	}
	return config.Save(s.ConfigPath, s.Config)
}

// SelfUpdate swaps the binary for the latest release when newer.
func (s *Service) SelfUpdate(ctx context.Context, force bool) (selfupdate.Result, error) {
	return s.Updater.Update(ctx, config.Version, force, false)
}
