package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"depotkit/internal/app"
	"depotkit/internal/config"
	"depotkit/internal/dlc"
)

type ExitCoder interface {
	ExitCode() int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ex, ok := err.(ExitCoder); ok {
			os.Exit(ex.ExitCode())
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var jsonOutput bool

	newSvc := func() (*app.Service, error) {
		return app.New(app.Options{ConfigPath: configPath})
	}

	cmd := &cobra.Command{
		Use:           "depotkit",
		Short:         "Manifest and key installer for Steam unlocker setups",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")

	cmd.AddCommand(newInstallCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newDLCCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newSearchCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newSourceCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newDetectCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newListCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newRateCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newSelfCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newVersionCmd(&jsonOutput))

	return cmd
}

func newInstallCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var sources []string
	var withDLC bool
	cmd := &cobra.Command{
		Use:     "install <appid-or-url>...",
		Aliases: []string{"i", "add"},
		Short:   "Install manifests and keys for titles",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			reports := make([]app.InstallReport, 0, len(args))
			for _, arg := range args {
				rep, err := svc.Install(ctx, arg, sources)
				if err != nil {
					return err
				}
				reports = append(reports, rep)
				if !*jsonOutput {
					fmt.Printf("installed %s (%s) from %s: %d manifests, %d keys\n",
						rep.Name, rep.AppID, rep.Source, rep.Manifests, rep.Keys)
				}
				if withDLC {
					dlcRep, err := svc.InstallDLC(ctx, rep.AppID, sources, dlcProgress(*jsonOutput))
					if err != nil {
						return err
					}
					if !*jsonOutput {
						printDLCSummary(dlcRep)
					}
				}
			}
			if *jsonOutput {
				return print(true, reports, "")
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "restrict to named sources, in order")
	cmd.Flags().BoolVar(&withDLC, "dlc", false, "also install every DLC")
	return cmd
}

func newDLCCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var sources []string
	cmd := &cobra.Command{
		Use:   "dlc <appid-or-url>",
		Short: "Install all DLC for an installed title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			rep, err := svc.InstallDLC(cmd.Context(), args[0], sources, dlcProgress(*jsonOutput))
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, rep, "")
			}
			printDLCSummary(rep)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "restrict to named sources, in order")
	return cmd
}

func dlcProgress(jsonOutput bool) dlc.Progress {
	if jsonOutput {
		return nil
	}
	return func(done, total int, c dlc.Candidate) {
		fmt.Printf("\rdlc %d/%d", done, total)
		if done == total {
			fmt.Println()
		}
	}
}

func printDLCSummary(rep app.DLCReport) {
	fmt.Printf("dlc for %s: %d candidates, %d free, %d installed, %d not found\n",
		rep.AppID, rep.Candidates, len(rep.Free), len(rep.Installed), len(rep.Failed))
	if len(rep.Failed) > 0 {
		fmt.Printf("not carried by any source: %s\n", strings.Join(rep.Failed, ", "))
	}
}

func newSearchCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var byName bool
	cmd := &cobra.Command{
		Use:     "search <appid-or-name>",
		Aliases: []string{"find"},
		Short:   "Search sources for a title, or titles by name",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if byName {
				games, err := svc.SearchTitles(ctx, args[0])
				if err != nil {
					return err
				}
				if *jsonOutput {
					return print(true, games, "")
				}
				if len(games) == 0 {
					fmt.Println("no results")
					return nil
				}
				for _, g := range games {
					fmt.Printf("- %s (%s)\n", g.Name, g.AppID)
				}
				return nil
			}
			hits, err := svc.SearchSources(ctx, args[0])
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, hits, "")
			}
			if len(hits) == 0 {
				fmt.Println("no source carries this title")
				return nil
			}
			for _, h := range hits {
				fmt.Printf("- %s (%s) updated %s\n", h.Desc.Name, h.Desc.Repo, h.UpdatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&byName, "name", false, "search titles by name instead of sources by id")
	return cmd
}

func newSourceCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var kind string
	var repo string
	var endpoint string

	sourceCmd := &cobra.Command{Use: "source", Aliases: []string{"src", "sources"}, Short: "Manage manifest sources"}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			sources := svc.SourceList()
			if *jsonOutput {
				return print(true, sources, "")
			}
			if len(sources) == 0 {
				fmt.Println("no sources configured")
				return nil
			}
			for _, s := range sources {
				target := s.Repo
				if s.Kind == config.KindArchiveMirror {
					target = s.Endpoint
				}
				fmt.Printf("- %s (%s) %s\n", s.Name, s.Kind, target)
			}
			return nil
		},
	}

	addCmd := &cobra.Command{
		Use:     "add <name>",
		Aliases: []string{"create", "new"},
		Short:   "Add a source",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			src := config.SourceConfig{Name: args[0], Kind: kind, Repo: repo, Endpoint: endpoint}
			if err := svc.SourceAdd(src); err != nil {
				return err
			}
			return print(*jsonOutput, src, fmt.Sprintf("added source %s (%s)", src.Name, src.Kind))
		},
	}
	addCmd.Flags().StringVar(&kind, "kind", config.KindRepoTree, "source kind: repo-tree|archive-mirror")
	addCmd.Flags().StringVar(&repo, "repo", "", "owner/name for repo-tree sources")
	addCmd.Flags().StringVar(&endpoint, "endpoint", "", "URL template with {appid} for archive-mirror sources")

	removeCmd := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm", "delete", "del"},
		Short:   "Remove a source",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			if err := svc.SourceRemove(args[0]); err != nil {
				return err
			}
			return print(*jsonOutput, map[string]string{"removed": args[0]}, "removed source "+args[0])
		},
	}

	sourceCmd.AddCommand(listCmd, addCmd, removeCmd)
	return sourceCmd
}

func newDetectCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Show the detected Steam root and unlocker profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			if svc.SessionErr != nil {
				return svc.SessionErr
			}
			ctx := cmd.Context()
			info := map[string]string{
				"root":    svc.Session.Root,
				"profile": string(svc.Session.Profile),
				"region":  string(svc.Gate.Detect(ctx)),
			}
			if status, err := svc.RateStatus(ctx); err == nil {
				info["quota"] = fmt.Sprintf("%d/%d", status.Remaining, status.Limit)
			}
			if *jsonOutput {
				return print(true, info, "")
			}
			fmt.Printf("steam root: %s\nprofile: %s\nregion: %s\n", svc.Session.Root, svc.Session.Profile, info["region"])
			if quota, ok := info["quota"]; ok {
				fmt.Printf("api quota: %s\n", quota)
			}
			return nil
		},
	}
}

func newListCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed titles",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			installed, err := svc.ListInstalled()
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, installed, "")
			}
			if len(installed) == 0 {
				fmt.Println("nothing installed")
				return nil
			}
			for _, rec := range installed {
				fmt.Printf("- %s (%s) profile=%s source=%s installed=%s\n",
					rec.Name, rec.AppID, rec.Profile, rec.Source, rec.InstalledAt.Format("2006-01-02"))
			}
			return nil
		},
	}
}

func newRateCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "rate",
		Short: "Show the repo-tree API quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			status, err := svc.RateStatus(cmd.Context())
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, status, "")
			}
			fmt.Printf("%d/%d requests remaining, resets %s\n", status.Remaining, status.Limit, status.Reset.Format("15:04:05"))
			return nil
		},
	}
}

func newSelfCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var force bool
	selfCmd := &cobra.Command{Use: "self", Short: "Manage this installation"}
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Update to the latest release",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.SelfUpdate(cmd.Context(), force)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, res, "")
			}
			if res.Updated {
				fmt.Printf("updated %s -> %s\n", res.Current, res.Version)
			} else {
				fmt.Printf("already up to date (%s)\n", res.Current)
			}
			return nil
		},
	}
	updateCmd.Flags().BoolVar(&force, "force", false, "apply even when not newer")
	selfCmd.AddCommand(updateCmd)
	return selfCmd
}

func print(jsonOutput bool, payload any, message string) error {
	if jsonOutput {
		blob, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(blob))
		return nil
	}
	if message != "" {
		fmt.Println(message)
	}
	return nil
}
