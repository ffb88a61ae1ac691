package hub

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/moby/term"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// NewCommand creates a Cobra command tree for Hub downloads and cache
// management. The returned command should be added to a parent CLI's root
// command.
//
// Commands provided:
//   - hub download <repo> [files...] [--revision] [--include] [--exclude] [--force]
//   - hub list
//   - hub info <repo> [--revision]
//   - hub path <repo> [--revision]
//   - hub remove <repo> [--yes]
//   - hub prune
//
// Global flags: --json, --quiet, --verbose, --repo-type, --cache-dir
func NewCommand(cfg Config, opts ...ManagerOption) *cobra.Command {
	var (
		jsonOutput bool
		quiet      bool
		verbose    bool
		repoType   string
		cacheDir   string
	)

	// Manager will be created in PersistentPreRunE
	var mgr Manager

	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Download and manage Hub repositories",
		Long:  "Download models and datasets from the Hugging Face Hub and manage the local cache.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			c := cfg
			if cacheDir != "" {
				c.CacheDir = cacheDir
			}
			var err error
			mgr, err = NewManager(c, opts...)
			if err != nil {
				return fmt.Errorf("failed to initialize hub client: %w", err)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	cmd.PersistentFlags().StringVar(&repoType, "repo-type", string(RepoTypeModel), "Repository type: model, dataset or space")
	cmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (default $HF_HUB_CACHE or ~/.cache/huggingface/hub)")

	parseRef := func(s string) (RepoRef, error) {
		t, err := ParseRepoType(repoType)
		if err != nil {
			return RepoRef{}, fmt.Errorf("--repo-type %q: %w", repoType, err)
		}
		return ParseRepoRef(s, t)
	}

	cmd.AddCommand(downloadCmd(&mgr, parseRef, &quiet, &verbose))
	cmd.AddCommand(listCmd(&mgr, &jsonOutput, &quiet))
	cmd.AddCommand(infoCmd(&mgr, parseRef, &jsonOutput))
	cmd.AddCommand(pathCmd(&mgr, parseRef))
	cmd.AddCommand(removeCmd(&mgr, parseRef, &quiet))
	cmd.AddCommand(pruneCmd(&mgr, &quiet))

	return cmd
}

func downloadCmd(mgr *Manager, parseRef func(string) (RepoRef, error), quiet, verbose *bool) *cobra.Command {
	var (
		revision    string
		include     []string
		exclude     []string
		force       bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "download <repo> [files...]",
		Short: "Download a repository snapshot or single files",
		Long:  "Download a repository snapshot (or only the named files) into the cache and print its path.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}

			opts := []DownloadOption{
				WithRevision(revision),
				WithConcurrency(concurrency),
				WithAllowPatterns(include...),
				WithIgnorePatterns(exclude...),
			}
			if force {
				opts = append(opts, WithForce())
			}
			if !*quiet {
				if fn := TerminalProgress(cmd.ErrOrStderr()); fn != nil {
					opts = append(opts, WithProgress(fn))
				} else if *verbose {
					opts = append(opts, WithProgress(lineProgress(cmd.ErrOrStderr())))
				}
			}

			if len(args) == 1 {
				path, err := (*mgr).SnapshotDownload(ctx, ref, opts...)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			}

			for _, name := range args[1:] {
				path, err := (*mgr).FileDownload(ctx, ref, name, opts...)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&revision, "revision", DefaultRevision, "Branch, tag or commit to download")
	cmd.Flags().StringSliceVar(&include, "include", nil, "Only download files matching these patterns")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Skip files matching these patterns")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Download files again even if cached")
	cmd.Flags().IntVar(&concurrency, "concurrency", DefaultConcurrency, "Number of concurrent file downloads")
	return cmd
}

func listCmd(mgr *Manager, jsonOutput, quiet *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached repositories",
		Long:  "List repositories present in the cache directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repos, err := (*mgr).ListCached(cmd.Context())
			if err != nil {
				return err
			}
			if len(repos) == 0 && !*jsonOutput {
				if !*quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "No repositories cached in %s\n", (*mgr).CacheDir())
				}
				return nil
			}
			return outputCachedRepos(cmd.OutOrStdout(), repos, *jsonOutput)
		},
	}
}

func infoCmd(mgr *Manager, parseRef func(string) (RepoRef, error), jsonOutput *bool) *cobra.Command {
	var revision string

	cmd := &cobra.Command{
		Use:   "info <repo>",
		Short: "Show repository information from the Hub",
		Long:  "Resolve a revision on the Hub and list the repository files.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			info, err := (*mgr).RepoInfo(cmd.Context(), ref, revision)
			if err != nil {
				return err
			}
			return outputRepoInfo(cmd.OutOrStdout(), info, *jsonOutput)
		},
	}

	cmd.Flags().StringVar(&revision, "revision", DefaultRevision, "Branch, tag or commit")
	return cmd
}

func pathCmd(mgr *Manager, parseRef func(string) (RepoRef, error)) *cobra.Command {
	var revision string

	cmd := &cobra.Command{
		Use:   "path <repo>",
		Short: "Print path to a cached snapshot",
		Long:  "Print the snapshot directory a cached revision resolves to.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			path, err := (*mgr).CachedPath(cmd.Context(), ref, revision)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&revision, "revision", DefaultRevision, "Branch, tag or commit")
	return cmd
}

func removeCmd(mgr *Manager, parseRef func(string) (RepoRef, error), quiet *bool) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove <repo>",
		Short: "Remove a repository from the cache",
		Long:  "Remove every cached revision and blob of a repository.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}

			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "Remove %s from %s? [y/N]: ", ref, (*mgr).CacheDir())
				if !confirmPrompt(cmd.InOrStdin()) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}

			if err := (*mgr).Remove(cmd.Context(), ref); err != nil {
				return err
			}
			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", ref)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	return cmd
}

func pruneCmd(mgr *Manager, quiet *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove partial downloads",
		Long:  "Remove incomplete blobs left behind by interrupted downloads.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, freed, err := (*mgr).PruneIncomplete(cmd.Context())
			if err != nil {
				return err
			}
			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d incomplete file(s), freed %s\n", files, units.HumanSize(float64(freed)))
			}
			return nil
		},
	}
}

func confirmPrompt(r io.Reader) bool {
	reader := bufio.NewReader(r)
	response, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

func outputCachedRepos(w io.Writer, repos []CachedRepo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(repos)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"REPO", "TYPE", "SIZE", "REVISIONS", "REFS", "MODIFIED"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("\t")

	var data [][]string
	for _, r := range repos {
		var refs []string
		for _, rev := range r.Revisions {
			refs = append(refs, rev.Refs...)
		}
		modified := "-"
		if !r.LastModified.IsZero() {
			modified = units.HumanDuration(time.Since(r.LastModified)) + " ago"
		}
		data = append(data, []string{
			r.Ref.ID,
			string(r.Ref.repoType()),
			units.HumanSize(float64(r.Size)),
			strconv.Itoa(len(r.Revisions)),
			strings.Join(refs, ","),
			modified,
		})
	}
	table.AppendBulk(data)
	table.Render()
	return nil
}

func outputRepoInfo(w io.Writer, info RepoInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(w, "Repository:   %s\n", info.Ref.ID)
	fmt.Fprintf(w, "Type:         %s\n", info.Ref.repoType())
	fmt.Fprintf(w, "Revision:     %s\n", info.Revision)
	fmt.Fprintf(w, "Commit:       %s\n", info.Commit)
	fmt.Fprintf(w, "Gated:        %t\n", info.Gated)
	fmt.Fprintf(w, "Size:         %s\n", units.HumanSize(float64(info.TotalSize())))
	fmt.Fprintf(w, "Files:        %d\n", len(info.Files))

	if len(info.Files) > 0 {
		fmt.Fprintln(w, "\nFiles:")
		for _, f := range info.Files {
			lfs := ""
			if f.LFS {
				lfs = " [lfs]"
			}
			fmt.Fprintf(w, "  %s (%s)%s\n", f.Path, units.HumanSize(float64(f.Size)), lfs)
		}
	}
	return nil
}

// TerminalProgress returns a progress callback that draws a progress bar on
// w, or nil when w is not a terminal.
func TerminalProgress(w io.Writer) func(DownloadProgress) {
	if _, isTerminal := term.GetFdInfo(w); !isTerminal {
		return nil
	}
	p := &progressPrinter{w: w}
	return p.update
}

// progressPrinter renders DownloadProgress updates as a single-line bar.
type progressPrinter struct {
	w     io.Writer
	mu    sync.Mutex
	start time.Time
	drawn bool
}

func (p *progressPrinter) update(dp DownloadProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch dp.Phase {
	case "metadata":
		p.start = time.Now()
		fmt.Fprintf(p.w, "Resolving %s...\n", dp.Repo)
	case "files":
		if !p.drawn {
			fmt.Fprint(p.w, "\x1b[?25l")
			p.drawn = true
		}
		renderProgress(p.w, dp, p.start)
	case "done":
		if p.drawn {
			renderProgress(p.w, dp, p.start)
			fmt.Fprint(p.w, "\x1b[?25h\n")
			p.drawn = false
		}
	}
}

// lineProgress logs one line per completed file, for non-terminal output.
func lineProgress(w io.Writer) func(DownloadProgress) {
	var mu sync.Mutex
	return func(dp DownloadProgress) {
		if dp.Phase != "files" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "[%d/%d] %s\n", dp.FilesCompleted, dp.FilesTotal, dp.CurrentFile)
	}
}

// renderProgress renders the progress bar to the writer.
// Format: Downloading [============>                 ] 45% 12/30 files (5.2MB/s, elapsed: 30s)
func renderProgress(w io.Writer, dp DownloadProgress, startTime time.Time) {
	elapsed := time.Since(startTime)

	var pct float64
	if dp.BytesTotal > 0 {
		pct = float64(dp.BytesCompleted) / float64(dp.BytesTotal) * 100
	} else if dp.FilesTotal > 0 {
		pct = float64(dp.FilesCompleted) / float64(dp.FilesTotal) * 100
	}

	var speed float64
	if elapsed.Seconds() > 0 && dp.BytesDownloaded > 0 {
		speed = float64(dp.BytesDownloaded) / elapsed.Seconds()
	}

	fmt.Fprintf(w, "\r\x1b[KDownloading [%s] %.0f%% %d/%d files (%s/s, elapsed: %s)",
		progressBar(pct, 30), pct, dp.FilesCompleted, dp.FilesTotal,
		units.HumanSize(speed), formatDuration(elapsed))
}

// progressBar draws a bar of the given width filled to pct percent.
func progressBar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	switch {
	case filled >= width:
		return strings.Repeat("=", width)
	case filled > 0:
		return strings.Repeat("=", filled) + ">" + strings.Repeat(" ", width-filled-1)
	default:
		return ">" + strings.Repeat(" ", width-1)
	}
}

// formatDuration formats a duration as human-readable text (e.g., "5s", "2m 30s", "1h 5m").
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	d = d.Round(time.Second)

	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	if hours > 0 {
		if mins > 0 {
			return fmt.Sprintf("%dh %dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	if mins > 0 {
		if secs > 0 {
			return fmt.Sprintf("%dm %ds", mins, secs)
		}
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%ds", secs)
}
