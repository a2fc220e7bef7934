package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/mfenderov/seqthink/internal/analysis"
	"github.com/mfenderov/seqthink/internal/archive"
	"github.com/mfenderov/seqthink/internal/config"
	"github.com/mfenderov/seqthink/internal/storage"
	"github.com/mfenderov/seqthink/internal/thought"
)

var (
	Version = "dev"
	logger  = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: false,
	})
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	stageStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	tagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("219"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("78"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the flags shared by every command.
type app struct {
	configPath string
	storageDir string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "seqthink",
		Short: "Sequential thinking tracker",
		Long: titleStyle.Render("seqthink") + " - record thoughts by stage and track progress\n\n" +
			"Thoughts are stored in a local session file shared with the MCP server.\n" +
			"Cleared and replaced sessions are kept in a local archive.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $SEQTHINK_CONFIG or <dir>/config.yaml)")
	root.PersistentFlags().StringVar(&a.storageDir, "dir", "", "storage directory; its config.yaml is used when --config is not set")

	root.AddCommand(
		a.addCmd(),
		a.summaryCmd(),
		a.clearCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.archiveCmd(),
		a.configCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWith(a.configPath, a.storageDir)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.Level())
	return cfg, nil
}

// session bundles an open store with its optional archive.
type session struct {
	cfg     *config.Config
	store   *storage.Store
	archive *archive.Archive
}

func (s *session) Close() error {
	if s.archive != nil {
		return s.archive.Close()
	}
	return nil
}

func (a *app) openSession() (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg}
	opts := []storage.Option{
		storage.WithStages(cfg.StageSet()),
		storage.WithLockTimeout(cfg.Timeout()),
		storage.WithLogger(logger),
	}
	if cfg.Archive.Enabled {
		arch, err := archive.Open(cfg.ArchivePath(), archive.WithLogger(logger))
		if err != nil {
			logger.Warn("session archive unavailable", "path", cfg.ArchivePath(), "err", err)
		} else {
			s.archive = arch
			opts = append(opts, storage.WithArchiver(arch))
		}
	}

	s.store, err = storage.Open(cfg.SessionPath(), opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// --- Thought commands ---

func (a *app) addCmd() *cobra.Command {
	var (
		number      int
		total       int
		next        bool
		stage       string
		tags        []string
		axioms      []string
		assumptions []string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "add <thought>...",
		Short: "Record a thought",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if !cmd.Flags().Changed("number") {
				number = s.store.Len() + 1
			}
			if !cmd.Flags().Changed("total") {
				total = number
			}

			t, err := thought.New(thought.Fields{
				Text:                  strings.Join(args, " "),
				Number:                number,
				Total:                 total,
				NextNeeded:            next,
				Stage:                 stage,
				Tags:                  tags,
				AxiomsUsed:            axioms,
				AssumptionsChallenged: assumptions,
			}, s.store.Stages())
			if err != nil {
				return err
			}
			if err := s.store.Add(t); err != nil {
				return err
			}

			report := analysis.Analyze(t, s.store.All())
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printReport(cmd.OutOrStdout(), t, report)
			return nil
		},
	}

	cmd.Flags().IntVarP(&number, "number", "n", 0, "thought number (default: next in session)")
	cmd.Flags().IntVarP(&total, "total", "t", 0, "expected total thoughts (default: thought number)")
	cmd.Flags().BoolVar(&next, "next", true, "another thought is needed")
	cmd.Flags().StringVarP(&stage, "stage", "s", "", "thinking stage")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tags (repeatable)")
	cmd.Flags().StringSliceVar(&axioms, "axiom", nil, "axioms used (repeatable)")
	cmd.Flags().StringSliceVar(&assumptions, "assumption", nil, "assumptions challenged (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the analysis as JSON")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func (a *app) summaryCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown format %q (use text or json)", format)
			}

			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			summary := analysis.Summarize(s.store.All(), s.store.Stages())
			if format == "json" {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			printSummary(cmd.OutOrStdout(), summary, s.store.Stages())
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text or json")
	return cmd
}

func (a *app) clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every thought from the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			count := s.store.Len()
			if err := s.store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Cleared")+" "+strconv.Itoa(count)+" thoughts")
			return nil
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Export the current session to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.store.Export(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Exported")+" "+strconv.Itoa(s.store.Len())+" thoughts to "+args[0])
			return nil
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the current session with an exported one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.store.Import(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Imported")+" "+strconv.Itoa(s.store.Len())+" thoughts from "+args[0])
			return nil
		},
	}
}

// --- Archive commands ---

func (a *app) archiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Browse and restore archived sessions",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openArchived()
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.archive.List(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, dimStyle.Render("No archived sessions"))
				return nil
			}
			fmt.Fprintln(out, titleStyle.Render("Archived sessions"))
			for _, e := range entries {
				fmt.Fprintf(out, "  %s  %-8s %s  %s\n",
					stageStyle.Render(fmt.Sprintf("#%d", e.ID)),
					e.Reason,
					successStyle.Render(fmt.Sprintf("%3d thoughts", e.ThoughtCount)),
					dimStyle.Render(e.ArchivedAt.Local().Format("2006-01-02 15:04:05")))
			}
			return nil
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "l", archive.DefaultListLimit, "maximum entries")

	restoreCmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Replace the current session with an archived one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid archive id %q", args[0])
			}

			s, err := a.openArchived()
			if err != nil {
				return err
			}
			defer s.Close()

			thoughts, err := s.archive.Thoughts(id, s.store.Stages())
			if err != nil {
				return err
			}
			if err := s.store.Restore(thoughts); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Restored")+" archive #"+args[0]+" ("+strconv.Itoa(len(thoughts))+" thoughts)")
			return nil
		},
	}

	cmd.AddCommand(listCmd, restoreCmd)
	return cmd
}

func (a *app) openArchived() (*session, error) {
	s, err := a.openSession()
	if err != nil {
		return nil, err
	}
	if s.archive == nil {
		s.Close()
		return nil, fmt.Errorf("session archive is disabled")
	}
	return s, nil
}

// --- Config and version commands ---

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render("seqthink")+" "+dimStyle.Render(Version))
		},
	}
}

// --- Output ---

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, t thought.Thought, report analysis.Report) {
	ta := report.ThoughtAnalysis

	header := fmt.Sprintf("Thought %d/%d", t.Number, t.Total)
	fmt.Fprintln(w, titleStyle.Render(header)+"  "+stageStyle.Render(string(t.Stage)))
	fmt.Fprintln(w, "  "+t.Text)
	if len(t.Tags) > 0 {
		fmt.Fprintln(w, "  "+dimStyle.Render("Tags:")+" "+tagStyle.Render(strings.Join(t.Tags, ", ")))
	}
	fmt.Fprintln(w, "  "+dimStyle.Render("Progress:")+" "+successStyle.Render(fmt.Sprintf("%.0f%%", ta.Analysis.Progress)))
	if ta.Analysis.IsFirstInStage {
		fmt.Fprintln(w, "  "+warnStyle.Render("First thought in this stage"))
	}

	if len(ta.Analysis.RelatedThoughtSummaries) > 0 {
		fmt.Fprintln(w, "  "+dimStyle.Render("Related:"))
		for _, r := range ta.Analysis.RelatedThoughtSummaries {
			fmt.Fprintf(w, "    %s %s %s\n",
				dimStyle.Render(fmt.Sprintf("#%d", r.ThoughtNumber)),
				stageStyle.Render(r.Stage),
				r.Snippet)
		}
	}
}

func printSummary(w io.Writer, s analysis.Summary, stages thought.Stages) {
	if s.IsEmpty() {
		fmt.Fprintln(w, dimStyle.Render(analysis.NoThoughtsMessage))
		return
	}

	fmt.Fprintln(w, titleStyle.Render("Thinking Summary"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  "+dimStyle.Render("Thoughts:")+"   "+successStyle.Render(strconv.Itoa(s.TotalThoughts)))
	fmt.Fprintln(w, "  "+dimStyle.Render("Complete:")+"   "+successStyle.Render(fmt.Sprintf("%.1f%%", s.CompletionStatus.PercentComplete)))
	allStages := warnStyle.Render("no")
	if s.CompletionStatus.HasAllStages {
		allStages = successStyle.Render("yes")
	}
	fmt.Fprintln(w, "  "+dimStyle.Render("All stages:")+" "+allStages)

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Stages"))
	for _, stage := range stages {
		fmt.Fprintf(w, "  %-20s %d\n", stageStyle.Render(string(stage)), s.Stages[string(stage)])
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Timeline"))
	for _, e := range s.Timeline {
		fmt.Fprintf(w, "  %3d. %s\n", e.Number, e.Stage)
	}

	if len(s.TopTags) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Top tags"))
		for _, tc := range s.TopTags {
			fmt.Fprintf(w, "  %s %s\n", tagStyle.Render(tc.Tag), dimStyle.Render("("+strconv.Itoa(tc.Count)+")"))
		}
	}
}
