package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hexdash/internal/aggregate"
	"hexdash/internal/config"
	"hexdash/internal/entry"
	"hexdash/internal/logging"
	"hexdash/internal/projectid"
	"hexdash/internal/reconcile"
	"hexdash/internal/session"
	"hexdash/internal/syncbridge"
	"hexdash/internal/watch"
)

var (
	// Global flags
	verbose    bool
	configPath string
	dataDir    string
	timeout    time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hexdash",
	Short: "hexdash - session and token accounting for the project dashboard",
	Long: `hexdash tracks work sessions against dashboard projects and reconciles
token usage from the IDE's local activity database.

Sessions are plain JSON on disk; every command is idempotent when the
underlying activity has not changed. A local sqlite cache and an optional
identity-linked remote tier are kept in sync on demand.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// startCmd begins a new work session
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a work session",
	Long: `Starts a new session, optionally bound to a dashboard project code.

A still-active session is ended first so at most one session is ever
active; pass --reuse to keep and return the existing one instead.

Example:
  hexdash start --project 26Q1W22 --description "auth rework"`,
	RunE: runStart,
}

// endCmd closes the active session
var endCmd = &cobra.Command{
	Use:   "end",
	Short: "End the active session",
	Long: `Ends the active session, finalizing its token total. A session whose
total is still zero gets one recomputed from its recorded entries.
Ended sessions are immutable.`,
	RunE: runEnd,
}

// syncCmd runs one reconcile pass plus tier sync
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import new activity and synchronize storage tiers",
	Long: `Pulls new rows from the IDE activity database into the active session,
then merges the session file into the local cache and, when an identity
is configured, pushes per-project documents to the remote tier.

Re-running against an unchanged source imports nothing.`,
	RunE: runSync,
}

// resyncCmd recomputes totals for every session
var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Recompute token totals for all sessions from the source",
	Long: `Recomputes each session's token total directly from the activity
database, bounded by the session's own time window. A recomputed total
is adopted only when larger than the stored one, so manual estimates
survive and re-runs change nothing.`,
	RunE: runResync,
}

// statsCmd prints aggregate statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate session statistics",
	RunE:  runStats,
}

// statusCmd shows the current state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active session and storage status",
	RunE:  runStatus,
}

// watchCmd runs the event-driven reconcile loop
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the activity database and reconcile on change",
	Long: `Watches the IDE activity database and runs a reconcile pass whenever
writes settle. Runs until interrupted. Requires an active session for
imports to land anywhere; passes without one are skipped with a warning.`,
	RunE: runWatch,
}

// logCmd records a manual token estimate
var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Record a manual token estimate against the active session",
	Long: `Adds a hand-entered token count to the active session, for work done
outside the tracked IDE.

Example:
  hexdash log --tokens 1500 --model gpt-4 --description "API design chat"`,
	RunE: runLog,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: .hexdash)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	// Start flags
	var project, description, conversation string
	var tags []string
	var reuse bool
	startCmd.Flags().StringVarP(&project, "project", "p", "", "Dashboard project code (e.g. 26Q1W22)")
	startCmd.Flags().StringVarP(&description, "description", "d", "", "Session description")
	startCmd.Flags().StringSliceVar(&tags, "tags", nil, "Session tags")
	startCmd.Flags().StringVar(&conversation, "conversation", "", "Conversation id to associate")
	startCmd.Flags().BoolVar(&reuse, "reuse", false, "Reuse an already-active session instead of ending it")

	// Stats flags
	statsCmd.Flags().String("project", "", "Restrict to one project code")
	statsCmd.Flags().Bool("json", false, "Emit JSON instead of text")

	// Log flags
	logCmd.Flags().Int("tokens", 0, "Estimated token count (required)")
	logCmd.Flags().String("model", "", "Model name for the record")
	logCmd.Flags().String("description", "", "What the tokens were spent on")
	logCmd.MarkFlagRequired("tokens")

	// Add commands to root
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(endCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(resyncCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(logCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the wired stores for one command invocation. Construction is
// explicit: tiers are chosen here from config, never sniffed at runtime.
type app struct {
	cfg      *config.Config
	entries  *entry.Store
	sessions *session.Store
	rec      *reconcile.Reconciler
	bridge   *syncbridge.Bridge
	cache    *syncbridge.CacheStorage
}

func buildApp() (*app, error) {
	cfgPath := configPath
	if cfgPath == "" {
		base := dataDir
		if base == "" {
			if env := os.Getenv("HEXDASH_DATA_DIR"); env != "" {
				base = env
			} else {
				base = ".hexdash"
			}
		}
		cfgPath = filepath.Join(base, "config.yaml")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	if err := logging.Initialize(cfg.DataDir); err != nil {
		logger.Warn("File logging unavailable", zap.Error(err))
	}

	entries, err := entry.NewStore(cfg.EntriesPath(), cfg.Entries.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("open entry store: %w", err)
	}

	fileTier := session.NewFileStorage(cfg.SessionsPath(), cfg.ActiveSessionPath())
	sessions := session.NewStore(fileTier, entries, cfg.GetTimeoutThreshold())

	a := &app{
		cfg:      cfg,
		entries:  entries,
		sessions: sessions,
		rec:      reconcile.New(entries, sessions, activitySource(cfg)),
	}

	// The cache tier is an enhancement; failing to open it degrades to
	// file-only operation.
	cache, err := syncbridge.NewCacheStorage(cfg.CachePath())
	if err != nil {
		logger.Warn("Cache tier unavailable", zap.String("path", cfg.CachePath()), zap.Error(err))
	} else {
		a.cache = cache
		a.bridge = syncbridge.New(fileTier, cache, remoteStore(cfg), cfg.Sync.OwnerID)
	}
	return a, nil
}

func (a *app) close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	project, _ := cmd.Flags().GetString("project")
	description, _ := cmd.Flags().GetString("description")
	conversation, _ := cmd.Flags().GetString("conversation")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	reuse, _ := cmd.Flags().GetBool("reuse")

	opts := session.StartOptions{
		Description:    description,
		ConversationID: conversation,
		Tags:           tags,
		Force:          !reuse,
	}
	if project != "" {
		c, err := projectid.Parse(project)
		if err != nil {
			return err
		}
		opts.ProjectCode = project
		logger.Debug("Project code parsed",
			zap.Int("year", c.Year),
			zap.Int("quarter", c.Quarter),
			zap.String("platform", string(c.PlatformType)))
	}

	before, err := a.sessions.GetActive()
	if err != nil {
		return err
	}

	sess, err := a.sessions.Start(opts)
	if err != nil {
		return err
	}

	if before != nil && sess.ID == before.ID {
		fmt.Printf("Reusing active session %s (started %s)\n",
			sess.ID, sess.StartTime.Format(time.RFC3339))
		return nil
	}
	if before != nil {
		fmt.Printf("Ended previous session %s\n", before.ID)
	}
	fmt.Printf("Started session %s", sess.ID)
	if sess.ProjectCode != "" {
		fmt.Printf(" for project %s", sess.ProjectCode)
	}
	fmt.Println()
	return nil
}

func runEnd(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	sess, err := a.sessions.End()
	if err != nil {
		return err
	}
	if sess == nil {
		fmt.Println("No active session.")
		return nil
	}

	duration := sess.EndTime.Sub(sess.StartTime).Round(time.Second)
	fmt.Printf("Ended session %s\n", sess.ID)
	fmt.Printf("  Duration: %s\n", duration)
	fmt.Printf("  Tokens:   %d across %d entries\n", sess.TotalTokens, len(sess.TokenEntries))
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := a.rec.Run(ctx)
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		fmt.Println("No active session; start one before syncing.")
	case err != nil:
		return fmt.Errorf("reconcile: %w", err)
	default:
		fmt.Printf("Imported %d entries (+%d tokens, %d prompt groups); %d already known\n",
			res.NewEntries, res.NewTokens, res.NewPromptGroups, res.SkippedExisting)
	}

	if a.bridge == nil {
		return nil
	}
	local := a.bridge.SyncLocal()
	logger.Debug("Local tier sync",
		zap.Int("overwritten", local.Overwritten),
		zap.Int("appended", local.Appended),
		zap.Int("preserved", local.Preserved))

	if a.cfg.Sync.RemoteEnabled {
		remote := a.bridge.SyncRemote(ctx)
		fmt.Printf("Remote sync: %d pushed, %d adopted, %d failed\n",
			remote.Pushed, remote.Adopted, remote.Failed)
	}
	return nil
}

func runResync(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := a.rec.Resync(ctx)
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	fmt.Printf("Resync complete: %d sessions seen, %d totals updated\n",
		res.SessionsSeen, res.SessionsUpdated)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	project, _ := cmd.Flags().GetString("project")
	asJSON, _ := cmd.Flags().GetBool("json")

	sessions, err := a.sessions.List(session.Filter{ProjectCode: project})
	if err != nil {
		return err
	}

	var remote *aggregate.RemoteCounts
	if project != "" && a.bridge != nil && a.cfg.Sync.RemoteEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if count, ok := a.bridge.RemotePromptCount(ctx, project); ok {
			remote = &aggregate.RemoteCounts{TotalPrompts: count}
		}
	}

	summary := aggregate.Summarize(sessions, remote)
	entryStats := a.entries.ComputeStatistics(entry.Filter{Project: project})

	if asJSON {
		return printJSON(struct {
			Sessions aggregate.Summary `json:"sessions"`
			Entries  entry.Statistics  `json:"entries"`
		}{summary, entryStats})
	}

	label := "all projects"
	if project != "" {
		label = project
	}
	fmt.Printf("Statistics for %s\n", label)
	fmt.Printf("  Sessions:          %d\n", summary.TotalSessions)
	fmt.Printf("  Total tokens:      %d\n", summary.TotalTokens)
	fmt.Printf("  Total prompts:     %d\n", summary.TotalPrompts)
	fmt.Printf("  Tokens per prompt: %.1f\n", summary.TokensPerPrompt)

	if entryStats.Count > 0 {
		fmt.Printf("Entry log (%d entries, avg %.1f tokens)\n", entryStats.Count, entryStats.AvgTokens)
		printGrouping("By operation", entryStats.ByOperation)
		printGrouping("By model", entryStats.ByModel)
		if project == "" {
			printGrouping("By project", entryStats.ByProject)
		}
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Printf("hexdash %s\n", a.cfg.Version)
	fmt.Printf("  Data directory: %s\n", a.cfg.DataDir)
	fmt.Printf("  Activity DB:    %s\n", sourceLabel(a.cfg))
	fmt.Printf("  Entries logged: %d\n", a.entries.Len())

	active, err := a.sessions.GetActive()
	if err != nil {
		return err
	}
	if active == nil {
		fmt.Println("  Active session: none")
		return nil
	}

	fmt.Printf("  Active session: %s\n", active.ID)
	if active.ProjectCode != "" {
		fmt.Printf("    Project:  %s\n", active.ProjectCode)
	}
	fmt.Printf("    Started:  %s\n", active.StartTime.Format(time.RFC3339))
	fmt.Printf("    Tokens:   %d across %d entries\n", active.TotalTokens, len(active.TokenEntries))
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Source.DatabasePath == "" {
		return fmt.Errorf("no activity database configured (set source.database_path or HEXDASH_SOURCE_DB)")
	}

	w, err := watch.New(a.cfg.Source.DatabasePath, func(ctx context.Context) error {
		res, err := a.rec.Run(ctx)
		if errors.Is(err, session.ErrNoActiveSession) {
			logger.Warn("Activity changed but no session is active")
			return nil
		}
		if err != nil {
			return err
		}
		if res.NewEntries > 0 {
			logger.Info("Imported activity",
				zap.Int("entries", res.NewEntries),
				zap.Int64("tokens", res.NewTokens))
		}
		if a.bridge != nil {
			a.bridge.SyncLocal()
		}
		return nil
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := w.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Watching %s (Ctrl-C to stop)\n", a.cfg.Source.DatabasePath)

	<-sigCh
	logger.Info("Received shutdown signal")
	w.Stop()
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	tokens, _ := cmd.Flags().GetInt("tokens")
	model, _ := cmd.Flags().GetString("model")
	description, _ := cmd.Flags().GetString("description")

	id, err := a.rec.RecordManual(tokens, model, description)
	if errors.Is(err, session.ErrNoActiveSession) {
		return fmt.Errorf("no active session; start one before logging tokens")
	}
	if err != nil {
		return err
	}
	fmt.Printf("Recorded %d tokens (%s)\n", tokens, id)
	return nil
}
