package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/promptcanary/promptcanary/internal/alert"
	"github.com/promptcanary/promptcanary/internal/api"
	"github.com/promptcanary/promptcanary/internal/canary"
	"github.com/promptcanary/promptcanary/internal/config"
	"github.com/promptcanary/promptcanary/internal/dataset"
	"github.com/promptcanary/promptcanary/internal/router"
	"github.com/promptcanary/promptcanary/internal/store"
	"github.com/promptcanary/promptcanary/internal/trainer"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Exit codes for offline commands, so schedulers can tell a blocked run
// from a broken one.
const (
	exitOK              = 0
	exitGeneric         = 1
	exitExperimentBusy  = 2
	exitNoActivePrompt  = 3
	exitOptimizerFailed = 4
	exitStoreFailed     = 5
	exitEmptyDataset    = 6
)

// jobLeaseTTL bounds how long a crashed offline command can hold the lease.
const jobLeaseTTL = 10 * time.Minute

var errLeaseBusy = errors.New("another training or canary run holds the job lease")

func main() {
	rootCmd := &cobra.Command{
		Use:           "promptcanary",
		Short:         "Feedback-driven canary deployment for agent prompts",
		Long:          "promptcanary routes live traffic between an active and a candidate instruction prompt,\ncollects user feedback, trains improved candidates, and promotes or rolls them back automatically.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configFile string
	var port int
	var devMode bool

	// ─── serve ───
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the prompt selection and feedback API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile, port, devMode)
		},
	}
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: promptcanary.yaml)")
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Override HTTP port")
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Dev mode: verbose logs, CORS *")

	// ─── bootstrap ───
	var bootstrapText, bootstrapFile string
	bootstrapCmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Install the first active prompt at full traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			if bootstrapFile != "" {
				data, err := os.ReadFile(bootstrapFile)
				if err != nil {
					return fmt.Errorf("failed to read prompt file: %w", err)
				}
				bootstrapText = string(data)
			}
			return runBootstrap(configFile, bootstrapText)
		},
	}
	bootstrapCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	bootstrapCmd.Flags().StringVar(&bootstrapText, "text", "", "Prompt text (default: agent.default_prompt from config)")
	bootstrapCmd.Flags().StringVar(&bootstrapFile, "file", "", "Read prompt text from a file")

	// ─── train ───
	var trainOpts trainOverrides
	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Build a dataset, optimize the prompt, and start an experiment",
		RunE: func(cmd *cobra.Command, args []string) error {
			trainOpts.requireFeedbackSet = cmd.Flags().Changed("require-feedback")
			return runTrain(cmd.Context(), configFile, trainOpts)
		},
	}
	trainCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	trainCmd.Flags().StringVar(&trainOpts.optimizer, "optimizer", "", "Override training.optimizer")
	trainCmd.Flags().StringVar(&trainOpts.strategy, "strategy", "", "Override training.strategy")
	trainCmd.Flags().BoolVar(&trainOpts.requireFeedback, "require-feedback", true, "Override training.require_feedback")

	// ─── canary ───
	canaryCmd := &cobra.Command{
		Use:   "canary",
		Short: "Run one canary evaluation and step traffic toward the winner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCanary(configFile)
		},
	}
	canaryCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	// ─── status ───
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current experiment state from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(configFile, port)
		},
	}
	statusCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	statusCmd.Flags().IntVarP(&port, "port", "p", 0, "Server port")

	// ─── init ───
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}

	// ─── version ───
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("promptcanary %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", buildDate)
		},
	}

	rootCmd.AddCommand(serveCmd, bootstrapCmd, trainCmd, canaryCmd, statusCmd, initCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps well-known failures onto stable exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, trainer.ErrExperimentActive), errors.Is(err, errLeaseBusy):
		return exitExperimentBusy
	case errors.Is(err, trainer.ErrNoActivePrompt):
		return exitNoActivePrompt
	case errors.Is(err, trainer.ErrEmptyDataset):
		return exitEmptyDataset
	case errors.Is(err, trainer.ErrUnsupportedOptimizer), errors.Is(err, trainer.ErrOptimizeFailed):
		return exitOptimizerFailed
	case errors.Is(err, errStore), errors.Is(err, store.ErrUnavailable):
		return exitStoreFailed
	default:
		return exitGeneric
	}
}

var errStore = errors.New("storage failure")

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", errStore, err)
}

// ─── serve ───

func runServe(configFile string, portOverride int, devMode bool) error {
	cfgLoader, cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}
	if devMode {
		cfg.Server.CORS = true
		cfg.Server.LogLevel = "debug"
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(parseLogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	rt := router.New(st, nil, logger)
	server := api.NewServer(cfg.Server, st, rt, logger)

	// Hot-reload config so the log level follows file edits without a
	// restart. Storage and listen address changes still need one.
	if cfgLoader.FilePath() != "" {
		if err := cfgLoader.Watch(func(updated *config.Config) {
			reloadLogLevel(logLevel, updated)
			logger.Info("config reloaded",
				"path", cfgLoader.FilePath(),
				"log_level", updated.Server.LogLevel)
		}); err != nil {
			logger.Warn("config hot-reload unavailable", "error", err)
		} else {
			defer cfgLoader.StopWatch()
		}
	}

	addr := api.APIAddr(cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  promptcanary serving")
	fmt.Printf("  → API:     http://%s/api\n", addr)
	fmt.Printf("  → Events:  ws://%s/api/events\n", addr)
	fmt.Printf("  → Storage: %s\n", cfg.Storage.Path)
	fmt.Println()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		_ = server.Shutdown(shutCtx)
	}()

	if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// ─── bootstrap ───

func runBootstrap(configFile, text string) error {
	_, cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Server.LogLevel)

	if text == "" {
		text = cfg.Agent.DefaultPrompt
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("no prompt text: pass --text or set agent.default_prompt")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	rt := router.New(st, nil, logger)
	p, err := rt.Bootstrap(text)
	if err != nil {
		return err
	}
	fmt.Printf("  ✓ Active prompt installed (id=%s, traffic=1.0)\n", p.ID)
	return nil
}

// ─── train ───

// trainOverrides carries command-line overrides for the training config.
type trainOverrides struct {
	optimizer          string
	strategy           string
	requireFeedback    bool
	requireFeedbackSet bool
}

func runTrain(ctx context.Context, configFile string, overrides trainOverrides) error {
	_, cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if overrides.optimizer != "" {
		cfg.Training.Optimizer = overrides.optimizer
	}
	if overrides.strategy != "" {
		cfg.Training.Strategy = overrides.strategy
	}
	if overrides.requireFeedbackSet {
		cfg.Training.RequireFeedback = overrides.requireFeedback
	}
	logger := setupLogger(cfg.Server.LogLevel)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	release, err := acquireLease(st, "optimize")
	if err != nil {
		return err
	}
	defer release()

	builder, err := dataset.NewBuilder(st, dataset.Options{
		Strategy:             cfg.Training.Strategy,
		FetchLimit:           cfg.Training.FetchLimit,
		RequireFeedback:      cfg.Training.RequireFeedback,
		MinFeedbackThreshold: cfg.Training.MinFeedbackThreshold,
		QualityRules:         cfg.Training.QualityRules,
		ExtractAll:           cfg.Training.ExtractAll,
		SystemPrompt:         cfg.Training.SystemPrompt,
	}, logger)
	if err != nil {
		return err
	}

	optimizer, err := trainer.NewOptimizer(cfg.Training.Optimizer, cfg.Training.Model, cfg.Training.Temperature)
	if err != nil {
		return err
	}

	result, err := trainer.New(st, builder, optimizer, logger).Train(ctx)
	if err != nil {
		return err
	}

	alertMgr := alert.NewManager(cfg.Alerts, logger)
	defer alertMgr.Flush()
	if alertMgr.HasSenders() {
		alertMgr.Send(alert.Alert{
			Type:        alert.TypeTrainingComplete,
			Severity:    "info",
			Title:       "Training complete",
			Message:     fmt.Sprintf("New candidate at %.0f%% traffic", trainer.InitialCandidateTraffic*100),
			ActiveID:    result.ActiveID,
			CandidateID: result.CandidateID,
			Details: map[string]interface{}{
				"dataset_size": result.DatasetSize,
				"optimizer":    result.Optimizer,
			},
		})
	}

	fmt.Printf("  ✓ Experiment started: candidate %s at %.0f%% traffic (dataset=%d)\n",
		result.CandidateID, trainer.InitialCandidateTraffic*100, result.DatasetSize)
	return nil
}

// ─── canary ───

func runCanary(configFile string) error {
	_, cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Server.LogLevel)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	release, err := acquireLease(st, "canary")
	if err != nil {
		return err
	}
	defer release()

	ctrl := canary.New(st, cfg.Canary.MinInteractions, logger)
	outcome, err := ctrl.Run()

	alertMgr := alert.NewManager(cfg.Alerts, logger)
	defer alertMgr.Flush()
	if errors.Is(err, canary.ErrTrafficInvariant) {
		if alertMgr.HasSenders() {
			alertMgr.Send(alert.Alert{
				Type:     alert.TypeTrafficInvariant,
				Severity: "critical",
				Title:    "Traffic invariant violated",
				Message:  err.Error(),
			})
		}
		return err
	}
	if err != nil {
		return err
	}

	if alertMgr.HasSenders() {
		if a, ok := outcomeAlert(outcome); ok {
			alertMgr.Send(a)
		}
	}

	switch outcome.Action {
	case "none":
		fmt.Println("  ✓ No change: system stable or no clear winner")
	case "promoted":
		fmt.Printf("  ✓ Candidate %s promoted to active; %s rolled back\n", outcome.CandidateID, outcome.ActiveID)
	case "archived":
		fmt.Printf("  ✓ Candidate %s archived; active %s back at 100%%\n", outcome.CandidateID, outcome.ActiveID)
	default:
		fmt.Printf("  ✓ Traffic stepped: active %.0f%%, candidate %.0f%%\n",
			outcome.ActiveTraffic*100, outcome.CandidateTraffic*100)
	}
	return nil
}

func outcomeAlert(o *canary.Outcome) (alert.Alert, bool) {
	base := alert.Alert{
		Severity:    "info",
		ActiveID:    o.ActiveID,
		CandidateID: o.CandidateID,
		Details: map[string]interface{}{
			"active_traffic":    o.ActiveTraffic,
			"candidate_traffic": o.CandidateTraffic,
		},
	}
	switch o.Action {
	case "step_up", "step_down":
		base.Type = alert.TypeCanaryStep
		base.Title = "Canary traffic stepped"
		base.Message = fmt.Sprintf("active %.0f%%, candidate %.0f%% (winner: %s)",
			o.ActiveTraffic*100, o.CandidateTraffic*100, o.Winner)
	case "promoted":
		base.Type = alert.TypePromptPromoted
		base.Title = "Candidate promoted"
		base.Message = fmt.Sprintf("candidate %s is now active", o.CandidateID)
	case "archived":
		base.Type = alert.TypePromptArchived
		base.Severity = "warning"
		base.Title = "Candidate archived"
		base.Message = fmt.Sprintf("candidate %s lost the experiment", o.CandidateID)
	default:
		return alert.Alert{}, false
	}
	return base, true
}

// ─── status ───

func runStatus(configFile string, portOverride int) error {
	_, cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	port := cfg.Server.Port
	if portOverride > 0 {
		port = portOverride
	}

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/status", port))
	if err != nil {
		return fmt.Errorf("failed to connect to promptcanary server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// ─── init ───

func runInit() error {
	configPath := "promptcanary.yaml"
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("  ⚠ %s already exists (skipping)\n", configPath)
		return nil
	}
	if err := config.GenerateDefault(configPath); err != nil {
		return err
	}
	fmt.Printf("  ✓ Generated %s\n", configPath)
	fmt.Println()
	fmt.Println("  Next steps:")
	fmt.Println("    promptcanary bootstrap   # install the first active prompt")
	fmt.Println("    promptcanary serve       # start the API server")
	return nil
}

// ─── helpers ───

func loadConfig(configFile string) (*config.Loader, *config.Config, error) {
	cfgLoader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := cfgLoader.Load(configFile); err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	return cfgLoader, cfgLoader.Get(), nil
}

func findConfigFile() string {
	candidates := []string{
		"promptcanary.yaml",
		"promptcanary.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "promptcanary", "config.yaml"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// reloadLogLevel applies the configured log level to a live handler.
func reloadLogLevel(level *slog.LevelVar, cfg *config.Config) {
	level.Set(parseLogLevel(cfg.Server.LogLevel))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := st.Initialize(); err != nil {
		_ = st.Close()
		return nil, storeErr(err)
	}
	return st, nil
}

// acquireLease takes the shared offline-job lease so train and canary runs
// never interleave, even across processes.
func acquireLease(st store.Store, job string) (func(), error) {
	holder := ulid.Make().String()
	ok, err := st.AcquireJobLease("offline", holder, jobLeaseTTL)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (job=%s)", errLeaseBusy, job)
	}
	return func() {
		if err := st.ReleaseJobLease("offline", holder); err != nil {
			slog.Warn("failed to release job lease", "job", job, "error", err)
		}
	}, nil
}
