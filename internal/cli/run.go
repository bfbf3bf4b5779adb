package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/rlm/internal/config"
	"github.com/harun/rlm/internal/observability"
	"github.com/harun/rlm/internal/tracing"
	"github.com/harun/rlm/pkg/agent"
	"github.com/harun/rlm/pkg/repl"
	"github.com/harun/rlm/pkg/subagent"
	"github.com/harun/rlm/pkg/transcript"
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run an agent on a task",
	Long: `Run the root agent on a task until it records a final answer.
Pass "-" to read the task from stdin. The final answer is printed to stdout;
the exit code is 2 when the agent stops without one and 1 when the model
service fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

type runOptions struct {
	provider         string
	model            string
	maxDepth         int
	truncate         int
	subagentTruncate int
	transcriptDir    string
	metricsAddr      string
	timeout          time.Duration
	quiet            bool
}

var runOpts runOptions

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.provider, "provider", "", "model provider (anthropic, openai)")
	f.StringVar(&runOpts.model, "model", "", "model name")
	f.IntVar(&runOpts.maxDepth, "max-depth", 0, "maximum delegation depth, 0 for unlimited")
	f.IntVar(&runOpts.truncate, "truncate", 0, "root tool output limit in characters, 0 disables")
	f.IntVar(&runOpts.subagentTruncate, "subagent-truncate", 0, "sub-agent tool output limit in characters, 0 disables")
	f.StringVar(&runOpts.transcriptDir, "transcript-dir", "", "write a JSONL transcript to this directory")
	f.StringVar(&runOpts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.DurationVar(&runOpts.timeout, "timeout", 0, "abort the run after this duration, 0 for none")
	f.BoolVarP(&runOpts.quiet, "quiet", "q", false, "print only the final answer")

	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overrides config values with the flags the user set
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, opts runOptions) {
	f := cmd.Flags()
	if f.Changed("provider") {
		cfg.Provider.Name = opts.provider
	}
	if f.Changed("model") {
		cfg.Provider.Model = opts.model
	}
	if f.Changed("max-depth") {
		cfg.Agent.MaxDepth = opts.maxDepth
	}
	if f.Changed("truncate") {
		cfg.Agent.TruncateLimit = opts.truncate
	}
	if f.Changed("subagent-truncate") {
		cfg.Agent.SubAgentTruncateLimit = opts.subagentTruncate
	}
	if f.Changed("transcript-dir") {
		cfg.Transcript.Enabled = true
		cfg.Transcript.Dir = opts.transcriptDir
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if f.Changed("timeout") {
		cfg.Agent.Timeout = opts.timeout
	}
}

// readTask joins the arguments, reading stdin for "-"
func readTask(args []string, stdin io.Reader) (string, error) {
	task := strings.Join(args, " ")
	if task == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read task from stdin: %w", err)
		}
		task = string(data)
	}
	task = strings.TrimSpace(task)
	if task == "" {
		return "", fmt.Errorf("task is required")
	}
	return task, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	task, err := readTask(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg, runOpts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	zl := log.GetZerolog()

	observability.EnsureRegistered()
	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName); err != nil {
			zl.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			defer func() {
				_ = tracing.ShutdownOpenTelemetry(context.Background())
			}()
		}
	}

	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr, zl)
		defer stop()
	}

	delegator, rec, err := buildDelegator(cfg, zl, cmd.OutOrStdout(), runOpts.quiet)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Agent.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Agent.Timeout)
		defer cancel()
	}
	ctx = tracing.NewAgentRunContext(ctx)

	zl.Info().
		Str("trace_id", tracing.GetTraceID(ctx)).
		Str("provider", cfg.Provider.Name).
		Str("model", cfg.Provider.Model).
		Msg("Starting agent run")

	result, err := delegator.RunRoot(ctx, task)
	if rec != nil {
		zl.Info().Str("path", rec.Path(tracing.GetTraceID(ctx))).Msg("Transcript written")
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", cfg.Agent.Timeout, err)
		}
		return &ExitError{Code: ExitFault, Err: fmt.Errorf("agent run aborted: %w", err)}
	}

	logRunTree(zl, delegator.Coordinator())
	stats := delegator.Coordinator().Stats()
	zl.Info().
		Int("runs", stats.TotalRuns).
		Int("max_depth", stats.MaxDepth).
		Str("status", string(result.Status)).
		Msg("Agent run finished")

	out := cmd.OutOrStdout()
	if !result.IsCompleted() {
		return &ExitError{Code: ExitFailed, Err: fmt.Errorf("agent failed: %s", result.Reason)}
	}
	if runOpts.quiet {
		fmt.Fprintln(out, result.Display())
	} else {
		fmt.Fprintf(out, "Final answer:\n%s\n", result.Display())
	}
	return nil
}

// buildDelegator wires the provider, sessions and optional transcript for a run
func buildDelegator(cfg *config.Config, zl zerolog.Logger, out io.Writer, quiet bool) (*subagent.Delegator, *transcript.Recorder, error) {
	prompts, err := cfg.LoadPrompts()
	if err != nil {
		return nil, nil, err
	}

	factory := &agent.ProviderFactory{}
	provider, err := factory.NewProvider(agent.ProviderConfig{
		Provider:       cfg.Provider.Name,
		APIKey:         cfg.Provider.APIKey,
		BaseURL:        cfg.Provider.BaseURL,
		ThinkingBudget: cfg.Provider.ThinkingBudget,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}

	var recorder agent.Recorder
	var rec *transcript.Recorder
	if cfg.Transcript.Enabled {
		rec, err = transcript.New(cfg.Transcript.Dir, zl)
		if err != nil {
			return nil, nil, err
		}
		recorder = rec
	}

	coordinator := subagent.NewCoordinator(zl)
	var onEvent agent.EventHandler
	if !quiet {
		printer := newConsolePrinter(out)
		onEvent = printer.handle
		coordinator.Subscribe(printer.runEvent)
	}

	d, err := subagent.NewDelegator(subagent.Config{
		Provider:              provider,
		Model:                 cfg.Provider.Model,
		MaxTokens:             cfg.Provider.MaxTokens,
		Temperature:           cfg.Provider.Temperature,
		MaxRetries:            cfg.Provider.MaxRetries,
		RootPrompt:            prompts.Root,
		SubAgentPrompt:        prompts.SubAgent,
		RootTruncateLimit:     cfg.Agent.TruncateLimit,
		SubAgentTruncateLimit: cfg.Agent.SubAgentTruncateLimit,
		MaxDepth:              cfg.Agent.MaxDepth,
		Session: repl.Config{
			PythonPath: cfg.Session.PythonPath,
			WorkDir:    cfg.Session.WorkDir,
			Env:        cfg.Session.Env,
		},
		Coordinator: coordinator,
		Recorder:    recorder,
		OnEvent:     onEvent,
		Logger:      zl,
	})
	if err != nil {
		return nil, nil, err
	}
	return d, rec, nil
}

// logRunTree logs every sub-agent run spawned under the latest root run
func logRunTree(zl zerolog.Logger, coordinator *subagent.Coordinator) {
	roots := coordinator.Children("")
	if len(roots) == 0 {
		return
	}
	root := roots[len(roots)-1]
	for _, rec := range coordinator.Descendants(root.ID) {
		zl.Info().
			Str("run_id", rec.ID).
			Str("parent_run_id", rec.ParentRunID).
			Int("depth", rec.Depth).
			Str("status", string(rec.Status)).
			Str("task", rec.Task).
			Msg("Sub-agent run")
	}
}

// serveMetrics exposes /metrics until the returned stop func is called
func serveMetrics(addr string, zl zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	zl.Info().Str("addr", addr).Msg("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
