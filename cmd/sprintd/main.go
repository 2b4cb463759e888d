// sprintd watches a project's team/task directories and serves the sprint
// control API: a WebSocket event feed plus the HTTP surface described in
// SPEC_FULL.md §6. cobra/viper for the CLI surface and config loading is
// the pattern this corpus uses wherever a daemon needs subcommands and a
// layered config file (see the hector and tail-claude examples).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	deliveryhttp "teamclaude/internal/delivery/http"
	"teamclaude/internal/shared/logging"
	"teamclaude/internal/sprint/broadcast"
	"teamclaude/internal/sprint/config"
	"teamclaude/internal/sprint/engine"
	"teamclaude/internal/sprint/paths"
	"teamclaude/internal/sprint/replay"
	"teamclaude/internal/sprint/verify"
	"teamclaude/internal/sprint/watcher"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var project string
	var verbose bool

	root := &cobra.Command{
		Use:   "sprintd",
		Short: "Observe a multi-agent sprint and serve its live state over HTTP/WebSocket",
	}
	root.PersistentFlags().StringVar(&project, "project", ".", "project directory to observe")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	root.AddCommand(newServeCmd(&project, &verbose))
	root.AddCommand(newReplayCmd(&project))
	root.AddCommand(newVerifyOnceCmd(&project))
	return root
}

func newServeCmd(project *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the sprint daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *verbose {
				logging.SetLevel(logging.LevelDebug)
			}
			return runServe(*project)
		},
	}
}

func runServe(project string) error {
	logger := logging.NewComponentLogger("sprintd")

	eng, err := engine.New(project, logger)
	if err != nil {
		return fmt.Errorf("sprintd: init engine: %w", err)
	}

	roots := eng.Roots()
	watch := watcher.New(roots.TeamsDir(), roots.TasksDir(), logger)
	eng.AttachWatcher(watch)

	initialCfg, err := config.Load(roots.ConfigFile())
	if err != nil {
		return fmt.Errorf("sprintd: load config: %w", err)
	}
	eng.ApplyConfig(initialCfg)

	cfgWatcher := config.NewWatcher(roots.ConfigFile(), logger, eng.ApplyConfig)
	if err := cfgWatcher.Start(); err != nil {
		return fmt.Errorf("sprintd: start config watcher: %w", err)
	}
	defer cfgWatcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := watch.Start(ctx); err != nil {
		return fmt.Errorf("sprintd: start watcher: %w", err)
	}

	go eng.Run(ctx)

	apiHandler := deliveryhttp.NewAPIHandler(eng, deliveryhttp.WithLogger(logger))
	mux := deliveryhttp.NewRouter(apiHandler)

	port := initialCfg.Server.Port
	if port == 0 {
		port = 4851
	}
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("sprintd listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutting down")
	case err := <-serveErr:
		logger.Error("server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	cancel() // stops eng.Run, which flushes the persistence debounce
	watch.Stop()
	if metrics := eng.Metrics(); metrics != nil {
		_ = metrics.Shutdown(shutdownCtx)
	}
	return nil
}

func newReplayCmd(project *string) *cobra.Command {
	var speed float64
	var sprintID string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a recorded sprint's events to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(*project, sprintID, speed)
		},
	}
	cmd.Flags().Float64Var(&speed, "speed", 1.0, "replay speed multiplier")
	cmd.Flags().StringVar(&sprintID, "sprint", "", "sprint id under .teamclaude/history to replay")
	_ = cmd.MarkFlagRequired("sprint")
	return cmd
}

func runReplay(project, sprintID string, speed float64) error {
	logger := logging.NewComponentLogger("sprintd-replay")
	eng, err := engine.New(project, logger)
	if err != nil {
		return err
	}
	records, err := replay.Load(eng.Roots().HistoryReplayFile(sprintID))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("sprintd: no recording found for sprint %s", sprintID)
	}

	session := replay.NewSession(records, stdoutSender{}, speed)
	<-session.Done()
	return nil
}

func newVerifyOnceCmd(project *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-once",
		Short: "Run the configured verification gate once and exit with its pass/fail status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyOnce(*project)
		},
	}
}

// runVerifyOnce runs the project's configured verification.commands a
// single time outside the daemon, for CI or a manual pre-merge check. It
// reuses the same verify.Gate the running engine schedules on APPROVED /
// CYCLE_COMPLETE / SPRINT_COMPLETE, so a local "does this pass?" check
// exercises the identical code path.
func runVerifyOnce(project string) error {
	logger := logging.NewComponentLogger("sprintd-verify")

	roots, err := paths.NewRoots(project)
	if err != nil {
		return fmt.Errorf("sprintd: resolve project: %w", err)
	}
	cfg, err := config.Load(roots.ConfigFile())
	if err != nil {
		return fmt.Errorf("sprintd: load config: %w", err)
	}

	commands := make([]verify.Command, len(cfg.Verification.Commands))
	for i, c := range cfg.Verification.Commands {
		commands[i] = verify.Command{Name: c.Name, Run: c.Run}
	}
	gate := verify.NewGate(commands, project, logger)

	result := gate.Run(context.Background())
	for _, check := range result.Checks {
		status := "pass"
		if !check.Passed {
			status = "fail"
		}
		fmt.Printf("%-20s %s\n", check.Name, status)
		if !check.Passed && check.Output != "" {
			fmt.Println(check.Output)
		}
	}
	if !result.Passed {
		return fmt.Errorf("sprintd: verification failed")
	}
	fmt.Println("verification passed")
	return nil
}

type stdoutSender struct{}

func (stdoutSender) Send(e broadcast.Event) {
	fmt.Printf("%s %v\n", e.Type, e.Payload)
}
