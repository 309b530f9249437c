// Command sykli runs Sykli pipeline definitions: validate a pipeline file,
// expand its matrices and capability dependencies, and execute it against
// the local or a distributed target.
//
// Usage:
//
//	sykli run <pipeline.json>      - validate, expand, and execute a pipeline
//	sykli validate <pipeline.json> - validate and expand only, print errors
//	sykli gc                       - run a one-shot cache GC
//	sykli serve                    - run a long-lived daemon: HTTP/WS run submission plus scheduled cache GC
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/sykli/engine/pkg/cache"
	"github.com/sykli/engine/pkg/capability"
	"github.com/sykli/engine/pkg/condition"
	"github.com/sykli/engine/pkg/config"
	"github.com/sykli/engine/pkg/graph"
	"github.com/sykli/engine/pkg/hints"
	"github.com/sykli/engine/pkg/history"
	"github.com/sykli/engine/pkg/logger"
	"github.com/sykli/engine/pkg/matrix"
	"github.com/sykli/engine/pkg/orchestrator"
	"github.com/sykli/engine/pkg/runserver"
	"github.com/sykli/engine/pkg/services/gate"
	"github.com/sykli/engine/pkg/services/mergequeue"
	"github.com/sykli/engine/pkg/services/retry"
	"github.com/sykli/engine/pkg/target/local"
	"github.com/sykli/engine/pkg/validator"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		cmdRun(args)
	case "validate":
		cmdValidate(args)
	case "gc":
		cmdGC(args)
	case "serve":
		cmdServe(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Sykli - pipeline orchestrator

Usage:
  sykli run <pipeline.json>      Validate, expand, and execute a pipeline
  sykli validate <pipeline.json> Validate and expand only, print errors
  sykli gc                       Run a one-shot cache GC
  sykli serve                    Run a long-lived daemon: HTTP/WS run submission plus scheduled cache GC

Environment Variables:
  SYKLI_CACHE_DIR          Cache directory (default $HOME/.sykli/cache)
  SYKLI_CACHE_GC_SCHEDULE  Daemon-mode GC cron schedule (default "0 */6 * * *")
  SYKLI_CACHE_GC_MAX_AGE   Daemon-mode GC max record age (default 168h)
  SYKLI_SERVE_ADDR         Daemon-mode listen address (default :7779)
  SYKLI_LOG_LEVEL          Log level (default info)
  SYKLI_MAX_RUN_DURATION   Per-run ceiling (default 10m)`)
}

func loadAndExpand(path string) (*graph.Pipeline, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{err}
	}

	doc, err := graph.Parse(data)
	if err != nil {
		return nil, []error{err}
	}

	result := validator.Validate(doc)
	if len(result.Errors) > 0 {
		errs := make([]error, len(result.Errors))
		for i, e := range result.Errors {
			errs[i] = e
		}
		return nil, errs
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	p := matrix.Expand(result.Pipeline)

	p, capErrs := capability.Resolve(p)
	if len(capErrs) > 0 {
		errs := make([]error, len(capErrs))
		for i, e := range capErrs {
			errs[i] = e
		}
		return nil, errs
	}

	return p, nil
}

func cmdValidate(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: sykli validate <pipeline.json>")
		os.Exit(1)
	}

	p, errs := loadAndExpand(args[0])
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "error: %v\n", e)
		}
		os.Exit(1)
	}

	fmt.Printf("valid: %d task(s) after expansion\n", len(p.Tasks))
	for _, name := range p.TaskNames() {
		fmt.Printf("  - %s\n", name)
	}
}

func cmdRun(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: sykli run <pipeline.json>")
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("SYKLI_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging)

	p, errs := loadAndExpand(args[0])
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "error: %v\n", e)
		}
		os.Exit(1)
	}

	store, err := cache.Open(cfg.Cache.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cache: %v\n", err)
		os.Exit(1)
	}

	localTarget, err := local.New(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "target: %v\n", err)
		os.Exit(1)
	}

	var webhook gate.Approver
	if cfg.Webhook.Enabled {
		wh := gate.NewWebhookApprover(cfg.Webhook.Secret, log)
		go func() {
			fmt.Fprintf(os.Stderr, "webhook gate receiver listening on %s\n", cfg.Webhook.Addr)
			srv := &http.Server{Addr: cfg.Webhook.Addr, Handler: wh.Handler()}
			if err := srv.ListenAndServe(); err != nil {
				log.WithError(err).Error("webhook gate receiver stopped")
			}
		}()
		webhook = wh
	}

	var limiter *rate.Limiter
	if cfg.Orchestrator.DispatchRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Orchestrator.DispatchRatePerSec), 1)
	}

	workdirRoot, err := os.MkdirTemp("", "sykli-run-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "workdir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(workdirRoot)

	mq := mergequeue.Classify(mergequeue.Env{
		GitHubEventName:      os.Getenv("GITHUB_EVENT_NAME"),
		GitHubRef:            os.Getenv("GITHUB_REF"),
		GitLabPipelineSource: os.Getenv("CI_PIPELINE_SOURCE"),
	})
	if mq != mergequeue.KindNone {
		log.WithField("merge_queue", mq).Info("running inside a merge queue / merge train")
	}

	orch := orchestrator.New(orchestrator.Options{
		Target:          localTarget,
		Cache:           store,
		GateRegistry:    gate.NewRegistry(webhook),
		Log:             log,
		DispatchLimiter: limiter,
		Retry: retry.Config{
			MaxAttempts: 1,
			BaseDelay:   cfg.Orchestrator.RetryBaseDelay,
			MaxDelay:    cfg.Orchestrator.RetryMaxDelay,
		},
		WorkdirRoot: workdirRoot,
		Context:     runContext(),
	})

	srv := runserver.NewServer(orch, cfg.Orchestrator.MaxRunDuration, log)

	if cfg.EventBus.Enabled {
		go func() {
			if err := srv.ListenAndServe(cfg.EventBus.Addr, log); err != nil {
				log.WithError(err).Error("event bus server stopped")
			}
		}()
	}

	result, err := srv.Submit(context.Background(), p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}

	printResult(result)
	writeHistory(result, log)

	if result.Status == orchestrator.StatusFailed {
		os.Exit(1)
	}
}

func runContext() condition.Context {
	prNumber := 0
	fmt.Sscanf(os.Getenv("SYKLI_PR_NUMBER"), "%d", &prNumber)
	return condition.Context{
		Branch:   os.Getenv("SYKLI_BRANCH"),
		Tag:      os.Getenv("SYKLI_TAG"),
		Event:    os.Getenv("SYKLI_EVENT"),
		PRNumber: prNumber,
		CI:       os.Getenv("CI") != "",
	}
}

func printResult(result *orchestrator.RunResult) {
	for _, name := range sortedKeys(result.Tasks) {
		tr := result.Tasks[name]
		switch tr.Status {
		case orchestrator.StatusCompleted:
			hit := ""
			if tr.CacheHit {
				hit = " (cache hit)"
			}
			fmt.Printf("ok    %s%s\n", name, hit)
		case orchestrator.StatusSkipped:
			fmt.Printf("skip  %s\n", name)
		case orchestrator.StatusFailed:
			fmt.Printf("fail  %s: exit %d\n", name, tr.ExitCode)
			if tr.Err != nil {
				fmt.Printf("      %v\n", tr.Err)
			}
			for _, h := range hints.For(tr.ExitCode, tr.Output) {
				fmt.Printf("      hint: %s\n", h)
			}
		}
	}
	fmt.Printf("\nrun %s\n", result.Status)
}

func sortedKeys(m map[string]*orchestrator.TaskResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeHistory(result *orchestrator.RunResult, log *logger.Logger) {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	w, err := history.NewWriter(cwd)
	if err != nil {
		log.WithError(err).Warn("could not open run history writer")
		return
	}
	rec := history.Record{
		RunID:     result.RunID,
		Project:   cwd,
		StartedAt: time.Now(),
		Status:    result.Status,
		Tasks:     result.Tasks,
	}
	if err := w.Write(rec, time.Now()); err != nil {
		log.WithError(err).Warn("could not write run history")
	}
}

func cmdGC(args []string) {
	cfg, err := config.Load(os.Getenv("SYKLI_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	store, err := cache.Open(cfg.Cache.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cache: %v\n", err)
		os.Exit(1)
	}
	maxAge := 7 * 24 * time.Hour
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err == nil {
			maxAge = d
		}
	}
	if err := store.CleanOlderThan(maxAge); err != nil {
		fmt.Fprintf(os.Stderr, "gc: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("gc complete")
}

// cmdServe runs sykli as a long-lived daemon: an HTTP/WS surface that
// accepts pipelines via POST /runs and streams their progress, plus a
// cron-scheduled cache GC running in the background for as long as the
// process is up, instead of needing a separate "sykli gc" invocation.
func cmdServe(args []string) {
	cfg, err := config.Load(os.Getenv("SYKLI_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging)

	store, err := cache.Open(cfg.Cache.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cache: %v\n", err)
		os.Exit(1)
	}

	gc, err := cache.NewGC(store, cfg.Cache.GCMaxAge, cfg.Cache.GCSchedule, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gc schedule: %v\n", err)
		os.Exit(1)
	}
	gc.Start()
	defer gc.Stop()

	localTarget, err := local.New(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "target: %v\n", err)
		os.Exit(1)
	}

	var limiter *rate.Limiter
	if cfg.Orchestrator.DispatchRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Orchestrator.DispatchRatePerSec), 1)
	}

	workdirRoot, err := os.MkdirTemp("", "sykli-serve-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "workdir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(workdirRoot)

	orch := orchestrator.New(orchestrator.Options{
		Target:          localTarget,
		Cache:           store,
		GateRegistry:    gate.NewRegistry(nil),
		Log:             log,
		DispatchLimiter: limiter,
		Retry: retry.Config{
			MaxAttempts: 1,
			BaseDelay:   cfg.Orchestrator.RetryBaseDelay,
			MaxDelay:    cfg.Orchestrator.RetryMaxDelay,
		},
		WorkdirRoot: workdirRoot,
		Context:     runContext(),
	})

	srv := runserver.NewServer(orch, cfg.Orchestrator.MaxRunDuration, log)

	httpServer := &http.Server{
		Addr:         cfg.Serve.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // event streams are long-lived
	}

	go func() {
		log.WithField("addr", cfg.Serve.Addr).Info("sykli daemon listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("serve: http server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown error")
	}
}
