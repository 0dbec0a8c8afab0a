package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/namsral/flag"

	"github.com/nuetzliches/brokeradmin/internal/config"
)

const (
	envPrefix       = "BROKERADMIN"
	shutdownTimeout = 5 * time.Second
	watchDebounce   = 200 * time.Millisecond
)

func init() {
	// namsral/flag reads a flag named "config" as a flags file; ours names
	// the Brokerfile instead.
	flag.DefaultConfigFlagname = "flags-file"
}

type runOptions struct {
	configPath string
	pidFile    string
	logLevel   string
	dotenvPath string
	watch      bool
}

func parseRunFlags(args []string) (runOptions, error) {
	var opts runOptions
	fs := flag.NewFlagSetWithEnvPrefix("run", envPrefix, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&opts.configPath, "config", "./Brokerfile", "path to config file")
	fs.StringVar(&opts.pidFile, "pid-file", "", "write process PID to file (for runtime control)")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	fs.StringVar(&opts.dotenvPath, "dotenv", "", "load environment variables from file (dev only)")
	fs.BoolVar(&opts.watch, "watch", false, "watch config file for reload")
	if err := fs.Parse(args); err != nil {
		return runOptions{}, err
	}
	return opts, nil
}

func run(args []string) int {
	opts, err := parseRunFlags(args)
	if err != nil {
		return 2
	}

	baseLogger, err := newLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}
	slog.SetDefault(baseLogger)

	releasePIDFile, err := claimPIDFile(opts.pidFile)
	if err != nil {
		baseLogger.Error("pid_file_failed", slog.Any("err", err))
		return 1
	}
	defer releasePIDFile()

	if p := strings.TrimSpace(opts.dotenvPath); p != "" {
		if err := loadDotenv(p); err != nil {
			baseLogger.Error("dotenv_failed", slog.Any("err", err))
			return 1
		}
	}

	compiled, ok := loadCompiled(opts.configPath, baseLogger)
	if !ok {
		return 1
	}

	logger, logCloser, err := newRuntimeLogger(opts.logLevel, compiled.Observability)
	if err != nil {
		baseLogger.Error("runtime_log_failed", slog.Any("err", err))
		return 1
	}
	if logCloser != nil {
		defer func() { _ = logCloser.Close() }()
	}
	slog.SetDefault(logger)

	appMetrics := newRuntimeMetrics()

	if compiled.Observability.Tracing.Enabled {
		shutdownTracing, err := initTracing(context.Background(), compiled.Observability.Tracing, func(err error) {
			appMetrics.incTracingExportErrors()
			logger.Error("tracing_export_failed", slog.Any("err", err))
		})
		if err != nil {
			appMetrics.incTracingInitFailures()
			logger.Error("tracing_init_failed", slog.Any("err", err))
			return 1
		}
		appMetrics.setTracingEnabled(true)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
		logger.Info("tracing_enabled", slog.String("collector", compiled.Observability.Tracing.Collector))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newBrokerRuntime(compiled, logger, appMetrics)
	if err != nil {
		logger.Error("runtime_init_failed", slog.Any("err", err))
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rt.close(closeCtx); err != nil {
			logger.Warn("runtime_close_failed", slog.Any("err", err))
		}
	}()
	if err := rt.start(ctx, compiled.Resources); err != nil {
		logger.Error("runtime_start_failed", slog.Any("err", err))
		return 1
	}
	logger.Info("broker_ready",
		slog.String("broker", compiled.Broker.Name),
		slog.String("node_id", rt.broker.Info().NodeID),
		slog.Bool("exposure", compiled.Broker.Exposure),
		slog.Bool("notifications", compiled.Notifications.Enabled),
	)

	running := compiled
	var reloadMu sync.Mutex
	reloadNow := func(trigger string) {
		reloadMu.Lock()
		defer reloadMu.Unlock()

		updated, ok := reloadConfig(opts.configPath, running, rt, logger, trigger)
		appMetrics.observeReload(ok)
		if ok {
			running = updated
		}
	}

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hupCh:
				reloadNow("signal_sighup")
			}
		}
	}()

	servers, err := listenServers(compiled, rt, logger, logger, appMetrics)
	if err != nil {
		logger.Error("start_servers_failed", slog.Any("err", err))
		return 1
	}
	serveCtx := servers.serve(ctx)

	if opts.watch {
		go watchConfig(ctx, opts.configPath, logger, func() {
			reloadNow("watch")
		})
	}

	<-serveCtx.Done()
	exit := 0
	if ctx.Err() == nil {
		// A server failed before any shutdown signal arrived.
		exit = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := servers.shutdown(shutdownCtx); err != nil {
		logger.Error("server_failed", slog.Any("err", err))
		exit = 1
	}
	logger.Info("shutdown_complete")
	return exit
}

// loadCompiled reads, parses and compiles the config at path, logging
// warnings and failures the same way for startup and reloads.
func loadCompiled(path string, logger *slog.Logger) (config.Compiled, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read_config_failed", slog.Any("err", err))
		return config.Compiled{}, false
	}
	cfg, err := config.Parse(data)
	if err != nil {
		logger.Error("parse_config_failed", slog.Any("err", err))
		return config.Compiled{}, false
	}
	compiled, res := config.Compile(cfg)
	if !res.OK {
		logger.Error("compile_config_failed", slog.String("error", config.FormatValidationText(res)))
		return config.Compiled{}, false
	}
	for _, w := range res.Warnings {
		logger.Warn("config_warning", slog.String("warning", w))
	}
	logger.Info("config_ok", slog.String("path", path))
	return compiled, true
}

func watchConfig(ctx context.Context, path string, logger *slog.Logger, reload func()) {
	if logger == nil {
		logger = slog.Default()
	}
	if reload == nil {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("watch_disabled", slog.Any("err", err))
		return
	}
	defer w.Close()

	// Editors replace files by rename, so watch the directory.
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := w.Add(dir); err != nil {
		logger.Warn("watch_disabled", slog.Any("err", err))
		return
	}

	logger.Info("watching_config", slog.String("path", path))

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(watchDebounce)
		} else {
			timer.Reset(watchDebounce)
		}
		timerCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			schedule()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("watch_error", slog.Any("err", err))
		case <-timerCh:
			timerCh = nil
			reload()
		}
	}
}

// reloadConfig applies security and resources from the file at path.
// Any other change is left for a restart.
func reloadConfig(path string, running config.Compiled, rt *brokerRuntime, logger *slog.Logger, trigger string) (config.Compiled, bool) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("config_reload_failed", slog.Any("err", err), slog.String("trigger", trigger))
		return running, false
	}
	cfg, err := config.Parse(data)
	if err != nil {
		logger.Error("config_reload_failed", slog.Any("err", err), slog.String("trigger", trigger))
		return running, false
	}
	compiled, res := config.Compile(cfg)
	if !res.OK {
		logger.Error("config_reload_failed", slog.String("error", config.FormatValidationText(res)), slog.String("trigger", trigger))
		return running, false
	}
	for _, w := range res.Warnings {
		logger.Warn("config_warning", slog.String("warning", w), slog.String("trigger", trigger))
	}

	if requiresRestartForReload(compiled, running) {
		logger.Info("config_reloaded_restart_required", slog.String("trigger", trigger))
		return running, false
	}

	// Secrets are resolved before anything changes so a bad ref leaves the
	// running state intact.
	if err := rt.applySecurity(compiled.Security); err != nil {
		logger.Error("config_reload_failed", slog.Any("err", err), slog.String("trigger", trigger))
		return running, false
	}
	if err := rt.applyResources(compiled.Resources); err != nil {
		logger.Warn("resources_reconcile_failed", slog.Any("err", err), slog.String("trigger", trigger))
	}

	logger.Info("config_reloaded_ok", slog.String("trigger", trigger))
	return compiled, true
}

// requiresRestartForReload reports changes that cannot be applied to a
// running process: listeners, broker identity, the notification backend
// and logging or tracing setup.
func requiresRestartForReload(compiled, running config.Compiled) bool {
	return compiled.Broker != running.Broker ||
		compiled.AdminAPI != running.AdminAPI ||
		compiled.GRPCAPI != running.GRPCAPI ||
		compiled.Metrics != running.Metrics ||
		compiled.Notifications != running.Notifications ||
		compiled.Observability != running.Observability
}
