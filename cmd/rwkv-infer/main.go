// Command rwkv-infer runs the batched-inference scheduler: the slot
// table, cache hub, inference/softmax workers, admission and
// maintenance loops, and the admin HTTP surface, wired together and
// run until an OS signal asks for shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rwkvcore/scheduler/internal/cache"
	"github.com/rwkvcore/scheduler/internal/capability"
	"github.com/rwkvcore/scheduler/internal/config"
	"github.com/rwkvcore/scheduler/internal/generate"
	"github.com/rwkvcore/scheduler/internal/httpadmin"
	"github.com/rwkvcore/scheduler/internal/log"
	"github.com/rwkvcore/scheduler/internal/scheduler"
	"github.com/rwkvcore/scheduler/internal/worker"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "path to a TOML config file; defaults are used if omitted",
	}
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "override the admin surface's listen address (/healthz, /metrics)",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "override the config file's log level (trace|debug|info|warn|error)",
	}
)

func main() {
	app := &cli.App{
		Name:  "rwkv-infer",
		Usage: "batched RWKV inference scheduler",
		Flags: []cli.Flag{configFlag, listenFlag, logLevelFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String(configFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if addr := c.String(listenFlag.Name); addr != "" {
		cfg.Admin.ListenAddr = addr
	}
	if lvl := c.String(logLevelFlag.Name); lvl != "" {
		cfg.Log.Level = lvl
	}

	logger, closeLog, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()
	log.SetRoot(logger)

	hub := cache.NewHub(generate.MaxCacheItems)
	if err := registerInitStates(hub, cfg.InitStates); err != nil {
		return err
	}

	tokenizer := capability.NewReferenceTokenizer()
	backend := capability.NewReference(len(tokenizer.TokenIndexToBytes()))

	softmaxPool, err := worker.NewCPUSoftmax(cfg.MaxBatch)
	if err != nil {
		return err
	}
	defer softmaxPool.Close()

	inf := worker.NewInference(backend, backend, cfg.TokenChunkSize, cfg.QueueDepth)
	sm := worker.NewSoftmax(softmaxPool, cfg.QueueDepth)

	sched := scheduler.New(scheduler.Config{
		MaxBatch:         cfg.MaxBatch,
		QueueDepth:       cfg.QueueDepth,
		StateConcurrency: cfg.StateConcurrency,
		RetrySleep:       time.Duration(cfg.RetrySleepMillis) * time.Millisecond,
	}, hub, tokenizer, inf, sm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go inf.Run(ctx)
	go sm.Run(ctx)
	go sched.RunAdmission(ctx)

	var admin *httpadmin.Server
	if cfg.Metrics.Enabled {
		admin = httpadmin.New(cfg.Admin.ListenAddr, sched)
		go func() {
			if err := admin.ListenAndServe(); err != nil {
				log.Error("admin server exited", "err", err)
			}
		}()
		log.Info("admin surface listening", "addr", cfg.Admin.ListenAddr)
	}

	log.Info("rwkv-infer started", "max_batch", cfg.MaxBatch, "backend", cfg.Backend.Kind)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	sched.Close()
	cancel()

	if admin != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.Error("admin server shutdown", "err", err)
		}
	}
	return nil
}

func buildLogger(cfg config.LogConfig) (*log.Logger, func(), error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
		if cfg.Level == "trace" {
			// log.Trace records are written at zap's Debug level.
			level = zapcore.DebugLevel
		}
	}

	var file *log.AsyncFileWriter
	closeFn := func() {}
	if cfg.FilePath != "" {
		file = log.NewAsyncFileWriter(cfg.FilePath, 256, 7, 24)
		if err := file.Start(); err != nil {
			return nil, nil, err
		}
		closeFn = file.Stop
	}
	return log.New(level, file), closeFn, nil
}

func registerInitStates(hub *cache.Hub, entries []config.InitStateEntry) error {
	for _, e := range entries {
		id, err := uuid.Parse(e.ID)
		if err != nil {
			return fmt.Errorf("config: init_state %q: %w", e.Name, err)
		}
		var state capability.Snapshot
		if e.StatePath != "" {
			data, err := os.ReadFile(e.StatePath)
			if err != nil {
				return fmt.Errorf("config: init_state %q: %w", e.Name, err)
			}
			state = data
		}
		hub.Register(&cache.InitState{ID: id, Name: e.Name, Default: e.Default, State: state})
	}
	return nil
}
