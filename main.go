package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/RiemaLabs/modular-block-committer/apis"
	"github.com/RiemaLabs/modular-block-committer/checkpoint"
	"github.com/RiemaLabs/modular-block-committer/checkpoint/aws_s3"
	"github.com/RiemaLabs/modular-block-committer/checkpoint/nubit_da"
	"github.com/RiemaLabs/modular-block-committer/committer"
	"github.com/RiemaLabs/modular-block-committer/getter"
	"github.com/RiemaLabs/modular-block-committer/internal/metrics"
	"github.com/RiemaLabs/modular-block-committer/storage"
)

var (
	version = "latest"
	gitHash = "unknown"
)

const listenerRestartDelay = 5 * time.Second

func newLogger(level string, development bool) (*zap.SugaredLogger, error) {
	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewProductionConfig()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

type closableStore interface {
	checkpoint.SubmissionStore
	Close() error
}

func openStore(config *Config) (closableStore, error) {
	switch config.Storage.Kind {
	case StorageMySQL:
		return storage.OpenMySQL(config.Storage.DSN)
	case StoragePostgres:
		return storage.OpenPostgres(config.Storage.DSN)
	default:
		return storage.OpenLevelDB(config.Storage.Path)
	}
}

func openSource(config *Config) (getter.BlockGetter, error) {
	if config.Source.Kind == SourceDatabase {
		return getter.NewDBGetter(config.Source.Database)
	}
	return getter.NewRPCGetter(config.Source.RPC)
}

func Execution(ctx context.Context, arguments *RuntimeArguments) error {
	if ctx == nil {
		ctx = context.Background()
	}

	config, err := LoadConfig(arguments.ConfigFilePath, arguments.overrides)
	if err != nil {
		return err
	}

	lggr, err := newLogger(config.Log.Level, config.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = lggr.Sync() }()

	metrics.Version.WithLabelValues(version).Set(1)
	metrics.Stage.Set(metrics.StageInitializing)
	lggr.Infow("Starting block committer", "version", version, "gitHash", gitHash, "commitInterval", config.CommitInterval)

	store, err := openStore(config)
	if err != nil {
		return fmt.Errorf("failed to open submission store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			lggr.Warnw("Failed to close submission store", "error", err)
		}
	}()

	source, err := openSource(config)
	if err != nil {
		return fmt.Errorf("failed to initialize source chain getter: %w", err)
	}
	defer func() {
		if err := source.Close(); err != nil {
			lggr.Warnw("Failed to close source chain getter", "error", err)
		}
	}()

	backend, err := nubit_da.NewNubitDABackend(config.Destination)
	if err != nil {
		return err
	}
	id := &checkpoint.CommitterIdentification{Name: config.Service.Name, Version: version}
	contract := nubit_da.NewContract(backend, id, lggr)

	var archiver committer.Archiver
	if config.Archive.Enabled {
		reporter, err := aws_s3.NewReporter(ctx, config.Archive, id, lggr)
		if err != nil {
			return err
		}
		archiver = reporter
	}

	handoff := committer.NewHandoff(config.HandoffCapacity)
	watcher, err := committer.NewBlockWatcher(config.CommitInterval, handoff, source, store, lggr)
	if err != nil {
		return err
	}
	submitter := committer.NewSubmitter(handoff, contract, store, archiver, lggr)
	stopListening := make(chan struct{})
	listener := committer.NewCommitListener(contract, store, stopListening, lggr)

	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry, metrics.Process, watcher, listener, submitter, source, contract); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	health := committer.NewHealth()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	g.Add(func() error {
		committer.RunPeriodically(runCtx, "block_watcher", watcher, config.WatchInterval(), health, lggr)
		return nil
	}, func(error) {
		cancel()
	})
	g.Add(func() error {
		return submitter.Run(runCtx)
	}, func(error) {
		handoff.Close()
	})
	g.Add(func() error {
		committer.RunContinuously(runCtx, "commit_listener", listener, listenerRestartDelay, health, lggr)
		return nil
	}, func(error) {
		close(stopListening)
		cancel()
	})
	if config.MetricAddr != "" {
		g.Add(func() error {
			return metrics.ListenAndServe(runCtx, config.MetricAddr, registry)
		}, func(error) {
			cancel()
		})
	}
	if arguments.EnableService {
		router := apis.NewRouter(store, health, apis.Options{
			EnableDebug: config.Log.Development,
			EnablePprof: config.Service.EnablePprof,
			Gatherer:    registry,
		})
		addr := config.Service.Addr
		if addr == "" {
			addr = ":8080"
		}
		g.Add(func() error {
			lggr.Infow("Serving APIs", "addr", addr)
			return apis.StartService(runCtx, addr, router)
		}, func(error) {
			cancel()
		})
	}
	g.Add(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sig)
		select {
		case s := <-sig:
			lggr.Infow("Received signal, shutting down", "signal", s.String())
		case <-runCtx.Done():
		}
		return nil
	}, func(error) {
		cancel()
	})

	metrics.Stage.Set(metrics.StageRunning)
	err = g.Run()
	metrics.Stage.Set(metrics.StageStopping)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	lggr.Info("Block committer stopped")
	return nil
}

func main() {
	arguments := NewRuntimeArguments()
	rootCmd := arguments.MakeCmd()
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to execute: %v", err)
	}
}
