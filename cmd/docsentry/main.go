// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// docsentry is the documentation consistency engine daemon and its
// companion commands.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/docsentry/docsentry/config"
	"github.com/docsentry/docsentry/engine"
	"github.com/docsentry/docsentry/logging"
	"github.com/docsentry/docsentry/metadata"
	"github.com/docsentry/docsentry/recommend"
	"github.com/docsentry/docsentry/scheduler"
	"github.com/docsentry/docsentry/storage/badgerstore"
	"github.com/docsentry/docsentry/watch"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "docsentry",
		Short:         "Documentation consistency engine",
		Long:          "docsentry tracks relationships between documentation and code,\ndetects inconsistencies, and manages fix recommendations.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newDecideCmd(&configPath))
	root.AddCommand(newCyclesCmd(&configPath))
	return root
}

// newServeCmd runs the engine: storage, analysis worker, file watcher, and
// the opt-in metrics endpoint, until interrupted.
func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the consistency engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			log := logging.New(logging.Config{
				Level:   logging.ParseLevel(cfg.Logging.Level),
				LogDir:  cfg.Logging.Dir,
				Service: "docsentry",
				JSON:    cfg.Logging.JSON,
				Quiet:   cfg.Logging.Quiet,
			})
			defer log.Close()
			logger := log.Slog()

			if cfg.Metrics.Enabled {
				if err := serveMetrics(cfg.Metrics.Addr); err != nil {
					return fmt.Errorf("start metrics endpoint: %w", err)
				}
				logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
			}

			repo, err := openRepository(cfg, logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			var load scheduler.LoadFunc
			if cfg.Engine.LoadThreshold > 0 {
				load = systemLoad
			}

			svc, err := engine.NewService(engine.Config{
				Repo:           repo,
				ArtifactPath:   cfg.Engine.ArtifactPath,
				ArchiveDir:     cfg.Engine.ArchiveDir,
				ApplyRoot:      cfg.Project,
				MaxImpactDepth: cfg.Engine.MaxImpactDepth,
				Load:           load,
				LoadThreshold:  cfg.Engine.LoadThreshold,
				Logger:         logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := svc.Start(ctx); err != nil {
				return err
			}
			defer svc.Stop()

			if cfg.Watch.Enabled {
				watcher, err := watch.New(cfg.Project, func(events []metadata.ChangeEvent) {
					for _, ev := range events {
						if err := svc.IngestChange(ctx, ev); err != nil {
							logger.Warn("change event rejected",
								"path", ev.Path, "error", err.Error())
						}
					}
				}, &watch.Options{
					DebounceWindow: cfg.Watch.Debounce.Std(),
					IgnorePatterns: cfg.Watch.Ignore,
					Logger:         logger,
				})
				if err != nil {
					return fmt.Errorf("create watcher: %w", err)
				}
				if err := watcher.Start(ctx); err != nil {
					return fmt.Errorf("start watcher: %w", err)
				}
				defer watcher.Stop()
			}

			logger.Info("docsentry running", "project", cfg.Project)
			<-ctx.Done()
			logger.Info("shutting down")
			return nil
		},
	}
}

// newDecideCmd applies the developer's edits to the pending artifact.
func newDecideCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "decide",
		Short: "Apply the decision recorded in the pending recommendation artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logging.New(logging.Config{
				Level:   logging.ParseLevel(cfg.Logging.Level),
				Service: "docsentry",
			})
			defer log.Close()

			repo, err := openRepository(cfg, log.Slog())
			if err != nil {
				return err
			}
			defer repo.Close()

			manager, err := recommend.NewManager(recommend.Config{
				Repo:         repo,
				Applier:      &recommend.FileApplier{Root: cfg.Project},
				ArtifactPath: cfg.Engine.ArtifactPath,
				ArchiveDir:   cfg.Engine.ArchiveDir,
				Logger:       log.Slog(),
			})
			if err != nil {
				return err
			}
			if err := manager.Restore(cmd.Context()); err != nil {
				return err
			}
			if err := manager.DecideFromArtifact(cmd.Context()); err != nil {
				return err
			}

			if next := manager.Presented(); next != nil {
				fmt.Printf("decision applied; next recommendation: %s\n", next.Title)
			} else {
				fmt.Println("decision applied; no recommendations pending")
			}
			return nil
		},
	}
}

// newCyclesCmd reports relationship cycles in the persisted graph.
func newCyclesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cycles",
		Short: "List relationship cycles in the document graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logging.New(logging.Config{
				Level:   logging.ParseLevel(cfg.Logging.Level),
				Service: "docsentry",
				Quiet:   true,
			})
			defer log.Close()

			repo, err := openRepository(cfg, log.Slog())
			if err != nil {
				return err
			}
			defer repo.Close()

			svc, err := engine.NewService(engine.Config{Repo: repo, Logger: log.Slog()})
			if err != nil {
				return err
			}
			docs, err := repo.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			rels, err := repo.ListRelationships(cmd.Context())
			if err != nil {
				return err
			}
			svc.Graph().Restore(docs, rels)

			cycles := svc.Graph().DetectCycles()
			if len(cycles) == 0 {
				fmt.Println("no cycles")
				return nil
			}
			for _, cycle := range cycles {
				fmt.Println(strings.Join(cycle, " -> "))
			}
			return nil
		},
	}
}

// openRepository opens the configured BadgerDB store.
func openRepository(cfg config.Config, logger *slog.Logger) (*badgerstore.Store, error) {
	if cfg.Storage.InMemory {
		return badgerstore.OpenInMemory()
	}
	bcfg := badgerstore.DefaultConfig(cfg.Storage.Path)
	bcfg.SyncWrites = cfg.Storage.SyncWrites
	bcfg.Logger = logger
	return badgerstore.Open(bcfg)
}

// serveMetrics installs the Prometheus meter provider and serves the
// /metrics endpoint on addr.
func serveMetrics(addr string) error {
	exporter, err := otelprom.New()
	if err != nil {
		return err
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = server.ListenAndServe()
	}()
	return nil
}

// systemLoad samples the 1-minute load average normalized by CPU count.
// Returns 0 when the figure is unavailable, which disables deferral.
func systemLoad() float64 {
	raw, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0
	}
	avg, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return avg / float64(runtime.NumCPU())
}
