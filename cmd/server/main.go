// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

// Praetor server entry point. Wires the audit log, detection manager,
// approval gate, event ingest and HTTP API under a Suture supervision tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/praetor-io/praetor/internal/api"
	"github.com/praetor-io/praetor/internal/approval"
	"github.com/praetor-io/praetor/internal/audit"
	"github.com/praetor-io/praetor/internal/config"
	"github.com/praetor-io/praetor/internal/detection"
	"github.com/praetor-io/praetor/internal/ingest"
	"github.com/praetor-io/praetor/internal/logging"
	"github.com/praetor-io/praetor/internal/metrics"
	"github.com/praetor-io/praetor/internal/supervisor"
)

// logExecutor is the built-in action executor: it records the action in the
// log and leaves enforcement to whatever consumes the audit trail. Deployments
// with a real enforcement hook replace it behind detection.ActionExecutor.
type logExecutor struct{}

func (logExecutor) Execute(_ context.Context, result *detection.Result) error {
	logging.Info().
		Str("detector", result.DetectorID).
		Str("subject", result.SubjectID).
		Str("tier", result.Tier.String()).
		Float64("confidence", result.Confidence).
		Msg("action executed")
	return nil
}

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server exited with error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.Info().Str("backend", cfg.Audit.Backend).Msg("starting praetor")

	auditLog, closeLog, err := openAuditLog(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer closeLog()

	labels := metrics.NewMemoryLabelStore()
	executor := logExecutor{}

	gate := approval.NewGate(approval.GateConfig{ActionTimeout: cfg.Engine.ActionTimeout}, auditLog, executor)
	manager := detection.NewManager(
		detection.ManagerConfig{ActionTimeout: cfg.Engine.ActionTimeout},
		auditLog, executor, gate, labels,
	)

	if err := config.RegisterAll(manager, cfg.Detectors); err != nil {
		return fmt.Errorf("failed to register detectors: %w", err)
	}
	logging.Info().Int("count", len(cfg.Detectors)).Msg("detectors registered")

	feed := metrics.NewFeed(auditLog, labels)
	handler := api.NewHandler(manager, gate, auditLog, feed)
	router := api.NewRouter(handler, api.RouterConfig{RateLimitPerMinute: cfg.Server.RateLimitPerMinute})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.Timeout))

	if cfg.Ingest.Enabled {
		pubSub := ingest.NewPubSub(cfg.Ingest.BufferSize)
		defer pubSub.Close()
		tree.AddPipelineService(ingest.NewConsumer(pubSub, manager, cfg.Ingest.Topic))
	}

	logging.Info().Str("addr", server.Addr).Msg("serving")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		reportUnstopped(tree)
		return err
	}

	reportUnstopped(tree)
	logging.Info().Msg("shutdown complete")
	return nil
}

// openAuditLog constructs the configured audit backend and a close func.
func openAuditLog(cfg config.AuditConfig) (audit.Log, func(), error) {
	switch cfg.Backend {
	case "badger":
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, nil, err
		}
		log, err := audit.NewBadgerLog(audit.BadgerLogConfig{Path: cfg.Path})
		if err != nil {
			return nil, nil, err
		}
		return log, func() {
			if err := log.Close(); err != nil {
				logging.Error().Err(err).Msg("failed to close audit log")
			}
		}, nil
	default:
		return audit.NewMemoryLog(cfg.MaxEntries), func() {}, nil
	}
}

func reportUnstopped(tree *supervisor.Tree) {
	unstopped, err := tree.UnstoppedServiceReport()
	if err != nil || len(unstopped) == 0 {
		return
	}
	for _, svc := range unstopped {
		logging.Warn().Str("service", fmt.Sprintf("%v", svc.Service)).Msg("service did not stop within timeout")
	}
}
