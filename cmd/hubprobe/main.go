// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Command hubprobe maintains a HubConnection to a configured hub and, on a
// cron schedule, invokes a probe method against it, reporting the result
// and the connection's lifecycle transitions to the log.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hubconn/client"
	"github.com/hubconn/client/internal/config"
	"github.com/hubconn/client/internal/logging"
	"github.com/hubconn/client/internal/protocol"
	"github.com/hubconn/client/internal/transport"
)

// probeResult records the outcome of one scheduled invocation.
type probeResult struct {
	Status   string
	Duration time.Duration
	Err      error
}

// probeJob guards a single scheduled probe against overlapping execution,
// the way a scheduled backup entry guards itself against a slow previous
// run still being in flight.
type probeJob struct {
	method string
	args   []interface{}

	mu         sync.Mutex
	running    bool
	lastResult *probeResult
}

func main() {
	configPath := flag.String("config", "hubprobe.yaml", "path to client configuration")
	schedule := flag.String("schedule", "@every 30s", "cron expression for the probe invocation")
	method := flag.String("method", "Echo", "hub method to invoke on each tick")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hubprobe: loading config: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ws := transport.New(cfg.Server.URL, logger)
	conn := hubconn.New(ws, protocol.NewJSONHubProtocol(),
		hubconn.WithLogger(logger),
		hubconn.WithKeepAliveInterval(cfg.Server.KeepAliveInterval),
		hubconn.WithServerTimeout(cfg.Server.ServerTimeout),
		hubconn.WithHandshakeTimeout(cfg.Server.HandshakeTimeout),
	)

	var reconnects atomic.Int64
	conn.OnReconnecting(func(err error) {
		logger.Warn("hubprobe: connection lost, reconnecting", "error", err)
	})
	conn.OnReconnected(func(connectionID string) {
		reconnects.Add(1)
		logger.Info("hubprobe: reconnected", "connection_id", connectionID, "total_reconnects", reconnects.Load())
	})
	conn.OnClose(func(err error) {
		logger.Error("hubprobe: connection closed", "error", err)
	})

	if err := conn.Start(ctx); err != nil {
		logger.Error("hubprobe: initial start failed", "error", err)
		os.Exit(1)
	}
	logger.Info("hubprobe: connected", "connection_id", conn.ConnectionID())

	job := &probeJob{method: *method}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(*schedule, func() { runProbe(ctx, conn, job, logger) }); err != nil {
		logger.Error("hubprobe: scheduling probe", "error", err)
		os.Exit(1)
	}
	c.Start()

	<-ctx.Done()
	logger.Info("hubprobe: shutting down")

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		logger.Warn("hubprobe: cron stop timed out")
	}

	if err := conn.Stop(); err != nil {
		logger.Error("hubprobe: stop failed", "error", err)
	}
}

func runProbe(ctx context.Context, conn *hubconn.HubConnection, job *probeJob, logger *slog.Logger) {
	job.mu.Lock()
	if job.running {
		job.mu.Unlock()
		logger.Warn("hubprobe: previous probe still running, skipping this tick")
		return
	}
	job.running = true
	job.mu.Unlock()

	defer func() {
		job.mu.Lock()
		job.running = false
		job.mu.Unlock()
	}()

	if conn.State() != hubconn.StateConnected {
		logger.Warn("hubprobe: skipping probe, connection not ready", "state", conn.State())
		return
	}

	start := time.Now()
	invokeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := conn.Invoke(invokeCtx, job.method, "hubprobe")
	duration := time.Since(start)

	job.mu.Lock()
	if err != nil {
		job.lastResult = &probeResult{Status: "failed", Duration: duration, Err: err}
		job.mu.Unlock()
		logger.Error("hubprobe: probe failed", "method", job.method, "duration", duration, "error", err)
		return
	}
	job.lastResult = &probeResult{Status: "completed", Duration: duration}
	job.mu.Unlock()
	logger.Info("hubprobe: probe completed", "method", job.method, "duration", duration, "result", result)
}
