// Package main provides the netherlink daemon entry point: an
// authoritative state-replication server exposing room join, debug
// state, and WebSocket replication endpoints.
//
// Architecture:
//   - Configuration system: Flags > Environment Variables > .env File > Defaults
//   - Unified logging: Structured JSON logging with module-based tracing
//   - Room hubs: one single-threaded event loop per room, driving the
//     replication orchestrator
//   - Optional Postgres room store: rooms resume from their last durable
//     snapshot after a restart
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"netherlink/auth"
	"netherlink/config"
	"netherlink/lagcomp"
	"netherlink/logging"
	"netherlink/reliable"
	"netherlink/replication"
	"netherlink/roomstore"
	"netherlink/snapshot"
	"netherlink/statecache"
	"netherlink/timesync"
	"netherlink/transport/wstransport"
)

// main initializes the daemon following the startup sequence:
// Config -> Logging -> Room store -> Room manager -> Router -> Server.
func main() {
	// Defined before config.Initialize parses the command line, so that
	// -help reaches displayHelp instead of the flag package's default usage.
	var help = flag.Bool("help", false, "Show help message")

	if err := config.Initialize(); err != nil {
		// Cannot use structured logging before logging is initialized.
		fmt.Fprintf(os.Stderr, "FATAL: Configuration initialization failed: %v\n", err)
		os.Exit(1)
	}

	if !flag.Parsed() {
		flag.Parse()
	}
	if *help {
		displayHelp()
		return
	}

	if err := logging.Apply(logging.Options{
		Level:        config.Config.Logging.Level,
		TraceModules: config.Config.Logging.TraceModules,
		LogDir:       config.Config.Logging.LogDir,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	var store *roomstore.DB
	if config.GetString("REP_DISABLE_ROOM_STORE", "") == "" {
		db, err := roomstore.Connect(roomstore.Config{
			Host:     config.Config.Database.Host,
			Port:     config.Config.Database.Port,
			User:     config.Config.Database.User,
			Password: config.Config.Database.Password,
			Name:     config.Config.Database.Name,
			SSLMode:  config.Config.Database.SSLMode,
		})
		if err != nil {
			logging.Warn("room store unavailable, rooms start empty", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := db.InitializeSchema(ctx); err != nil {
				logging.Warn("room store schema initialization failed", map[string]interface{}{
					"error": err.Error(),
				})
			} else {
				store = db
				defer db.Close()
			}
			cancel()
		}
	}

	validator := auth.NewValidator(config.Config.Auth.JWTSecret, config.Config.Auth.JWTIssuer)

	manager := wstransport.NewManager(replicationConfigFromGlobal(), config.Config.WebSocket, validator, nil)
	manager.SetStore(store)

	router := mux.NewRouter()
	manager.Routes(router)

	logging.Info("netherlink daemon starting", map[string]interface{}{
		"room_store": store != nil,
	})

	bindAddr := fmt.Sprintf("%s:%s", config.Config.Server.Host, config.Config.Server.Port)
	logging.Info("server binding to address", map[string]interface{}{
		"address": bindAddr,
		"host":    config.Config.Server.Host,
		"port":    config.Config.Server.Port,
	})

	if err := http.ListenAndServe(bindAddr, router); err != nil {
		logging.Fatal("server failed to start", map[string]interface{}{
			"address": bindAddr,
			"error":   err.Error(),
		})
	}
}

// replicationConfigFromGlobal maps the layered config's sections onto the
// per-component tunables the orchestrator consumes.
func replicationConfigFromGlobal() replication.Config {
	c := config.Config
	return replication.Config{
		Snapshot: snapshot.Config{
			MaxSnapshots:           c.Interpolation.MaxSnapshots,
			InterpolationDelayMs:   float64(c.Interpolation.InterpolationDelay.Milliseconds()),
			MaxExtrapolationTimeMs: float64(c.Interpolation.MaxExtrapolationTime.Milliseconds()),
			SnapshotExpirationMs:   float64(c.Interpolation.SnapshotExpiration.Milliseconds()),
			AllowExtrapolation:     c.Interpolation.AllowExtrapolation,
		},
		InputMaxSize:   c.Input.MaxSize,
		InputExpireMs:  float64(c.Input.ExpirationTime.Milliseconds()),
		Reconciliation: c.Reconciliation.Threshold,
		LagComp: lagcomp.Config{
			SnapThreshold:          c.LagCompensation.SnapThreshold,
			MinCorrectionThreshold: c.LagCompensation.MinCorrectionThreshold,
			SmoothingDurationMs:    float64(c.LagCompensation.SmoothingDuration.Milliseconds()),
		},
		DeltaThreshold: c.Delta.PositionThreshold,
		DeltaMaxValue:  c.Delta.MaxValue,
		StateCache: statecache.Config{
			KeyframeIntervalMs: float64(c.StateCache.KeyframeInterval.Milliseconds()),
			HistoryLength:      c.StateCache.HistoryLength,
			DeltaThreshold:     c.Delta.PositionThreshold,
			DeltaMaxValue:      c.Delta.MaxValue,
		},
		TimeSync: timesync.Config{
			MaxSamples:          c.TimeSync.MaxSamples,
			SmoothingAlpha:      c.TimeSync.FilterAlpha,
			PendingPingExpiryMs: float64(c.TimeSync.PendingPingTTL.Milliseconds()),
		},
		Reliable: reliable.Config{
			AckTimeoutMs: float64(c.Reliable.AckTimeout.Milliseconds()),
			MaxRetries:   c.Reliable.MaxRetries,
		},
		EntityTTLMs: float64(c.Entity.TTL.Milliseconds()),
	}
}

func displayHelp() {
	fmt.Println("netherlink - Networked State Replication Server")
	fmt.Println("===============================================")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  netherlink [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  --host HOST       Host to bind to (default: 0.0.0.0)")
	fmt.Println("  --port PORT       Port to bind to (default: 8080)")
	fmt.Println("  --log-level LEVEL Log level: TRACE, DEBUG, INFO, WARN, ERROR")
	fmt.Println("  --help            Show this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  netherlink")
	fmt.Println("  netherlink --host 127.0.0.1 --port 9090")
	fmt.Println()
	fmt.Println("ENDPOINTS:")
	fmt.Println("  POST /rooms/{roomId}/join   Join (or create) a room")
	fmt.Println("  GET  /rooms/{roomId}/state  Debug snapshot of room state")
	fmt.Println("  GET  /rooms/{roomId}/ws     WebSocket replication channel")
	fmt.Println("  GET  /healthz               Health check")
}
