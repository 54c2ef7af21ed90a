// Command yhubd runs the collaborative document server: it loads
// configuration, wires the storage/cluster/extension stack, and serves
// WebSocket sessions until terminated, with signal.NotifyContext-driven
// graceful shutdown around an *http.Server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/polqt/yhub/internal/cluster"
	"github.com/polqt/yhub/internal/config"
	"github.com/polqt/yhub/internal/extension"
	"github.com/polqt/yhub/internal/logging"
	"github.com/polqt/yhub/internal/persistence"
	"github.com/polqt/yhub/internal/registry"
	"github.com/polqt/yhub/internal/server"
)

const bridgePriority = 100

func main() {
	cli, err := config.ParseArgs(os.Args[1:])
	if err != nil {
		os.Exit(1) // go-flags already printed usage/errors
	}

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		fatal("config: %v", err)
	}
	config.ApplyOverrides(cfg, cli)

	log, err := logging.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		fatal("logging: %v", err)
	}
	defer log.Sync()

	storage := persistence.NewFileStorage(cfg.StorageDir)

	// reg is wired into the cluster bridge's closures before it exists —
	// the bridge is an extension the pipeline needs up front, but the
	// pipeline is itself a registry.New argument. Neither closure fires
	// until a document actually loads, by which point reg is assigned.
	var reg *registry.Registry
	applyRemote := func(name string, update []byte) error {
		if reg == nil {
			return nil
		}
		return reg.ApplyRemoteUpdate(name, update)
	}
	snapshot := func(name string) ([]byte, bool) {
		if reg == nil {
			return nil, false
		}
		return reg.Snapshot(name)
	}

	var exts []extension.Extension
	if cfg.NATSURL != "" {
		pubsub, err := cluster.DialNATS(cfg.NATSURL, cfg.InstanceID)
		if err != nil {
			fatal("cluster: dial nats at %q: %v", cfg.NATSURL, err)
		}
		defer pubsub.Close()
		bridge := cluster.NewBridge(pubsub, cfg.ClusterPrefix, cfg.InstanceID, applyRemote, snapshot, bridgePriority, log.Named("cluster"))
		exts = append(exts, bridge)
		log.Info("cluster bridge enabled", zap.String("nats_url", cfg.NATSURL), zap.String("prefix", cfg.ClusterPrefix))
	}

	onHookError := func(source string, err error) {
		log.Warn("extension hook failed", zap.String("hook", source), zap.Error(err))
	}
	pipeline := extension.New(exts, onHookError, log.Named("pipeline"))

	onSaveError := func(name string, err error) {
		log.Error("debounced save failed", zap.String("document", name), zap.Error(err))
	}
	regCfg := registry.Config{
		Debounce:         time.Duration(cfg.Debounce),
		MaxDebounce:      time.Duration(cfg.MaxDebounce),
		UnloadGrace:      time.Duration(cfg.UnloadGrace),
		UnloadTimeout:    time.Duration(cfg.UnloadTimeout),
		AwarenessTimeout: time.Duration(cfg.AwarenessTimeout),
	}
	reg = registry.New(storage, pipeline, regCfg, onSaveError, log.Named("registry"))

	srv := server.New(reg, pipeline, server.Config{
		MaxFrameSize:     cfg.MaxFrameSize,
		AwarenessTimeout: time.Duration(cfg.AwarenessTimeout),
	}, log.Named("server"))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.ServeHTTP)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go srv.RunAwarenessSweeper(ctx, time.Duration(cfg.AwarenessTimeout))

	go func() {
		log.Info("yhubd listening", zap.String("addr", cfg.ListenAddr), zap.String("instance_id", cfg.InstanceID))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("orchestrator shutdown error", zap.Error(err))
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
