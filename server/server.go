// Package server wires gatewayconfig, gateway, and registry together into
// the single running process `federationctl serve` starts, replacing the
// teacher's split server/gateway.go (gateway-only) and server/server.go
// (registry-only, talking to two different ports) with one process that
// serves both the GraphQL endpoint and the schema registration endpoint
// behind one http.ServeMux — the registry mutates the same *gateway.Gateway
// instance in place rather than managing its own subgraph list.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fedgraph/planner/gateway"
	"github.com/fedgraph/planner/gatewayconfig"
	"github.com/fedgraph/planner/registry"
)

const gatewayVersion = "v0.1.0"

// Run loads gateway.yaml from configPath, builds the Gateway and Registry,
// and serves both until interrupted.
func Run(configPath string) error {
	settings, err := gatewayconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load gateway settings: %w", err)
	}

	gw, err := gateway.NewGateway(*settings)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	reg := registry.New(gw)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill, syscall.SIGTERM)
	defer cancel()

	var shutdownTracer func(context.Context) error
	if settings.Opentelemetry.TracingSetting.Enable {
		shutdownTracer, err = gateway.InitTracer(ctx, settings.ServiceName, gatewayVersion)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle(settings.Endpoint, gw)
	mux.Handle("/schema/registration", reg)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", settings.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("starting gateway server on port %d", settings.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("shutting down gateway server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Timeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown gateway server: %w", err)
	}
	if shutdownTracer != nil {
		if err := shutdownTracer(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown tracer: %w", err)
		}
	}

	log.Println("gateway server stopped")
	return nil
}

// Init writes a default gateway.yaml to configPath, for `federationctl init`.
func Init(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("refusing to overwrite existing %s", configPath)
	}

	b, err := gatewayconfig.Marshal(gatewayconfig.Default())
	if err != nil {
		return fmt.Errorf("failed to marshal default gateway settings: %w", err)
	}
	return os.WriteFile(configPath, b, 0o644)
}
