// Package server wires configuration, the route table, the gateway
// HTTP handler, and the dynamic registry into one running process,
// with graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/n9te9/federation-gateway/federation/graph"
	"github.com/n9te9/federation-gateway/federation/registry"
	"github.com/n9te9/federation-gateway/federation/router"
	"github.com/n9te9/federation-gateway/federation/routetable"
	"github.com/n9te9/federation-gateway/gateway"
	"github.com/n9te9/federation-gateway/internal/config"
)

const gatewayVersion = "v0.1.0"

// configPath is the well-known file server.Run reads.
const configPath = "gateway.yaml"

// Run loads gateway.yaml, starts the route table's background refresh
// loop, starts the GraphQL/subscription and registry HTTP servers, and
// blocks until SIGINT/SIGTERM, then shuts both servers down within the
// configured timeout.
func Run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	settings, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load gateway settings: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGKILL)
	defer cancel()

	var shutdownTracer func(context.Context) error
	if settings.Opentelemetry.TracingSetting.Enable {
		shutdownTracer, err = gateway.InitTracer(ctx, settings.ServiceName, gatewayVersion)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}

	httpClient := &http.Client{Timeout: 3 * time.Second}
	if settings.Opentelemetry.TracingSetting.Enable {
		httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	descriptors := make([]router.Descriptor, 0, len(settings.Services))
	subgraphs := make([]*router.Subgraph, 0, len(settings.Services))
	seedSubgraphs := make([]*graph.Subgraph, 0, len(settings.Services))
	for _, svc := range settings.Services {
		descriptors = append(descriptors, svc.Descriptor())
		subgraphs = append(subgraphs, &router.Subgraph{Descriptor: svc.Descriptor()})

		if len(svc.SchemaFiles) == 0 {
			continue
		}
		var sdl []byte
		for _, f := range svc.SchemaFiles {
			b, err := os.ReadFile(f)
			if err != nil {
				return fmt.Errorf("failed to read schema file %q for subgraph %q: %w", f, svc.Name, err)
			}
			sdl = append(sdl, b...)
		}
		sg, err := graph.NewSubgraph(svc.Name, sdl)
		if err != nil {
			return fmt.Errorf("failed to parse seed schema for subgraph %q: %w", svc.Name, err)
		}
		seedSubgraphs = append(seedSubgraphs, sg)
	}
	initialRouter := router.New(subgraphs, httpClient)

	var seedSchema *graph.ComposedSchema
	if len(seedSubgraphs) > 0 {
		seedSchema, err = graph.Compose(seedSubgraphs)
		if err != nil {
			return fmt.Errorf("failed to compose seed schema: %w", err)
		}
	}

	rt := routetable.New(ctx, initialRouter, seedSchema, logger, settings.RetryOption())

	reg := registry.New(descriptors, rt)
	reg.Start()
	for _, peer := range settings.PeerGateways {
		reg.AddPeer(peer)
	}

	gw := gateway.New(rt, logger, settings.EnableHangOverRequestHeader)
	gwHandler := http.Handler(gw)
	if settings.Opentelemetry.TracingSetting.Enable {
		gwHandler = otelhttp.NewHandler(gw, settings.ServiceName)
	}

	gwSrv := &http.Server{Addr: fmt.Sprintf(":%d", settings.Port), Handler: gwHandler}
	regSrv := &http.Server{Addr: fmt.Sprintf(":%d", settings.RegistryPort), Handler: reg}

	go func() {
		logger.Info("gateway listening", "port", settings.Port)
		if err := gwSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("gateway server failed", "error", err)
			os.Exit(1)
		}
	}()
	go func() {
		logger.Info("registry listening", "port", settings.RegistryPort)
		if err := regSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("registry server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	timeoutCtx, cancelTimeout := context.WithTimeout(context.Background(), settings.ShutdownTimeout())
	defer cancelTimeout()

	logger.Info("shutting down gateway server")
	if err := gwSrv.Shutdown(timeoutCtx); err != nil {
		return fmt.Errorf("failed to shut down gateway server: %w", err)
	}
	if err := regSrv.Shutdown(timeoutCtx); err != nil {
		return fmt.Errorf("failed to shut down registry server: %w", err)
	}

	if shutdownTracer != nil {
		if err := shutdownTracer(timeoutCtx); err != nil {
			return fmt.Errorf("failed to shut down tracer: %w", err)
		}
	}

	logger.Info("gateway server stopped")
	return nil
}

// Init scaffolds a starter gateway.yaml in the current directory, the
// `federation-gateway init` command's sole job.
func Init() error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}
	const starter = `service_name: federation-gateway
port: 4000
registry_port: 8080
timeout_duration: 5s
enable_hang_over_request_header: true
services: []
peer_gateways: []
opentelemetry:
  tracing:
    enable: false
sdl_retry:
  attempts: 3
  timeout: 5s
`
	return os.WriteFile(configPath, []byte(starter), 0o644)
}
