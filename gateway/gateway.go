// Package gateway implements the HTTP entry point wiring
// federation/schema -> federation/graph -> federation/operation ->
// federation/planner -> federation/dispatch together, the way
// gateway/gateway.go wires federation/graph.SuperGraphV2 ->
// federation/planner.PlannerV2 -> federation/executor.ExecutorV2 in the
// teacher. Unlike the teacher, schema composition can be updated live
// (registry.Registry posts new subgraph SDLs in), so the composed engine
// is held behind an atomic.Value snapshot instead of being fixed at
// construction time.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fedgraph/planner/federation/cache"
	"github.com/fedgraph/planner/federation/dispatch"
	"github.com/fedgraph/planner/federation/operation"
	"github.com/fedgraph/planner/federation/plan"
	"github.com/fedgraph/planner/federation/planner"
	"github.com/fedgraph/planner/gatewayconfig"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// schemaStore holds the current set of raw SDLs, host URLs, and the
// pre-built engine. It is stored in atomic.Value, so every value must be
// read-only after it is constructed.
type schemaStore struct {
	sdls   map[string]string // subgraph name -> SDL string
	hosts  map[string]string // subgraph name -> base URL
	engine *executionEngine
}

// Gateway is the GraphQL-over-HTTP handler. It is safe for concurrent use.
type Gateway struct {
	config     gatewayconfig.GatewayOption
	httpClient *http.Client
	cache      *cache.Cache
	logger     *slog.Logger
	store      atomic.Value // *schemaStore
	updateMu   sync.Mutex   // serializes UpdateSchema's load-modify-store of store
}

var _ http.Handler = (*Gateway)(nil)

// NewGateway composes the subgraphs named in cfg.Services (reading their
// SDLs from cfg.Services[i].SchemaFiles) into an initial executionEngine.
func NewGateway(cfg gatewayconfig.GatewayOption) (*Gateway, error) {
	sdls := make(map[string]string, len(cfg.Services))
	hosts := make(map[string]string, len(cfg.Services))
	for _, s := range cfg.Services {
		var schema []byte
		for _, f := range s.SchemaFiles {
			src, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read schema file %q for service %q: %w", f, s.Name, err)
			}
			schema = append(schema, src...)
			schema = append(schema, '\n')
		}
		sdls[s.Name] = string(schema)
		hosts[s.Name] = s.Host
	}

	httpClient := &http.Client{Timeout: cfg.Timeout()}
	if cfg.Opentelemetry.TracingSetting.Enable {
		httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	c := cache.New(cfg.Cache.Capacity, nil)

	engine, err := buildEngine(sdls, hosts, cfg, httpClient, c)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		config:     cfg,
		httpClient: httpClient,
		cache:      c,
		logger:     slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", cfg.ServiceName),
	}
	g.store.Store(&schemaStore{sdls: sdls, hosts: hosts, engine: engine})
	return g, nil
}

// UpdateSchema recomposes the supergraph with subgraph name's SDL and host
// replaced (or added), and swaps the new engine in atomically. Used by
// registry.Registry when a subgraph (re)registers.
func (g *Gateway) UpdateSchema(name, sdl, host string) error {
	g.updateMu.Lock()
	defer g.updateMu.Unlock()
	cur := g.store.Load().(*schemaStore)

	sdls := copyMap(cur.sdls)
	hosts := copyMap(cur.hosts)
	sdls[name] = sdl
	hosts[name] = host

	engine, err := buildEngine(sdls, hosts, g.config, g.httpClient, g.cache)
	if err != nil {
		return fmt.Errorf("failed to recompose supergraph after registering %q: %w", name, err)
	}

	g.store.Store(&schemaStore{sdls: sdls, hosts: hosts, engine: engine})
	g.logger.Info("recomposed supergraph", "subgraph", name, "host", host)
	return nil
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

type graphQLError struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func writeErrors(w http.ResponseWriter, status int, errs ...graphQLError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"errors": errs})
}

// ServeHTTP decodes a GraphQL request, plans it, and dispatches it against
// the current supergraph (spec.md section 7: client responses never carry
// Internal error detail, only a correlation id; full context is logged).
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	correlationID := uuid.NewString()
	logger := g.logger.With("correlation_id", correlationID)

	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrors(w, http.StatusBadRequest, graphQLError{Message: "invalid request body"})
		return
	}

	ctx := r.Context()
	store := g.store.Load().(*schemaStore)
	engine := store.engine

	l := lexer.New(req.Query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		writeErrors(w, http.StatusOK, graphQLError{Message: fmt.Sprintf("parse error: %v", p.Errors())})
		return
	}

	op, err := operation.Build(doc, req.OperationName, req.Variables)
	if err != nil {
		writeErrors(w, http.StatusOK, graphQLError{Message: err.Error()})
		return
	}

	node, warnings, err := engine.planner.Plan(op)
	if err != nil {
		g.respondPlanError(w, logger, correlationID, err)
		return
	}
	for _, wrn := range warnings {
		logger.Warn("planner warning", "message", wrn.Message)
	}

	if node.Kind == plan.SubscriptionKind {
		g.serveSubscription(ctx, w, logger, correlationID, engine, node, req.Variables)
		return
	}

	payload, deferred, err := engine.dispatcher.Execute(ctx, node, req.Variables)
	if err != nil {
		logger.Error("dispatch failed", "error", err, "correlation_id", correlationID)
		writeErrors(w, http.StatusInternalServerError, graphQLError{
			Message:    "internal error",
			Extensions: map[string]any{"code": "INTERNAL", "correlation_id": correlationID},
		})
		return
	}

	if deferred == nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(payload)
		return
	}

	g.streamDeferred(w, payload, deferred)
}

// respondPlanError maps a planner error kind to a GraphQL response: the two
// operation-shaped failures (UnsupportedFeature, CannotSatisfyRequirement)
// are surfaced to the client verbatim, matching spec.md section 7's
// "CannotSatisfyRequirement / UnsupportedFeature describe the operation,
// safe to return"; Internal is logged in full and only a correlation id
// crosses the wire.
func (g *Gateway) respondPlanError(w http.ResponseWriter, logger *slog.Logger, correlationID string, err error) {
	var unsupported *planner.UnsupportedFeature
	var cannotSatisfy *planner.CannotSatisfyRequirement
	switch {
	case errors.As(err, &unsupported):
		writeErrors(w, http.StatusOK, graphQLError{
			Message:    err.Error(),
			Extensions: map[string]any{"code": "UNSUPPORTED_FEATURE"},
		})
	case errors.As(err, &cannotSatisfy):
		writeErrors(w, http.StatusOK, graphQLError{
			Message:    err.Error(),
			Extensions: map[string]any{"code": "CANNOT_SATISFY_REQUIREMENT"},
		})
	default:
		logger.Error("planner internal error", "error", err)
		writeErrors(w, http.StatusOK, graphQLError{
			Message:    "internal error",
			Extensions: map[string]any{"code": "INTERNAL", "correlation_id": correlationID},
		})
	}
}

func (g *Gateway) serveSubscription(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, correlationID string, engine *executionEngine, node *plan.Node, variables map[string]any) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrors(w, http.StatusInternalServerError, graphQLError{Message: "streaming unsupported"})
		return
	}

	events, err := engine.dispatcher.Subscribe(ctx, node, variables)
	if err != nil {
		logger.Error("subscribe failed", "error", err, "correlation_id", correlationID)
		writeErrors(w, http.StatusInternalServerError, graphQLError{
			Message:    "internal error",
			Extensions: map[string]any{"code": "INTERNAL", "correlation_id": correlationID},
		})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for payload := range events {
		if err := enc.Encode(payload); err != nil {
			return
		}
		flusher.Flush()
	}
}

// streamDeferred writes the primary payload followed by each deferred
// payload as it arrives, newline-delimited — the same simplification
// federation/dispatch.Subscribe documents for subscription events, applied
// here since neither multipart/mixed incremental delivery nor its GraphQL
// framing has a library anywhere in the retrieval pack.
func (g *Gateway) streamDeferred(w http.ResponseWriter, primary *dispatch.Payload, deferred <-chan dispatch.DeferredPayload) {
	flusher, ok := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	enc.Encode(primary)
	if ok {
		flusher.Flush()
	}
	for dp := range deferred {
		enc.Encode(dp)
		if ok {
			flusher.Flush()
		}
	}
}

// Start runs the gateway's HTTP server until ctx is done, then shuts it
// down within cfg.Timeout().
func (g *Gateway) Start(ctx context.Context) error {
	handler := http.Handler(g)
	if g.config.Opentelemetry.TracingSetting.Enable {
		handler = otelhttp.NewHandler(handler, g.config.ServiceName)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", g.config.Port),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", "port", g.config.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.config.Timeout())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
