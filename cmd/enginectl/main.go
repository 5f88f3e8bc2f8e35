// Command enginectl exposes the workflow execution engine over HTTP: run
// start/fetch/cancel and a WebSocket streaming endpoint, per spec.md §6.
// It owns only the wiring plus a minimal JSON request binding for those
// operations; CRUD for workflow definitions and auth are not handled here.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/workflow-engine/bus"
	"github.com/agentforge/workflow-engine/config"
	"github.com/agentforge/workflow-engine/logging"
	"github.com/agentforge/workflow-engine/orchestrator"
	"github.com/agentforge/workflow-engine/provider"
	"github.com/agentforge/workflow-engine/provider/anthropic"
	"github.com/agentforge/workflow-engine/provider/gemini"
	"github.com/agentforge/workflow-engine/provider/groq"
	"github.com/agentforge/workflow-engine/provider/openai"
	"github.com/agentforge/workflow-engine/provider/openrouter"
	"github.com/agentforge/workflow-engine/store"
	"github.com/agentforge/workflow-engine/transport"
)

func main() {
	cfg := config.Load()
	logger := logging.New(nil, !cfg.Debug, cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	eventBus, err := openBus(cfg.BusURL)
	if err != nil {
		logger.Error("failed to open bus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	registry := buildRegistry()
	engine := orchestrator.New(st, eventBus, registry, nil, orchestrator.NewMetrics(nil), orchestrator.NewTracer("workflow-engine"), logger)

	srv := &server{
		store:  st,
		bus:    eventBus,
		engine: engine,
		config: cfg,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /runs", srv.handleStartRun)
	mux.HandleFunc("GET /runs/{id}", srv.handleGetRun)
	mux.HandleFunc("POST /runs/{id}/cancel", srv.handleCancelRun)
	mux.HandleFunc("GET /runs/{id}/stream", srv.handleStreamRun)

	httpServer := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("enginectl listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited", "error", err)
		os.Exit(1)
	}
}

// openStore selects a Store backend from a "scheme://rest" DATABASE_URL,
// defaulting to an on-disk SQLite file when unset.
func openStore(ctx context.Context, databaseURL string) (store.Store, error) {
	if databaseURL == "" {
		return store.NewSQLiteStore("workflow-engine.db")
	}
	scheme, rest, ok := strings.Cut(databaseURL, "://")
	if !ok {
		return nil, fmt.Errorf("enginectl: DATABASE_URL %q missing scheme", databaseURL)
	}
	switch scheme {
	case "sqlite":
		return store.NewSQLiteStore(rest)
	case "mysql":
		return store.NewMySQLStore(rest)
	case "postgres", "postgresql":
		return store.NewPostgresStore(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("enginectl: unsupported DATABASE_URL scheme %q", scheme)
	}
}

// openBus selects a Bus backend from BUS_URL, defaulting to the
// in-process LocalBus.
func openBus(busURL string) (bus.Bus, error) {
	if busURL == "" {
		return bus.NewLocalBus(), nil
	}
	parsed, err := url.Parse(busURL)
	if err != nil {
		return nil, fmt.Errorf("enginectl: BUS_URL %q: %w", busURL, err)
	}
	if parsed.Scheme != "redis" {
		return nil, fmt.Errorf("enginectl: unsupported BUS_URL scheme %q", parsed.Scheme)
	}
	password, _ := parsed.User.Password()
	db := 0
	if path := strings.TrimPrefix(parsed.Path, "/"); path != "" {
		fmt.Sscanf(path, "%d", &db)
	}
	return bus.NewRedisBus(parsed.Host, password, db)
}

// buildRegistry registers every provider this engine ships an adapter
// for. Real credentials are bound later, per request, by Registry.Get.
func buildRegistry() *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register("openai", func(apiKey, baseURL string) provider.Adapter { return openai.New(apiKey, baseURL) })
	registry.Register("groq", func(apiKey, baseURL string) provider.Adapter { return groq.New(apiKey, baseURL) })
	registry.Register("anthropic", func(apiKey, baseURL string) provider.Adapter { return anthropic.New(apiKey, baseURL) })
	registry.Register("gemini", func(apiKey, baseURL string) provider.Adapter { return gemini.New(apiKey, baseURL) })
	referer := os.Getenv("OPENROUTER_REFERER")
	title := os.Getenv("OPENROUTER_TITLE")
	registry.Register("openrouter", func(apiKey, baseURL string) provider.Adapter {
		return openrouter.New(apiKey, baseURL, referer, title)
	})
	return registry
}

type server struct {
	store  store.Store
	bus    bus.Bus
	engine *orchestrator.Engine
	config config.Config
	logger *slog.Logger
}

type startRunRequest struct {
	WorkflowID   string            `json:"workflow_id"`
	CanvasData   json.RawMessage   `json:"canvas_data"`
	TriggerInput json.RawMessage   `json:"trigger_input"`
	APIKeys      map[string]string `json:"api_keys"`
}

type runResponse struct {
	ID           string  `json:"id"`
	WorkflowID   string  `json:"workflow_id"`
	Status       string  `json:"status"`
	TriggerInput string  `json:"trigger_input"`
	StartedAt    *string `json:"started_at,omitempty"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	Error        string  `json:"error,omitempty"`
	CreatedAt    string  `json:"created_at,omitempty"`
	UpdatedAt    string  `json:"updated_at,omitempty"`
}

// handleStartRun implements spec.md §6's "Run start": persist a pending
// WorkflowRun, return 201 immediately, and dispatch execution onto a
// background goroutine decoupled from this request.
func (s *server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.WorkflowID == "" || len(req.CanvasData) == 0 {
		http.Error(w, "workflow_id and canvas_data are required", http.StatusBadRequest)
		return
	}

	triggerInput := string(req.TriggerInput)
	if triggerInput == "" {
		triggerInput = "{}"
	}

	run := store.WorkflowRun{
		ID:           uuid.NewString(),
		WorkflowID:   req.WorkflowID,
		Status:       store.WorkflowPending,
		TriggerInput: triggerInput,
	}
	if err := s.store.CreateWorkflowRun(r.Context(), run); err != nil {
		s.logger.Error("failed to create workflow run", "error", err)
		http.Error(w, "failed to create run", http.StatusInternalServerError)
		return
	}

	def := orchestrator.WorkflowDefinition{ID: req.WorkflowID, CanvasData: string(req.CanvasData)}
	apiKeys := s.config.MergeProviderKeys(req.APIKeys)
	go s.engine.Run(context.Background(), run, def, apiKeys)

	writeJSON(w, http.StatusCreated, toRunResponse(run))
}

// handleGetRun implements spec.md §6's "Run fetch".
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.GetWorkflowRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("failed to fetch workflow run", "error", err)
		http.Error(w, "failed to fetch run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// handleCancelRun implements spec.md §6's "Run cancel": always 200, even
// for an unknown or already-terminal run.
func (s *server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.engine.Cancellation.Request(id)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "cancellation_requested",
		"execution_id": id,
	})
}

// handleStreamRun implements spec.md §4.9's streaming endpoint, upgrading
// to a WebSocket and delegating to transport.ServeRun.
func (s *server) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conn, err := transport.Accept(w, r)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "run_id", id, "error", err)
		return
	}
	if err := transport.ServeRun(r.Context(), conn, id, s.bus, s.engine.Cancellation); err != nil {
		s.logger.Warn("streaming session ended with error", "run_id", id, "error", err)
	}
}

func toRunResponse(run store.WorkflowRun) runResponse {
	resp := runResponse{
		ID:           run.ID,
		WorkflowID:   run.WorkflowID,
		Status:       run.Status,
		TriggerInput: run.TriggerInput,
		Error:        run.Error,
		CreatedAt:    run.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    run.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if run.StartedAt != nil {
		formatted := run.StartedAt.UTC().Format(time.RFC3339Nano)
		resp.StartedAt = &formatted
	}
	if run.CompletedAt != nil {
		formatted := run.CompletedAt.UTC().Format(time.RFC3339Nano)
		resp.CompletedAt = &formatted
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
