package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/quorumfi/finagent/pkg/accounting"
	"github.com/quorumfi/finagent/pkg/agents"
	"github.com/quorumfi/finagent/pkg/config"
	"github.com/quorumfi/finagent/pkg/contracts"
	"github.com/quorumfi/finagent/pkg/ledger"
	"github.com/quorumfi/finagent/pkg/notify"
	"github.com/quorumfi/finagent/pkg/observability"
	"github.com/quorumfi/finagent/pkg/orchestrator"
	"github.com/quorumfi/finagent/pkg/policy"
	"github.com/quorumfi/finagent/pkg/schema"
)

// serve wires the full pipeline and runs the HTTP server until
// interrupted.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "finagent",
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
		Enabled:      cfg.TelemetryEnabled,
		Insecure:     cfg.Environment == "development",
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	store, cleanup, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var policyStore policy.Store
	if cfg.PolicyDir != "" {
		policyStore = policy.NewDirStore(cfg.PolicyDir)
	} else {
		policyStore = &policy.StaticStore{Err: policy.ErrNoPolicies}
	}
	engine, err := policy.NewEngine(ctx, policyStore, logger)
	if err != nil {
		return fmt.Errorf("init policy engine: %w", err)
	}

	validator, err := schema.NewValidator()
	if err != nil {
		return fmt.Errorf("compile event schemas: %w", err)
	}

	// TODO: replace the in-memory fake with the Xero connector once its
	// OAuth flow is approved.
	books := accounting.NewMemory()

	dispatcher := notify.NewDispatcher(notify.NewLogGateway(logger), store, cfg.NotifyRatePerMin, logger)

	registry := agents.NewRegistry()
	for _, a := range []agents.Agent{
		agents.NewBankReconciliationAgent(engine, books, logger),
		agents.NewReceiptCodingAgent(engine, books, logger),
		agents.NewCashflowForecastAgent(books, logger),
		agents.NewSpendGuardAgent(engine, books, logger),
		agents.NewARCollectionsAgent(books, logger),
		agents.NewBasPrepCheckAgent(engine, books, logger),
		agents.NewBoardPackAgent(store, logger),
		agents.NewRDTIRegistrationAgent(logger),
	} {
		if err := registry.Register(a); err != nil {
			return err
		}
	}

	deps := orchestrator.Deps{
		Ledger:     store,
		Registry:   registry,
		Policies:   engine,
		Validator:  validator,
		Accounting: books,
		Notifier:   dispatcher,
		Channel:    cfg.NotifyChannel,
		Logger:     logger,
	}
	if cfg.RedisAddr != "" {
		reservations := ledger.NewReservations(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ReserveTTL)
		defer reservations.Close()
		deps.Reservations = reservations
	}
	orch := orchestrator.New(deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newHandler(orch, obs, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port, "driver", cfg.DatabaseDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newHandler builds the HTTP surface.
func newHandler(orch *orchestrator.Orchestrator, obs *observability.Provider, cfg *config.Config, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/events", func(w http.ResponseWriter, r *http.Request) {
		var event contracts.Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("decode event: %v", err))
			return
		}
		ctx, done := obs.TrackEvent(r.Context(), string(event.Type))
		receipt, err := orch.ProcessEvent(ctx, event)
		done(err)
		if err != nil {
			if contracts.KindOf(err) == contracts.KindValidation {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			logger.Error("event processing failed", "error", err)
			writeError(w, http.StatusInternalServerError, "event processing failed")
			return
		}
		status := http.StatusAccepted
		if receipt.Duplicate {
			status = http.StatusOK
		}
		writeJSON(w, status, receipt)
	})

	mux.HandleFunc("POST /v1/approvals/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Approve bool   `json:"approve"`
			Actor   string `json:"actor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("decode approval: %v", err))
			return
		}
		if body.Actor == "" {
			writeError(w, http.StatusBadRequest, "actor is required")
			return
		}
		decision, err := orch.ResolveApproval(r.Context(), r.PathValue("id"), body.Actor, body.Approve)
		switch {
		case errors.Is(err, orchestrator.ErrDecisionNotFound):
			writeError(w, http.StatusNotFound, err.Error())
			return
		case errors.Is(err, orchestrator.ErrAlreadyResolved):
			writeError(w, http.StatusConflict, err.Error())
			return
		case err != nil:
			logger.Error("approval resolution failed", "error", err)
			writeError(w, http.StatusInternalServerError, "approval resolution failed")
			return
		}
		writeJSON(w, http.StatusOK, decision)
	})

	mux.HandleFunc("GET /v1/metrics", func(w http.ResponseWriter, r *http.Request) {
		window := cfg.MetricsWindowDays
		if q := r.URL.Query().Get("window_days"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "window_days must be a positive integer")
				return
			}
			window = n
		}
		snap, err := orch.Metrics(r.Context(), window)
		if err != nil {
			logger.Error("metrics computation failed", "error", err)
			writeError(w, http.StatusInternalServerError, "metrics computation failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("GET /v1/exceptions", func(w http.ResponseWriter, r *http.Request) {
		open, err := orch.OpenExceptions(r.Context())
		if err != nil {
			logger.Error("exception listing failed", "error", err)
			writeError(w, http.StatusInternalServerError, "exception listing failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"exceptions": open, "count": len(open)})
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}
