package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neomorfeo/billcycle/internal/adapter/bus"
	"github.com/neomorfeo/billcycle/internal/adapter/fsm"
	otelAdapter "github.com/neomorfeo/billcycle/internal/adapter/otel"
	redisAdapter "github.com/neomorfeo/billcycle/internal/adapter/redis"
	riverAdapter "github.com/neomorfeo/billcycle/internal/adapter/river"
	"github.com/neomorfeo/billcycle/internal/adapter/sandbox"
	"github.com/neomorfeo/billcycle/internal/adapter/sqlite"
	"github.com/neomorfeo/billcycle/internal/adapter/workflowfile"
	"github.com/neomorfeo/billcycle/internal/app"
	"github.com/neomorfeo/billcycle/internal/config"
	"github.com/neomorfeo/billcycle/internal/domain"
	"github.com/neomorfeo/billcycle/internal/logger"

	handler "github.com/neomorfeo/billcycle/internal/adapter/http"
)

const (
	serviceName     = "billcycle"
	version         = "0.1.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "billcycle: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	providers, err := otelAdapter.Setup(ctx, otelAdapter.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Exporter:       cfg.Telemetry.Exporter,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("opentelemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Error("otel shutdown", zap.Error(err))
		}
	}()

	// --- Adapters (out) ---
	db, err := otelAdapter.OpenDB(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	store, err := sqlite.NewFromDB(db)
	if err != nil {
		db.Close()
		return fmt.Errorf("database: %w", err)
	}
	defer store.Close()

	// The River client must exist before the services that schedule jobs;
	// the handlers it invokes are filled in once the services are built.
	jobHandlers := &riverAdapter.Handlers{Logger: log.Named("jobs")}
	riverClient, err := riverAdapter.Setup(ctx, db, jobHandlers, riverAdapter.Config{
		DunningWorkers: cfg.Workers.Dunning,
		ActionWorkers:  cfg.Workers.Actions,
		SweepInterval:  cfg.Renewal.SweepInterval,
	})
	if err != nil {
		return fmt.Errorf("river: %w", err)
	}
	scheduler := riverAdapter.NewScheduler(riverClient)

	rawBus := bus.New(log, cfg.Bus.Shards)
	eventBus, err := otelAdapter.NewTracingBus(rawBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}

	subsRepo := otelAdapter.NewTracingSubscriptionRepository(store)
	invoiceRepo := otelAdapter.NewTracingInvoiceRepository(store)
	gateway := otelAdapter.NewTracingGateway(sandbox.NewGateway(log))
	notifier := otelAdapter.NewTracingNotifier(sandbox.NewLogNotifier(log))

	var ledger domain.FiringLedger = store
	if cfg.Redis.Addr != "" {
		redisLedger, err := redisAdapter.New(ctx, redisAdapter.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisLedger.Close()
		ledger = redisLedger
		log.Info("using redis firing ledger", zap.String("addr", cfg.Redis.Addr))
	}

	// --- Application ---
	policy, err := cfg.DunningPolicy()
	if err != nil {
		return err
	}
	opts := app.Options{Logger: log, Locks: app.NewLocker()}
	validator := fsm.New()

	subs := app.NewSubscriptionService(subsRepo, store, validator, scheduler, eventBus, opts)
	invoices := app.NewInvoiceService(invoiceRepo, subsRepo, store, validator, gateway, eventBus, app.InvoiceSettings{
		DueDays:         cfg.Invoice.DueDays,
		DefaultCurrency: cfg.Invoice.DefaultCurrency,
	}, opts)
	dunning, err := app.NewDunningService(app.DunningDeps{
		Attempts:  store,
		Invoices:  invoiceRepo,
		Subs:      subsRepo,
		Gateway:   gateway,
		Scheduler: scheduler,
		Notifier:  notifier,
		Bus:       eventBus,
		Invoicing: invoices,
		Lifecycle: subs,
	}, policy, opts)
	if err != nil {
		return fmt.Errorf("dunning: %w", err)
	}
	workflows := app.NewWorkflowEngine(app.WorkflowDeps{
		Repo:       store,
		Ledger:     ledger,
		Dispatcher: scheduler,
		Notifier:   notifier,
		Catalog:    store,
		Bus:        eventBus,
	}, opts)

	jobHandlers.Attempts = dunning
	jobHandlers.Renewals = subs
	jobHandlers.Actions = workflows

	if cfg.Workflows.File != "" {
		defs, err := workflowfile.Load(cfg.Workflows.File)
		if err != nil {
			return err
		}
		if err := workflows.Load(ctx, defs); err != nil {
			return fmt.Errorf("loading workflows: %w", err)
		}
		log.Info("workflows loaded", zap.String("file", cfg.Workflows.File), zap.Int("count", len(defs)))
	}

	unregister := app.Register(eventBus, app.Services{
		Subscriptions: subs,
		Invoices:      invoices,
		Dunning:       dunning,
		Workflows:     workflows,
		EventLog:      store,
	})
	defer unregister()

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(router)))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log.Named("http")))

	api := humachi.New(router, huma.DefaultConfig(serviceName, version))
	handler.Register(api, handler.Services{
		Subscriptions: subs,
		Invoices:      invoices,
		Dunning:       dunning,
		Workflows:     workflows,
		Catalog:       app.NewCatalogService(store, opts),
		Signals:       app.NewSignalService(subsRepo, eventBus, opts),
		Events:        store,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// River stops through Stop below, not through cancellation of ctx.
	if err := riverClient.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting river: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("billcycle listening", zap.Int("port", cfg.Port), zap.String("environment", cfg.Environment))
		log.Info("API docs", zap.String("url", fmt.Sprintf("http://localhost:%d/docs", cfg.Port)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return errors.Join(
			srv.Shutdown(shutdownCtx),
			riverClient.Stop(shutdownCtx),
			rawBus.Close(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}

// requestLogger logs one line per request once the response is written.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
