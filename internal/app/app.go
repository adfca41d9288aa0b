package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/checkout/internal/cart"
	"github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/address"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/janitor"
	"github.com/vladislavdragonenkov/checkout/internal/service/orders"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

const (
	shutdownTimeout     = 5 * time.Second
	grpcHealthInterval  = 10 * time.Second
	grpcHealthService   = "checkout.v1.Checkout"
	httpReadHeaderLimit = 10 * time.Second
)

// application: собранный граф зависимостей сервиса.
type application struct {
	api        *API
	manager    *checkout.Manager
	carts      *cart.Store
	delivery   *outbox.Worker
	janitors   []*janitor.Worker
	health     *health.Handler
	storage    *runtimeDependencies
	publishers *eventPublishers
	cfg        Config

	unsubscribe func()
}

func build(ctx context.Context, cfg Config, logger *log.Entry) (*application, error) {
	storage, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.NewCheckoutMetrics()
	gw, err := initGateways(cfg, m, logger)
	if err != nil {
		storage.Close(logger)
		return nil, err
	}

	carts := cart.NewStore(storage.carts, cfg.Currency, logger.WithField("component", "cart-store"))
	orderSvc := orders.NewService(storage.orders, storage.outbox, logger.WithField("component", "order-service"))
	resolver := address.NewResolver(storage.addresses, address.RetryConfig{
		MaxAttempts: cfg.AddressRetryAttempts,
		Delay:       cfg.AddressRetryDelay,
	}, m, logger.WithField("component", "address-resolver"))
	strategy := payment.NewStrategy(gw.tokenizer, gw.redirects, orderSvc, storage.ledger, payment.Config{
		CallbackURL: cfg.CallbackURL,
		Description: cfg.PaymentDescription,
	}, m, logger.WithField("component", "payment-strategy"))
	var reconcileOpts []reconcile.Option
	if gw.verifier != nil {
		reconcileOpts = append(reconcileOpts, reconcile.WithVerifier(gw.verifier))
	}
	reconciler := reconcile.NewReconciler(storage.ledger, orderSvc, carts, m, logger.WithField("component", "return-reconciler"), reconcileOpts...)

	manager := checkout.NewManager(checkout.Dependencies{
		Cart:       carts,
		Addresses:  resolver,
		Payments:   strategy,
		Reconciler: reconciler,
		Outbox:     storage.outbox,
		Timeline:   storage.timeline,
		Metrics:    m,
		Logger:     logger.WithField("component", "checkout"),
	})
	unsubscribe := carts.Subscribe(manager.OnCartEvent)

	publishers := initKafka(cfg, logger)
	delivery := newDeliveryWorker(cfg, storage, publishers, logger)

	var sweepers []*janitor.Worker
	if storage.janitor != nil {
		sweepers = append(sweepers, janitor.NewWorker(storage.janitor,
			janitor.WithLogger(logger.WithField("component", "ledger-janitor")),
			janitor.WithInterval(cfg.LedgerSweepEvery),
			janitor.WithBatchSize(cfg.LedgerSweepBatch),
		))
	}
	var guard *idempotencyGuard
	if storage.idempotency != nil {
		guard = newIdempotencyGuard(storage.idempotency, cfg.IdempotencyTTL, cfg.SessionCookieName,
			logger.WithField("component", "idempotency"))
		sweepers = append(sweepers, janitor.NewWorker(storage.idempotency,
			janitor.WithTarget("idempotency"),
			janitor.WithLogger(logger.WithField("component", "idempotency-janitor")),
			janitor.WithInterval(cfg.IdempotencySweepEvery),
			janitor.WithBatchSize(cfg.LedgerSweepBatch),
		))
	}

	healthHandler := health.NewHandler(version.GetVersion())
	for name, check := range storage.checks {
		healthHandler.RegisterChecker(name, check)
	}
	if gw.check != nil {
		healthHandler.RegisterChecker("payment_gateway", gw.check)
	}

	return &application{
		api: &API{
			carts:       carts,
			addresses:   resolver,
			checkout:    manager,
			orders:      orderSvc,
			idempotency: guard,
			cookie:      sessionCookie{name: cfg.SessionCookieName, secure: cfg.SessionCookieSecure},
			logger:      logger.WithField("component", "http-api"),
		},
		manager:     manager,
		carts:       carts,
		delivery:    delivery,
		janitors:    sweepers,
		health:      healthHandler,
		storage:     storage,
		publishers:  publishers,
		cfg:         cfg,
		unsubscribe: unsubscribe,
	}, nil
}

func (a *application) close(logger *log.Entry) {
	a.unsubscribe()
	closeKafka(a.publishers, logger)
	a.storage.Close(logger)
}

// startBackground запускает доставку событий, очистку просроченных записей и вытеснение
// простаивающих сессий.
func (a *application) startBackground(ctx context.Context) {
	go a.delivery.Run(ctx)
	for _, sweeper := range a.janitors {
		go sweeper.Run(ctx)
	}
	go a.manager.Run(ctx, a.cfg.SessionSweepEvery, a.cfg.SessionIdleTTL)
}

// Run поднимает HTTP API, gRPC health и метрики и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	app.startBackground(workersCtx)

	grpcServer, grpcHealth := newGRPCServer(logger)
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, app.health)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, logger)
		return err
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = lis.Close()
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	apiSrv := &http.Server{Handler: app.api.Handler(), ReadHeaderTimeout: httpReadHeaderLimit}
	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC health сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		if err := apiSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go watchHealth(workersCtx, app.health, grpcHealth)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	grpcHealth.Shutdown()
	shutdownHTTP(apiSrv, logger)
	stopGRPC(grpcServer, logger)
	shutdownHTTP(metricsSrv, logger)
	return runErr
}

func newGRPCServer(logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcHealthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)
	return server, healthServer
}

// watchHealth переводит gRPC health в NOT_SERVING, пока критичная зависимость недоступна.
func watchHealth(ctx context.Context, checks *health.Handler, server *grpchealth.Server) {
	ticker := time.NewTicker(grpcHealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := healthpb.HealthCheckResponse_SERVING
			if checks.Evaluate(ctx).Status == health.StatusUnhealthy {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			server.SetServingStatus(grpcHealthService, status)
		}
	}
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает /metrics, /healthz и /livez.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: httpReadHeaderLimit}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()
	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
