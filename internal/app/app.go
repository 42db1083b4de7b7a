package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/drops/internal/clock"
	healthcheck "github.com/vladislavdragonenkov/drops/internal/health"
	"github.com/vladislavdragonenkov/drops/internal/metrics"
	"github.com/vladislavdragonenkov/drops/internal/service/cancellation"
	"github.com/vladislavdragonenkov/drops/internal/service/expiry"
	grpcsvc "github.com/vladislavdragonenkov/drops/internal/service/grpc"
	"github.com/vladislavdragonenkov/drops/internal/service/notify"
	"github.com/vladislavdragonenkov/drops/internal/service/purchase"
	"github.com/vladislavdragonenkov/drops/internal/service/reservation"
	"github.com/vladislavdragonenkov/drops/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает хранилище, сервисы, gRPC, HTTP метрик и свипер
// и блокируется до отмены ctx или падения одного из компонентов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	shutdownTracing, err := initTracing(cfg.ServiceName, cfg.TracingEndpoint, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("tracer provider shutdown with error")
		}
	}()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	sysClock := clock.NewSystem()
	if err := seedDrops(ctx, deps.store, cfg.SeedDrops, sysClock, logger); err != nil {
		return err
	}

	// Kafka опциональна: без неё события уходят только в лог.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	engineMetrics := metrics.NewEngineMetrics()
	publisher := notify.NewPublisher(
		buildNotifier(kafkaProducer, cfg.KafkaTopic, logger),
		logger.WithField("component", "notify"),
		engineMetrics,
	)

	sweeper := expiry.NewSweeper(deps.store,
		expiry.WithLogger(logger.WithField("component", "expiry-sweeper")),
		expiry.WithInterval(cfg.SweepInterval),
		expiry.WithBatchSize(cfg.SweepBatchSize),
		expiry.WithClock(sysClock),
		expiry.WithMetrics(engineMetrics),
		expiry.WithPublisher(publisher),
	)
	server := grpcsvc.NewServer(
		reservation.NewService(deps.store,
			reservation.WithLogger(logger.WithField("component", "reservation-service")),
			reservation.WithClock(sysClock),
			reservation.WithTTL(cfg.ReservationTTL),
			reservation.WithMetrics(engineMetrics),
			reservation.WithPublisher(publisher),
		),
		purchase.NewService(deps.store,
			purchase.WithLogger(logger.WithField("component", "purchase-service")),
			purchase.WithClock(sysClock),
			purchase.WithMetrics(engineMetrics),
			purchase.WithPublisher(publisher),
		),
		cancellation.NewService(deps.store,
			cancellation.WithLogger(logger.WithField("component", "cancellation-service")),
			cancellation.WithClock(sysClock),
			cancellation.WithMetrics(engineMetrics),
			cancellation.WithPublisher(publisher),
		),
		sweeper,
		logger.WithField("layer", "grpc"),
		grpcsvc.WithMaxTTL(cfg.MaxReservationTTL),
		grpcsvc.WithOnDemandSweep(cfg.OnDemandSweep),
	)

	grpcServer, healthServer := newGRPCServer(server, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	metricsSrv := newMetricsServer(cfg.MetricsAddr, healthHandler)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	metricsLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen metrics: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Infof("метрики доступны по адресу %s/metrics", metricsLis.Addr())
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", metricsLis.Addr(), metricsLis.Addr(), metricsLis.Addr())
		if err := metricsSrv.Serve(metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем сервисы")
		healthHandler.SetDraining(true)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(metricsSrv, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// newGRPCServer собирает gRPC сервер с метриками, health и reflection.
func newGRPCServer(server grpcsvc.ReservationServiceServer, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterReservationServiceServer(grpcServer, server)
	grpcMetrics.InitializeMetrics(grpcServer)

	// reflection нужен grpcurl и нагрузочным утилитам
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return grpcServer, healthServer
}

// stopGRPC ждёт завершения активных вызовов, но не дольше shutdownTimeout.
func stopGRPC(grpcServer *grpc.Server, logger *log.Entry) {
	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

// newMetricsServer собирает HTTP-обработчики /metrics и health probes.
func newMetricsServer(addr string, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
