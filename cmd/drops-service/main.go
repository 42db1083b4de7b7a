package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drops/internal/app"
	"github.com/vladislavdragonenkov/drops/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
// Неизвестный LOG_LEVEL откатывается к info с предупреждением.
func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	if level = strings.TrimSpace(level); level == "" {
		return
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("log_level", level).Warn("unknown LOG_LEVEL, using info")
		return
	}
	log.SetLevel(parsed)
}

func main() {
	setupLogger(os.Getenv("LOG_LEVEL"))

	cfg, err := app.LoadConfig(os.Getenv)
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"grpc_addr":       cfg.GRPCAddr,
		"metrics_addr":    cfg.MetricsAddr,
		"storage_driver":  cfg.StorageDriver,
		"reservation_ttl": cfg.ReservationTTL,
		"sweep_interval":  cfg.SweepInterval,
		"sweep_batch":     cfg.SweepBatchSize,
		"kafka_enabled":   len(cfg.KafkaBrokers) > 0,
		"on_demand_sweep": cfg.OnDemandSweep,
	}).WithFields(version.Fields()).Info("запускаем drops-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("drops-service остановлен")
}
