package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/drops/internal/domain"
	"github.com/vladislavdragonenkov/drops/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/drops/internal/service/expiry"
	grpcsvc "github.com/vladislavdragonenkov/drops/internal/service/grpc"
	"github.com/vladislavdragonenkov/drops/internal/service/reservation"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// ConfigFileEnv указывает путь к YAML-файлу конфигурации.
const ConfigFileEnv = "DROPS_CONFIG_FILE"

// Config описывает настройки запуска приложения.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	ReservationTTL time.Duration
	// MaxReservationTTL: наибольший TTL, который клиент может запросить в Reserve.
	MaxReservationTTL time.Duration
	SweepInterval     time.Duration
	SweepBatchSize    int
	// OnDemandSweep включает RPC SweepExpired. Предназначен для стендов разработки.
	OnDemandSweep bool

	KafkaBrokers []string
	KafkaTopic   string

	// TracingEndpoint: collector endpoint Jaeger. Пустое значение отключает трейсинг.
	TracingEndpoint string
	ServiceName     string

	SeedDrops []SeedDrop
}

// SeedDrop: дроп, создаваемый при старте, если его ещё нет в хранилище.
type SeedDrop struct {
	ID         string     `yaml:"id"`
	Name       string     `yaml:"name"`
	PriceMinor int64      `yaml:"price_minor"`
	Currency   string     `yaml:"currency"`
	Stock      int        `yaml:"stock"`
	Status     string     `yaml:"status"`
	StartsAt   *time.Time `yaml:"starts_at"`
	EndsAt     *time.Time `yaml:"ends_at"`
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:            ":50051",
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		ReservationTTL:      reservation.DefaultTTL,
		MaxReservationTTL:   grpcsvc.DefaultMaxTTL,
		SweepInterval:       expiry.DefaultInterval,
		SweepBatchSize:      expiry.DefaultBatchSize,
		KafkaTopic:          kafka.TopicDropEvents,
		ServiceName:         "drops-service",
	}
}

// fileConfig: форма YAML-файла. Отсутствующие ключи не трогают значения по умолчанию.
type fileConfig struct {
	GRPCAddr                 *string    `yaml:"grpc_addr"`
	MetricsAddr              *string    `yaml:"metrics_addr"`
	StorageDriver            *string    `yaml:"storage_driver"`
	PostgresDSN              *string    `yaml:"postgres_dsn"`
	PostgresAutoMigrate      *bool      `yaml:"postgres_auto_migrate"`
	ReservationTTLSeconds    *int       `yaml:"reservation_ttl_seconds"`
	MaxReservationTTLSeconds *int       `yaml:"max_reservation_ttl_seconds"`
	SweepIntervalMs          *int       `yaml:"sweep_interval_ms"`
	SweepBatchSize           *int       `yaml:"sweep_batch_size"`
	OnDemandSweep            *bool      `yaml:"on_demand_sweep"`
	KafkaBrokers             []string   `yaml:"kafka_brokers"`
	KafkaTopic               *string    `yaml:"kafka_topic"`
	TracingEndpoint          *string    `yaml:"tracing_endpoint"`
	ServiceName              *string    `yaml:"service_name"`
	SeedDrops                []SeedDrop `yaml:"seed_drops"`
}

// LoadConfig собирает конфигурацию: значения по умолчанию, затем YAML-файл
// из DROPS_CONFIG_FILE (если задан), затем переменные окружения DROPS_*.
func LoadConfig(getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := DefaultConfig()
	if path := strings.TrimSpace(getenv(ConfigFileEnv)); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.ApplyYAML(data); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ApplyYAML накладывает YAML-документ на текущие значения.
func (c *Config) ApplyYAML(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&c.GRPCAddr, fc.GRPCAddr)
	setString(&c.MetricsAddr, fc.MetricsAddr)
	setString(&c.StorageDriver, fc.StorageDriver)
	setString(&c.PostgresDSN, fc.PostgresDSN)
	setString(&c.KafkaTopic, fc.KafkaTopic)
	setString(&c.TracingEndpoint, fc.TracingEndpoint)
	setString(&c.ServiceName, fc.ServiceName)
	if fc.PostgresAutoMigrate != nil {
		c.PostgresAutoMigrate = *fc.PostgresAutoMigrate
	}
	if fc.ReservationTTLSeconds != nil {
		c.ReservationTTL = time.Duration(*fc.ReservationTTLSeconds) * time.Second
	}
	if fc.MaxReservationTTLSeconds != nil {
		c.MaxReservationTTL = time.Duration(*fc.MaxReservationTTLSeconds) * time.Second
	}
	if fc.OnDemandSweep != nil {
		c.OnDemandSweep = *fc.OnDemandSweep
	}
	if fc.SweepIntervalMs != nil {
		c.SweepInterval = time.Duration(*fc.SweepIntervalMs) * time.Millisecond
	}
	if fc.SweepBatchSize != nil {
		c.SweepBatchSize = *fc.SweepBatchSize
	}
	if len(fc.KafkaBrokers) > 0 {
		c.KafkaBrokers = fc.KafkaBrokers
	}
	if len(fc.SeedDrops) > 0 {
		c.SeedDrops = fc.SeedDrops
	}
	return nil
}

// ApplyEnv применяет переопределения DROPS_* поверх текущих значений.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	lookup := func(key string) (string, bool) {
		v := strings.TrimSpace(getenv(key))
		return v, v != ""
	}

	if v, ok := lookup("DROPS_GRPC_ADDR"); ok {
		c.GRPCAddr = v
	}
	if v, ok := lookup("DROPS_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := lookup("DROPS_STORAGE_DRIVER"); ok {
		c.StorageDriver = strings.ToLower(v)
	}
	if v, ok := lookup("DROPS_POSTGRES_DSN"); ok {
		c.PostgresDSN = v
	}
	if v, ok := lookup("DROPS_POSTGRES_AUTO_MIGRATE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DROPS_POSTGRES_AUTO_MIGRATE: %w", err)
		}
		c.PostgresAutoMigrate = b
	}
	if v, ok := lookup("DROPS_RESERVATION_TTL_SECONDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DROPS_RESERVATION_TTL_SECONDS: %w", err)
		}
		c.ReservationTTL = time.Duration(n) * time.Second
	}
	if v, ok := lookup("DROPS_MAX_RESERVATION_TTL_SECONDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DROPS_MAX_RESERVATION_TTL_SECONDS: %w", err)
		}
		c.MaxReservationTTL = time.Duration(n) * time.Second
	}
	if v, ok := lookup("DROPS_ON_DEMAND_SWEEP"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DROPS_ON_DEMAND_SWEEP: %w", err)
		}
		c.OnDemandSweep = b
	}
	if v, ok := lookup("DROPS_SWEEP_INTERVAL_MS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DROPS_SWEEP_INTERVAL_MS: %w", err)
		}
		c.SweepInterval = time.Duration(n) * time.Millisecond
	}
	if v, ok := lookup("DROPS_SWEEP_BATCH_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DROPS_SWEEP_BATCH_SIZE: %w", err)
		}
		c.SweepBatchSize = n
	}
	if v, ok := lookup("DROPS_KAFKA_BROKERS"); ok {
		c.KafkaBrokers = splitBrokers(v)
	}
	if v, ok := lookup("DROPS_KAFKA_TOPIC"); ok {
		c.KafkaTopic = v
	}
	if v, ok := lookup("DROPS_TRACING_ENDPOINT"); ok {
		c.TracingEndpoint = v
	}
	return nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.ReservationTTL <= 0 {
		errs = append(errs, errors.New("reservation ttl must be positive"))
	}
	if c.MaxReservationTTL < c.ReservationTTL {
		errs = append(errs, errors.New("max reservation ttl must not be below reservation ttl"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep interval must be positive"))
	}
	if c.SweepBatchSize <= 0 {
		errs = append(errs, errors.New("sweep batch size must be positive"))
	}
	for i, seed := range c.SeedDrops {
		if strings.TrimSpace(seed.ID) == "" {
			errs = append(errs, fmt.Errorf("seed_drops[%d]: id is required", i))
		}
		if seed.Stock < 0 {
			errs = append(errs, fmt.Errorf("seed_drops[%d]: stock must be >= 0", i))
		}
	}
	return errors.Join(errs...)
}

// toDrop переводит запись конфигурации в доменный дроп.
func (s SeedDrop) toDrop(now time.Time) domain.Drop {
	status := domain.DropStatus(strings.ToLower(strings.TrimSpace(s.Status)))
	if status == "" {
		status = domain.DropStatusLive
	}
	name := s.Name
	if name == "" {
		name = s.ID
	}
	return domain.Drop{
		ID:             s.ID,
		Name:           name,
		PriceMinor:     s.PriceMinor,
		Currency:       s.Currency,
		TotalStock:     s.Stock,
		AvailableStock: s.Stock,
		Status:         status,
		StartsAt:       s.StartsAt,
		EndsAt:         s.EndsAt,
		CreatedBy:      "seed",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
