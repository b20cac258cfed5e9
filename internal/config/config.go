package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ServiceName    = "stock-ledger"
	ServiceVersion = "0.1.0"
)

const (
	BatchTimeout    = 10 * time.Millisecond
	BatchSize       = 100
	ShutdownTimeout = 10 * time.Second
)

const (
	LogsPath      = "/otlp/v1/logs"
	TracesPath    = "/otlp/v1/traces"
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	StoreDriver       string
	MySQLDSN          string
	MySQLMaxOpenConns int

	RedisAddr string

	KafkaBrokers   []string
	KafkaGroupID   string
	ProductTopic   string
	OrderTopic     string
	InventoryTopic string

	PublishQueueSize  int
	PublishWorkers    int
	LowStockThreshold int
	LedgerMaxRetries  int

	OtelEndpoint   string
	OtelAuthHeader string
	LogLevel       string
}

// KafkaEnabled reports whether a broker list was configured.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Load reads configuration from the environment. A .env file in the working
// directory, if present, is applied first without overriding real variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:       getEnvOrDefault("HTTP_ADDR", ":8080"),
		GRPCAddr:       getEnvOrDefault("GRPC_ADDR", ":50051"),
		StoreDriver:    strings.ToLower(getEnvOrDefault("STORE_DRIVER", StoreMySQL)),
		MySQLDSN:       getEnvOrDefault("MYSQL_DSN", "root:root@tcp(localhost:3306)/inventory?parseTime=true"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		KafkaBrokers:   splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaGroupID:   getEnvOrDefault("KAFKA_GROUP_ID", ServiceName),
		ProductTopic:   getEnvOrDefault("PRODUCT_TOPIC", "product-updates"),
		OrderTopic:     getEnvOrDefault("ORDER_TOPIC", "order-events"),
		InventoryTopic: getEnvOrDefault("INVENTORY_TOPIC", "inventory-updates"),
		OtelEndpoint:   os.Getenv("OTEL_ENDPOINT"),
		OtelAuthHeader: os.Getenv("OTEL_AUTH_HEADER"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
	}

	ints := []struct {
		key   string
		def   int
		floor int
		dst   *int
	}{
		{"MYSQL_MAX_OPEN_CONNS", 50, 1, &cfg.MySQLMaxOpenConns},
		{"PUBLISH_QUEUE_SIZE", 1000, 1, &cfg.PublishQueueSize},
		{"PUBLISH_WORKERS", 4, 1, &cfg.PublishWorkers},
		{"LOW_STOCK_THRESHOLD", 10, 0, &cfg.LowStockThreshold},
		{"LEDGER_MAX_RETRIES", 5, 0, &cfg.LedgerMaxRetries},
	}
	for _, v := range ints {
		n, err := getIntOrDefault(v.key, v.def)
		if err != nil {
			return nil, err
		}
		if n < v.floor {
			return nil, fmt.Errorf("%s must be at least %d, got %d", v.key, v.floor, n)
		}
		*v.dst = n
	}

	switch cfg.StoreDriver {
	case StoreMySQL, StoreMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMySQL, StoreMemory, cfg.StoreDriver)
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
