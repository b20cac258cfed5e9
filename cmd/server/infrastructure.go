package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/messaging"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/platform/kafka"
	"github.com/rl1809/stock-ledger/internal/port"
)

// infrastructure owns every external connection the server opens.
type infrastructure struct {
	cfg    *config.Config
	logger *zap.Logger

	ledger      port.LedgerRepository
	idempotency port.IdempotencyRepository
	publisher   port.EventPublisher

	db             *sql.DB
	redis          *redis.Client
	producer       kafka.Producer
	kafkaPublisher *messaging.KafkaPublisher
	readers        map[string]kafka.Consumer
}

func newInfrastructure(ctx context.Context, cfg *config.Config, tp *sdktrace.TracerProvider, logger *zap.Logger) (*infrastructure, error) {
	infra := &infrastructure{cfg: cfg, logger: logger, readers: make(map[string]kafka.Consumer)}

	if err := infra.setupLedgerStore(ctx); err != nil {
		infra.shutdown()
		return nil, err
	}
	if err := infra.setupIdempotencyStore(ctx); err != nil {
		infra.shutdown()
		return nil, err
	}
	if err := infra.setupKafka(tp); err != nil {
		infra.shutdown()
		return nil, err
	}
	return infra, nil
}

func (infra *infrastructure) setupLedgerStore(ctx context.Context) error {
	if infra.cfg.StoreDriver == config.StoreMemory {
		infra.ledger = storage.NewMemoryAdapter()
		infra.logger.Warn("using in-memory ledger store, state is lost on restart")
		return nil
	}

	db, err := sql.Open("mysql", infra.cfg.MySQLDSN)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(infra.cfg.MySQLMaxOpenConns)
	db.SetMaxIdleConns(infra.cfg.MySQLMaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)
	infra.db = db

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	infra.logger.Info("connected to mysql")

	if err := storage.Migrate(db); err != nil {
		return err
	}
	infra.logger.Info("schema is up to date")

	infra.ledger = storage.NewMySQLAdapter(db)
	return nil
}

func (infra *infrastructure) setupIdempotencyStore(ctx context.Context) error {
	if infra.cfg.RedisAddr == "" {
		infra.logger.Warn("REDIS_ADDR not set, order events are not deduplicated")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: infra.cfg.RedisAddr})
	infra.redis = rdb
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	infra.logger.Info("connected to redis")

	infra.idempotency = storage.NewRedisAdapter(rdb)
	return nil
}

func (infra *infrastructure) setupKafka(tp *sdktrace.TracerProvider) error {
	cfg := infra.cfg
	if !cfg.KafkaEnabled() {
		infra.logger.Warn("KAFKA_BROKERS not set, events are only logged and no topics are consumed")
		infra.publisher = messaging.NewLogPublisher(infra.logger)
		return nil
	}

	writerOpts := []otelkafka.Option{
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes([]attribute.KeyValue{
			semconv.MessagingDestinationNameKey.String(cfg.InventoryTopic),
			attribute.String("messaging.kafka.client_id", config.ServiceName),
		}),
	}
	if tp != nil {
		writerOpts = append(writerOpts, otelkafka.WithTracerProvider(tp))
	}

	writer, err := otelkafka.NewWriter(&kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.InventoryTopic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: config.BatchTimeout,
		BatchSize:    config.BatchSize,
	}, writerOpts...)
	if err != nil {
		return fmt.Errorf("kafka writer: %w", err)
	}
	infra.producer = writer
	infra.kafkaPublisher = messaging.NewKafkaPublisher(writer, infra.logger, cfg.PublishQueueSize, cfg.PublishWorkers)
	infra.publisher = infra.kafkaPublisher

	for _, topic := range []string{cfg.ProductTopic, cfg.OrderTopic} {
		reader, err := otelkafka.NewReader(kafkago.NewReader(kafkago.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   topic,
			GroupID: cfg.KafkaGroupID,
		}))
		if err != nil {
			return fmt.Errorf("kafka reader for %s: %w", topic, err)
		}
		infra.readers[topic] = reader
	}
	return nil
}

// consumers returns one read loop per subscribed topic, or none without Kafka.
func (infra *infrastructure) consumers(ledger messaging.StockLedger) []*messaging.ConsumerService {
	if len(infra.readers) == 0 {
		return nil
	}

	events := messaging.NewEventHandler(ledger, infra.idempotency, infra.logger)
	return []*messaging.ConsumerService{
		messaging.NewConsumerService(infra.cfg.ProductTopic, infra.readers[infra.cfg.ProductTopic], events.HandleProductUpdate, infra.logger),
		messaging.NewConsumerService(infra.cfg.OrderTopic, infra.readers[infra.cfg.OrderTopic], events.HandleOrderEvent, infra.logger),
	}
}

// shutdown drains queued events before closing the connections they need.
func (infra *infrastructure) shutdown() {
	for topic, reader := range infra.readers {
		if err := reader.Close(); err != nil {
			infra.logger.Error("failed to close kafka reader", zap.String("topic", topic), zap.Error(err))
		}
	}

	if infra.kafkaPublisher != nil {
		infra.kafkaPublisher.Close()
		infra.logger.Info("publish queue drained")
	}
	if infra.producer != nil {
		if err := infra.producer.Close(); err != nil {
			infra.logger.Error("failed to close kafka writer", zap.Error(err))
		}
	}

	if infra.redis != nil {
		if err := infra.redis.Close(); err != nil {
			infra.logger.Error("failed to close redis", zap.Error(err))
		}
	}
	if infra.db != nil {
		if err := infra.db.Close(); err != nil {
			infra.logger.Error("failed to close mysql", zap.Error(err))
		}
	}
	infra.logger.Info("connections closed")
}
