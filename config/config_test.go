package config_test

import (
	"slices"
	"strings"
	"testing"
	"time"

	cfg "github.com/Gunvolt24/mq_reader/config"
)

// TestLoadWithPrefix_Defaults — проверка наличия значений по умолчанию.
func TestLoadWithPrefix_Defaults(t *testing.T) {
	t.Parallel()

	c, err := cfg.LoadWithPrefix("MQREADER_TEST_DEFAULTS")
	if err != nil {
		t.Fatalf("LoadWithPrefix error: %v", err)
	}

	// Reader
	if c.Reader.Destination != "items" || c.Reader.Selector != "" || c.Reader.Timeout != 5*time.Second {
		t.Fatalf("Reader defaults wrong: %+v", c.Reader)
	}
	if c.Reader.TargetShape != "" || c.Reader.SkipValidation {
		t.Fatalf("Reader shape/validation defaults wrong: %+v", c.Reader)
	}

	// Broker
	if c.Broker.Kind != cfg.BrokerKafka {
		t.Fatalf("Broker.Kind: want kafka, got %q", c.Broker.Kind)
	}
	if !slices.Equal(c.Kafka.Brokers, []string{"kafka:9092"}) || c.Kafka.GroupID != "mq-reader" || c.Kafka.StartOffset != "first" {
		t.Fatalf("Kafka defaults wrong: %+v", c.Kafka)
	}
	if c.Kafka.RetryInitial != time.Second || c.Kafka.RetryMax != 30*time.Second {
		t.Fatalf("Kafka retry defaults wrong: %+v", c.Kafka)
	}
	if c.AMQP.Prefetch != 1 || c.Redis.StartID != "0" || c.Redis.Block != time.Second || c.SQS.WaitTimeSeconds != 20 {
		t.Fatalf("broker defaults wrong: amqp=%+v redis=%+v sqs=%+v", c.AMQP, c.Redis, c.SQS)
	}

	// Batch / Sink
	if c.Batch.ChunkSize != 100 || c.Batch.SkipLimit != 0 {
		t.Fatalf("Batch defaults wrong: %+v", c.Batch)
	}
	if c.Sink.Kind != cfg.SinkStdout {
		t.Fatalf("Sink.Kind: want stdout, got %q", c.Sink.Kind)
	}

	// HTTP
	if !c.HTTP.Enabled || c.HTTP.Addr != ":8080" || c.HTTP.GinMode != "debug" {
		t.Fatalf("HTTP defaults wrong: %+v", c.HTTP)
	}
	if c.HTTP.ReadHeaderTimeout != 5*time.Second || c.HTTP.GracefulTimeout != 5*time.Second {
		t.Fatalf("HTTP timeouts wrong: %+v", c.HTTP)
	}

	// Tracing / Logger / Postgres
	if c.Tracing.Enabled || c.Tracing.ServiceName != "mq-reader" || c.Tracing.SampleRatio != 1 {
		t.Fatalf("Tracing defaults wrong: %+v", c.Tracing)
	}
	if c.Logger.IsProd || c.Logger.Level != "" {
		t.Fatalf("Logger defaults wrong: %+v", c.Logger)
	}
	if c.Postgres.DSN == "" || c.Postgres.MaxConns != 10 {
		t.Fatalf("Postgres defaults wrong: %+v", c.Postgres)
	}
}

// Меняем окружение.
func TestLoadWithPrefix_Overrides(t *testing.T) {
	const p = "MQREADER_TEST_OVR"

	t.Setenv(p+"_READER_DESTINATION", "orders")
	t.Setenv(p+"_READER_SELECTOR", `JMSType == "OrderCreated"`)
	t.Setenv(p+"_READER_TIMEOUT", "0s")
	t.Setenv(p+"_READER_TARGET_SHAPE", "envelope")
	t.Setenv(p+"_READER_SKIP_VALIDATION", "true")

	t.Setenv(p+"_BROKER_KIND", " Redis ")
	t.Setenv(p+"_REDIS_ADDR", "localhost:6380")
	t.Setenv(p+"_REDIS_GROUP", "g-test")
	t.Setenv(p+"_REDIS_BLOCK", "250ms")

	t.Setenv(p+"_KAFKA_BROKERS", "k1:9092,k2:9093")

	t.Setenv(p+"_BATCH_CHUNK_SIZE", "7")
	t.Setenv(p+"_BATCH_SKIP_LIMIT", "3")

	t.Setenv(p+"_SINK_KIND", "file")
	t.Setenv(p+"_SINK_OUTPUT", "/tmp/out.jsonl")

	t.Setenv(p+"_TRACING_OTEL_ENABLED", "true")
	t.Setenv(p+"_TRACING_OTEL_SAMPLE_RATIO", "0.25")
	t.Setenv(p+"_LOGGER_IS_PROD", "true")
	t.Setenv(p+"_LOGGER_LEVEL", "warn")

	c, err := cfg.LoadWithPrefix(p)
	if err != nil {
		t.Fatalf("LoadWithPrefix error: %v", err)
	}

	if c.Reader.Destination != "orders" || c.Reader.Selector != `JMSType == "OrderCreated"` ||
		c.Reader.Timeout != 0 || c.Reader.TargetShape != "envelope" || !c.Reader.SkipValidation {
		t.Fatalf("Reader overrides wrong: %+v", c.Reader)
	}
	if c.Broker.Kind != cfg.BrokerRedis {
		t.Fatalf("Broker.Kind must be normalised, got %q", c.Broker.Kind)
	}
	if c.Redis.Addr != "localhost:6380" || c.Redis.Group != "g-test" || c.Redis.Block != 250*time.Millisecond {
		t.Fatalf("Redis overrides wrong: %+v", c.Redis)
	}
	if !slices.Equal(c.Kafka.Brokers, []string{"k1:9092", "k2:9093"}) {
		t.Fatalf("Kafka.Brokers override wrong: %v", c.Kafka.Brokers)
	}
	if c.Batch.ChunkSize != 7 || c.Batch.SkipLimit != 3 {
		t.Fatalf("Batch overrides wrong: %+v", c.Batch)
	}
	if c.Sink.Kind != cfg.SinkFile || c.Sink.Path != "/tmp/out.jsonl" {
		t.Fatalf("Sink overrides wrong: %+v", c.Sink)
	}
	if !c.Tracing.Enabled || c.Tracing.SampleRatio != 0.25 || !c.Logger.IsProd || c.Logger.Level != "warn" {
		t.Fatalf("Tracing/Logger overrides wrong: %+v %+v", c.Tracing, c.Logger)
	}
}

// Тоже меняем окружение — но с невалидными значениями.
func TestLoadWithPrefix_InvalidValues_ReturnError(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantSub string
	}{
		{"bad duration", map[string]string{"_READER_TIMEOUT": "not-a-duration"}, "TIMEOUT"},
		{"unknown broker", map[string]string{"_BROKER_KIND": "mqtt"}, "broker kind"},
		{"unknown sink", map[string]string{"_SINK_KIND": "s3"}, "sink kind"},
		{"file sink without path", map[string]string{"_SINK_KIND": "file"}, "SINK_OUTPUT"},
		{"zero chunk", map[string]string{"_BATCH_CHUNK_SIZE": "0"}, "chunk size"},
		{"negative timeout", map[string]string{"_READER_TIMEOUT": "-1s"}, "negative"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := "MQREADER_TEST_BAD_" + string(rune('A'+i))
			for k, v := range tt.env {
				t.Setenv(p+k, v)
			}

			_, err := cfg.LoadWithPrefix(p)
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("want error containing %q, got %v", tt.wantSub, err)
			}
		})
	}
}
