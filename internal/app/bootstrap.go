package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Gunvolt24/mq_reader/config"
	"github.com/Gunvolt24/mq_reader/internal/batch"
	"github.com/Gunvolt24/mq_reader/internal/broker/amqp"
	"github.com/Gunvolt24/mq_reader/internal/broker/kafka"
	"github.com/Gunvolt24/mq_reader/internal/broker/nats"
	"github.com/Gunvolt24/mq_reader/internal/broker/redis"
	"github.com/Gunvolt24/mq_reader/internal/broker/sqs"
	"github.com/Gunvolt24/mq_reader/internal/ports"
	"github.com/Gunvolt24/mq_reader/internal/reader"
	"github.com/Gunvolt24/mq_reader/internal/sink/jsonl"
	"github.com/Gunvolt24/mq_reader/internal/sink/postgres"
	rest "github.com/Gunvolt24/mq_reader/internal/transport/http"
	"github.com/Gunvolt24/mq_reader/pkg/ctxmeta"
	"github.com/Gunvolt24/mq_reader/pkg/logger"
	"github.com/Gunvolt24/mq_reader/pkg/metrics"
	"github.com/Gunvolt24/mq_reader/pkg/telemetry"
	"github.com/Gunvolt24/mq_reader/pkg/validate"
)

// App — собранное приложение: задача чтения и служебный HTTP-сервер.
type App struct {
	Logger          ports.Logger  // логгер
	HTTPServer      *http.Server  // HTTP-сервер; nil — выключен
	Job             ports.Job     // задача чтения назначения
	Destination     string        // назначение для метаданных логов
	gracefulTimeout time.Duration // время ожидания завершения HTTP-сервера
}

// Cleanup — функция освобождения ресурсов.
type Cleanup func()

// applyGinMode — устанавливает режим Gin по строке;
// неизвестное значение → debug и предупреждение в лог.
func applyGinMode(ctx context.Context, mode string, log ports.Logger) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	case "", "debug":
		gin.SetMode(gin.DebugMode)
	default:
		gin.SetMode(gin.DebugMode)
		log.Warnf(ctx, "unknown GIN_MODE=%q, fallback to debug", mode)
	}
}

// Bootstrap — собирает зависимости и возвращает приложение, функцию очистки и ошибку.
func Bootstrap(ctx context.Context, cfg *config.Config) (*App, Cleanup, error) {
	logg, cleanupLogger, err := logger.New(logger.Options{Production: cfg.Logger.IsProd, Level: cfg.Logger.Level})
	if err != nil {
		return nil, func() {}, err
	}

	// cleanups выполняются в обратном порядке; при ошибке сборки — сразу.
	var cleanups []func()
	runCleanups := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	cleanups = append(cleanups, func() {
		if cErr := cleanupLogger(); cErr != nil && !isSyncNoise(cErr) {
			logg.Warnf(ctx, "cleanup logger: %v", cErr)
		}
	})
	fail := func(err error) (*App, Cleanup, error) {
		runCleanups()
		return nil, func() {}, err
	}

	metrics.MustRegister()

	shutdownTrace, err := telemetry.SetupTracing(ctx, telemetry.Options{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  map[string]string{"mq.broker": cfg.Broker.Kind},
	})
	if err != nil {
		logg.Warnf(ctx, "failed to setup tracing: %v", err)
		shutdownTrace = func(context.Context) error { return nil }
	} else if cfg.Tracing.Enabled {
		logg.Infof(ctx, "otel tracing enabled service=%s endpoint=%s sample=%.2f",
			cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.SampleRatio)
	}
	cleanups = append(cleanups, func() {
		if tErr := shutdownTrace(context.Background()); tErr != nil {
			logg.Warnf(ctx, "shutdown tracing: %v", tErr)
		}
	})

	session, err := NewSession(ctx, cfg, logg)
	if err != nil {
		return fail(fmt.Errorf("broker session: %w", err))
	}
	cleanups = append(cleanups, func() {
		if sErr := session.Close(); sErr != nil {
			logg.Warnf(ctx, "broker session close error: %v", sErr)
		}
	})

	writer, err := NewWriter(ctx, cfg, logg)
	if err != nil {
		return fail(fmt.Errorf("item writer: %w", err))
	}
	cleanups = append(cleanups, func() {
		if wErr := writer.Close(); wErr != nil {
			logg.Warnf(ctx, "item writer close error: %v", wErr)
		}
	})

	shape, err := reader.ParseShape(cfg.Reader.TargetShape)
	if err != nil {
		return fail(err)
	}
	itemReader := reader.NewReader(reader.Config{
		Timeout:        cfg.Reader.Timeout,
		TargetShape:    shape,
		SkipValidation: cfg.Reader.SkipValidation,
	}, session, validate.NewItemValidator(), logg)

	runner := batch.NewChunkRunner(batch.Config{
		Destination: cfg.Reader.Destination,
		Selector:    cfg.Reader.Selector,
		ChunkSize:   cfg.Batch.ChunkSize,
		SkipLimit:   cfg.Batch.SkipLimit,
	}, itemReader, writer, logg)

	app := &App{
		Logger:          logg,
		Job:             runner,
		Destination:     cfg.Reader.Destination,
		gracefulTimeout: cfg.HTTP.GracefulTimeout,
	}

	if cfg.HTTP.Enabled {
		applyGinMode(ctx, cfg.HTTP.GinMode, logg)

		otelServiceName := ""
		if cfg.Tracing.Enabled {
			otelServiceName = cfg.Tracing.ServiceName
		}

		h := rest.NewHandler(runner, rest.Info{
			Broker:      cfg.Broker.Kind,
			Destination: cfg.Reader.Destination,
			Selector:    cfg.Reader.Selector,
			Sink:        cfg.Sink.Kind,
		}, logg)

		app.HTTPServer = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           rest.NewRouter(h, otelServiceName),
			ReadTimeout:       cfg.HTTP.ReadTimeout,
			WriteTimeout:      cfg.HTTP.WriteTimeout,
			ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
			IdleTimeout:       cfg.HTTP.IdleTimeout,
		}
	}

	return app, runCleanups, nil
}

// NewSession — сессия брокера по cfg.Broker.Kind.
func NewSession(ctx context.Context, cfg *config.Config, log ports.Logger) (ports.Session, error) {
	switch cfg.Broker.Kind {
	case config.BrokerKafka:
		return kafka.NewSession(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			GroupID:      cfg.Kafka.GroupID,
			StartOffset:  cfg.Kafka.StartOffset,
			MaxWait:      cfg.Kafka.MaxWait,
			DialTimeout:  cfg.Kafka.DialTimeout,
			RetryInitial: cfg.Kafka.RetryInitial,
			RetryMax:     cfg.Kafka.RetryMax,
		}, log), nil
	case config.BrokerAMQP:
		return amqp.NewSession(amqp.Config{
			URL:         cfg.AMQP.URL,
			Prefetch:    cfg.AMQP.Prefetch,
			ConsumerTag: cfg.AMQP.ConsumerTag,
		}, log), nil
	case config.BrokerNATS:
		return nats.NewSession(nats.Config{
			URL:            cfg.NATS.URL,
			QueueGroup:     cfg.NATS.QueueGroup,
			ConnectTimeout: cfg.NATS.ConnectTimeout,
		}, log), nil
	case config.BrokerRedis:
		return redis.NewSession(redis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Group:        cfg.Redis.Group,
			Consumer:     cfg.Redis.Consumer,
			StartID:      cfg.Redis.StartID,
			Block:        cfg.Redis.Block,
			RetryInitial: cfg.Redis.RetryInitial,
			RetryMax:     cfg.Redis.RetryMax,
		}, log), nil
	case config.BrokerSQS:
		return sqs.NewSession(ctx, sqs.Config{
			Region:            cfg.SQS.Region,
			Endpoint:          cfg.SQS.Endpoint,
			WaitTimeSeconds:   cfg.SQS.WaitTimeSeconds,
			VisibilityTimeout: cfg.SQS.VisibilityTimeout,
			RetryInitial:      cfg.SQS.RetryInitial,
			RetryMax:          cfg.SQS.RetryMax,
		}, log)
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
	}
}

// NewWriter — приёмник элементов по cfg.Sink.Kind.
func NewWriter(ctx context.Context, cfg *config.Config, log ports.Logger) (ports.ItemWriter, error) {
	switch cfg.Sink.Kind {
	case config.SinkStdout, "":
		return jsonl.NewWriter(os.Stdout, false), nil
	case config.SinkFile:
		f, err := os.OpenFile(cfg.Sink.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		return jsonl.NewWriter(f, true), nil
	case config.SinkPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		return postgres.NewItemWriter(pool, cfg.Reader.Destination, log), nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
	}
}

// Run — запускает HTTP-сервер и задачу; ждёт завершения задачи, отмены контекста
// или ошибки сервера, затем останавливает сервер. Возвращает ошибку задачи.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxmeta.WithDestination(ctx, a.Destination)
	ctx = ctxmeta.WithRunID(ctx, uuid.NewString())

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	jobDone := make(chan error, 1)
	go func() {
		a.Logger.Infof(ctx, "job starting")
		jobDone <- a.Job.Run(jobCtx)
	}()

	httpErr := make(chan error, 1)
	if a.HTTPServer != nil {
		go func() {
			a.Logger.Infof(ctx, "http server starting (addr=%s)", a.HTTPServer.Addr)
			if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()
	}

	var jobErr error
	select {
	case jobErr = <-jobDone:
		if jobErr != nil {
			a.Logger.Errorf(ctx, "job failed: %v", jobErr)
		} else {
			a.Logger.Infof(ctx, "job finished")
		}
	case <-ctx.Done():
		a.Logger.Infof(ctx, "shutdown requested, stopping job")
		cancelJob()
		jobErr = <-jobDone
		if errors.Is(jobErr, context.Canceled) {
			jobErr = nil
		}
	case err := <-httpErr:
		a.Logger.Warnf(ctx, "http server error: %v", err)
		cancelJob()
		<-jobDone
		jobErr = fmt.Errorf("http server: %w", err)
	}

	a.shutdownHTTP(ctx)
	a.Logger.Infof(ctx, "service stopped")
	return jobErr
}

func (a *App) shutdownHTTP(ctx context.Context) {
	if a.HTTPServer == nil {
		return
	}

	gt := a.gracefulTimeout
	if gt <= 0 {
		gt = 5 * time.Second
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gt)
	defer cancel()

	if err := a.HTTPServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warnf(ctx, "http server shutdown failed: %v", err)
	} else {
		a.Logger.Infof(ctx, "http server stopped gracefully")
	}
}

// isSyncNoise — Sync на stdout/stderr в терминале возвращает EINVAL/ENOTTY.
func isSyncNoise(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") || strings.Contains(msg, "inappropriate ioctl")
}
