//go:build integration

package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Gunvolt24/mq_reader/internal/broker"
	iredis "github.com/Gunvolt24/mq_reader/internal/broker/redis"
	"github.com/Gunvolt24/mq_reader/internal/reader"
	"github.com/Gunvolt24/mq_reader/internal/testutil"
	"github.com/Gunvolt24/mq_reader/pkg/logger"
)

// 1) Записи stream по порядку, generic-запись — UnsupportedMessageTypeError, затем конец потока
func TestRedis_ReadAll_ThenEndOfStream_TC(t *testing.T) {
	ctx, addr, _ := startRedis(t)
	stream := "items-" + testutil.UniqSuffix()

	require.NoError(t, testutil.PublishRedis(ctx, addr, stream,
		testutil.MakeMessage(testutil.WithText("hello")),
		testutil.MakeMessage(),
		testutil.MakeMessage(testutil.WithType("Ping"), testutil.WithoutBody()),
	))

	r := reader.NewReader(reader.Config{Timeout: time.Second}, newSession(t, addr), nil, newLogger(t))
	require.NoError(t, r.Open(ctx, stream, ""))
	defer r.Close()

	item, err := r.ReadItem(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", item)

	item, err = r.ReadItem(ctx)
	require.NoError(t, err)
	require.IsType(t, map[string]any{}, item)

	_, err = r.ReadItem(ctx)
	var uErr *reader.UnsupportedMessageTypeError
	require.ErrorAs(t, err, &uErr)
	require.Equal(t, "Ping", uErr.TypeName)

	_, err = r.ReadItem(ctx)
	require.True(t, errors.Is(err, reader.ErrEndOfStream), "want end of stream, got %v", err)
}

// 2) Сервер пропал посреди чтения — ошибка брокера, а не конец потока
func TestRedis_ServerGone_IsNotEndOfStream_TC(t *testing.T) {
	ctx, addr, stop := startRedis(t)
	stream := "outage-" + testutil.UniqSuffix()

	require.NoError(t, testutil.PublishRedis(ctx, addr, stream, testutil.MakeMessage(testutil.WithText("before"))))

	r := reader.NewReader(reader.Config{Timeout: 5 * time.Second}, newSession(t, addr), nil, newLogger(t))
	require.NoError(t, r.Open(ctx, stream, ""))
	defer r.Close()

	item, err := r.ReadItem(ctx)
	require.NoError(t, err)
	require.Equal(t, "before", item)

	require.NoError(t, stop(ctx))

	_, err = r.ReadItem(ctx)
	require.False(t, errors.Is(err, reader.ErrEndOfStream), "broker outage reported as end of stream")
	var fetchErr *broker.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, stream, fetchErr.Destination)
}

// -----------------функции-помощники-----------------

func startRedis(t *testing.T) (context.Context, string, testutil.StopFunc) {
	t.Helper()

	ctxStart, cancelStart := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancelStart)

	svc, stop, err := testutil.StartRedisTC(ctxStart)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx, svc.Endpoint, stop
}

func newLogger(t *testing.T) *logger.ZapLogger {
	t.Helper()
	logg, cleanup, err := logger.NewZapLogger(false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cleanup() })
	return logg
}

func newSession(t *testing.T, addr string) *iredis.Session {
	t.Helper()
	s := iredis.NewSession(iredis.Config{
		Addr:         addr,
		Group:        "mq-reader-itc",
		Block:        200 * time.Millisecond,
		RetryInitial: 100 * time.Millisecond,
		RetryMax:     time.Second,
	}, newLogger(t))
	t.Cleanup(func() { _ = s.Close() })
	return s
}
