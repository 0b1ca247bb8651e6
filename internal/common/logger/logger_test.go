package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return FromZap("orders", zap.New(core)), logs
}

func TestEntriesCarryActionAndService(t *testing.T) {
	l, logs := observed(zapcore.DebugLevel)
	l.Named("hub").Info(ActionSubscriberJoined, map[string]any{"tenant_id": "t1"})

	require.Equal(t, 1, logs.Len())
	e := logs.All()[0]
	assert.Equal(t, ActionSubscriberJoined, e.Message)
	fields := e.ContextMap()
	assert.Equal(t, "orders", fields["service"])
	assert.Equal(t, "hub", fields["component"])
	assert.Equal(t, ActionSubscriberJoined, fields["action"])
	assert.Equal(t, "t1", fields["tenant_id"])
	assert.Equal(t, "", fields["request_id"])
}

func TestErrorsAreNested(t *testing.T) {
	l, logs := observed(zapcore.DebugLevel)
	l.Error(ActionServiceFailed, errors.New("boom"), nil)

	require.Equal(t, 1, logs.Len())
	e := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, e.Level)
	errField, ok := e.ContextMap()["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "boom", errField["msg"])
}

func TestLevelFiltersDebug(t *testing.T) {
	l, logs := observed(zapcore.InfoLevel)
	l.Debug(ActionDashboardEventApplied, nil)
	l.Warn(ActionWebsocketFailed, errors.New("reset"), nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}

func TestFieldsAddsRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	in := map[string]any{"order_id": "o1"}
	out := Fields(ctx, in)
	assert.Equal(t, "req-1", out["request_id"])
	assert.Equal(t, "o1", out["order_id"])
	assert.NotContains(t, in, "request_id")

	assert.NotContains(t, Fields(context.Background(), in), "request_id")
}

func TestNewWithOptionsRejectsUnknownLevel(t *testing.T) {
	_, err := NewWithOptions("orders", Options{Level: "chatty"})
	assert.Error(t, err)
}
