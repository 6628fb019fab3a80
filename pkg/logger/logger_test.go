package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"mailwarm/pkg/trace"
)

func TestWithTraceAttachesField(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := trace.WithContext(context.Background(), "abc123")
	WithTrace(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "abc123", fields["trace_id"])
}

func TestWithTraceNoID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	WithTrace(context.Background(), base).Info("hello")

	require.Equal(t, 1, logs.Len())
	_, ok := logs.All()[0].ContextMap()["trace_id"]
	assert.False(t, ok)
}
