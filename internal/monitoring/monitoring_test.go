package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "info", "json")
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("sealed", "capsule_id", "abc")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "sealed", entry["msg"])
	assert.Equal(t, "abc", entry["capsule_id"])
	assert.Equal(t, "capsule", entry["component"])
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger(nil, "loud", "json")
	assert.Error(t, err)
	_, err = NewLogger(nil, "info", "xml")
	assert.Error(t, err)
}

func TestLoggingObservabilityHook(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "debug", "text")
	require.NoError(t, err)

	hook := NewLoggingObservabilityHook(logger)
	ctx := context.Background()
	hook.OnProcessStart(ctx, "seal", nil)
	hook.OnProcessComplete(ctx, "seal", time.Millisecond, nil, map[string]any{"capsule_id": "abc"})
	hook.OnProcessComplete(ctx, "access", time.Millisecond, errors.New("expired"), nil)
	hook.OnError(ctx, "seal.upload", errors.New("bucket gone"), nil)
	hook.OnKeyOperation(ctx, "issue", "key-1", nil)

	out := buf.String()
	assert.Contains(t, out, "operation started")
	assert.Contains(t, out, "operation completed")
	assert.Contains(t, out, "operation failed")
	assert.Contains(t, out, "bucket gone")
	assert.Contains(t, out, "key-1")
}

func TestMetricsObservabilityHook(t *testing.T) {
	collector := NewInMemoryMetricsCollector()
	hook := NewMetricsObservabilityHook(collector)
	ctx := context.Background()

	hook.OnProcessStart(ctx, "seal", nil)
	hook.OnProcessComplete(ctx, "seal", 5*time.Millisecond, nil, nil)
	hook.OnProcessComplete(ctx, "seal", time.Millisecond, errors.New("boom"), nil)
	hook.OnKeyOperation(ctx, "issue", "key-1", nil)

	assert.Equal(t, int64(1), collector.GetCounter("capsule.process.started", map[string]string{"operation": "seal"}))
	assert.Equal(t, int64(1), collector.GetCounter("capsule.process.succeeded", map[string]string{"operation": "seal", "status": "success"}))
	assert.Equal(t, int64(1), collector.GetCounter("capsule.process.failed", map[string]string{"operation": "seal", "status": "error"}))
	assert.Equal(t, int64(1), collector.GetCounter("capsule.key_operations", map[string]string{"operation": "issue"}))
	assert.Equal(t, []time.Duration{5 * time.Millisecond},
		collector.GetTimings("capsule.process.duration", map[string]string{"operation": "seal", "status": "success"}))
}

func TestCompositeObservabilityHook(t *testing.T) {
	a, b := NewInMemoryMetricsCollector(), NewInMemoryMetricsCollector()
	hook := NewCompositeObservabilityHook(NewMetricsObservabilityHook(a), NewMetricsObservabilityHook(b), &NoOpObservabilityHook{})

	hook.OnError(context.Background(), "access", errors.New("x"), nil)

	tags := map[string]string{"operation": "access", "error": "*errors.errorString"}
	assert.Equal(t, int64(1), a.GetCounter("capsule.errors", tags))
	assert.Equal(t, int64(1), b.GetCounter("capsule.errors", tags))
}

func TestKeyWithTags_Stable(t *testing.T) {
	assert.Equal(t, "m", keyWithTags("m", nil))
	assert.Equal(t, "m,a=1,b=2", keyWithTags("m", map[string]string{"b": "2", "a": "1"}))
}

func TestInMemoryMetricsCollector_Counters(t *testing.T) {
	collector := NewInMemoryMetricsCollector()
	collector.IncrementCounter("a", map[string]string{"op": "seal"})
	collector.IncrementCounter("a", map[string]string{"op": "seal"})

	counters := collector.Counters()
	assert.Equal(t, map[string]int64{"a,op=seal": 2}, counters)

	counters["a,op=seal"] = 10
	assert.Equal(t, int64(2), collector.GetCounter("a", map[string]string{"op": "seal"}))
}
