package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ObservabilityHook receives lifecycle events for sealing, claim issuance and access.
type ObservabilityHook interface {
	// Called before an operation starts
	OnProcessStart(ctx context.Context, operation string, metadata map[string]any)

	// Called after an operation completes (success or failure)
	OnProcessComplete(ctx context.Context, operation string, duration time.Duration, err error, metadata map[string]any)

	// Called for failures that do not abort the operation, such as a blob upload
	OnError(ctx context.Context, operation string, err error, metadata map[string]any)

	// Called when a symmetric key is issued, resolved or deprecated
	OnKeyOperation(ctx context.Context, operation string, keyID string, metadata map[string]any)
}

// NoOpObservabilityHook is a no-op implementation of ObservabilityHook
type NoOpObservabilityHook struct{}

func (n *NoOpObservabilityHook) OnProcessStart(ctx context.Context, operation string, metadata map[string]any) {
}
func (n *NoOpObservabilityHook) OnProcessComplete(ctx context.Context, operation string, duration time.Duration, err error, metadata map[string]any) {
}
func (n *NoOpObservabilityHook) OnError(ctx context.Context, operation string, err error, metadata map[string]any) {
}
func (n *NoOpObservabilityHook) OnKeyOperation(ctx context.Context, operation string, keyID string, metadata map[string]any) {
}

// LoggingObservabilityHook writes every event to a slog.Logger.
type LoggingObservabilityHook struct {
	logger *slog.Logger
}

// NewLoggingObservabilityHook creates a new logging observability hook
func NewLoggingObservabilityHook(logger *slog.Logger) *LoggingObservabilityHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObservabilityHook{logger: logger}
}

func (l *LoggingObservabilityHook) OnProcessStart(ctx context.Context, operation string, metadata map[string]any) {
	l.logger.DebugContext(ctx, "operation started", "operation", operation, "metadata", metadata)
}

func (l *LoggingObservabilityHook) OnProcessComplete(ctx context.Context, operation string, duration time.Duration, err error, metadata map[string]any) {
	if err != nil {
		l.logger.ErrorContext(ctx, "operation failed",
			"operation", operation, "duration", duration, "error", err, "metadata", metadata)
		return
	}
	l.logger.InfoContext(ctx, "operation completed",
		"operation", operation, "duration", duration, "metadata", metadata)
}

func (l *LoggingObservabilityHook) OnError(ctx context.Context, operation string, err error, metadata map[string]any) {
	l.logger.WarnContext(ctx, "operation error", "operation", operation, "error", err, "metadata", metadata)
}

func (l *LoggingObservabilityHook) OnKeyOperation(ctx context.Context, operation string, keyID string, metadata map[string]any) {
	l.logger.InfoContext(ctx, "key operation", "operation", operation, "key_id", keyID, "metadata", metadata)
}

// MetricsObservabilityHook turns events into counters and timings.
type MetricsObservabilityHook struct {
	collector MetricsCollector
}

// NewMetricsObservabilityHook creates a new metrics observability hook
func NewMetricsObservabilityHook(collector MetricsCollector) *MetricsObservabilityHook {
	if collector == nil {
		collector = &NoOpMetricsCollector{}
	}
	return &MetricsObservabilityHook{collector: collector}
}

func (m *MetricsObservabilityHook) OnProcessStart(ctx context.Context, operation string, metadata map[string]any) {
	m.collector.IncrementCounter("capsule.process.started", map[string]string{"operation": operation})
}

func (m *MetricsObservabilityHook) OnProcessComplete(ctx context.Context, operation string, duration time.Duration, err error, metadata map[string]any) {
	tags := map[string]string{"operation": operation}
	if err != nil {
		tags["status"] = "error"
		m.collector.IncrementCounter("capsule.process.failed", tags)
	} else {
		tags["status"] = "success"
		m.collector.IncrementCounter("capsule.process.succeeded", tags)
	}
	m.collector.RecordTiming("capsule.process.duration", duration, tags)
}

func (m *MetricsObservabilityHook) OnError(ctx context.Context, operation string, err error, metadata map[string]any) {
	m.collector.IncrementCounter("capsule.errors", map[string]string{
		"operation": operation,
		"error":     fmt.Sprintf("%T", err),
	})
}

func (m *MetricsObservabilityHook) OnKeyOperation(ctx context.Context, operation string, keyID string, metadata map[string]any) {
	m.collector.IncrementCounter("capsule.key_operations", map[string]string{"operation": operation})
}

// CompositeObservabilityHook fans events out to several hooks.
type CompositeObservabilityHook struct {
	hooks []ObservabilityHook
}

func NewCompositeObservabilityHook(hooks ...ObservabilityHook) *CompositeObservabilityHook {
	return &CompositeObservabilityHook{hooks: hooks}
}

func (c *CompositeObservabilityHook) OnProcessStart(ctx context.Context, operation string, metadata map[string]any) {
	for _, hook := range c.hooks {
		hook.OnProcessStart(ctx, operation, metadata)
	}
}

func (c *CompositeObservabilityHook) OnProcessComplete(ctx context.Context, operation string, duration time.Duration, err error, metadata map[string]any) {
	for _, hook := range c.hooks {
		hook.OnProcessComplete(ctx, operation, duration, err, metadata)
	}
}

func (c *CompositeObservabilityHook) OnError(ctx context.Context, operation string, err error, metadata map[string]any) {
	for _, hook := range c.hooks {
		hook.OnError(ctx, operation, err, metadata)
	}
}

func (c *CompositeObservabilityHook) OnKeyOperation(ctx context.Context, operation string, keyID string, metadata map[string]any) {
	for _, hook := range c.hooks {
		hook.OnKeyOperation(ctx, operation, keyID, metadata)
	}
}
