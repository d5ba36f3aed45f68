// Package monitoring records per-stage timings and memory deltas for
// pipeline runs.
package monitoring

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"
)

// StageMetrics represents performance metrics for a single pipeline stage.
type StageMetrics struct {
	Stage         string        `json:"stage"`
	Duration      time.Duration `json:"duration"`
	RowsProcessed int64         `json:"rows_processed"`
	MemoryUsed    int64         `json:"memory_used"`
	Failed        bool          `json:"failed"`
}

// MetricsCollector collects and stores stage metrics.
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics []StageMetrics
	enabled bool
	now     func() time.Time
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector(enabled bool) *MetricsCollector {
	return &MetricsCollector{
		metrics: make([]StageMetrics, 0),
		enabled: enabled,
		now:     time.Now,
	}
}

// IsEnabled returns whether metrics collection is enabled.
func (mc *MetricsCollector) IsEnabled() bool {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.enabled
}

// RecordStage executes fn and records its duration, the row count it
// reports and the change in heap allocation. Failed stages are recorded too.
func (mc *MetricsCollector) RecordStage(stage string, fn func() (int, error)) error {
	if !mc.IsEnabled() {
		_, err := fn()
		return err
	}

	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)
	start := mc.now()

	rows, err := fn()

	duration := mc.now().Sub(start)
	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)

	mc.mu.Lock()
	mc.metrics = append(mc.metrics, StageMetrics{
		Stage:         stage,
		Duration:      duration,
		RowsProcessed: int64(rows),
		MemoryUsed:    int64(memAfter.HeapAlloc) - int64(memBefore.HeapAlloc), //nolint:gosec // heap sizes fit in int64
		Failed:        err != nil,
	})
	mc.mu.Unlock()

	return err
}

// GetMetrics returns a copy of all collected metrics.
func (mc *MetricsCollector) GetMetrics() []StageMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make([]StageMetrics, len(mc.metrics))
	copy(result, mc.metrics)
	return result
}

// Clear removes all collected metrics.
func (mc *MetricsCollector) Clear() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics = mc.metrics[:0]
}

// GetSummary returns a summary of collected metrics.
func (mc *MetricsCollector) GetSummary() MetricsSummary {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if len(mc.metrics) == 0 {
		return MetricsSummary{}
	}

	summary := MetricsSummary{
		TotalStages: len(mc.metrics),
		StageCounts: make(map[string]int),
	}
	for _, m := range mc.metrics {
		summary.TotalDuration += m.Duration
		summary.TotalRows += m.RowsProcessed
		summary.StageCounts[m.Stage]++
		if m.Failed {
			summary.Failures++
		}
		if m.Duration > summary.Slowest.Duration {
			summary.Slowest = m
		}
	}
	summary.AverageDuration = summary.TotalDuration / time.Duration(len(mc.metrics))
	return summary
}

// Table renders the metrics one stage per line.
func (mc *MetricsCollector) Table() string {
	metrics := mc.GetMetrics()
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-16s %12s %10s %12s", "stage", "duration", "rows", "heap delta")
	for _, m := range metrics {
		status := ""
		if m.Failed {
			status = " FAILED"
		}
		fmt.Fprintf(&sb, "\n%-16s %12s %10d %12s%s",
			m.Stage, m.Duration.Round(time.Millisecond), m.RowsProcessed, formatBytes(m.MemoryUsed), status)
	}
	return sb.String()
}

func formatBytes(n int64) string {
	const unit = 1024
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	if n < unit {
		return fmt.Sprintf("%s%dB", sign, n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%s%.1f%ciB", sign, float64(n)/float64(div), "KMGTPE"[exp])
}

// MetricsSummary provides aggregate statistics for collected metrics.
type MetricsSummary struct {
	TotalStages     int            `json:"total_stages"`
	TotalDuration   time.Duration  `json:"total_duration"`
	TotalRows       int64          `json:"total_rows"`
	Failures        int            `json:"failures"`
	StageCounts     map[string]int `json:"stage_counts"`
	AverageDuration time.Duration  `json:"average_duration"`
	Slowest         StageMetrics   `json:"slowest"`
}
