package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsFile is the snapshot file name written into the work directory.
const MetricsFile = "mdprep-metrics.json"

// Metrics holds the timing and outcome metrics of pipeline runs.
type Metrics struct {
	// Stage metrics
	stageDuration   *HistogramVec
	stagesCompleted *Counter
	stageFailures   *CounterVec

	// Engine metrics
	engineDuration    *HistogramVec
	engineInvocations *CounterVec

	// Template and ledger metrics
	renderDuration *Histogram
	ledgerWrite    *Histogram
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics() *Metrics {
	return &Metrics{
		stageDuration:   NewHistogramVec(),
		stagesCompleted: &Counter{},
		stageFailures:   NewCounterVec(),

		engineDuration:    NewHistogramVec(),
		engineInvocations: NewCounterVec(),

		renderDuration: NewHistogram(),
		ledgerWrite:    NewHistogram(),
	}
}

// StageDuration is labeled by stage kind.
func (m *Metrics) StageDuration() *HistogramVec { return m.stageDuration }
func (m *Metrics) StagesCompleted() *Counter    { return m.stagesCompleted }

// StageFailures is labeled by failure kind.
func (m *Metrics) StageFailures() *CounterVec { return m.stageFailures }

// EngineDuration and EngineInvocations are labeled by command step.
func (m *Metrics) EngineDuration() *HistogramVec  { return m.engineDuration }
func (m *Metrics) EngineInvocations() *CounterVec { return m.engineInvocations }

func (m *Metrics) RenderDuration() *Histogram { return m.renderDuration }
func (m *Metrics) LedgerWrite() *Histogram    { return m.ledgerWrite }

// Snapshot returns a snapshot of all metrics for reporting.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	return &MetricsSnapshot{
		StageDuration:   m.stageDuration.Snapshot(),
		StagesCompleted: m.stagesCompleted.Get(),
		StageFailures:   m.stageFailures.Snapshot(),

		EngineDuration:    m.engineDuration.Snapshot(),
		EngineInvocations: m.engineInvocations.Snapshot(),

		RenderDuration: m.renderDuration.Snapshot(),
		LedgerWrite:    m.ledgerWrite.Snapshot(),
	}
}

// MetricsSnapshot holds a point-in-time snapshot of all metrics.
type MetricsSnapshot struct {
	StageDuration   map[string]HistogramSnapshot `json:"stage_duration"`
	StagesCompleted int64                        `json:"stages_completed"`
	StageFailures   map[string]int64             `json:"stage_failures"`

	EngineDuration    map[string]HistogramSnapshot `json:"engine_duration"`
	EngineInvocations map[string]int64             `json:"engine_invocations"`

	RenderDuration HistogramSnapshot `json:"render_duration"`
	LedgerWrite    HistogramSnapshot `json:"ledger_write"`
}

// WriteFile writes the snapshot as indented JSON into dir/MetricsFile.
func (s *MetricsSnapshot) WriteFile(dir string) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, MetricsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// WriteText writes a human-readable summary.
func (s *MetricsSnapshot) WriteText(w io.Writer) {
	fmt.Fprintf(w, "## Stage Metrics\n\n")
	fmt.Fprintf(w, "Stages completed: %d\n", s.StagesCompleted)
	writeHistogramVec(w, "Stage duration by kind", s.StageDuration)
	writeCounterVec(w, "Stage failures by kind", s.StageFailures)

	fmt.Fprintf(w, "\n## Engine Metrics\n\n")
	writeHistogramVec(w, "Engine duration by step", s.EngineDuration)
	writeCounterVec(w, "Engine invocations by step", s.EngineInvocations)

	fmt.Fprintf(w, "\n")
	writeHistogramSummary(w, "Template render", s.RenderDuration)
	writeHistogramSummary(w, "Ledger write", s.LedgerWrite)
}

// Histogram tracks the distribution of duration measurements.
// Thread-safe for concurrent observations.
type Histogram struct {
	mu     sync.RWMutex
	values []float64 // Stored in microseconds for precision
}

// NewHistogram creates a new histogram.
func NewHistogram() *Histogram {
	return &Histogram{
		values: make([]float64, 0, 16),
	}
}

// Observe records a duration measurement.
func (h *Histogram) Observe(d time.Duration) {
	micros := float64(d.Microseconds())
	h.mu.Lock()
	h.values = append(h.values, micros)
	h.mu.Unlock()
}

// Snapshot returns a point-in-time snapshot with percentiles calculated.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.values) == 0 {
		return HistogramSnapshot{}
	}

	sorted := make([]float64, len(h.values))
	copy(sorted, h.values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	return HistogramSnapshot{
		Count: len(sorted),
		Total: time.Duration(sum) * time.Microsecond,
		Mean:  time.Duration(mean) * time.Microsecond,
		P50:   time.Duration(percentile(sorted, 0.50)) * time.Microsecond,
		P95:   time.Duration(percentile(sorted, 0.95)) * time.Microsecond,
		Max:   time.Duration(sorted[len(sorted)-1]) * time.Microsecond,
	}
}

// HistogramSnapshot holds calculated statistics for a histogram.
type HistogramSnapshot struct {
	Count int           `json:"count"`
	Total time.Duration `json:"total"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	Max   time.Duration `json:"max"`
}

// percentile calculates the p-th percentile from sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))

	if lower == upper {
		return sorted[lower]
	}

	// Linear interpolation
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// HistogramVec is a collection of histograms with labels.
type HistogramVec struct {
	mu         sync.RWMutex
	histograms map[string]*Histogram
}

// NewHistogramVec creates a new histogram vector.
func NewHistogramVec() *HistogramVec {
	return &HistogramVec{
		histograms: make(map[string]*Histogram),
	}
}

// WithLabels returns a histogram for the given label string.
func (hv *HistogramVec) WithLabels(labels string) *Histogram {
	hv.mu.RLock()
	h, ok := hv.histograms[labels]
	hv.mu.RUnlock()

	if ok {
		return h
	}

	hv.mu.Lock()
	defer hv.mu.Unlock()

	// Double-check after acquiring write lock
	if h, ok := hv.histograms[labels]; ok {
		return h
	}

	h = NewHistogram()
	hv.histograms[labels] = h
	return h
}

// Snapshot returns snapshots of all histograms.
func (hv *HistogramVec) Snapshot() map[string]HistogramSnapshot {
	hv.mu.RLock()
	defer hv.mu.RUnlock()

	snapshot := make(map[string]HistogramSnapshot, len(hv.histograms))
	for label, h := range hv.histograms {
		snapshot[label] = h.Snapshot()
	}
	return snapshot
}

// Counter is a monotonically increasing counter using atomic operations.
type Counter struct {
	value int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

// Get returns the current value.
func (c *Counter) Get() int64 {
	return atomic.LoadInt64(&c.value)
}

// CounterVec is a collection of counters with labels.
type CounterVec struct {
	mu       sync.RWMutex
	counters map[string]*Counter
}

// NewCounterVec creates a new counter vector.
func NewCounterVec() *CounterVec {
	return &CounterVec{
		counters: make(map[string]*Counter),
	}
}

// WithLabels returns a counter for the given label string.
func (cv *CounterVec) WithLabels(labels string) *Counter {
	cv.mu.RLock()
	c, ok := cv.counters[labels]
	cv.mu.RUnlock()

	if ok {
		return c
	}

	cv.mu.Lock()
	defer cv.mu.Unlock()

	if c, ok := cv.counters[labels]; ok {
		return c
	}

	c = &Counter{}
	cv.counters[labels] = c
	return c
}

// Snapshot returns the current values of all counters.
func (cv *CounterVec) Snapshot() map[string]int64 {
	cv.mu.RLock()
	defer cv.mu.RUnlock()

	snapshot := make(map[string]int64, len(cv.counters))
	for label, c := range cv.counters {
		snapshot[label] = c.Get()
	}
	return snapshot
}

func writeHistogramSummary(w io.Writer, name string, h HistogramSnapshot) {
	if h.Count == 0 {
		fmt.Fprintf(w, "%s: no data\n", name)
		return
	}
	fmt.Fprintf(w, "%s (n=%d): total %v, mean %v, p95 %v, max %v\n",
		name, h.Count, h.Total, h.Mean, h.P95, h.Max)
}

func writeHistogramVec(w io.Writer, name string, vec map[string]HistogramSnapshot) {
	if len(vec) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", name)
	for _, label := range sortedKeys(vec) {
		h := vec[label]
		fmt.Fprintf(w, "  %s: n=%d total %v, mean %v, max %v\n", label, h.Count, h.Total, h.Mean, h.Max)
	}
}

func writeCounterVec(w io.Writer, name string, vec map[string]int64) {
	if len(vec) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", name)
	for _, label := range sortedKeys(vec) {
		fmt.Fprintf(w, "  %s: %d\n", label, vec[label])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
