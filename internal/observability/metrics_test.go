package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHistogramSnapshot(t *testing.T) {
	h := NewHistogram()
	for _, ms := range []int{10, 20, 30, 40} {
		h.Observe(time.Duration(ms) * time.Millisecond)
	}

	s := h.Snapshot()
	if s.Count != 4 {
		t.Fatalf("Count = %d, want 4", s.Count)
	}
	if s.Total != 100*time.Millisecond {
		t.Errorf("Total = %v, want 100ms", s.Total)
	}
	if s.Mean != 25*time.Millisecond {
		t.Errorf("Mean = %v, want 25ms", s.Mean)
	}
	if s.Max != 40*time.Millisecond {
		t.Errorf("Max = %v, want 40ms", s.Max)
	}
	if s.P50 != 25*time.Millisecond {
		t.Errorf("P50 = %v, want 25ms", s.P50)
	}
}

func TestEmptyHistogram(t *testing.T) {
	if s := NewHistogram().Snapshot(); s.Count != 0 || s.Max != 0 {
		t.Errorf("empty snapshot = %+v", s)
	}
}

func TestCounterVec(t *testing.T) {
	cv := NewCounterVec()
	cv.WithLabels("preprocess").Inc()
	cv.WithLabels("preprocess").Inc()
	cv.WithLabels("run").Inc()

	snap := cv.Snapshot()
	if snap["preprocess"] != 2 || snap["run"] != 1 {
		t.Errorf("snapshot = %v", snap)
	}
}

func TestStagesCompletedCounts(t *testing.T) {
	m := NewMetrics()
	var completed *Counter = m.StagesCompleted()
	for i := 0; i < 3; i++ {
		completed.Inc()
	}
	if got := m.Snapshot().StagesCompleted; got != 3 {
		t.Errorf("StagesCompleted = %d, want 3", got)
	}
}

func TestSnapshotWriteFile(t *testing.T) {
	m := NewMetrics()
	m.StageDuration().WithLabels("minimization").Observe(time.Second)
	m.StagesCompleted().Inc()
	m.EngineInvocations().WithLabels("run").Inc()

	dir := t.TempDir()
	path, err := m.Snapshot().WriteFile(dir)
	if err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if path != filepath.Join(dir, MetricsFile) {
		t.Errorf("path = %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got MetricsSnapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.StagesCompleted != 1 || got.EngineInvocations["run"] != 1 {
		t.Errorf("decoded snapshot = %+v", got)
	}
	if got.StageDuration["minimization"].Count != 1 {
		t.Errorf("stage duration = %+v", got.StageDuration)
	}
}

func TestSnapshotWriteText(t *testing.T) {
	m := NewMetrics()
	m.StageFailures().WithLabels("ENGINE_EXIT").Inc()
	m.EngineDuration().WithLabels("preprocess").Observe(time.Millisecond)

	var buf bytes.Buffer
	m.Snapshot().WriteText(&buf)
	out := buf.String()
	for _, want := range []string{"Stages completed: 0", "ENGINE_EXIT: 1", "preprocess: n=1", "Ledger write: no data"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
