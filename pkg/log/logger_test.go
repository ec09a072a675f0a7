package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	pipeerrors "github.com/YuminosukeSato/pipelab/pkg/errors"
	"github.com/cockroachdb/errors"
)

// TestLoggerInterface tests the TestLogger implementation of Logger
func TestLoggerInterface(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Info("info message", OperationKey, OperationFit)
	testLogger.Warn("warning message", ErrorCodeKey, ErrorConvergence)
	testLogger.Error("error message", fmt.Errorf("test error"), StageKey, "train")

	if buffer.Len() == 0 {
		t.Fatal("Expected log output, got empty buffer")
	}
	for _, msg := range []string{"debug message", "info message", "warning message", "error message"} {
		if !testLogger.ContainsMessage(msg) {
			t.Errorf("%q not found in output", msg)
		}
	}
	if !testLogger.ContainsField("key1", "value1") {
		t.Error("Expected field key1=value1 not found")
	}
	if !testLogger.ContainsField("number", 42.0) { // JSON unmarshaling converts numbers to float64
		t.Error("Expected field number=42 not found")
	}
	if !testLogger.ContainsField(ErrAttrKey, "test error") {
		t.Error("Expected leading error to be recorded under the error key")
	}
	if !testLogger.ContainsField(StageKey, "train") {
		t.Error("Expected fields after the error to be kept")
	}
}

// TestLoggerWith tests the With method for context-aware logging
func TestLoggerWith(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelDebug)

	contextLogger := testLogger.With(
		ModelNameKey, "LogisticRegression",
		DatasetIDKey, "ds-001",
	)
	contextLogger.Info("contextual message", OperationKey, OperationFit)

	if !testLogger.ContainsField(ModelNameKey, "LogisticRegression") {
		t.Error("Model name context not found")
	}
	if !testLogger.ContainsField(DatasetIDKey, "ds-001") {
		t.Error("Dataset context not found")
	}
	if !testLogger.ContainsField(OperationKey, OperationFit) {
		t.Error("Operation field not found")
	}
}

// TestLogLevels tests that level filtering works correctly
func TestLogLevels(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelWarn)

	testLogger.Debug("debug message")
	testLogger.Info("info message")
	testLogger.Warn("warning message")
	testLogger.Error("error message")

	if testLogger.ContainsMessage("debug message") || testLogger.ContainsMessage("info message") {
		t.Error("Messages below the minimum level should be filtered")
	}
	if !testLogger.ContainsMessage("warning message") || !testLogger.ContainsMessage("error message") {
		t.Error("Messages at or above the minimum level should be captured")
	}

	ctx := context.Background()
	if testLogger.Enabled(ctx, LevelInfo) {
		t.Error("Info level should not be enabled")
	}
	if !testLogger.Enabled(ctx, LevelError) {
		t.Error("Error level should be enabled")
	}
}

func TestConcurrentLogging(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			l := testLogger.With("worker", worker)
			for j := 0; j < 25; j++ {
				l.Info("tick", IterationKey, j)
			}
		}(i)
	}
	wg.Wait()

	entries, err := testLogger.GetLogEntries()
	if err != nil {
		t.Fatalf("Failed to parse log entries: %v", err)
	}
	if len(entries) != 200 {
		t.Errorf("Expected 200 entries, got %d", len(entries))
	}
}

func TestTestLoggerProvider(t *testing.T) {
	provider, _ := NewTestLoggerProvider(LevelDebug)
	provider.GetLoggerWithName("Pipeline").Info("hello")

	if !provider.logger.ContainsField(ComponentKey, "Pipeline") {
		t.Error("Expected component field from GetLoggerWithName")
	}

	provider.SetLevel(LevelError)
	provider.GetLogger().Info("filtered")
	if provider.logger.ContainsMessage("filtered") {
		t.Error("SetLevel should filter lower levels")
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	provider := NewZerologProviderWithWriter(&buf, LevelInfo, false)
	logger := provider.GetLoggerWithName("Pipeline").With(DatasetIDKey, "ds-1")

	logger.Debug("hidden")
	logger.Info("upload complete", SamplesKey, 100, FeaturesKey, 4)
	logger.Error("train failed", errors.New("boom"), StageKey, "train")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 records, got %d: %s", len(lines), buf.String())
	}

	info := lines[0]
	if info[ComponentKey] != "Pipeline" || info[DatasetIDKey] != "ds-1" {
		t.Errorf("Context fields missing: %v", info)
	}
	if info[SamplesKey] != 100.0 || info[FeaturesKey] != 4.0 {
		t.Errorf("Call fields missing: %v", info)
	}

	errRec := lines[1]
	if errRec["error"] != "boom" {
		t.Errorf("Expected error field, got %v", errRec["error"])
	}
	if _, ok := errRec[StacktraceAttrKey]; !ok {
		t.Error("Expected stacktrace for cockroachdb error")
	}
	if errRec[StageKey] != "train" {
		t.Errorf("Expected stage field, got %v", errRec[StageKey])
	}

	provider.SetLevel(LevelDebug)
	if !logger.Enabled(context.Background(), LevelDebug) {
		t.Error("SetLevel should apply to loggers already handed out")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestToLogLevelPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for invalid level")
		}
	}()
	ToLogLevel("loud")
}

func TestSetup(t *testing.T) {
	prev := GetProvider()
	defer func() {
		SetProvider(prev)
		pipeerrors.SetZerologWarnFunc(nil)
	}()

	var buf bytes.Buffer
	if _, err := Setup("warn", "json", &buf); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	GetLoggerWithName("Test").Info("dropped")
	pipeerrors.Warn(pipeerrors.NewConvergenceWarning("LogisticRegression", 1000, ""))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("Expected exactly the warning record, got %d: %s", len(lines), buf.String())
	}
	if lines[0]["severity"] != "warn" {
		t.Errorf("Expected severity=warn, got %v", lines[0]["severity"])
	}
	if !strings.Contains(lines[0]["message"].(string), "failed to converge") {
		t.Errorf("Unexpected message: %v", lines[0]["message"])
	}
	if lines[0][ErrorCodeKey] != ErrorConvergence {
		t.Errorf("Expected %s=%s, got %v", ErrorCodeKey, ErrorConvergence, lines[0][ErrorCodeKey])
	}

	if _, err := Setup("info", "xml", &buf); err == nil {
		t.Error("Expected error for unknown format")
	}
}
