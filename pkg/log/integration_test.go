package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
)

// TestLoggerInterface tests the TestLogger implementation of Logger
func TestLoggerInterface(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Info("info message", OperationKey, OperationTrain)
	testLogger.Warn("warning message", ErrorCodeKey, ErrorConvergence)
	testLogger.Error("error message", fmt.Errorf("test error"), ErrorCodeKey, ErrorSingularMatrix)

	if buffer.String() == "" {
		t.Fatal("Expected log output, got empty string")
	}
	for _, msg := range []string{"debug message", "info message", "warning message", "error message"} {
		if !testLogger.ContainsMessage(msg) {
			t.Errorf("%q not found in output", msg)
		}
	}
	if !testLogger.ContainsField("key1", "value1") {
		t.Error("Expected field key1=value1 not found")
	}
	if !testLogger.ContainsField("number", 42.0) {
		t.Error("Expected field number=42 not found")
	}
	if !testLogger.ContainsField(ErrAttrKey, "test error") {
		t.Error("Expected error attribute from leading error field")
	}
}

// TestLoggerWith tests contextual fields shared through With
func TestLoggerWith(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelDebug)

	contextLogger := testLogger.With(
		ModelNameKey, "GMMHMM",
		EstimatorIDKey, "hmm-001",
	)
	contextLogger.Info("Baum-Welch iteration", IterationKey, 3, LogLikelihoodKey, -120.5)

	if !testLogger.ContainsField(ModelNameKey, "GMMHMM") {
		t.Error("Model name context not found")
	}
	if !testLogger.ContainsField(IterationKey, 3.0) {
		t.Error("Iteration field not found")
	}
	if !testLogger.ContainsField(LogLikelihoodKey, -120.5) {
		t.Error("Log-likelihood field not found")
	}
}

// TestLoggerEnabled tests level filtering
func TestLoggerEnabled(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)
	ctx := context.Background()

	if !testLogger.Enabled(ctx, LevelInfo) || !testLogger.Enabled(ctx, LevelError) {
		t.Error("Logger should be enabled for Info and Error")
	}
	if testLogger.Enabled(ctx, LevelDebug) {
		t.Error("Logger should not be enabled for Debug level")
	}

	testLogger.Debug("this should not appear")
	testLogger.Info("this should appear")

	if testLogger.ContainsMessage("this should not appear") {
		t.Error("Debug message should not appear when level is Info")
	}
	if testLogger.CountMessages("this should appear") != 1 {
		t.Error("Info message should appear exactly once")
	}
}

// TestSetLoggerNilInstallsNop checks that a nil default is replaced by a
// logger that accepts calls and writes nothing.
func TestSetLoggerNilInstallsNop(t *testing.T) {
	prev := GetLogger()
	defer SetLogger(prev)

	SetLogger(nil)
	if _, ok := GetLogger().(*ZerologLogger); !ok {
		t.Fatalf("expected *ZerologLogger, got %T", GetLogger())
	}
	GetLogger().With(ModelNameKey, "GMMHMM").Info("discarded", IterationKey, 1)
}

// TestZerologLogger checks that the zerolog backend writes JSON records with fields.
func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelInfo).With(ModelNameKey, "KMeans")

	logger.Debug("hidden")
	logger.Info("fit finished", IterationKey, 4, ClustersKey, 3)
	logger.Error("fit failed", errors.ErrSingularMatrix, ErrorCodeKey, ErrorSingularMatrix)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d: %s", len(lines), buf.String())
	}

	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if rec["message"] != "fit finished" || rec[ModelNameKey] != "KMeans" || rec[IterationKey] != 4.0 {
		t.Errorf("unexpected record: %v", rec)
	}

	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if rec["level"] != "error" || rec["error"] == nil {
		t.Errorf("unexpected error record: %v", rec)
	}

	if logger.Enabled(context.Background(), LevelDebug) {
		t.Error("Debug should be disabled at Info level")
	}
}

// TestWarnUsesDefaultLogger checks that errors.Warn is routed to the default logger.
func TestWarnUsesDefaultLogger(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelWarn)
	prev := GetLogger()
	SetLogger(testLogger)
	defer SetLogger(prev)

	errors.Warn(errors.NewConvergenceWarning("EM", 5, "stopped early"))

	if !testLogger.ContainsMessage("EM failed to converge after 5 iterations") {
		t.Error("convergence warning was not logged")
	}
	if !testLogger.ContainsField(ErrorTypeKey, "*errors.ConvergenceWarning") {
		t.Error("warning type field missing")
	}
}

// TestSetupLoggerTo checks the slog JSON setup and stack trace extraction.
func TestSetupLoggerTo(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	if err := SetupLoggerTo(&buf, "info"); err != nil {
		t.Fatal(err)
	}
	slog.Error("train failed", ErrAttr(errors.NewSingularMatrixError("UpdateCovariance", 0)))

	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if rec["severity"] != "ERROR" || rec["message"] != "train failed" {
		t.Errorf("unexpected record: %v", rec)
	}

	if err := SetupLoggerTo(&buf, "verbose"); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("expected invalid argument for unknown level, got %v", err)
	}
}

// TestConcurrentLogging tests thread safety of the test logger
func TestConcurrentLogging(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)

	const goroutines, perGoroutine = 4, 5
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				testLogger.Info(fmt.Sprintf("goroutine %d message %d", id, j), "goroutine_id", id)
			}
		}(i)
	}
	wg.Wait()

	entries, err := testLogger.GetLogEntries()
	if err != nil {
		t.Fatalf("Failed to parse log entries: %v", err)
	}
	if len(entries) != goroutines*perGoroutine {
		t.Errorf("Expected %d log entries, got %d", goroutines*perGoroutine, len(entries))
	}
}

// BenchmarkLogging benchmarks the zerolog backend
func BenchmarkLogging(b *testing.B) {
	logger := NewZerologLogger(&bytes.Buffer{}, LevelInfo)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("benchmark message",
			IterationKey, i,
			OperationKey, OperationTrain,
			SamplesKey, 1000,
		)
	}
}
