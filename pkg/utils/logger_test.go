package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newBufferLogger создаёт логгер, пишущий JSON в буфер
func newBufferLogger(buf *bytes.Buffer, level zapcore.Level) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			MessageKey: "message",
			LevelKey:   "level",
		}),
		zapcore.AddSync(buf),
		level,
	)
	base := zap.New(core)
	return &Logger{Logger: base, sugar: base.Sugar()}
}

// ============================================================
// Тесты InitLogger
// ============================================================

func TestInitLogger_Formats(t *testing.T) {
	configs := []LogConfig{
		{},
		{Level: "info", Format: "json"},
		{Level: "debug", Format: "text"},
		{Level: "debug", Format: "text", Development: true},
	}

	for _, cfg := range configs {
		logger := InitLogger(cfg)
		if logger == nil || logger.Logger == nil || logger.sugar == nil {
			t.Fatalf("InitLogger(%+v) returned incomplete logger", cfg)
		}
	}
}

func TestInitLogger_FileOutput(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "scalper_logger_*.log")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	logger := InitLogger(LogConfig{Level: "info", Format: "json", Output: tmpFile.Name()})
	logger.Info("order placed", Symbol("BTCUSDT"), Price(100.5))
	logger.Sync()

	content, err := os.ReadFile(tmpFile.Name())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(content, &entry); err != nil {
		t.Fatalf("Log entry is not valid JSON: %v (%s)", err, content)
	}
	if entry["symbol"] != "BTCUSDT" {
		t.Errorf("expected symbol field, got %v", entry["symbol"])
	}
}

func TestInitLogger_InvalidFileOutput(t *testing.T) {
	// Недоступный путь: fallback на stderr без паники
	logger := InitLogger(LogConfig{Level: "info", Output: "/nonexistent/directory/log.txt"})
	if logger == nil {
		t.Fatal("InitLogger returned nil for invalid output")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"invalid", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

// ============================================================
// Глобальный логгер
// ============================================================

func TestGlobalLogger(t *testing.T) {
	globalMu.Lock()
	globalLogger = nil
	globalMu.Unlock()

	logger := GetGlobalLogger()
	if logger == nil {
		t.Fatal("GetGlobalLogger returned nil")
	}
	if L() != logger {
		t.Error("L() returned different logger")
	}

	custom := InitLogger(LogConfig{Level: "warn"})
	SetGlobalLogger(custom)
	if GetGlobalLogger() != custom {
		t.Error("SetGlobalLogger did not set the logger")
	}
}

func TestGlobalLoggingFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetGlobalLogger(newBufferLogger(&buf, zapcore.DebugLevel))

	Debug("debug message")
	Info("info message")
	Warnf("warn %s %d", "test", 3)
	Errorf("error %s %d", "test", 4)

	output := buf.String()
	for _, want := range []string{"debug message", "info message", "warn test 3", "error test 4"} {
		if !strings.Contains(output, want) {
			t.Errorf("%q not found in output: %s", want, output)
		}
	}
}

// ============================================================
// Дочерние логгеры и поля
// ============================================================

func TestLogger_WithHelpers(t *testing.T) {
	logger := InitLogger(LogConfig{Level: "info"})

	helpers := map[string]func() *Logger{
		"With":          func() *Logger { return logger.With(zap.String("k", "v")) },
		"WithComponent": func() *Logger { return logger.WithComponent("grid") },
		"WithExchange":  func() *Logger { return logger.WithExchange("bybit") },
		"WithSymbol":    func() *Logger { return logger.WithSymbol("BTCUSDT") },
	}

	for name, helper := range helpers {
		child := helper()
		if child == nil || child == logger {
			t.Errorf("%s should return a new logger", name)
		}
	}
	if logger.Sugar() == nil {
		t.Error("Sugar returned nil")
	}
}

func TestFieldConstructors(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, zapcore.InfoLevel)

	logger.Info("test",
		Exchange("bybit"),
		Symbol("BTCUSDT"),
		OrderID("order-456"),
		PositionID("pos-1"),
		Price(25000.5),
		Volume(0.5),
		Spread(0.0015),
		PNL(-1.25),
		Side("buy"),
		State("place_or_patch"),
		Reason("spread_too_narrow"),
		Component("grid"),
	)

	output := buf.String()
	expected := []string{
		"exchange", "bybit", "symbol", "BTCUSDT", "order_id", "order-456",
		"position_id", "pos-1", "price", "25000.5", "volume", "spread", "0.0015",
		"pnl", "-1.25", "side", "buy", "state", "place_or_patch",
		"reason", "spread_too_narrow", "component", "grid",
	}
	for _, field := range expected {
		if !strings.Contains(output, field) {
			t.Errorf("Field %q not found in output: %s", field, output)
		}
	}
}

func TestFieldsToInterface(t *testing.T) {
	result := fieldsToInterface([]zap.Field{
		zap.String("key1", "value1"),
		zap.Int("key2", 42),
	})

	if len(result) != 4 {
		t.Fatalf("Expected 4 elements, got %d", len(result))
	}
	if result[0] != "key1" || result[1] != "value1" || result[2] != "key2" {
		t.Errorf("unexpected result: %v", result)
	}
}

func BenchmarkLogger_Info(b *testing.B) {
	logger := InitLogger(LogConfig{Level: "info", Format: "json", Output: "/dev/null"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("cycle", Symbol("BTCUSDT"), Int("n", i))
	}
}
