package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.TMDB.APIKey = "test"
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from config")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "curator.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello from config") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")

	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "ledger").Info("message without caller", logging.Int64(logging.FieldMediaID, 603))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
	if !strings.Contains(line, "ledger: message without caller") {
		t.Fatalf("expected component prefix, got %q", line)
	}
	if !strings.Contains(line, "media_id=603") {
		t.Fatalf("expected media id attribute, got %q", line)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")

	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "debug",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestJSONLoggerRenamesKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("json message", logging.String("k", "v"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for _, fragment := range []string{`"ts":`, `"level":"info"`, `"msg":"json message"`, `"k":"v"`} {
		if !bytes.Contains(content, []byte(fragment)) {
			t.Fatalf("expected %s in %s", fragment, content)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

type captureHandler struct {
	attrs []slog.Attr
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	r.Attrs(func(a slog.Attr) bool {
		h.attrs = append(h.attrs, a)
		return true
	})
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.attrs = append(h.attrs, attrs...)
	return h
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func TestWithContextAddsFields(t *testing.T) {
	ctx := services.WithRequestID(context.Background(), "req-xyz")
	ctx = services.WithViewerID(ctx, "viewer-1")

	handler := &captureHandler{}
	logging.WithContext(ctx, slog.New(handler)).Info("contextual log")

	found := map[string]string{}
	for _, attr := range handler.attrs {
		found[attr.Key] = attr.Value.String()
	}
	if found[logging.FieldCorrelationID] != "req-xyz" {
		t.Fatalf("expected correlation id, got %v", found)
	}
	if found[logging.FieldViewerID] != "viewer-1" {
		t.Fatalf("expected viewer id, got %v", found)
	}
}

func TestNewAttachesSessionID(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "session.log")
	logger, err := logging.New(logging.Options{
		Format:           "json",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
		SessionID:        "session-7",
		RunID:            "20260314T120000.000Z",
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("with session")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(content, []byte(`"session_id":"session-7"`)) {
		t.Fatalf("expected session id in %s", content)
	}
	if !bytes.Contains(content, []byte(`"run_id":"20260314T120000.000Z"`)) {
		t.Fatalf("expected run id in %s", content)
	}
}

func TestTeeLoggerMirrorsByLevel(t *testing.T) {
	var daemonLog, debugLog bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&daemonLog, &slog.HandlerOptions{Level: slog.LevelInfo}))
	debug := slog.NewJSONHandler(&debugLog, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := logging.TeeLogger(base, debug).With(logging.String(logging.FieldCollectionID, "c1"))
	logger.Debug("presence checked")
	logger.Info("collection materialized")

	if strings.Contains(daemonLog.String(), "presence checked") {
		t.Fatalf("debug record leaked into info log: %s", daemonLog.String())
	}
	if !strings.Contains(daemonLog.String(), "collection materialized") {
		t.Fatalf("expected info record in daemon log: %s", daemonLog.String())
	}
	for _, msg := range []string{"presence checked", "collection materialized"} {
		if !strings.Contains(debugLog.String(), msg) {
			t.Fatalf("expected %q in debug log: %s", msg, debugLog.String())
		}
	}
	if strings.Count(debugLog.String(), `"collection_id":"c1"`) != 2 {
		t.Fatalf("expected attrs on every mirrored record: %s", debugLog.String())
	}
}

func TestTeeLoggerWithoutBase(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.TeeLogger(nil, nil, slog.NewJSONHandler(&buf, nil))
	logger.Info("only handler")
	if !strings.Contains(buf.String(), "only handler") {
		t.Fatalf("expected record in handler output: %s", buf.String())
	}
	logging.TeeLogger(nil).Info("discarded")
}

func TestCleanupOldLogsKeepsRecentAndExcluded(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "curator-old.log")
	current := filepath.Join(dir, "curator-current.log")
	recent := filepath.Join(dir, "curator-recent.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, current, recent, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{old, current, other} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes %s: %v", path, err)
		}
	}

	logging.CleanupOldLogs(logging.NewNop(), 7, logging.RetentionTarget{Dir: dir, Pattern: "curator-*.log", Exclude: []string{current}})

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log to be pruned, stat err=%v", err)
	}
	for _, path := range []string{current, recent, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to remain: %v", path, err)
		}
	}
}
