package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func rotatedLogPath(t *testing.T, dir, base string, when time.Time) string {
	t.Helper()
	return filepath.Join(dir, base+"."+when.Format("2006-01-02"))
}

func TestLoggerAppendAndReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	logger, err := NewLogger(path, nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	now := time.Now().UTC()
	rec := Record{
		Kind:        EventToolCall,
		Timestamp:   now,
		SessionID:   "sess-1",
		ToolCallID:  "call-1",
		ToolName:    "read",
		Sensitivity: 1,
		Outcome:     "ok",
	}
	if err := logger.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := ReadFile(rotatedLogPath(t, dir, "audit.log", now), nil)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ReadFile returned %d records, want 1", len(records))
	}
	if records[0].ToolCallID != "call-1" || records[0].ToolName != "read" {
		t.Errorf("ReadFile record = %#v, want tool_call_id/tool_name preserved", records[0])
	}
}

func TestLoggerAppendEncryptedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	logger, err := NewLogger(path, key)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	now := time.Now().UTC()
	rec := Record{Kind: EventToolCall, Timestamp: now, SessionID: "sess-1", ToolCallID: "call-1", ToolName: "bash", Outcome: "ok"}
	if err := logger.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	logPath := rotatedLogPath(t, dir, "audit.log", now)

	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read raw log: %v", err)
	}
	if strings.Contains(string(raw), "call-1") {
		t.Error("expected the on-disk log line to be encrypted, not plaintext")
	}

	records, err := ReadFile(logPath, key)
	if err != nil {
		t.Fatalf("ReadFile with key: %v", err)
	}
	if len(records) != 1 || records[0].ToolCallID != "call-1" {
		t.Fatalf("ReadFile with key = %#v, want decrypted call-1 record", records)
	}

	if _, err := ReadFile(logPath, make([]byte, 32)); err == nil {
		t.Error("expected ReadFile with the wrong key to fail")
	}
}

func TestNewLoggerRejectsShortKey(t *testing.T) {
	if _, err := NewLogger(filepath.Join(t.TempDir(), "audit.log"), []byte("too-short")); err == nil {
		t.Error("expected NewLogger to reject a key that isn't exactly 32 bytes")
	}
}

func TestLoggerAppendRotatesByDate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	logger, err := NewLogger(path, nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	today := time.Now().UTC()

	if err := logger.Append(Record{Kind: EventTurnBoundary, Timestamp: yesterday, SessionID: "s", TurnPhase: "end"}); err != nil {
		t.Fatalf("Append (yesterday): %v", err)
	}
	if err := logger.Append(Record{Kind: EventTurnBoundary, Timestamp: today, SessionID: "s", TurnPhase: "start"}); err != nil {
		t.Fatalf("Append (today): %v", err)
	}

	yesterdayRecords, err := ReadFile(rotatedLogPath(t, dir, "audit.log", yesterday), nil)
	if err != nil {
		t.Fatalf("ReadFile (yesterday): %v", err)
	}
	if len(yesterdayRecords) != 1 {
		t.Errorf("yesterday's log has %d records, want 1", len(yesterdayRecords))
	}

	todayRecords, err := ReadFile(rotatedLogPath(t, dir, "audit.log", today), nil)
	if err != nil {
		t.Fatalf("ReadFile (today): %v", err)
	}
	if len(todayRecords) != 1 {
		t.Errorf("today's log has %d records, want 1", len(todayRecords))
	}
}

func TestDigestIsStableSHA256Hex(t *testing.T) {
	got := Digest([]byte("hello"))
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Errorf("Digest(%q) = %q, want %q", "hello", got, want)
	}
	if got == Digest([]byte("world")) {
		t.Error("Digest should differ for different input")
	}
}
