package transcripts

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-stt/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.TranscriptStoreConfig{RetentionMode: "ephemeral"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Append(context.Background(), Utterance{SessionID: "a", Text: "hi"}); err != nil {
		t.Fatalf("ephemeral append should be a no-op: %v", err)
	}
	utterances, err := s.ListSession(context.Background(), "a", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if utterances != nil {
		t.Fatalf("expected nothing persisted, got %v", utterances)
	}
}

func TestAppendAndList(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.TranscriptStoreConfig{Path: filepath.Join(tmp, "transcripts.db"), RetentionMode: "session"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	u := Utterance{SessionID: "session-1", Text: "hello world", Language: "en", AudioSeconds: 1.25}
	if err := s.Append(context.Background(), u); err != nil {
		t.Fatalf("append: %v", err)
	}

	utterances, err := s.ListSession(context.Background(), "session-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(utterances) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(utterances))
	}
	if utterances[0].Text != "hello world" || utterances[0].Language != "en" {
		t.Fatalf("unexpected utterance: %+v", utterances[0])
	}
}

func TestSessionModeDropsRowsAtSessionEnd(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.TranscriptStoreConfig{Path: filepath.Join(tmp, "transcripts.db"), RetentionMode: "session"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Append(context.Background(), Utterance{SessionID: "s1", Text: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(context.Background(), Utterance{SessionID: "s2", Text: "there"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.EndSession(context.Background(), "s1"); err != nil {
		t.Fatalf("end session: %v", err)
	}

	gone, err := s.ListSession(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(gone) != 0 {
		t.Fatalf("expected finished session's rows dropped, got %v", gone)
	}
	live, err := s.ListSession(context.Background(), "s2", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("expected live session's rows kept, got %v", live)
	}
}

func TestSessionModeWipedOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcripts.db")
	cfg := config.TranscriptStoreConfig{Path: path, RetentionMode: "session"}

	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.Append(context.Background(), Utterance{SessionID: "s1", Text: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	utterances, err := reopened.ListSession(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(utterances) != 0 {
		t.Fatalf("session-scoped history must not survive a restart, got %v", utterances)
	}
}

func TestPersistentModeSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcripts.db")
	cfg := config.TranscriptStoreConfig{Path: path, RetentionMode: "persistent"}

	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.Append(context.Background(), Utterance{SessionID: "s1", Text: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.EndSession(context.Background(), "s1"); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	utterances, err := reopened.ListSession(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(utterances) != 1 {
		t.Fatalf("expected persistent history to survive a restart, got %v", utterances)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.TranscriptStoreConfig{
		Path:          filepath.Join(tmp, "transcripts.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
		MaxSessions:   1,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(context.Background(), Utterance{SessionID: "old", Text: "stale"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(context.Background(), Utterance{SessionID: "new", Text: "fresh"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	old, err := s.ListSession(context.Background(), "old", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("expected stale session pruned, got %v", old)
	}
	fresh, err := s.ListSession(context.Background(), "new", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(fresh) != 1 {
		t.Fatalf("expected fresh session kept, got %v", fresh)
	}
}
