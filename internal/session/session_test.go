package session

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(filepath.Join(dir, "sessions"), filepath.Join(dir, "sessions", "sessions.json"))
}

func TestLoadMissingSessionReturnsEmpty(t *testing.T) {
	st := newTestStore(t)
	sess, err := st.Load("main")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sess.Header.ID == "" {
		t.Fatal("expected a fresh session to have a generated ID")
	}
	if len(sess.Messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(sess.Messages))
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	st := newTestStore(t)
	sess := New()
	sess.SetSystemContext("you are an assistant")
	sess.AppendMessage("user", "hello", nil, "")
	sess.AppendMessage("assistant", "hi there", nil, "")
	sess.AppendMessage("assistant", "", []ToolCall{{ID: "1", Name: "bash", Arguments: `{"command":"ls"}`}}, "")

	if err := st.Save("main", sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := st.Load("main")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Header.ID != sess.Header.ID {
		t.Fatalf("header ID mismatch: got %s want %s", got.Header.ID, sess.Header.ID)
	}
	if got.SystemContext == nil || got.SystemContext.Content != "you are an assistant" {
		t.Fatalf("system context not round-tripped: %+v", got.SystemContext)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got.Messages))
	}
	if got.Messages[2].ToolCalls[0].Name != "bash" {
		t.Fatalf("tool call not round-tripped: %+v", got.Messages[2])
	}
}

func TestLoadToleratesMissingOptionalSystemContext(t *testing.T) {
	st := newTestStore(t)
	sess := New()
	sess.AppendMessage("user", "hello", nil, "")
	if err := st.Save("main", sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := st.Load("main")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.SystemContext != nil {
		t.Fatalf("expected no system context, got %+v", got.SystemContext)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got.Messages))
	}
}

func TestSaveOverwritesPreviousContentAtomically(t *testing.T) {
	st := newTestStore(t)
	sess := New()
	sess.AppendMessage("user", "first", nil, "")
	if err := st.Save("main", sess); err != nil {
		t.Fatalf("Save 1: %v", err)
	}

	sess.Messages = nil
	sess.AppendMessage("user", "second", nil, "")
	if err := st.Save("main", sess); err != nil {
		t.Fatalf("Save 2: %v", err)
	}

	got, err := st.Load("main")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "second" {
		t.Fatalf("expected overwrite to replace content, got %+v", got.Messages)
	}
}

func TestHeartbeatDedupWindow(t *testing.T) {
	meta := map[string]Meta{}
	if IsDuplicateHeartbeat(meta, "heartbeat", "text") {
		t.Fatal("expected no duplicate on empty meta")
	}

	meta = RecordHeartbeat(meta, "heartbeat", "same text", time.Now())
	if !IsDuplicateHeartbeat(meta, "heartbeat", "same text") {
		t.Fatal("expected duplicate within window")
	}
	if IsDuplicateHeartbeat(meta, "heartbeat", "different text") {
		t.Fatal("expected no duplicate for different text")
	}

	meta = RecordHeartbeat(meta, "heartbeat", "old text", time.Now().Add(-25*time.Hour))
	if IsDuplicateHeartbeat(meta, "heartbeat", "old text") {
		t.Fatal("expected no duplicate once 24h window has elapsed")
	}
}

func TestSaveUpdatesMetaEntry(t *testing.T) {
	st := newTestStore(t)
	sess := New()
	sess.Header.TokenCount = 1234
	sess.Header.CompactionCount = 2
	sess.AppendMessage("user", "hello", nil, "")

	if err := st.Save("main", sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	meta, err := st.LoadMeta()
	if err != nil {
		t.Fatalf("LoadMeta: %v", err)
	}
	entry := meta["main"]
	if entry.SessionID != sess.Header.ID {
		t.Fatalf("meta session_id = %q, want %q", entry.SessionID, sess.Header.ID)
	}
	if entry.TokenCount != 1234 || entry.CompactionCount != 2 {
		t.Fatalf("meta counters not propagated: %+v", entry)
	}
	if entry.UpdatedAt.IsZero() {
		t.Fatalf("meta updated_at unset")
	}
}

func TestLinkCLISessionDeduplicates(t *testing.T) {
	st := newTestStore(t)
	for _, id := range []string{"cli-1", "cli-2", "cli-1"} {
		if err := st.LinkCLISession("main", id); err != nil {
			t.Fatalf("LinkCLISession(%s): %v", id, err)
		}
	}
	meta, err := st.LoadMeta()
	if err != nil {
		t.Fatalf("LoadMeta: %v", err)
	}
	got := meta["main"].CLISessionIDs
	if len(got) != 2 || got[0] != "cli-1" || got[1] != "cli-2" {
		t.Fatalf("cli_session_ids = %v, want [cli-1 cli-2]", got)
	}
}

func TestMetaSaveAndLoadRoundTrip(t *testing.T) {
	st := newTestStore(t)
	meta := RecordHeartbeat(map[string]Meta{}, "heartbeat", "good morning", time.Now().UTC().Truncate(time.Second))

	if err := st.SaveMeta(meta); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	got, err := st.LoadMeta()
	if err != nil {
		t.Fatalf("LoadMeta: %v", err)
	}
	if got["heartbeat"].LastHeartbeatText != "good morning" {
		t.Fatalf("meta not round-tripped: %+v", got)
	}
}
