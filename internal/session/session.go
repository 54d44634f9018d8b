// Package session persists turn-by-turn conversation state as
// append-friendly JSONL files, one per session key, plus a small JSON
// metadata map tracking per-key bookkeeping such as heartbeat dedup.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	typeSessionHeader = "session_header"
	typeSystemContext = "system_context"
	typeMessage       = "message"
)

// Header is always the first line of a session's JSONL file.
type Header struct {
	Type            string    `json:"type"`
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	TokenCount      int       `json:"token_count"`
	CompactionCount int       `json:"compaction_count"`
}

// SystemContext is the optional second line carrying the assembled system
// prompt in effect when the session was last saved.
type SystemContext struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ToolCall mirrors the provider-agnostic tool-call shape from the
// provider abstraction's message schema.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one conversation turn line.
type Message struct {
	Type       string     `json:"type"`
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Session is the in-memory representation of one session's JSONL file.
type Session struct {
	Header        Header
	SystemContext *SystemContext
	Messages      []Message
}

// New creates an empty session with a fresh ID, ready for its first turn.
func New() *Session {
	return &Session{
		Header: Header{
			Type:      typeSessionHeader,
			ID:        uuid.NewString(),
			CreatedAt: time.Now().UTC(),
		},
	}
}

// AppendMessage adds a message to the in-memory session; callers still
// must call Store.Save to persist it.
func (s *Session) AppendMessage(role, content string, toolCalls []ToolCall, toolCallID string) {
	s.Messages = append(s.Messages, Message{
		Type:       typeMessage,
		Role:       role,
		Content:    content,
		ToolCalls:  toolCalls,
		ToolCallID: toolCallID,
	})
}

// SetSystemContext replaces the cached system-prompt line.
func (s *Session) SetSystemContext(content string) {
	s.SystemContext = &SystemContext{Type: typeSystemContext, Content: content}
}

// Store manages the JSONL session files and sessions.json metadata map
// for one agent's sessions directory.
type Store struct {
	dir      string
	metaFile string
}

// NewStore creates a Store rooted at the given per-agent sessions
// directory (see paths.Paths.SessionsDir).
func NewStore(sessionsDir, metaFile string) *Store {
	return &Store{dir: sessionsDir, metaFile: metaFile}
}

func (st *Store) sessionPath(key string) string {
	return filepath.Join(st.dir, key+".jsonl")
}

// Load reads a session by key. A missing file returns a fresh empty
// session rather than an error, so callers can Load unconditionally on
// startup.
func (st *Store) Load(key string) (*Session, error) {
	data, err := os.ReadFile(st.sessionPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("read session %s: %w", key, err)
	}

	sess := &Session{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			return nil, fmt.Errorf("parse session %s line: %w", key, err)
		}
		switch probe.Type {
		case typeSessionHeader:
			var h Header
			if err := json.Unmarshal(line, &h); err != nil {
				return nil, fmt.Errorf("parse session header: %w", err)
			}
			sess.Header = h
		case typeSystemContext:
			var sc SystemContext
			if err := json.Unmarshal(line, &sc); err != nil {
				return nil, fmt.Errorf("parse system context: %w", err)
			}
			sess.SystemContext = &sc
		case typeMessage:
			var m Message
			if err := json.Unmarshal(line, &m); err != nil {
				return nil, fmt.Errorf("parse message: %w", err)
			}
			sess.Messages = append(sess.Messages, m)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan session %s: %w", key, err)
	}
	if sess.Header.ID == "" {
		sess.Header = New().Header
	}
	return sess, nil
}

// Save atomically rewrites the session's JSONL file: header, then the
// system context if present, then every message, in order. The write
// goes to a temp file in the same directory and is renamed into place so
// a crash mid-write never leaves a truncated or partially-written session
// visible to readers.
func (st *Store) Save(key string, sess *Session) error {
	if err := os.MkdirAll(st.dir, 0o700); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	sess.Header.Type = typeSessionHeader
	if err := enc.Encode(sess.Header); err != nil {
		return fmt.Errorf("encode session header: %w", err)
	}
	if sess.SystemContext != nil {
		sess.SystemContext.Type = typeSystemContext
		if err := enc.Encode(sess.SystemContext); err != nil {
			return fmt.Errorf("encode system context: %w", err)
		}
	}
	for i := range sess.Messages {
		sess.Messages[i].Type = typeMessage
		if err := enc.Encode(sess.Messages[i]); err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
	}

	if err := atomicWrite(st.sessionPath(key), buf.Bytes()); err != nil {
		return err
	}
	return st.touchMeta(key, sess)
}

// touchMeta rereads sessions.json and folds the saved session's current
// bookkeeping into its entry, preserving fields other writers own (the
// heartbeat dedup pair, linked CLI session ids).
func (st *Store) touchMeta(key string, sess *Session) error {
	meta, err := st.LoadMeta()
	if err != nil {
		return err
	}
	entry := meta[key]
	entry.SessionID = sess.Header.ID
	entry.UpdatedAt = time.Now().UTC()
	entry.TokenCount = sess.Header.TokenCount
	entry.CompactionCount = sess.Header.CompactionCount
	meta[key] = entry
	return st.SaveMeta(meta)
}

// LinkCLISession records an external CLI session id against key, so a
// resumed CLI conversation maps back to the same stored session.
func (st *Store) LinkCLISession(key, cliSessionID string) error {
	meta, err := st.LoadMeta()
	if err != nil {
		return err
	}
	entry := meta[key]
	for _, id := range entry.CLISessionIDs {
		if id == cliSessionID {
			return nil
		}
	}
	entry.CLISessionIDs = append(entry.CLISessionIDs, cliSessionID)
	meta[key] = entry
	return st.SaveMeta(meta)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%d.%d.tmp", filepath.Base(path), os.Getpid(), rand.Int63()))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file into place: %w", err)
	}
	return nil
}

// Meta is the per-key bookkeeping stored in sessions.json.
type Meta struct {
	SessionID         string    `json:"session_id,omitempty"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
	CLISessionIDs     []string  `json:"cli_session_ids,omitempty"`
	TokenCount        int       `json:"token_count,omitempty"`
	CompactionCount   int       `json:"compaction_count,omitempty"`
	LastHeartbeatText string    `json:"last_heartbeat_text,omitempty"`
	LastHeartbeatAt   time.Time `json:"last_heartbeat_at,omitempty"`
}

// LoadMeta reads sessions.json, returning an empty map if it doesn't
// exist yet.
func (st *Store) LoadMeta() (map[string]Meta, error) {
	data, err := os.ReadFile(st.metaFile)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Meta{}, nil
		}
		return nil, fmt.Errorf("read sessions meta: %w", err)
	}
	var m map[string]Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse sessions meta: %w", err)
	}
	if m == nil {
		m = map[string]Meta{}
	}
	return m, nil
}

// SaveMeta atomically rewrites sessions.json.
func (st *Store) SaveMeta(m map[string]Meta) error {
	if err := os.MkdirAll(filepath.Dir(st.metaFile), 0o700); err != nil {
		return fmt.Errorf("create sessions meta dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions meta: %w", err)
	}
	return atomicWrite(st.metaFile, data)
}

// IsDuplicateHeartbeat reports whether text matches the last recorded
// heartbeat for key and that heartbeat is less than 24h old.
func IsDuplicateHeartbeat(meta map[string]Meta, key, text string) bool {
	entry, ok := meta[key]
	if !ok || entry.LastHeartbeatText != text {
		return false
	}
	return time.Since(entry.LastHeartbeatAt) < 24*time.Hour
}

// RecordHeartbeat updates key's heartbeat bookkeeping to text at now,
// leaving the rest of the entry untouched.
func RecordHeartbeat(meta map[string]Meta, key, text string, now time.Time) map[string]Meta {
	if meta == nil {
		meta = map[string]Meta{}
	}
	entry := meta[key]
	entry.LastHeartbeatText = text
	entry.LastHeartbeatAt = now
	meta[key] = entry
	return meta
}
