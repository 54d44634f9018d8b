package memory

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuildContextSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	blocks := BuildContext(filepath.Join(dir, "MEMORY.md"), filepath.Join(dir, "memory"), filepath.Join(dir, "PENDING.md"))
	if len(blocks) != 0 {
		t.Fatalf("expected no blocks for empty workspace, got %d", len(blocks))
	}
}

func TestBuildContextIncludesRecentDailyLogs(t *testing.T) {
	dir := t.TempDir()
	memDir := filepath.Join(dir, "memory")
	if err := os.MkdirAll(memDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{"2026-07-27", "2026-07-28", "2026-07-29"} {
		if err := os.WriteFile(filepath.Join(memDir, d+".md"), []byte("log for "+d), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "MEMORY.md"), []byte("durable memory"), 0o644); err != nil {
		t.Fatal(err)
	}

	blocks := BuildContext(filepath.Join(dir, "MEMORY.md"), memDir, filepath.Join(dir, "PENDING.md"))
	if len(blocks) != 3 {
		t.Fatalf("expected MEMORY + 2 daily logs, got %d: %+v", len(blocks), blocks)
	}
	if blocks[0].Label != "MEMORY" {
		t.Fatalf("expected MEMORY first, got %s", blocks[0].Label)
	}
	if blocks[1].Label != "daily log 2026-07-29" || blocks[2].Label != "daily log 2026-07-28" {
		t.Fatalf("expected newest-first daily logs, got %s, %s", blocks[1].Label, blocks[2].Label)
	}
}

func TestRenderWrapsDelimiters(t *testing.T) {
	out := Render([]ContextBlock{{Label: "MEMORY", Content: "hello"}})
	if !contains(out, "<memory_context source=\"MEMORY\">") || !contains(out, "hello") || !contains(out, "</memory_context>") {
		t.Fatalf("unexpected render output: %q", out)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
