package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ContextBlock is one <memory_context>-wrapped section of the turn
// engine's assembled prompt.
type ContextBlock struct {
	Label   string // MEMORY, daily log date, or PENDING
	Content string
}

// BuildContext reads the MEMORY file, the two most recently dated daily
// logs under workspace/memory/, and the pending-tasks file, returning one
// ContextBlock per file found. Missing files are skipped, never an error —
// a fresh workspace has none of these yet.
func BuildContext(memoryFile, memoryDir, pendingTasksFile string) []ContextBlock {
	var blocks []ContextBlock

	if body, ok := readStripped(memoryFile); ok {
		blocks = append(blocks, ContextBlock{Label: "MEMORY", Content: body})
	}

	for _, date := range recentDailyLogDates(memoryDir, 2) {
		path := filepath.Join(memoryDir, date+".md")
		if body, ok := readStripped(path); ok {
			blocks = append(blocks, ContextBlock{Label: "daily log " + date, Content: body})
		}
	}

	if body, ok := readStripped(pendingTasksFile); ok {
		blocks = append(blocks, ContextBlock{Label: "PENDING", Content: body})
	}

	return blocks
}

// Render wraps every block in a <memory_context> delimiter, the same
// untrusted-data boundary the hardcoded security suffix tells the model to
// respect.
func Render(blocks []ContextBlock) string {
	var b strings.Builder
	for _, blk := range blocks {
		fmt.Fprintf(&b, "<memory_context source=%q>\n%s\n</memory_context>\n\n", blk.Label, blk.Content)
	}
	return b.String()
}

func readStripped(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	_, body := parseFrontmatter(data)
	body = strings.TrimSpace(body)
	if body == "" {
		return "", false
	}
	return body, true
}

// parseFrontmatter splits YAML frontmatter (between --- fences) from the
// body of a memory file. Missing or malformed frontmatter returns the
// content unchanged as the body.
func parseFrontmatter(data []byte) (map[string]any, string) {
	content := string(data)

	if !strings.HasPrefix(content, "---\n") {
		return nil, content
	}

	end := strings.Index(content[4:], "\n---")
	if end < 0 {
		return nil, content
	}

	yamlBlock := content[4 : 4+end]
	body := content[4+end+4:] // skip past closing "\n---"
	body = strings.TrimLeft(body, "\n")

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return nil, string(data)
	}
	return fm, body
}

// recentDailyLogDates returns up to n dates (YYYY-MM-DD, newest first)
// for which memoryDir/<date>.md exists.
func recentDailyLogDates(memoryDir string, n int) []string {
	entries, err := os.ReadDir(memoryDir)
	if err != nil {
		return nil
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".md") {
			continue
		}
		date := strings.TrimSuffix(name, ".md")
		if len(date) == 10 && date[4] == '-' && date[7] == '-' {
			dates = append(dates, date)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > n {
		dates = dates[:n]
	}
	return dates
}
