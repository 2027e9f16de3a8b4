package agent

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// PromptManager assembles the system prompt for each pipeline agent from a
// prompts directory:
//
//	prompts/shared/*.md                 prepended to every agent
//	prompts/agents/<agent>.md           the agent's own instructions (required)
//	prompts/knowledge/<agent>/*.md      local reference documents
//	prompts/knowledge/<agent>/sources.txt  one URL per line, fetched once
type PromptManager struct {
	Directory string
	Fetcher   *KnowledgeFetcher

	mu      sync.Mutex
	fetched map[string]string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{
		Directory: dir,
		Fetcher:   NewKnowledgeFetcher(),
		fetched:   make(map[string]string),
	}
}

// sharedOrder pins the well-known shared files ahead of the rest.
var sharedOrder = map[string]int{
	"identity.md":     1,
	"soul.md":         2,
	"capabilities.md": 3,
	"protocol.md":     4,
	"user.md":         5,
}

// SystemPrompt returns the full system prompt for agentID, reference
// documents included.
func (pm *PromptManager) SystemPrompt(ctx context.Context, agentID string) (string, error) {
	own, err := os.ReadFile(filepath.Join(pm.Directory, "agents", agentID+".md"))
	if err != nil {
		return "", fmt.Errorf("failed to read prompt for agent %s: %w", agentID, err)
	}

	contents := pm.sharedPrompts()
	contents = append(contents, string(own))
	if knowledge := pm.Knowledge(ctx, agentID); knowledge != "" {
		contents = append(contents, knowledge)
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}

func (pm *PromptManager) sharedPrompts() []string {
	dir := filepath.Join(pm.Directory, "shared")
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	sort.Slice(files, func(i, j int) bool {
		oi, okI := sharedOrder[files[i].Name()]
		oj, okJ := sharedOrder[files[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return files[i].Name() < files[j].Name()
	})

	var contents []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", path, err)
			continue
		}
		contents = append(contents, string(data))
	}
	return contents
}

// Knowledge returns the agent's reference documents as one markdown section,
// or "" when it has none. Unreachable sources are logged and skipped.
func (pm *PromptManager) Knowledge(ctx context.Context, agentID string) string {
	dir := filepath.Join(pm.Directory, "knowledge", agentID)
	files, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var docs []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			log.Printf("Warning: Failed to read knowledge file %s: %v", f.Name(), err)
			continue
		}
		docs = append(docs, fmt.Sprintf("### %s\n\n%s", strings.TrimSuffix(f.Name(), ".md"), strings.TrimSpace(string(data))))
	}

	for _, source := range readSources(filepath.Join(dir, "sources.txt")) {
		text, err := pm.fetch(ctx, source)
		if err != nil {
			log.Printf("Warning: Failed to fetch knowledge source %s: %v", source, err)
			continue
		}
		docs = append(docs, fmt.Sprintf("### %s\n\n%s", source, text))
	}

	if len(docs) == 0 {
		return ""
	}
	return "## Reference documents\n\n" + strings.Join(docs, "\n\n")
}

func (pm *PromptManager) fetch(ctx context.Context, source string) (string, error) {
	pm.mu.Lock()
	if text, ok := pm.fetched[source]; ok {
		pm.mu.Unlock()
		return text, nil
	}
	pm.mu.Unlock()

	text, err := pm.Fetcher.Fetch(ctx, source)
	if err != nil {
		return "", err
	}

	pm.mu.Lock()
	pm.fetched[source] = text
	pm.mu.Unlock()
	return text, nil
}

// readSources lists the URLs of a sources file, skipping blanks and # comments.
func readSources(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var sources []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sources = append(sources, line)
	}
	return sources
}
