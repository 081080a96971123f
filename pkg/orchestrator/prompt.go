package orchestrator

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Environment is the ambient context injected into a rendered system
// prompt (spec §4.7 step 1: "system prompt rendered from a template with
// injected environment: date, platform, working directory, available
// sub-agents, a bounded folder tree").
type Environment struct {
	WorkingDir      string
	AvailableAgents []string
	// MaxFolderEntries bounds how many entries of WorkingDir
	// boundedFolderTree lists before truncating with a "... N more" marker. Zero
	// disables folder tree injection entirely.
	MaxFolderEntries int
}

// renderSystemPrompt concatenates the agent's configured system prompt
// with the injected environment block. The environment block is always
// appended, even when systemPrompt is empty, so the LLM still receives
// date/platform/cwd/sub-agent context.
func renderSystemPrompt(systemPrompt string, env Environment) string {
	var b strings.Builder
	if systemPrompt != "" {
		b.WriteString(systemPrompt)
		b.WriteString("\n\n")
	}

	b.WriteString("## Environment\n")
	fmt.Fprintf(&b, "- Date: %s\n", time.Now().Format("2006-01-02"))
	fmt.Fprintf(&b, "- Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if env.WorkingDir != "" {
		fmt.Fprintf(&b, "- Working directory: %s\n", env.WorkingDir)
	}

	if len(env.AvailableAgents) > 0 {
		sorted := append([]string(nil), env.AvailableAgents...)
		sort.Strings(sorted)
		fmt.Fprintf(&b, "- Available sub-agents (via assign_task): %s\n", strings.Join(sorted, ", "))
	}

	if env.WorkingDir != "" && env.MaxFolderEntries > 0 {
		tree := boundedFolderTree(env.WorkingDir, env.MaxFolderEntries)
		if tree != "" {
			b.WriteString("- Working directory contents:\n")
			b.WriteString(tree)
		}
	}

	return b.String()
}

// boundedFolderTree lists the immediate entries of dir, truncated to max
// entries, as a minimal orientation aid. It never recurses, and any read
// failure yields an empty string rather than an error — a missing or
// unreadable directory must never block prompt rendering.
func boundedFolderTree(dir string, max int) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	shown := entries
	truncated := 0
	if len(entries) > max {
		shown = entries[:max]
		truncated = len(entries) - max
	}
	for _, e := range shown {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		fmt.Fprintf(&b, "  - %s\n", name)
	}
	if truncated > 0 {
		fmt.Fprintf(&b, "  - ... %d more\n", truncated)
	}
	return b.String()
}
