package collab

import (
	"encoding/json"
	"fmt"
	"strings"

	"pairforge/internal/domain"
)

// ParseArtifacts extracts files from an assistant's text response.
//
// Accepted shapes, in the order assistants actually emit them:
//
//	FILE: main.py
//	```python
//	...
//	```
//
//	```python:main.py
//	...
//	```
//
//	# main.py   (bare comment header before a fenced block)
func ParseArtifacts(response string) domain.ArtifactSet {
	files := domain.ArtifactSet{}
	var (
		current string
		inFence bool
		lines   []string
	)
	flush := func() {
		if current != "" && len(lines) > 0 {
			files[current] = strings.Join(lines, "\n")
		}
		lines = nil
	}
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(line, "FILE:") {
			flush()
			current = normalizePath(strings.TrimPrefix(line, "FILE:"))
			inFence = false
			continue
		}
		if strings.HasPrefix(line, "```") {
			if inFence {
				inFence = false
				flush()
				current = ""
			} else {
				inFence = true
				// ```lang:path fence carries its own filename
				if idx := strings.Index(line, ":"); idx >= 0 {
					current = normalizePath(line[idx+1:])
				}
			}
			continue
		}
		if !inFence && (strings.HasPrefix(trimmed, "# ") || strings.HasPrefix(trimmed, "// ")) {
			candidate := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(trimmed, "# "), "// "))
			if strings.Contains(candidate, ".") && !strings.Contains(candidate, " ") {
				flush()
				current = normalizePath(candidate)
				continue
			}
		}
		if inFence && current != "" {
			lines = append(lines, line)
		}
	}
	flush()
	return files
}

// normalizePath strips backticks and the output/target directory prefixes
// assistants tend to repeat back.
func normalizePath(path string) string {
	p := strings.TrimSpace(strings.ReplaceAll(path, "`", ""))
	for _, prefix := range []string{"output/frontend/", "output/backend/", "output/", "frontend/", "backend/"} {
		if strings.HasPrefix(p, prefix) {
			p = strings.TrimPrefix(p, prefix)
			break
		}
	}
	return p
}

// ExtractJSON locates the first JSON object in an assistant response and
// decodes it into out. Fenced responses and leading prose are tolerated.
func ExtractJSON(response string, out any) error {
	s := strings.TrimSpace(response)
	if start := strings.Index(s, "{"); start >= 0 {
		depth := 0
		for i := start; i < len(s); i++ {
			switch s[i] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return json.Unmarshal([]byte(s[start:i+1]), out)
				}
			}
		}
	}
	return fmt.Errorf("no JSON object in response")
}
