package sync

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterDelimiter = "---"

// splitFrontMatter separates a leading YAML front-matter block from the body.
// A document without a front-matter block yields empty metadata and the whole
// input as body.
func splitFrontMatter(text string) (map[string]string, string, error) {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	if !strings.HasPrefix(normalized, frontMatterDelimiter+"\n") {
		return map[string]string{}, normalized, nil
	}
	rest := normalized[len(frontMatterDelimiter)+1:]
	if strings.HasPrefix(rest, frontMatterDelimiter) {
		body := strings.TrimPrefix(rest[len(frontMatterDelimiter):], "\n")
		return map[string]string{}, body, nil
	}
	end := strings.Index(rest, "\n"+frontMatterDelimiter)
	if end < 0 {
		return nil, "", fmt.Errorf("unterminated front matter block")
	}
	block := rest[:end]
	body := rest[end+len(frontMatterDelimiter)+1:]
	body = strings.TrimPrefix(body, "\n")

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
		return nil, "", fmt.Errorf("parse front matter: %w", err)
	}
	meta := make(map[string]string, len(raw))
	for key, value := range raw {
		meta[key] = fmt.Sprintf("%v", value)
	}
	return meta, body, nil
}
