// Package parser reads the YAML frontmatter, wikilinks and tags of a note.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const fmDelim = "---"

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

// Result is a parsed note.
type Result struct {
	Frontmatter map[string]any
	Body        string
	Links       []string
	Tags        []string
	Title       string
}

// Parse splits data into frontmatter and body and collects links and tags.
// Malformed frontmatter is not an error: the whole input becomes the body.
func Parse(data []byte) (*Result, error) {
	block, body, ok := split(data)
	var fm map[string]any
	if ok {
		if err := yaml.Unmarshal(block, &fm); err != nil {
			fm, body = nil, string(data)
		}
	}

	return &Result{
		Frontmatter: fm,
		Body:        body,
		Links:       extractLinks(body),
		Tags:        extractTags(body, fm),
		Title:       deriveTitle(fm, body),
	}, nil
}

// StripFrontmatter returns the body of data without its leading
// frontmatter block. The block is dropped even when its YAML is invalid.
func StripFrontmatter(data []byte) string {
	_, body, _ := split(data)
	return body
}

// split cuts a leading "---" fenced block from data. ok is false when
// there is no complete block, in which case body is the whole input.
func split(data []byte) (block []byte, body string, ok bool) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(fmDelim)) {
		return nil, string(data), false
	}

	rest := trimmed[len(fmDelim):]
	end := bytes.Index(rest, []byte("\n"+fmDelim))
	if end < 0 {
		return nil, string(data), false
	}

	after := rest[end+1+len(fmDelim):]
	return rest[:end], strings.TrimLeft(string(after), "\n\r"), true
}

// extractLinks returns unique wikilink targets; [[Target|Alias]] yields Target.
func extractLinks(body string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range wikilinkRe.FindAllStringSubmatch(body, -1) {
		target, _, _ := strings.Cut(m[1], "|")
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// extractTags merges frontmatter tags (first) with inline #tags.
func extractTags(body string, fm map[string]any) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}

	switch v := fm["tags"].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			add(s)
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

// deriveTitle prefers frontmatter "title", then the first H1.
func deriveTitle(fm map[string]any, body string) string {
	if s, ok := fm["title"].(string); ok && s != "" {
		return s
	}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if h, ok := strings.CutPrefix(line, "# "); ok {
			return strings.TrimSpace(h)
		}
	}
	return ""
}
