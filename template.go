package sift

import (
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Template is a versioned task template: a TOML frontmatter block declaring
// the recognized substitution tokens, followed by the template body.
// Templates are validated at load time, not at render time, and are
// immutable afterwards.
type Template struct {
	Version    string
	Capability string
	// Tokens enumerates every substitution token the body may reference.
	Tokens []string
	Body   string
}

type templateMeta struct {
	Version    string   `toml:"version"`
	Capability string   `toml:"capability"`
	Tokens     []string `toml:"tokens"`
}

var tokenRe = regexp.MustCompile(`\{\{([a-z_]+)\}\}`)

const frontmatterDelim = "+++"

// templateCache is the process-wide immutable template cache, keyed by
// (capability, version). Populated lazily once, never mutated — templates
// are shared across requests and workspaces without interference.
var templateCache sync.Map // "capability.version" -> *Template

// LoadTemplate loads and validates the template <capability>.<version>.md
// from fsys, caching the parsed result process-wide. Repeated loads of the
// same (capability, version) return the cached template regardless of fsys.
func LoadTemplate(fsys fs.FS, capability, version string) (*Template, error) {
	key := capability + "." + version
	if cached, ok := templateCache.Load(key); ok {
		return cached.(*Template), nil
	}

	raw, err := fs.ReadFile(fsys, key+".md")
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", key, err)
	}

	t, err := ParseTemplate(string(raw))
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", key, err)
	}
	if t.Capability != capability || t.Version != version {
		return nil, fmt.Errorf("template %s: frontmatter declares %s.%s", key, t.Capability, t.Version)
	}

	actual, _ := templateCache.LoadOrStore(key, t)
	return actual.(*Template), nil
}

// ParseTemplate parses frontmatter and body and validates that every token
// referenced by the body is declared in the frontmatter. Declaring the
// token set up front turns a template typo into a load-time failure instead
// of a render-time surprise.
func ParseTemplate(raw string) (*Template, error) {
	raw = strings.TrimLeft(raw, "\uFEFF")
	if !strings.HasPrefix(raw, frontmatterDelim+"\n") {
		return nil, fmt.Errorf("missing %s frontmatter", frontmatterDelim)
	}
	rest := raw[len(frontmatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontmatterDelim+"\n")
	if end < 0 {
		return nil, fmt.Errorf("unterminated %s frontmatter", frontmatterDelim)
	}

	var meta templateMeta
	if err := toml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if meta.Version == "" || meta.Capability == "" {
		return nil, fmt.Errorf("frontmatter must declare version and capability")
	}

	body := strings.TrimLeft(rest[end+len(frontmatterDelim)+2:], "\n")
	t := &Template{
		Version:    meta.Version,
		Capability: meta.Capability,
		Tokens:     meta.Tokens,
		Body:       body,
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Template) validate() error {
	declared := make(map[string]bool, len(t.Tokens))
	for _, tok := range t.Tokens {
		declared[tok] = true
	}
	for _, m := range tokenRe.FindAllStringSubmatch(t.Body, -1) {
		if !declared[m[1]] {
			return fmt.Errorf("body references undeclared token {{%s}}", m[1])
		}
	}

	// The instruction-priority ordering (template > context > query) is a
	// structural invariant: the context slot must come before the query slot.
	ctxIdx := strings.Index(t.Body, "{{context}}")
	qIdx := strings.Index(t.Body, "{{query}}")
	if ctxIdx >= 0 && qIdx >= 0 && ctxIdx > qIdx {
		return fmt.Errorf("{{context}} must precede {{query}}")
	}
	return nil
}

// Render substitutes tokens in the body with the supplied values. Exact
// match only: a token the caller does not supply fails with
// ErrUnresolvedToken rather than leaking a literal placeholder.
func (t *Template) Render(values map[string]string) (string, error) {
	var missing string
	rendered := tokenRe.ReplaceAllStringFunc(t.Body, func(m string) string {
		name := m[2 : len(m)-2]
		v, ok := values[name]
		if !ok && missing == "" {
			missing = name
		}
		return v
	})
	if missing != "" {
		return "", &ErrUnresolvedToken{Template: t.Capability + "." + t.Version, Token: missing}
	}
	return rendered, nil
}
