package sift

import (
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/quellen/sift/prompts"
)

// PromptEnvelope is the fully assembled prompt for one request. Built fresh
// per request and never cached across workspaces — citation integrity
// depends on exact context alignment.
type PromptEnvelope struct {
	PolicyText   string
	TemplateText string
	ContextBlock string
	Query        string
	// Body is the template with context and query substituted.
	Body string
	// Rendered is the final prompt: policy first, then Body. The ordering
	// encodes the instruction-priority hierarchy (system > user > retrieved
	// content) and is never reordered.
	Rendered string
	// Sources maps [S#] indices to chunk metadata, assigned in the order
	// the results were given (retrieval/rerank order).
	Sources []Source
	// NoEvidence is set when no chunks survived retrieval/rerank and the
	// context block carries the explicit no-evidence marker.
	NoEvidence bool
}

// noEvidenceContext replaces the context block when nothing was retrieved,
// steering generation toward the canonical insufficient-evidence response
// instead of hallucinating from an empty template slot.
const noEvidenceContext = `NO EVIDENCE: no relevant passages were found in this workspace. You must reply with the canonical insufficient-evidence response.`

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// ComposerFS sets the filesystem holding policy.md and the template files.
// Defaults to the embedded prompts.FS.
func ComposerFS(fsys fs.FS) ComposerOption {
	return func(c *Composer) { c.fsys = fsys }
}

// DefaultTemplateVersion sets the template version used when the request
// does not name one. Default "v1".
func DefaultTemplateVersion(v string) ComposerOption {
	return func(c *Composer) { c.version = v }
}

// ComposerLogger sets the structured logger for the composer.
func ComposerLogger(l *slog.Logger) ComposerOption {
	return func(c *Composer) { c.logger = l }
}

// Composer assembles the rendered prompt: the non-negotiable security policy
// first, then the versioned answer template with the indexed context block
// and the query substituted in.
type Composer struct {
	fsys    fs.FS
	version string
	logger  *slog.Logger

	policyOnce sync.Once
	policy     string
	policyErr  error
}

// NewComposer creates a Composer over the embedded prompt files.
func NewComposer(opts ...ComposerOption) *Composer {
	c := &Composer{fsys: prompts.FS, version: "v1", logger: nopLogger}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compose builds the prompt envelope for a request. results carry the chunks
// that survived retrieval (and reranking, when enabled), in final order;
// each is assigned exactly one [S#] index in that order. version may be
// empty to use the composer default.
func (c *Composer) Compose(results []RetrievalResult, query, version string) (PromptEnvelope, error) {
	policy, err := c.loadPolicy()
	if err != nil {
		return PromptEnvelope{}, err
	}

	if version == "" {
		version = c.version
	}
	tmpl, err := LoadTemplate(c.fsys, "answer", version)
	if err != nil {
		return PromptEnvelope{}, err
	}

	contextBlock, sources := buildContext(results)
	noEvidence := len(sources) == 0
	if noEvidence {
		contextBlock = noEvidenceContext
	}

	rendered, err := tmpl.Render(map[string]string{
		"context": contextBlock,
		"query":   sanitizeContext(query),
	})
	if err != nil {
		return PromptEnvelope{}, err
	}

	c.logger.Debug("prompt composed", "template", "answer."+version, "sources", len(sources), "no_evidence", noEvidence)
	return PromptEnvelope{
		PolicyText:   policy,
		TemplateText: tmpl.Body,
		ContextBlock: contextBlock,
		Query:        query,
		Body:         rendered,
		Rendered:     policy + "\n\n" + rendered,
		Sources:      sources,
		NoEvidence:   noEvidence,
	}, nil
}

// Messages returns the envelope as a chat exchange: the policy as the system
// message, the rendered template body as the user message.
func (e PromptEnvelope) Messages() []Message {
	return []Message{SystemMessage(e.PolicyText), UserMessage(e.Body)}
}

// InsufficientEvidenceReply is the canonical response the policy mandates
// when the sources cannot support an answer. It carries no citation markers.
const InsufficientEvidenceReply = "I don't have enough information in the provided documents to answer that."

func (c *Composer) loadPolicy() (string, error) {
	c.policyOnce.Do(func() {
		raw, err := fs.ReadFile(c.fsys, "policy.md")
		if err != nil {
			c.policyErr = fmt.Errorf("load policy: %w", err)
			return
		}
		c.policy = strings.TrimSpace(string(raw))
	})
	return c.policy, c.policyErr
}

// buildContext renders the indexed source passages and the matching Source
// metadata. Every result gets exactly one index, in the order given.
func buildContext(results []RetrievalResult) (string, []Source) {
	if len(results) == 0 {
		return "", nil
	}

	var b strings.Builder
	sources := make([]Source, 0, len(results))
	for i, r := range results {
		idx := i + 1
		src := Source{
			Index:      idx,
			ChunkID:    r.ChunkID,
			DocumentID: r.Chunk.DocumentID,
			Title:      r.Chunk.DocumentTitle,
			Heading:    strings.Join(r.Chunk.HeadingPath, " > "),
		}
		sources = append(sources, src)

		fmt.Fprintf(&b, "[S%d]", idx)
		if src.Heading != "" {
			fmt.Fprintf(&b, " (%s)", src.Heading)
		}
		b.WriteByte('\n')
		b.WriteString(sanitizeContext(r.Chunk.Text))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n"), sources
}

// --- context sanitizer ---

// zeroWidthChars strips Unicode zero-width and invisible characters used to
// smuggle instructions past string matching.
var zeroWidthChars = strings.NewReplacer(
	"​", " ", // zero-width space
	"‌", " ", // zero-width non-joiner
	"‍", " ", // zero-width joiner
	"\uFEFF", " ", // zero-width no-break space (BOM)
	"⁠", " ", // word joiner
	"­", "", // soft hyphen (removed, not replaced)
)

// roleMarkerRe matches chat role markers at line starts. Retrieved text must
// not be able to impersonate a conversation role inside the prompt.
var roleMarkerRe = regexp.MustCompile(`(?im)^(\s*)(system|assistant|user|human|ai)\s*:`)

// sanitizeContext normalizes retrieved text before it enters the prompt:
// zero-width characters are stripped, the text is NFKC-normalized (fullwidth
// Latin, ligatures, mathematical alphanumerics), and leading role markers
// are defanged by dropping the colon.
func sanitizeContext(text string) string {
	cleaned := zeroWidthChars.Replace(text)
	cleaned = norm.NFKC.String(cleaned)
	return roleMarkerRe.ReplaceAllString(cleaned, "$1$2 -")
}
