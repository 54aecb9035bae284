// Package prompts embeds the default security policy and versioned answer
// templates so the composer works out of the box without external files.
package prompts

import "embed"

// FS contains the policy and all answer templates. Template files are named
// <capability>.<version>.md and carry a TOML frontmatter block declaring the
// recognized substitution tokens.
//
//go:embed policy.md answer.v1.md
var FS embed.FS
