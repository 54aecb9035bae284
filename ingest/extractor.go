package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Extractor converts raw content to text suitable for chunking.
type Extractor interface {
	Extract(content []byte) (string, error)
}

// ContentType identifies the MIME type of content for extraction.
type ContentType string

const (
	TypePlainText ContentType = "text/plain"
	TypeMarkdown  ContentType = "text/markdown"
	TypeHTML      ContentType = "text/html"
	TypeCSV       ContentType = "text/csv"
	TypeJSON      ContentType = "application/json"
	TypePDF       ContentType = "application/pdf"
)

// ContentTypeFromExtension maps file extensions to content types.
func ContentTypeFromExtension(ext string) ContentType {
	switch strings.ToLower(ext) {
	case "md", "markdown":
		return TypeMarkdown
	case "html", "htm":
		return TypeHTML
	case "csv":
		return TypeCSV
	case "json":
		return TypeJSON
	case "pdf":
		return TypePDF
	default:
		return TypePlainText
	}
}

// PlainTextExtractor returns content as-is with normalized line endings.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(content []byte) (string, error) {
	return normalizeNewlines(string(content)), nil
}

// MarkdownExtractor keeps the markdown source intact so the structural
// chunker can read its headings. Only line endings are normalized.
type MarkdownExtractor struct{}

func (MarkdownExtractor) Extract(content []byte) (string, error) {
	return normalizeNewlines(string(content)), nil
}

// CSVExtractor renders each data row as a labeled paragraph using the header
// row: "Header1: Value1, Header2: Value2".
type CSVExtractor struct{}

func (CSVExtractor) Extract(content []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read csv header: %w", err)
	}

	var b strings.Builder
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read csv row: %w", err)
		}
		var fields []string
		for i, v := range row {
			if strings.TrimSpace(v) == "" {
				continue
			}
			label := fmt.Sprintf("col%d", i+1)
			if i < len(header) {
				label = strings.TrimSpace(header[i])
			}
			fields = append(fields, label+": "+strings.TrimSpace(v))
		}
		if len(fields) > 0 {
			b.WriteString(strings.Join(fields, ", "))
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// JSONExtractor walks arbitrary JSON and renders dotted key paths with their
// scalar values, one per line.
type JSONExtractor struct{}

func (JSONExtractor) Extract(content []byte) (string, error) {
	var v any
	if err := json.Unmarshal(content, &v); err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}
	var b strings.Builder
	writeJSONValue(&b, "", v)
	return strings.TrimSpace(b.String()), nil
}

func writeJSONValue(b *strings.Builder, path string, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeJSONValue(b, joinPath(path, k), t[k])
		}
	case []any:
		for i, item := range t {
			writeJSONValue(b, fmt.Sprintf("%s[%d]", path, i), item)
		}
	case nil:
	default:
		fmt.Fprintf(b, "%s: %v\n", path, t)
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
