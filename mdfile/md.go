// Package mdfile splits Markdown documents into translatable and opaque
// segments and renders bilingual output documents.
//
// A document is scanned line by line:
//
//   - Front matter (between a leading "---" and the next "---" or "..."),
//     fenced code blocks, HTML blocks, indented code, thematic breaks, table
//     delimiter rows and link reference definitions are opaque.
//
//   - Block prefixes (headings, quote markers, list markers, table pipes)
//     are opaque; the rest of the line is scanned for inline code spans,
//     link and image syntax, autolinks, inline HTML and bare URLs, which are
//     opaque as well. Everything left is Text.
//
// Concatenating every segment reproduces the source byte for byte. The
// output document repeats each Text segment followed by its translation.
package mdfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Document is a parsed Markdown file.
type Document struct {
	// Path is the source path ("" when parsed from memory).
	Path     string
	Segments []Segment
}

// Unit is the translatable content of one Text segment.
type Unit struct {
	// Index is the position of the segment in Document.Segments.
	Index int
	// Text is the segment content without surrounding whitespace.
	Text string
}

// ParseFile reads and segments a Markdown file.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(path, data), nil
}

// Parse segments Markdown data.
func Parse(path string, data []byte) *Document {
	return &Document{Path: path, Segments: Split(string(data))}
}

// Raw returns the source text.
func (d *Document) Raw() string {
	var sb strings.Builder
	for _, seg := range d.Segments {
		sb.WriteString(seg.Content)
	}
	return sb.String()
}

// Units returns the translation units in document order.
func (d *Document) Units() []Unit {
	var units []Unit
	for i, seg := range d.Segments {
		if seg.Kind != Text {
			continue
		}
		units = append(units, Unit{Index: i, Text: strings.TrimSpace(seg.Content)})
	}
	return units
}

// Prose joins the trimmed Text of the document, one unit per line.
func (d *Document) Prose() string {
	var parts []string
	for _, u := range d.Units() {
		parts = append(parts, u.Text)
	}
	return strings.Join(parts, "\n")
}

// Stats returns the number of Text and Opaque segments.
func (d *Document) Stats() (text, opaque int) {
	for _, seg := range d.Segments {
		if seg.Kind == Text {
			text++
		} else {
			opaque++
		}
	}
	return text, opaque
}

// Render builds the bilingual document. translations maps segment index to
// translated text.
func (d *Document) Render(translations map[int]string) string {
	return Reconstruct(d.Segments, translations)
}

// Reconstruct emits segments in order. Opaque segments are copied; a Text
// segment is copied and followed by its translation, wrapped in the
// segment's own leading and trailing whitespace. Text without a (non-blank)
// translation is emitted once.
func Reconstruct(segs []Segment, translations map[int]string) string {
	var sb strings.Builder
	for i, seg := range segs {
		sb.WriteString(seg.Content)
		if seg.Kind != Text {
			continue
		}
		if tr, ok := translations[i]; ok && strings.TrimSpace(tr) != "" {
			sb.WriteString(Wrap(seg.Content, tr))
		}
	}
	return sb.String()
}

// Wrap surrounds the trimmed translation with the whitespace that leads and
// trails original.
func Wrap(original, translation string) string {
	core := strings.TrimSpace(original)
	if core == "" {
		return original + strings.TrimSpace(translation)
	}
	start := strings.Index(original, core)
	return original[:start] + strings.TrimSpace(translation) + original[start+len(core):]
}

// WriteFile writes data to path, creating parent directories as needed.
func WriteFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
