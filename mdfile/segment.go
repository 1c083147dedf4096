package mdfile

import (
	"regexp"
	"strings"
)

// ---------------------------------------------------------------------------
// Segment model
// ---------------------------------------------------------------------------

// Kind tells whether a segment is sent for translation.
type Kind int

const (
	// Text is prose that is translated.
	Text Kind = iota
	// Opaque is Markdown syntax copied to the output unchanged.
	Opaque
)

func (k Kind) String() string {
	if k == Text {
		return "text"
	}
	return "opaque"
}

// Construct labels the syntax that produced a segment. It is informational;
// only Kind affects translation.
type Construct int

const (
	Prose Construct = iota
	Fence
	FrontMatter
	InlineCode
	LinkTarget
	LinkMarker
	Autolink
	HTML
	BlockMarker
	Blank
	IndentedCode
	LinkDefinition
	ThematicBreak
	BareURL
)

var constructNames = [...]string{
	Prose:          "prose",
	Fence:          "fence",
	FrontMatter:    "front-matter",
	InlineCode:     "inline-code",
	LinkTarget:     "link-target",
	LinkMarker:     "link-marker",
	Autolink:       "autolink",
	HTML:           "html",
	BlockMarker:    "block-marker",
	Blank:          "blank",
	IndentedCode:   "indented-code",
	LinkDefinition: "link-definition",
	ThematicBreak:  "thematic-break",
	BareURL:        "bare-url",
}

func (c Construct) String() string {
	if int(c) < len(constructNames) {
		return constructNames[c]
	}
	return "unknown"
}

// Segment is a contiguous span of a document.
type Segment struct {
	Kind      Kind
	Construct Construct
	// Content is the raw source text of the span.
	Content string
}

// ---------------------------------------------------------------------------
// Block scanner
// ---------------------------------------------------------------------------

type stateKind int

const (
	stateNormal stateKind = iota
	stateFence
	stateFrontMatter
	stateHTML
)

// scanState is the block-level state carried from one line to the next.
type scanState struct {
	kind stateKind
	// fence marker character and opening run length (stateFence)
	fenceChar byte
	fenceLen  int
	// htmlEnd closes an HTML block when found on a line; "" means the
	// block ends at the next blank line (stateHTML)
	htmlEnd string
}

var (
	tableDelimRow  = regexp.MustCompile(`^[ \t]*\|?[ \t]*:?-+:?[ \t]*(\|[ \t]*:?-+:?[ \t]*)*\|?[ \t]*$`)
	setextEquals   = regexp.MustCompile(`^ {0,3}=+[ \t]*$`)
	linkDefinition = regexp.MustCompile(`^ {0,3}\[[^\]^][^\]]*\]:[ \t]*\S`)
	htmlBlockOpen  = regexp.MustCompile(`^ {0,3}<(/?)([A-Za-z][A-Za-z0-9-]*)(\s|/?>|$)`)
)

// rawHTMLTags hold content until their closing tag, blank lines included.
var rawHTMLTags = map[string]bool{"script": true, "pre": true, "style": true, "textarea": true}

var blockHTMLTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "body": true,
	"center": true, "dd": true, "details": true, "dialog": true, "div": true, "dl": true,
	"dt": true, "fieldset": true, "figcaption": true, "figure": true, "footer": true,
	"form": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"head": true, "header": true, "hr": true, "html": true, "iframe": true, "legend": true,
	"li": true, "main": true, "menu": true, "nav": true, "ol": true, "p": true,
	"picture": true, "section": true, "summary": true, "table": true, "tbody": true,
	"td": true, "tfoot": true, "th": true, "thead": true, "tr": true, "ul": true,
	"video": true,
}

type scanner struct {
	lines []string
	st    scanState
	b     builder

	// block accumulates the lines of a multi-line opaque construct.
	block strings.Builder

	prevBlank  bool
	inList     bool
	inIndented bool
	inTable    bool
}

// Split partitions raw Markdown into Text and Opaque segments. It never
// fails: constructs it cannot recognise stay in coarser segments.
// Concatenating the Content of the result reproduces raw exactly.
func Split(raw string) []Segment {
	if raw == "" {
		return nil
	}
	s := &scanner{lines: splitLines(raw), prevBlank: true}
	s.run()
	return s.b.segs
}

func (s *scanner) run() {
	for i := 0; i < len(s.lines); i++ {
		line := s.lines[i]
		content := trimEOL(line)

		switch s.st.kind {
		case stateFrontMatter:
			s.block.WriteString(line)
			if content == "---" || content == "..." {
				s.flush(FrontMatter)
				s.st = scanState{}
				continue
			}
			if i == len(s.lines)-1 {
				// Never closed: the opening line was a thematic break.
				s.block.Reset()
				s.b.opaque(ThematicBreak, s.lines[0])
				s.st = scanState{}
				s.prevBlank = false
				i = 0
			}
			continue

		case stateFence:
			s.block.WriteString(line)
			if isFenceClose(content, s.st.fenceChar, s.st.fenceLen) {
				s.flush(Fence)
				s.st = scanState{}
				s.prevBlank = false
			}
			continue

		case stateHTML:
			if s.st.htmlEnd != "" {
				s.block.WriteString(line)
				if containsFold(content, s.st.htmlEnd) {
					s.flush(HTML)
					s.st = scanState{}
					s.prevBlank = false
				}
				continue
			}
			if !isBlank(content) {
				s.block.WriteString(line)
				continue
			}
			s.flush(HTML)
			s.st = scanState{}
		}

		if i == 0 && content == "---" && len(s.lines) > 1 {
			s.st = scanState{kind: stateFrontMatter}
			s.block.WriteString(line)
			continue
		}

		s.normal(line, content)
	}

	switch s.st.kind {
	case stateFence:
		s.flush(Fence)
	case stateHTML:
		s.flush(HTML)
	}
}

// normal classifies one line outside any multi-line construct.
func (s *scanner) normal(line, content string) {
	if isBlank(content) {
		s.b.blank(line)
		s.prevBlank = true
		s.inTable = false
		return
	}

	indent := indentWidth(content)
	if indent >= 4 && (s.prevBlank || s.inIndented) && !s.inList {
		s.b.opaque(IndentedCode, line)
		s.inIndented = true
		s.prevBlank = false
		return
	}
	s.inIndented = false

	if isThematicBreak(content) {
		s.b.opaque(ThematicBreak, line)
		s.prevBlank = false
		return
	}

	prefix, heading, list := blockPrefix(content)
	if list {
		s.inList = true
	} else if indent == 0 && s.prevBlank {
		s.inList = false
	}
	s.prevBlank = false

	if ch, n, ok := fenceOpen(content[prefix:]); ok {
		s.st = scanState{kind: stateFence, fenceChar: ch, fenceLen: n}
		s.block.WriteString(line)
		return
	}

	if end, ok := htmlBlockStart(content); ok {
		if end != "" && containsFold(htmlAfterOpen(content), end) {
			s.b.opaque(HTML, line)
			return
		}
		s.st = scanState{kind: stateHTML, htmlEnd: end}
		s.block.WriteString(line)
		return
	}

	switch {
	case strings.Contains(content, "|") && tableDelimRow.MatchString(content):
		s.b.opaque(BlockMarker, line)
		s.inTable = true
		return
	case setextEquals.MatchString(content):
		s.b.opaque(BlockMarker, line)
		return
	case linkDefinition.MatchString(content):
		s.b.opaque(LinkDefinition, line)
		return
	}

	s.contentLine(line, content, prefix, heading)
}

// contentLine splits a line into its block prefix and inline content.
func (s *scanner) contentLine(line, content string, prefix int, heading bool) {
	eol := line[len(content):]
	if prefix > 0 {
		s.b.opaque(BlockMarker, content[:prefix])
	}
	rest := content[prefix:]

	if strings.HasPrefix(strings.TrimLeft(rest, " \t"), "|") || (s.inTable && strings.Contains(rest, "|")) {
		s.tableRow(rest, eol)
		s.b.breakText()
		return
	}

	if heading {
		if c := headingClose(rest); c < len(rest) {
			s.inline(rest[:c])
			s.b.opaque(BlockMarker, rest[c:]+eol)
			s.b.breakText()
			return
		}
		s.inline(rest + eol)
		s.b.breakText()
		return
	}

	s.inline(rest + eol)
}

// tableRow emits cell pipes as markers and scans each cell as inline text.
func (s *scanner) tableRow(row, eol string) {
	start := 0
	for i := 0; i < len(row); i++ {
		switch row[i] {
		case '\\':
			i++
		case '`':
			n := runLen(row, i, '`')
			if end := codeSpanEnd(row, i+n, n); end >= 0 {
				i = end - 1
			} else {
				i += n - 1
			}
		case '|':
			s.inline(row[start:i])
			s.b.opaque(BlockMarker, "|")
			start = i + 1
		}
	}
	s.inline(row[start:] + eol)
}

func (s *scanner) flush(c Construct) {
	if s.block.Len() == 0 {
		return
	}
	s.b.opaque(c, s.block.String())
	s.block.Reset()
}

// ---------------------------------------------------------------------------
// Segment builder
// ---------------------------------------------------------------------------

// builder appends segments, merging adjacent runs. A Text segment absorbs
// whitespace that follows it; broken stops the next text from joining it.
type builder struct {
	segs   []Segment
	broken bool
}

func (b *builder) last() *Segment {
	if len(b.segs) == 0 {
		return nil
	}
	return &b.segs[len(b.segs)-1]
}

func (b *builder) text(s string) {
	if s == "" {
		return
	}
	if isBlank(s) {
		b.space(s)
		return
	}
	if l := b.last(); l != nil && l.Kind == Text && !b.broken {
		l.Content += s
	} else {
		b.segs = append(b.segs, Segment{Kind: Text, Construct: Prose, Content: s})
	}
	b.broken = false
}

func (b *builder) space(s string) {
	if l := b.last(); l != nil && l.Kind == Text {
		l.Content += s
		return
	}
	b.opaque(Blank, s)
}

// blank records a blank line, which ends the current paragraph.
func (b *builder) blank(line string) {
	b.space(line)
	b.broken = true
}

func (b *builder) breakText() {
	b.broken = true
}

func (b *builder) opaque(c Construct, s string) {
	if s == "" {
		return
	}
	if l := b.last(); l != nil && l.Kind == Opaque && l.Construct == c && mergeable(c) {
		l.Content += s
		return
	}
	b.segs = append(b.segs, Segment{Kind: Opaque, Construct: c, Content: s})
}

func mergeable(c Construct) bool {
	return c != Fence && c != FrontMatter && c != HTML
}

// ---------------------------------------------------------------------------
// Line helpers
// ---------------------------------------------------------------------------

// splitLines splits after every '\n', keeping line endings.
func splitLines(s string) []string {
	var lines []string
	for len(s) > 0 {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:i+1])
		s = s[i+1:]
	}
	return lines
}

func trimEOL(line string) string {
	return strings.TrimRight(line, "\r\n")
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// indentWidth counts leading columns, expanding tabs to multiples of 4.
func indentWidth(s string) int {
	w := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ':
			w++
		case '\t':
			w += 4 - w%4
		default:
			return w
		}
	}
	return w
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

// blockPrefix returns the length of the leading container and heading
// markers of a line (quote '>', list bullets and ordinals, task boxes,
// ATX '#' runs) together with any whitespace after them. Leading whitespace
// alone is not a prefix.
func blockPrefix(s string) (n int, heading, list bool) {
	i, markers := 0, 0
	for {
		j := skipSpace(s, i)
		if j >= len(s) {
			break
		}
		if s[j] == '>' {
			i = skipSpace(s, j+1)
			markers++
			continue
		}
		if k := listMarkerEnd(s, j); k > 0 {
			i = skipSpace(s, k)
			if t := taskBoxEnd(s, i); t > 0 {
				i = skipSpace(s, t)
			}
			markers++
			list = true
			continue
		}
		break
	}

	j := skipSpace(s, i)
	if k := atxEnd(s, j); k > 0 {
		i = skipSpace(s, k)
		markers++
		heading = true
	}

	if markers == 0 {
		return 0, false, false
	}
	return i, heading, list
}

// listMarkerEnd returns the index after a list marker at j, or 0.
func listMarkerEnd(s string, j int) int {
	spaceAfter := func(k int) bool {
		return k == len(s) || s[k] == ' ' || s[k] == '\t'
	}
	switch s[j] {
	case '-', '*', '+':
		if spaceAfter(j + 1) {
			return j + 1
		}
		return 0
	}
	k := j
	for k < len(s) && k-j < 9 && s[k] >= '0' && s[k] <= '9' {
		k++
	}
	if k > j && k < len(s) && (s[k] == '.' || s[k] == ')') && spaceAfter(k+1) {
		return k + 1
	}
	return 0
}

func taskBoxEnd(s string, i int) int {
	if i+3 <= len(s) && s[i] == '[' && s[i+2] == ']' && strings.ContainsRune(" xX", rune(s[i+1])) {
		if i+3 == len(s) || s[i+3] == ' ' || s[i+3] == '\t' {
			return i + 3
		}
	}
	return 0
}

func atxEnd(s string, j int) int {
	k := j
	for k < len(s) && s[k] == '#' {
		k++
	}
	n := k - j
	if n < 1 || n > 6 {
		return 0
	}
	if k == len(s) || s[k] == ' ' || s[k] == '\t' {
		return k
	}
	return 0
}

// headingClose returns where an optional closing '#' sequence (and the
// whitespace before it) starts in heading content.
func headingClose(s string) int {
	end := len(strings.TrimRight(s, " \t"))
	k := end
	for k > 0 && s[k-1] == '#' {
		k--
	}
	if k == end {
		return len(s)
	}
	if k == 0 {
		return 0
	}
	if s[k-1] != ' ' && s[k-1] != '\t' {
		return len(s)
	}
	for k > 0 && (s[k-1] == ' ' || s[k-1] == '\t') {
		k--
	}
	return k
}

// fenceOpen reports whether s (after block prefixes) opens a fenced code block.
func fenceOpen(s string) (byte, int, bool) {
	s = strings.TrimLeft(s, " \t")
	if len(s) < 3 || (s[0] != '`' && s[0] != '~') {
		return 0, 0, false
	}
	ch := s[0]
	n := runLen(s, 0, ch)
	if n < 3 {
		return 0, 0, false
	}
	if ch == '`' && strings.IndexByte(s[n:], '`') >= 0 {
		return 0, 0, false
	}
	return ch, n, true
}

// isFenceClose reports whether content closes a fence of ch repeated n times.
// Indentation and quote markers are ignored.
func isFenceClose(content string, ch byte, n int) bool {
	s := content
	for {
		s = strings.TrimLeft(s, " \t")
		if strings.HasPrefix(s, ">") {
			s = s[1:]
			continue
		}
		break
	}
	run := runLen(s, 0, ch)
	return run >= n && strings.TrimSpace(s[run:]) == ""
}

func isThematicBreak(s string) bool {
	if indentWidth(s) > 3 {
		return false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	ch := s[0]
	if ch != '-' && ch != '*' && ch != '_' {
		return false
	}
	count := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ch:
			count++
		case ' ', '\t':
		default:
			return false
		}
	}
	return count >= 3
}

// htmlBlockStart reports whether content opens an HTML block and returns the
// text that closes it ("" = next blank line).
func htmlBlockStart(content string) (string, bool) {
	if indentWidth(content) > 3 {
		return "", false
	}
	t := strings.TrimLeft(content, " \t")
	if strings.HasPrefix(t, "<!--") {
		return "-->", true
	}
	if m := htmlBlockOpen.FindStringSubmatch(content); m != nil {
		name := strings.ToLower(m[2])
		if rawHTMLTags[name] {
			// A stray closing raw tag is paragraph text, never a block.
			if m[1] != "" {
				return "", false
			}
			return "</" + name + ">", true
		}
		if blockHTMLTags[name] {
			return "", true
		}
	}
	if loc := inlineHTMLTag.FindStringIndex(t); loc != nil && loc[0] == 0 && isBlank(t[loc[1]:]) {
		return "", true
	}
	return "", false
}

// htmlAfterOpen skips the opening "<!--" or tag so the closing marker is not
// matched inside the opener itself.
func htmlAfterOpen(content string) string {
	t := strings.TrimLeft(content, " \t")
	if strings.HasPrefix(t, "<!--") {
		return t[4:]
	}
	if i := strings.IndexByte(t, '>'); i >= 0 {
		return t[i+1:]
	}
	return ""
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func runLen(s string, i int, ch byte) int {
	n := 0
	for i+n < len(s) && s[i+n] == ch {
		n++
	}
	return n
}
