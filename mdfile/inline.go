package mdfile

import (
	"regexp"
	"strings"
)

var (
	autolinkURL   = regexp.MustCompile(`^<[A-Za-z][A-Za-z0-9+.\-]{1,31}:[^\s<>]*>`)
	autolinkEmail = regexp.MustCompile(`^<[A-Za-z0-9.!#$%&'*+/=?^_{|}~\-]+@[A-Za-z0-9](?:[A-Za-z0-9\-.]*[A-Za-z0-9])?>`)
	inlineHTMLTag = regexp.MustCompile(`^</?[A-Za-z][A-Za-z0-9\-]*(?:\s+[A-Za-z_:][A-Za-z0-9_.:\-]*(?:\s*=\s*(?:"[^"]*"|'[^']*'|[^\s"'=<>` + "`" + `]+))?)*\s*/?>`)
	inlineComment = regexp.MustCompile(`^<!--[\s\S]*?-->`)
	bareURL       = regexp.MustCompile(`^https?://[^\s<>]+`)
)

// inline scans one line of block content and emits Text runs separated by
// opaque inline spans: code spans, link and image syntax, autolinks, raw
// HTML and URLs.
func (s *scanner) inline(t string) {
	start := 0
	flush := func(end int) {
		if end > start {
			s.b.text(t[start:end])
		}
	}

	for i := 0; i < len(t); {
		c := t[i]
		switch {
		case c == '\\' && i+1 < len(t) && isASCIIPunct(t[i+1]):
			i += 2
			continue

		case c == '`':
			n := runLen(t, i, '`')
			if end := codeSpanEnd(t, i+n, n); end >= 0 {
				flush(i)
				s.b.opaque(InlineCode, t[i:end])
				i, start = end, end
				continue
			}
			i += n
			continue

		case c == '!' && i+1 < len(t) && t[i+1] == '[':
			if end := s.link(t, i, i+1, flush); end > 0 {
				i, start = end, end
				continue
			}

		case c == '[':
			if end := s.link(t, i, i, flush); end > 0 {
				i, start = end, end
				continue
			}

		case c == '<':
			if n, construct := angleSpan(t[i:]); n > 0 {
				flush(i)
				s.b.opaque(construct, t[i:i+n])
				i += n
				start = i
				continue
			}

		case c == 'h' && (i == 0 || !isWordByte(t[i-1])):
			if n := bareURLLen(t[i:]); n > 0 {
				flush(i)
				s.b.opaque(BareURL, t[i:i+n])
				i += n
				start = i
				continue
			}
		}
		i++
	}
	flush(len(t))
}

// link recognises [text](target), [text][ref], [^note] and their image
// forms starting at mark ('[' or "!["; open is the '[' index). The markers
// and target are opaque, the display text is scanned recursively. It
// returns the index after the construct, or 0 if there is none.
func (s *scanner) link(t string, mark, open int, flush func(int)) int {
	closeIdx := matchBracket(t, open)
	if closeIdx < 0 {
		return 0
	}

	if mark == open && open+1 < len(t) && t[open+1] == '^' {
		flush(mark)
		s.b.opaque(LinkTarget, t[mark:closeIdx+1])
		return closeIdx + 1
	}

	after := closeIdx + 1
	end := -1
	if after < len(t) {
		switch t[after] {
		case '(':
			end = matchParen(t, after)
		case '[':
			if j := strings.IndexByte(t[after+1:], ']'); j >= 0 {
				end = after + 1 + j
			}
		}
	}
	if end < 0 {
		return 0
	}

	flush(mark)
	s.b.opaque(LinkMarker, t[mark:open+1])
	s.inline(t[open+1 : closeIdx])
	s.b.opaque(LinkTarget, t[closeIdx:end+1])
	return end + 1
}

// matchBracket returns the index of the ']' balancing the '[' at open.
func matchBracket(t string, open int) int {
	depth := 0
	for i := open; i < len(t); i++ {
		switch t[i] {
		case '\\':
			i++
		case '`':
			n := runLen(t, i, '`')
			if end := codeSpanEnd(t, i+n, n); end >= 0 {
				i = end - 1
			} else {
				i += n - 1
			}
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		case '\n':
			return -1
		}
	}
	return -1
}

// matchParen returns the index of the ')' closing a link destination that
// starts with '(' at open.
func matchParen(t string, open int) int {
	i := skipSpace(t, open+1)
	if i < len(t) && t[i] == '<' {
		j := strings.IndexAny(t[i:], ">\n")
		if j < 0 || t[i+j] != '>' {
			return -1
		}
		i += j + 1
	}
	depth := 1
	for ; i < len(t); i++ {
		switch t[i] {
		case '\\':
			i++
		case '"', '\'':
			if j := strings.IndexByte(t[i+1:], t[i]); j >= 0 {
				i += j + 1
			}
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		case '\n':
			return -1
		}
	}
	return -1
}

// codeSpanEnd returns the index after a closing backtick run of exactly n
// starting the search at from, or -1.
func codeSpanEnd(t string, from, n int) int {
	for i := from; i < len(t); {
		if t[i] != '`' {
			i++
			continue
		}
		m := runLen(t, i, '`')
		if m == n {
			return i + m
		}
		i += m
	}
	return -1
}

// angleSpan returns the length of an autolink, HTML comment or HTML tag at
// the start of t and its construct, or 0.
func angleSpan(t string) (int, Construct) {
	for _, re := range []*regexp.Regexp{autolinkURL, autolinkEmail} {
		if loc := re.FindStringIndex(t); loc != nil {
			return loc[1], Autolink
		}
	}
	for _, re := range []*regexp.Regexp{inlineComment, inlineHTMLTag} {
		if loc := re.FindStringIndex(t); loc != nil {
			return loc[1], HTML
		}
	}
	return 0, HTML
}

// bareURLLen returns the length of an http(s) URL at the start of t with
// trailing punctuation removed, or 0.
func bareURLLen(t string) int {
	loc := bareURL.FindStringIndex(t)
	if loc == nil {
		return 0
	}
	u := strings.TrimRight(t[:loc[1]], ".,;:!?'\")]*_~")
	if i := strings.Index(u, "://"); i < 0 || len(u) <= i+3 {
		return 0
	}
	return len(u)
}

func isASCIIPunct(c byte) bool {
	return c < 0x80 && strings.IndexByte("!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~", c) >= 0
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= 0x80
}
